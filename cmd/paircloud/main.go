// Command paircloud runs a pairing endpoint: a server that issues pairing
// credentials or a client that logs in with one.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/paircloud/internal/config"
	"github.com/and161185/paircloud/internal/registry"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// app carries state shared by the subcommands.
type app struct {
	cfg config.Config
	log *zap.Logger
	reg *registry.Registry
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "paircloud",
		Short:         "Pair devices through a relay entry point",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			log, err := newLogger(a.cfg.Dev)
			if err != nil {
				return err
			}
			a.log = log
			a.reg = registry.New(log)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.reg != nil {
				a.reg.CloseAll()
			}
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	fs := flag.NewFlagSet("paircloud", flag.ContinueOnError)
	a.cfg.RegisterFlags(fs)
	root.PersistentFlags().AddGoFlagSet(fs)

	root.AddCommand(
		newServeCmd(a),
		newLoginCmd(a),
		newStatusCmd(a),
		newDestroyCmd(a),
		&cobra.Command{
			Use:   "version",
			Short: "Print the build version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "paircloud %s (%s)\n", version, buildDate)
			},
		},
	)
	return root
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	// stdout belongs to command output
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func main() {
	if err := config.LoadDotEnv(os.Getenv(config.EnvPrefix + "ENV_FILE")); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("config:"), err)
		os.Exit(2)
	}
	a := &app{cfg: config.Defaults()}
	if err := a.cfg.FromEnv(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("config:"), err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		stop()
		os.Exit(1)
	}
}
