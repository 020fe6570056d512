package main

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/paircloud/internal/model"
	"github.com/and161185/paircloud/internal/pairing"
	"github.com/and161185/paircloud/internal/vault"
)

func newServeCmd(a *app) *cobra.Command {
	var pin string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a server instance and print its pairing credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.EntryPoint == "" {
				return errors.New("--entry-point is required")
			}
			v, err := a.openVault()
			if err != nil {
				return err
			}
			if pin != "" {
				if err := v.Set(vault.KeyPIN, vault.Ptr(pin)); err != nil {
					return err
				}
			}
			ctx := cmd.Context()
			c, cleanup, err := a.openServer(ctx, v)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := c.Serve(a.cfg.EntryPoint); err != nil {
				return err
			}
			cred, err := c.PairingQR()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, color.CyanString("Pairing credential")+" (scan or paste on the client):")
			fmt.Fprintln(out, "  "+color.YellowString(cred))
			fmt.Fprintln(out, color.CyanString("→")+" Press Ctrl+C to stop")

			<-ctx.Done()
			a.log.Info("stopping", zap.Uint64("instance", c.ID()))
			return nil
		},
	}
	cmd.Flags().StringVar(&pin, "pin", "", "set the pairing PIN before serving")
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	var (
		pin  string
		stay bool
	)
	cmd := &cobra.Command{
		Use:   "login <credential>",
		Short: "Pair this client with a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.openVault()
			if err != nil {
				return err
			}
			c, err := a.openClient(v)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			res := c.Login(ctx, strings.TrimSpace(args[0]), pin, a.cfg.EntryPoint)
			printResult(cmd.OutOrStdout(), res)
			if res != model.LoginSuccessful {
				return fmt.Errorf("login %s", res)
			}
			if err := c.StartSync(nil); err != nil {
				return fmt.Errorf("start sync: %w", err)
			}
			if !stay {
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.CyanString("→")+" Connected, press Ctrl+C to disconnect")
			<-ctx.Done()
			c.StopSync()
			return nil
		},
	}
	cmd.Flags().StringVar(&pin, "pin", "", "pairing PIN shown by the server")
	cmd.Flags().BoolVar(&stay, "stay", false, "keep the session open until interrupted")
	_ = cmd.MarkFlagRequired("pin")
	return cmd
}

func printResult(w io.Writer, res model.LoginResult) {
	switch res {
	case model.LoginSuccessful:
		fmt.Fprintln(w, color.GreenString("✓")+" Login "+res.String())
	case model.LoginRemoteHostNotReachable, model.LoginCloudNotResponding, model.LoginCanceled:
		fmt.Fprintln(w, color.YellowString("⚠")+" Login "+res.String())
	default:
		fmt.Fprintln(w, color.RedString("✗")+" Login "+res.String())
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored state of the instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := a.openExisting(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			printStatus(cmd.OutOrStdout(), c)
			return nil
		},
	}
}

func printStatus(w io.Writer, c *pairing.Cloud) {
	fmt.Fprintln(w, color.CyanString("Instance")+" ("+c.StoragePath()+"):")
	for _, line := range strings.Split(strings.TrimRight(c.Status(), "\n"), "\n") {
		fmt.Fprintln(w, "  "+line)
	}
	if entry, ok := c.LastEntryPoint(); ok {
		fmt.Fprintf(w, "  %-12s %s\n", "last entry:", color.GreenString(entry))
	}
	if _, ok := c.Vault().Get(vault.KeyServerPublicKey); ok {
		fmt.Fprintf(w, "  %-12s %s\n", "paired:", color.GreenString("yes"))
	} else if c.Role() == model.RoleClient {
		fmt.Fprintf(w, "  %-12s %s\n", "paired:", color.YellowString("no"))
	}
}

func newDestroyCmd(a *app) *cobra.Command {
	var (
		confirmPIN string
		yes        bool
	)
	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete the instance and everything in its storage directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := a.openExisting(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			if err := confirmDestroy(c.Vault(), confirmPIN, yes); err != nil {
				return err
			}
			if err := a.reg.Destroy(c); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓")+" Destroyed "+c.StoragePath())
			return nil
		},
	}
	cmd.Flags().StringVar(&confirmPIN, "confirm-pin", "", "the stored PIN, required to confirm")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm when no PIN is stored")
	return cmd
}

var errNotConfirmed = errors.New("destroy not confirmed")

// confirmDestroy requires the stored PIN, or --yes when none was ever set.
func confirmDestroy(v vault.Store, pin string, yes bool) error {
	stored, ok := v.Get(vault.KeyPIN)
	if !ok || stored == "" {
		if !yes {
			return fmt.Errorf("%w: no PIN stored, pass --yes", errNotConfirmed)
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(pin)) != 1 {
		return fmt.Errorf("%w: --confirm-pin does not match", errNotConfirmed)
	}
	return nil
}
