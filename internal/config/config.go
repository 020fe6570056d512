// Package config loads process settings from an optional .env file,
// PAIRCLOUD_* environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/and161185/paircloud/internal/model"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "PAIRCLOUD_"

// Config holds settings shared by the relay and paircloud binaries.
type Config struct {
	Role        string
	StoragePath string
	Name        string
	EntryPoint  string
	Passphrase  string

	ListenAddr string
	TLSCert    string
	TLSKey     string
	CAFile     string
	Insecure   bool

	LoginTimeout time.Duration

	DSN         string
	LimitWindow time.Duration
	LimitMax    int
	LimitBlock  time.Duration
	TokenTTL    time.Duration
	SignKey     string
	IndirectQR  bool
	Dev         bool
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Role:         model.RoleClient.String(),
		StoragePath:  defaultStorage(),
		ListenAddr:   ":8443",
		TLSCert:      "cert.pem",
		TLSKey:       "key.pem",
		LoginTimeout: 30 * time.Second,
		LimitWindow:  15 * time.Minute,
		LimitMax:     5,
		LimitBlock:   15 * time.Minute,
		TokenTTL:     24 * time.Hour,
	}
}

func defaultStorage() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "paircloud")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "paircloud")
}

// LoadDotEnv reads path (".env" when empty) into the environment. A missing
// file is not an error; variables already set win.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// FromEnv overlays PAIRCLOUD_* variables onto c.
func (c *Config) FromEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("ROLE", &c.Role)
	str("STORAGE", &c.StoragePath)
	str("NAME", &c.Name)
	str("ENTRY_POINT", &c.EntryPoint)
	str("PASSPHRASE", &c.Passphrase)
	str("LISTEN_ADDR", &c.ListenAddr)
	str("TLS_CERT", &c.TLSCert)
	str("TLS_KEY", &c.TLSKey)
	str("CA_FILE", &c.CAFile)
	boolean("INSECURE", &c.Insecure)
	dur("LOGIN_TIMEOUT", &c.LoginTimeout)
	str("DSN", &c.DSN)
	dur("LIMIT_WINDOW", &c.LimitWindow)
	dur("LIMIT_BLOCK", &c.LimitBlock)
	if v, ok := os.LookupEnv(EnvPrefix + "LIMIT_MAX"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sLIMIT_MAX: %w", EnvPrefix, err))
		} else {
			c.LimitMax = n
		}
	}
	dur("TOKEN_TTL", &c.TokenTTL)
	str("SIGN_KEY", &c.SignKey)
	boolean("INDIRECT_QR", &c.IndirectQR)
	boolean("DEV", &c.Dev)
	return errors.Join(errs...)
}

// RegisterFlags binds every field to fs, using the current values as
// defaults so flags override the environment.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Role, "role", c.Role, "instance role: server or client")
	fs.StringVar(&c.StoragePath, "storage", c.StoragePath, "instance storage directory")
	fs.StringVar(&c.Name, "name", c.Name, "display name")
	fs.StringVar(&c.EntryPoint, "entry-point", c.EntryPoint, "relay entry point (host[:port])")
	fs.StringVar(&c.Passphrase, "passphrase", c.Passphrase, "vault passphrase (defaults to one derived from the storage path)")
	fs.StringVar(&c.ListenAddr, "addr", c.ListenAddr, "relay listen address")
	fs.StringVar(&c.TLSCert, "tls-cert", c.TLSCert, "TLS certificate (PEM)")
	fs.StringVar(&c.TLSKey, "tls-key", c.TLSKey, "TLS private key (PEM)")
	fs.StringVar(&c.CAFile, "cacert", c.CAFile, "CA certificate (PEM)")
	fs.BoolVar(&c.Insecure, "insecure", c.Insecure, "disable TLS (dev)")
	fs.DurationVar(&c.LoginTimeout, "login-timeout", c.LoginTimeout, "login wait bound")
	fs.StringVar(&c.DSN, "dsn", c.DSN, "PostgreSQL DSN (memory storage when empty)")
	fs.DurationVar(&c.LimitWindow, "limit-window", c.LimitWindow, "failed PIN window")
	fs.IntVar(&c.LimitMax, "limit-max", c.LimitMax, "failed PINs allowed per window")
	fs.DurationVar(&c.LimitBlock, "limit-block", c.LimitBlock, "block duration after too many failures")
	fs.DurationVar(&c.TokenTTL, "token-ttl", c.TokenTTL, "session token TTL")
	fs.StringVar(&c.SignKey, "sign-key", c.SignKey, "HS256 session signing key")
	fs.BoolVar(&c.IndirectQR, "indirect-qr", c.IndirectQR, "issue indirect pairing QR codes")
	fs.BoolVar(&c.Dev, "dev", c.Dev, "development logging and reflection")
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if _, ok := model.ParseRole(c.Role); !ok {
		errs = append(errs, fmt.Errorf("role %q: want server or client", c.Role))
	}
	if c.StoragePath == "" {
		errs = append(errs, errors.New("storage path is required"))
	}
	if c.LoginTimeout <= 0 {
		errs = append(errs, errors.New("login timeout must be positive"))
	}
	if c.LimitMax <= 0 || c.LimitWindow <= 0 || c.LimitBlock <= 0 {
		errs = append(errs, errors.New("limiter settings must be positive"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token ttl must be positive"))
	}
	return errors.Join(errs...)
}

// ParsedRole returns the validated role.
func (c Config) ParsedRole() model.Role {
	r, _ := model.ParseRole(c.Role)
	return r
}

// Load builds a Config for a flag-driven binary: defaults, .env, environment,
// then args parsed with a new FlagSet named name.
func Load(name string, args []string) (Config, error) {
	if err := LoadDotEnv(os.Getenv(EnvPrefix + "ENV_FILE")); err != nil {
		return Config{}, err
	}
	cfg := Defaults()
	if err := cfg.FromEnv(); err != nil {
		return Config{}, err
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
