package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sandeepkv93/license-activation-service/internal/config"
	"github.com/sandeepkv93/license-activation-service/internal/database"
	"github.com/sandeepkv93/license-activation-service/internal/di"
	"github.com/sandeepkv93/license-activation-service/internal/observability"
	"github.com/sandeepkv93/license-activation-service/internal/security"
	"github.com/sandeepkv93/license-activation-service/internal/tools/loadgen"

	"github.com/spf13/cobra"
)

// configLoader is swapped in tests.
var configLoader = config.Load

func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "activationd",
		Short:         "License key issuance and device activation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newKeysCommand(),
		newDevicesCommand(),
		newTokenCommand(),
		newLoadgenCommand(),
	)
	return cmd
}

func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configLoader()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			base := observability.NewLogger(os.Stdout, cfg.LogLevel)
			a, cleanup, err := di.InitializeApp(ctx, cfg, base)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			defer cleanup()
			return a.Run(ctx)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the activation schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configLoader()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newKeysCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "Manage activation keys"}

	var owner string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a key for an owner and print the plaintext once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTooling(cmd.Context(), func(ctx context.Context, t *di.Tooling) error {
				plaintext, err := t.Service.Issue(ctx, owner)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), plaintext)
				return nil
			})
		},
	}
	issue.Flags().StringVar(&owner, "owner", "", "owner id the key belongs to")
	_ = issue.MarkFlagRequired("owner")

	var revokeOwner string
	revoke := &cobra.Command{
		Use:   "revoke KEY_ID",
		Short: "Revoke a key and its devices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTooling(cmd.Context(), func(ctx context.Context, t *di.Tooling) error {
				res, err := t.Service.Revoke(ctx, args[0], revokeOwner)
				if err != nil {
					return err
				}
				out := fmt.Sprintf("revoked %s (devices revoked: %d)", args[0], res.DevicesRevoked)
				if res.Note != "" {
					out += ": " + res.Note
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
	revoke.Flags().StringVar(&revokeOwner, "owner", "", "owner id the key belongs to")
	_ = revoke.MarkFlagRequired("owner")

	cmd.AddCommand(issue, revoke)
	return cmd
}

func newDevicesCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "devices", Short: "Manage bound devices"}

	var fingerprint string
	deactivate := &cobra.Command{
		Use:   "deactivate",
		Short: "Remove every binding of a device fingerprint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTooling(cmd.Context(), func(ctx context.Context, t *di.Tooling) error {
				if err := t.Service.Deactivate(ctx, fingerprint); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
	deactivate.Flags().StringVar(&fingerprint, "fingerprint", "", "device fingerprint")
	_ = deactivate.MarkFlagRequired("fingerprint")

	cmd.AddCommand(deactivate)
	return cmd
}

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Internal caller token helpers"}
	cmd.AddCommand(&cobra.Command{
		Use:   "hash",
		Short: "Read a token from stdin and print the INTERNAL_TOKEN_HASH value",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 4096))
			if err != nil {
				return err
			}
			hash, err := security.HashInternalToken(strings.TrimSpace(string(raw)))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	})
	return cmd
}

func newLoadgenCommand() *cobra.Command {
	cfg := loadgen.Config{}
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Drive synthetic traffic against a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := loadgen.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Summary())
			if res.Failures > 0 && cfg.FailOnError {
				return errors.New("loadgen observed failures")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	f.StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: activate, health or mixed")
	f.StringVar(&cfg.Key, "key", "", "plaintext key used by the activate profile")
	f.DurationVar(&cfg.Duration, "duration", 10*time.Second, "how long to generate traffic")
	f.IntVar(&cfg.RPS, "rps", 20, "target requests per second")
	f.IntVar(&cfg.Concurrency, "concurrency", 4, "parallel workers")
	f.IntVar(&cfg.Fingerprints, "fingerprints", 8, "distinct device fingerprints to cycle through")
	f.BoolVar(&cfg.FailOnError, "fail-on-error", false, "exit non-zero when any request fails")
	return cmd
}

func withTooling(ctx context.Context, fn func(context.Context, *di.Tooling) error) error {
	cfg, err := configLoader()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t, cleanup, err := di.InitializeTooling(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ctx, t)
}
