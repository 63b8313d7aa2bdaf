package main

import (
	"context"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/amirphl/split-trader/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func main() {
	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Printf("split-trader: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "split-trader",
		Short:         "Multi-tranche position manager with broker reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (.yaml, .toml or .json)")

	load := func() (config.Config, error) {
		return config.Load(configPath)
	}

	root.AddCommand(
		newRunCmd(load),
		newReconcileCmd(load),
		newSweepCmd(load),
		newMigrateCmd(load),
		newConfigCmd(load),
	)
	return root
}

type loader func() (config.Config, error)

func newRunCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop until interrupted (SIGUSR1 clears an emergency stop)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(cmd.Context())
		},
	}
}

func newReconcileCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile every ledger against the broker once and print the repairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			changes, err := a.reconciler.ReconcileAll(cmd.Context())
			for _, c := range changes {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %-16s %s\n", c.Symbol, c.Kind, c.Description)
			}
			if len(changes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "ledgers match the broker")
			}
			return err
		},
	}
}

func newSweepCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Check persisted pending orders once and book the late fills",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.tracker.Sweep(cmd.Context(), a.clock.Now(), a.controller)
			for _, r := range res {
				outcome := "filled"
				if r.Expired {
					outcome = "expired"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %-4s %-8s qty=%d price=%.2f order=%s\n",
					r.Order.Symbol, r.Order.Side, outcome, r.Fill.Quantity, r.Fill.Price, r.Order.OrderID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d pending orders still open\n", len(a.registry.List()))
			return err
		},
	}
}

func newMigrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres database and tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("migrate needs the postgres storage driver, have %q", cfg.Storage.Driver)
			}
			return runMigrations(cmd.Context(), cfg.Storage.DSN)
		},
	}
}

func newConfigCmd(load loader) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration, or write it with --out",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			// Secrets stay out of printed and saved configs.
			cfg.Broker.APIKey = ""
			cfg.Notify.TelegramToken = ""
			cfg.Storage.DSN = ""
			if out != "" {
				return cfg.SaveToFile(out)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the config to this file instead of stdout")
	return cmd
}
