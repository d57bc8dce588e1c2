// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spikeapp/spike-sync/internal/app"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "spike-sync",
	Short: "Multi-tenant sync job orchestration engine",
	Long:  `spike-sync orchestrates asynchronous data-sync jobs pulling academic records from university systems: job lifecycle, cron scheduling, priority dispatch, retry with backoff, and event publication.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		return a.Run(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration commands",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Run all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConfig(cmd.Context(), app.RunMigrations)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [N]",
	Short: "Rollback N migrations (default: 1)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps := "1"
		if len(args) > 0 {
			steps = args[0]
		}
		return withConfig(cmd.Context(), func(ctx context.Context, cfg *app.Config) error {
			return app.RollbackMigrations(ctx, cfg, steps)
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConfig(cmd.Context(), app.MigrationStatus)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("spike-sync %s\n", app.Version)
	},
}

func withConfig(ctx context.Context, fn func(context.Context, *app.Config) error) error {
	cfg, err := app.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	return fn(ctx, cfg)
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
