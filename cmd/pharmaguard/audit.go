package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pharmaguard-pgx-server/internal/audit"
	"github.com/pharmaguard-pgx-server/internal/database"
	"github.com/pharmaguard-pgx-server/internal/domain"
)

func (c *cli) openAuditStore(ctx context.Context) (audit.Store, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.newLogger(cfg)
	if err != nil {
		return nil, err
	}
	return audit.Open(ctx, cfg.Audit, logger)
}

func (c *cli) auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and maintain the de-identified analysis audit trail",
	}

	// audit list
	var limit, offset int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent audit entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openAuditStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			total, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := store.List(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []*domain.AuditRecord{}
			}
			return c.printJSON(map[string]any{
				"total":   total,
				"entries": entries,
			}, true)
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to print")
	listCmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")

	// audit export
	var output string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export every audit entry as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openAuditStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if output == "" || output == "-" {
				return store.ExportJSON(cmd.Context(), c.stdout)
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create export file: %w", err)
			}
			if err := store.ExportJSON(cmd.Context(), f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(c.stderr, "Audit trail exported to %s\n", output)
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")

	// audit purge
	var olderThan time.Duration
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete audit entries older than a retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			store, err := c.openAuditStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Purge(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "Purged %d audit entries\n", removed)
			return nil
		},
	}
	purgeCmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "retention period")

	cmd.AddCommand(listCmd, exportCmd, purgeCmd)
	return cmd
}

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run PostgreSQL audit schema migrations",
	}

	withRunner := func(fn func(ctx context.Context, runner *database.MigrationRunner) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Audit.PostgresURL == "" {
				return fmt.Errorf("audit.postgres_url is not configured")
			}
			logger, err := c.newLogger(cfg)
			if err != nil {
				return err
			}
			runner, err := database.NewMigrationRunner(cfg.Audit.PostgresURL, cfg.Audit.MigrationsPath, logger)
			if err != nil {
				return err
			}
			defer runner.Close()
			return fn(cmd.Context(), runner)
		}
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: withRunner(func(ctx context.Context, runner *database.MigrationRunner) error {
			return runner.Up(ctx)
		}),
	}

	// migrate down
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		RunE: withRunner(func(ctx context.Context, runner *database.MigrationRunner) error {
			return runner.Down(ctx)
		}),
	}

	// migrate version
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: withRunner(func(ctx context.Context, runner *database.MigrationRunner) error {
			v, dirty, err := runner.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "version %d (dirty: %t)\n", v, dirty)
			return nil
		}),
	}

	cmd.AddCommand(upCmd, downCmd, versionCmd)
	return cmd
}
