// Package main is the offline PharmaGuard command line: analyze VCF files, inspect the knowledge
// base, manage the audit trail and register the MCP server with desktop clients.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pharmaguard-pgx-server/internal/app"
	"github.com/pharmaguard-pgx-server/internal/config"
	"github.com/pharmaguard-pgx-server/internal/domain"
	"github.com/pharmaguard-pgx-server/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// cli carries the global flags and output streams shared by every subcommand.
type cli struct {
	configFile string
	stdout     io.Writer
	stderr     io.Writer
}

func main() {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		var reported *reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:           "pharmaguard",
		Short:         "Pharmacogenomic risk analysis for VCF files",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.PersistentFlags().StringVar(&c.configFile, "config", os.Getenv(config.EnvPrefix+"_CONFIG"), "path to config.yaml")

	rootCmd.AddCommand(c.analyzeCmd())
	rootCmd.AddCommand(c.validateCmd())
	rootCmd.AddCommand(c.drugsCmd())
	rootCmd.AddCommand(c.rulesCmd())
	rootCmd.AddCommand(c.auditCmd())
	rootCmd.AddCommand(c.migrateCmd())
	rootCmd.AddCommand(c.mcpCmd())

	return rootCmd
}

// loadConfig reads and validates the configuration named by --config.
func (c *cli) loadConfig() (*domain.Config, error) {
	configManager, err := config.NewManagerFromFile(c.configFile)
	if err != nil {
		return nil, err
	}
	if err := configManager.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return configManager.GetConfig(), nil
}

// newLogger keeps stdout free for command output.
func (c *cli) newLogger(cfg *domain.Config) (*logrus.Logger, error) {
	logger, err := logging.New(logging.ForStdio(cfg.Logging))
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(logging.ForStdio(cfg.Logging).Output, logging.OutputStderr) {
		logger.SetOutput(c.stderr)
	}
	return logger, nil
}

func (c *cli) loadApp(ctx context.Context) (*app.App, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.newLogger(cfg)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

func (c *cli) printJSON(v any, pretty bool) error {
	encoder := json.NewEncoder(c.stdout)
	if pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(v)
}

// reportedError marks an error whose envelope was already written to stderr.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }

func (e *reportedError) Unwrap() error { return e.err }

// reportError writes the JSON error envelope used by the HTTP and MCP surfaces.
func (c *cli) reportError(err error) error {
	apiErr := domain.NewAPIError(domain.CodeOf(err), err.Error(), "", "")
	encoder := json.NewEncoder(c.stderr)
	encoder.SetIndent("", "  ")
	if encodeErr := encoder.Encode(apiErr); encodeErr != nil {
		return err
	}
	return &reportedError{err: err}
}
