// Package main runs the PharmaGuard MCP server over stdio.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pharmaguard-pgx-server/internal/app"
	"github.com/pharmaguard-pgx-server/internal/config"
	"github.com/pharmaguard-pgx-server/internal/logging"
	"github.com/pharmaguard-pgx-server/internal/mcp"
)

func main() {
	// stdout carries the protocol, so nothing may be printed there.
	log.SetOutput(os.Stderr)

	var configFile string
	rootCmd := &cobra.Command{
		Use:           "pharmaguard-mcp",
		Short:         "PharmaGuard pharmacogenomic analysis MCP server (stdio)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
	}
	rootCmd.Flags().StringVar(&configFile, "config", os.Getenv(config.EnvPrefix+"_CONFIG"), "path to config.yaml")
	rootCmd.SetOut(os.Stderr)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pharmaguard-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	configManager, err := config.NewManagerFromFile(configFile)
	if err != nil {
		return err
	}
	if err := configManager.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg := configManager.GetConfig()
	logger, err := logging.New(logging.ForStdio(cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	server, err := mcp.NewServer(application)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	logger.Info("PharmaGuard MCP server stopped")
	return nil
}
