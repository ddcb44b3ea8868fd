package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pharmaguard-pgx-server/internal/setup"
)

func (c *cli) mcpCmd() *cobra.Command {
	var clientConfig, serverName string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Register the PharmaGuard MCP server with a desktop MCP client",
	}
	cmd.PersistentFlags().StringVar(&clientConfig, "client-config", "", "path to the MCP client's JSON config file")
	cmd.PersistentFlags().StringVar(&serverName, "name", setup.DefaultServerName, "server name under mcpServers")
	_ = cmd.MarkPersistentFlagRequired("client-config")

	// mcp register
	var binary, dataDir string
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Add or update the server entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := setup.Register(setup.RegisterOptions{
				ClientConfigPath: clientConfig,
				ServerName:       serverName,
				BinaryPath:       binary,
				DataDir:          dataDir,
				ConfigFile:       c.configFile,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "Registered %s in %s\n", serverName, clientConfig)
			fmt.Fprintf(c.stdout, "  command: %s\n", entry.Command)
			for k, v := range entry.Env {
				fmt.Fprintf(c.stdout, "  env: %s=%s\n", k, v)
			}
			fmt.Fprintln(c.stdout, "Restart the MCP client to load the server.")
			return nil
		},
	}
	registerCmd.Flags().StringVar(&binary, "binary", "", "path to pharmaguard-mcp (default: search PATH)")
	registerCmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory for the server's audit database")

	// mcp unregister
	unregisterCmd := &cobra.Command{
		Use:   "unregister",
		Short: "Remove the server entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := setup.Unregister(clientConfig, serverName)
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(c.stdout, "%s was not registered\n", serverName)
				return nil
			}
			fmt.Fprintf(c.stdout, "Removed %s from %s\n", serverName, clientConfig)
			return nil
		},
	}

	// mcp status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the server is registered and usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := setup.GetStatus(clientConfig, serverName)
			if err != nil {
				return err
			}
			return c.printJSON(status, true)
		},
	}

	cmd.AddCommand(registerCmd, unregisterCmd, statusCmd)
	return cmd
}
