// Package mcp exposes the analysis pipeline as Model Context Protocol tools.
package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-pgx-server/internal/app"
	"github.com/pharmaguard-pgx-server/internal/domain"
)

// Server represents the PharmaGuard MCP server
type Server struct {
	app       *app.App
	config    domain.MCPConfig
	mcpServer *mcp.Server
	logger    *logrus.Logger
}

// NewServer creates a new MCP server instance
func NewServer(application *app.App) (*Server, error) {
	cfg := application.Config.MCP
	if cfg.ServerName == "" {
		cfg.ServerName = "pharmaguard"
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "1.0.0"
	}

	serverInfo := &mcp.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}

	server := &Server{
		app:       application,
		config:    cfg,
		mcpServer: mcp.NewServer(serverInfo, nil),
		logger:    application.Logger,
	}

	server.registerTools()
	return server, nil
}

// registerTools registers the analysis tools with the MCP SDK.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolAnalyze,
		Description: "Analyze a VCF file against one or more drugs and return per-drug pharmacogenomic risk " +
			"reports with CPIC-aligned recommendations.",
	}, s.handleAnalyze)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolListDrugs,
		Description: "List the drugs and pharmacogenes covered by the knowledge base.",
	}, s.handleListDrugs)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolDrugRules,
		Description: "Show the phenotype to risk rule table for one drug.",
	}, s.handleDrugRules)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolValidateVCF,
		Description: "Parse a VCF file and report file-level quality metrics without evaluating any drug.",
	}, s.handleValidateVCF)

	s.logger.WithField("tool_count", 4).Info("Registered MCP tools")
}

// Start runs the server on the configured transport until ctx is cancelled or the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	transportType := strings.ToLower(s.config.TransportType)
	if transportType != "" && transportType != "stdio" {
		return fmt.Errorf("unsupported MCP transport: %s", s.config.TransportType)
	}

	s.logger.WithFields(logrus.Fields{
		"server_name":            s.config.ServerName,
		"server_version":         s.config.ServerVersion,
		"transport_type":         "stdio",
		"knowledge_base_version": s.app.KB.Version(),
	}).Info("Starting PharmaGuard MCP server")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}
