// Package mcp provides an MCP (Model Context Protocol) server exposing the
// monitor's published state.
package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/coder/quartz"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/dbmon/internal/logging"
	"github.com/nvandessel/dbmon/internal/publish"
	"github.com/nvandessel/dbmon/internal/ratelimit"
)

// Server wraps the MCP SDK server and serves dbmon state to clients.
type Server struct {
	server       *sdk.Server
	latest       *publish.Latest
	toolLimiters ratelimit.ToolLimiters
	auditLogger  *AuditLogger
	logger       *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "dbmon")
	Version string
	Latest  *publish.Latest

	// AuditDir receives audit.jsonl. Empty disables auditing.
	AuditDir string

	Clock  quartz.Clock
	Logger *slog.Logger
}

// NewServer creates an MCP server with dbmon tools and resources.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Latest == nil {
		return nil, errors.New("mcp server requires a state source")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server:       mcpServer,
		latest:       cfg.Latest,
		toolLimiters: ratelimit.NewToolLimiters(cfg.Clock),
		logger:       logger,
	}
	if cfg.AuditDir != "" {
		s.auditLogger = NewAuditLogger(cfg.AuditDir)
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run serves MCP over stdio until the client disconnects or ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	err := s.server.Run(ctx, &sdk.StdioTransport{})
	s.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the audit log.
func (s *Server) Close() error {
	return s.auditLogger.Close()
}
