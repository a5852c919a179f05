// ABOUTME: MCP server setup for the lifts workout store.
// ABOUTME: Wraps the MCP server with repository and sync engine access.
package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/harperreed/lifts/internal/storage"
	liftsync "github.com/harperreed/lifts/internal/sync"
)

// Syncer runs a sync on demand.
type Syncer interface {
	SyncNow(ctx context.Context) (liftsync.Result, error)
}

// Server wraps the MCP server with storage access.
type Server struct {
	mcpServer *mcp.Server
	repo      storage.Repository
	syncer    Syncer
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithSyncer enables the sync_now tool.
func WithSyncer(s Syncer) Option {
	return func(srv *Server) { srv.syncer = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.logger = l
		}
	}
}

// WithClock injects the time source used for "today".
func WithClock(now func() time.Time) Option {
	return func(srv *Server) { srv.now = now }
}

// NewServer creates a new MCP server over repo.
func NewServer(repo storage.Repository, opts ...Option) (*Server, error) {
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "lifts",
			Version: "1.0.0",
		},
		nil,
	)

	s := &Server{
		mcpServer: mcpServer,
		repo:      repo,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Serve starts the MCP server using stdio transport.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp server starting")
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}
