// Package mcp exposes the orchestrator as a Model Context Protocol server.
//
// Information Hiding:
// - Tool registration and JSON schema inference
// - Translation between orchestrator types and flat tool DTOs
// - Transport selection (stdio or streamable HTTP)

package mcp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/richinex/clew/model"
	"github.com/richinex/clew/orchestrator"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// ErrMissingEngine is returned when NewServer is given no engine.
var ErrMissingEngine = errors.New("mcp: query engine is required")

// Engine is the part of the orchestrator the server calls.
type Engine interface {
	ExecuteQuery(ctx context.Context, sessionID, query string, override *orchestrator.Partial) (model.QueryResult, error)
	Status(sessionID string) (orchestrator.Status, error)
	Sessions() []string
	Configure(p orchestrator.Partial) (orchestrator.Config, error)
}

// Verify Orchestrator implements Engine
var _ Engine = (*orchestrator.Orchestrator)(nil)

// Server serves execute_query, orchestrator_status and configure_orchestrator.
type Server struct {
	engine Engine
	server *mcp.Server
	logger *log.Logger
}

// NewServer registers the tools over engine. A nil logger logs to stderr,
// which keeps stdout free for the stdio transport.
func NewServer(engine Engine, logger *log.Logger) (*Server, error) {
	if engine == nil {
		return nil, ErrMissingEngine
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[mcp] ", log.LstdFlags)
	}

	s := &Server{
		engine: engine,
		server: mcp.NewServer(&mcp.Implementation{Name: "clew", Version: Version}, nil),
		logger: logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Printf("serving over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the streamable HTTP transport on addr until ctx is cancelled.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Printf("http shutdown: %v", err)
		}
	}()

	s.logger.Printf("serving over http on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve http: %w", err)
	}
	return nil
}

// Connect attaches the server to an arbitrary transport.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}
