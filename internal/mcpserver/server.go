// Package mcpserver exposes thread workspaces to the agent process as MCP
// tools served over SSE.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"openwork/internal/logging"
	"openwork/internal/types"
)

// ThreadHeader carries the thread id on every MCP request of an agent
// process.
const ThreadHeader = "X-Openwork-Thread"

// Version is reported in the MCP handshake.
const Version = "0.1.0"

type threadKey struct{}

// Files is the workspace surface the tools operate on.
// backend.SyncedBackend implements it.
type Files interface {
	List(ctx context.Context, p string) ([]types.FileEntry, error)
	Read(ctx context.Context, p string, offset, limit int) (string, error)
	Write(ctx context.Context, p string, content []byte) error
	Edit(ctx context.Context, p, oldText, newText string, replaceAll bool) (int, error)
	Grep(ctx context.Context, pattern, p, glob string) ([]types.GrepMatch, error)
	Glob(ctx context.Context, pattern, p string) ([]types.FileEntry, error)
}

// Resolver returns the workspace of a thread.
type Resolver func(ctx context.Context, threadID string) (Files, error)

// ChangeFunc is told about paths written through the tools.
type ChangeFunc func(threadID string, paths []string)

// MCPService runs the workspace tool server.
type MCPService struct {
	server       *server.MCPServer
	resolve      Resolver
	onChange     ChangeFunc
	availability *ToolAvailabilityManager
	addr         string
	url          string
	httpServer   *http.Server
	mu           sync.RWMutex
	running      bool
}

// NewMCPService creates a tool server listening on addr. configPath holds
// the tool availability file.
func NewMCPService(addr, configPath string, resolve Resolver) *MCPService {
	s := &MCPService{
		resolve:      resolve,
		availability: NewToolAvailabilityManager(configPath),
		addr:         addr,
	}
	s.server = s.newMCPServer()
	return s
}

// SetChangeFunc sets the callback for paths written by the agent.
func (s *MCPService) SetChangeFunc(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Availability returns the tool availability settings.
func (s *MCPService) Availability() *ToolAvailabilityManager {
	return s.availability
}

// URL returns the SSE endpoint once the server is running.
func (s *MCPService) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url
}

func (s *MCPService) newMCPServer() *server.MCPServer {
	mcpServer := server.NewMCPServer(
		"OpenWork",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	mcpServer.AddTool(CreateLsTool(), s.handleLs)
	mcpServer.AddTool(CreateReadFileTool(), s.handleReadFile)
	mcpServer.AddTool(CreateWriteFileTool(), s.handleWriteFile)
	mcpServer.AddTool(CreateEditFileTool(), s.handleEditFile)
	mcpServer.AddTool(CreateGrepTool(), s.handleGrep)
	mcpServer.AddTool(CreateGlobTool(), s.handleGlob)
	return mcpServer
}

// Start listens and serves in the background. Starting a running server
// is a no-op.
func (s *MCPService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.addr, err)
	}
	baseURL := "http://" + ln.Addr().String()

	sseServer := server.NewSSEServer(s.server,
		server.WithBaseURL(baseURL),
		server.WithSSEContextFunc(threadFromRequest),
	)
	s.httpServer = &http.Server{Handler: sseServer}
	s.url = baseURL + "/sse"

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("mcp server stopped", logging.Err(err))
		}
	}(s.httpServer)

	s.running = true
	logging.Info("mcp server started", logging.String("url", s.url))
	return nil
}

// Stop closes the server and every open SSE session.
func (s *MCPService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.url = ""
	logging.Info("mcp server stopped")
	return s.httpServer.Close()
}

// IsRunning returns whether the server is serving.
func (s *MCPService) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// threadFromRequest copies the thread header (or thread_id query
// parameter) of an MCP request into the handler context.
func threadFromRequest(ctx context.Context, r *http.Request) context.Context {
	id := strings.TrimSpace(r.Header.Get(ThreadHeader))
	if id == "" {
		id = r.URL.Query().Get("thread_id")
	}
	if id == "" {
		return ctx
	}
	return WithThread(ctx, id)
}

// WithThread stores the calling thread in ctx.
func WithThread(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadKey{}, threadID)
}

// ThreadFrom returns the calling thread stored in ctx.
func ThreadFrom(ctx context.Context) string {
	id, _ := ctx.Value(threadKey{}).(string)
	return id
}

func (s *MCPService) notify(threadID string, paths ...string) {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn(threadID, paths)
	}
}
