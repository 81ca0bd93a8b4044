package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	wailsrt "github.com/wailsapp/wails/v2/pkg/runtime"

	"openwork/internal/config"
	"openwork/internal/engine"
	"openwork/internal/logging"
	"openwork/internal/mcpserver"
	"openwork/internal/settings"
)

// Event names emitted to the frontend besides the chat streams.
const (
	EventLoadingStatus = "loading:status"
	EventAppReady      = "app:ready"
	EventFilesChanged  = "workspace:files-changed"
)

// App struct holds the application state
type App struct {
	ctx         context.Context
	configDir   string
	startFolder string
	engine      *engine.Engine
	mcpServer   *mcpserver.MCPService

	streamsMu sync.Mutex
	streams   map[string]context.CancelFunc // thread id -> stop forwarding

	emit func(ctx context.Context, eventName string, data ...interface{})
}

// NewApp creates a new App application struct
func NewApp() *App {
	return &App{
		streams: make(map[string]context.CancelFunc),
		emit:    wailsrt.EventsEmit,
	}
}

// =============================================================================
// STARTUP - Single Initialization Chain
// =============================================================================

// emitLoadingStatus emits a loading status message to the frontend splash screen
func (a *App) emitLoadingStatus(status string) {
	a.emit(a.ctx, EventLoadingStatus, map[string]any{
		"status": status,
	})
}

// startup is called when the app starts. The context is saved
// so we can call the runtime methods
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	a.emitLoadingStatus("Loading configuration...")
	cfg := a.loadConfig()

	a.emitLoadingStatus("Opening database...")
	if err := a.initializeEngine(cfg); err != nil {
		logging.Error("failed to start engine", logging.Err(err))
		wailsrt.LogError(ctx, "Failed to start engine: "+err.Error())
		return
	}

	a.emitLoadingStatus("Starting workspace tools...")
	a.initializeMCPServer(cfg)

	a.emit(ctx, EventAppReady, map[string]any{
		"startFolder": a.startFolder,
	})
	logging.Info("OpenWork initialized", logging.Path(a.configDir))
}

// loadConfig reads ~/.openwork/config.yaml and sets up logging. A broken
// config file falls back to defaults.
func (a *App) loadConfig() *config.Config {
	home, _ := os.UserHomeDir()
	a.configDir = filepath.Join(home, settings.ConfigDir)

	cfg, err := config.Load(a.configDir)
	if err != nil {
		wailsrt.LogWarning(a.ctx, "Invalid config, using defaults: "+err.Error())
		cfg = config.DefaultConfig(a.configDir)
	}
	if err := logging.Init(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.Output,
	}); err != nil {
		wailsrt.LogWarning(a.ctx, "Failed to initialize logger: "+err.Error())
	}
	return cfg
}

// initializeEngine opens the engine with change notifications forwarded to
// the frontend.
func (a *App) initializeEngine(cfg *config.Config) error {
	e, err := engine.New(engine.Options{
		ConfigDir:      a.configDir,
		Config:         cfg,
		OnFilesChanged: a.emitFilesChanged,
	})
	if err != nil {
		return err
	}
	a.engine = e
	if e.Settings().GetSettings().DebugLogging {
		logging.SetLevel("debug")
	}
	return nil
}

// initializeMCPServer starts the workspace tool server and hands its URL to
// the agent runner.
func (a *App) initializeMCPServer(cfg *config.Config) {
	a.mcpServer = mcpserver.NewMCPService(cfg.MCP.Addr, a.configDir, func(ctx context.Context, threadID string) (mcpserver.Files, error) {
		b, err := a.engine.Backend(ctx, threadID)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
	a.mcpServer.SetChangeFunc(a.emitFilesChanged)

	if err := a.mcpServer.Start(); err != nil {
		logging.Warn("failed to start MCP server", logging.Err(err))
		return
	}
	a.engine.SetMCPURL(a.mcpServer.URL())
}

// emitFilesChanged forwards workspace changes to the file tree.
func (a *App) emitFilesChanged(threadID string, paths []string) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, EventFilesChanged, map[string]any{
		"threadId": threadID,
		"paths":    paths,
	})
}

// shutdown is called when the app is closing
func (a *App) shutdown(ctx context.Context) {
	a.streamsMu.Lock()
	for id, stop := range a.streams {
		stop()
		delete(a.streams, id)
	}
	a.streamsMu.Unlock()

	if a.mcpServer != nil {
		if err := a.mcpServer.Stop(); err != nil {
			logging.Warn("failed to stop MCP server", logging.Err(err))
		}
	}
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			logging.Warn("failed to close engine", logging.Err(err))
		}
	}
	_ = logging.Sync()
}
