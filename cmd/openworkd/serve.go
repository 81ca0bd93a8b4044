package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"openwork/internal/bridge"
	"openwork/internal/engine"
	"openwork/internal/logging"
	"openwork/internal/mcpserver"
)

var (
	serveBridgeAddr string
	serveMCPAddr    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the websocket bridge and the workspace tool server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveBridgeAddr != "" {
			cfg.Bridge.Addr = serveBridgeAddr
		}
		if serveMCPAddr != "" {
			cfg.MCP.Addr = serveMCPAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveBridgeAddr, "bridge-addr", "", "bridge listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveMCPAddr, "mcp-addr", "", "tool server listen address (overrides config)")
}

func serve(ctx context.Context) error {
	e, err := openEngine(engine.Options{
		OnFilesChanged: func(threadID string, paths []string) {
			logging.Debug("workspace changed", logging.Thread(threadID), logging.Int("paths", len(paths)))
		},
	})
	if err != nil {
		return err
	}
	defer e.Close()

	tools := mcpserver.NewMCPService(cfg.MCP.Addr, configDir, func(ctx context.Context, threadID string) (mcpserver.Files, error) {
		b, err := e.Backend(ctx, threadID)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
	if err := tools.Start(); err != nil {
		return err
	}
	e.SetMCPURL(tools.URL())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bridge.New(e, cfg.Bridge.AllowedOrigins).ListenAndServe(gctx, cfg.Bridge.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		return tools.Stop()
	})
	err = g.Wait()
	logging.Info("openworkd stopped")
	return err
}
