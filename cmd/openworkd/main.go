// Command openworkd runs OpenWork without the desktop window: the websocket
// bridge and workspace tool server, one-shot chats and workspace syncs.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"openwork/internal/config"
	"openwork/internal/engine"
	"openwork/internal/logging"
	"openwork/internal/settings"
)

var (
	// Global flags
	configDir string
	logLevel  string
	logFormat string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "openworkd",
	Short: "OpenWork headless daemon",
	Long: `openworkd runs the OpenWork engine without the desktop window.

It serves the chat transport over a websocket bridge for remote renderers,
exposes thread workspaces to the agent process as MCP tools, and offers
one-shot chat and sync commands for scripting.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configDir)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if logFormat != "" {
			cfg.Logging.Format = logFormat
		}
		if err := logging.Init(logging.Config{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			OutputPath: cfg.Logging.Output,
		}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logging.Sync()
	},
}

func init() {
	home, _ := os.UserHomeDir()
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", filepath.Join(home, settings.ConfigDir), "settings and database directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, console)")

	rootCmd.AddCommand(serveCmd, chatCmd, syncCmd)
}

// openEngine builds the engine from the loaded configuration.
func openEngine(opts engine.Options) (*engine.Engine, error) {
	opts.ConfigDir = configDir
	opts.Config = cfg
	return engine.New(opts)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
