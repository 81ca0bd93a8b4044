package main

import (
	"embed"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/mac"
)

// Version is the desktop app version shown in the about box.
const Version = "0.1.0"

//go:embed all:frontend/dist
var assets embed.FS

// parseStartFolder returns the folder passed on the command line
// (`openwork .`), resolved to an absolute directory, or "".
func parseStartFolder() string {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		return ""
	}

	absFolder, err := filepath.Abs(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving path: %v\n", err)
		return ""
	}
	info, err := os.Stat(absFolder)
	if err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "Error: %q is not a valid directory\n", absFolder)
		return ""
	}
	return absFolder
}

func main() {
	app := NewApp()
	app.startFolder = parseStartFolder()

	err := wails.Run(&options.App{
		Title:            "OpenWork",
		Width:            1280,
		Height:           800,
		WindowStartState: options.Maximised,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 27, G: 38, B: 54, A: 1},
		OnStartup:        app.startup,
		OnShutdown:       app.shutdown,
		Mac: &mac.Options{
			About: &mac.AboutInfo{
				Title:   "OpenWork",
				Message: "Agent workspaces on your desktop\n\nVersion " + Version,
			},
		},
		Bind: []interface{}{
			app,
		},
	})

	if err != nil {
		println("Error:", err.Error())
	}
}
