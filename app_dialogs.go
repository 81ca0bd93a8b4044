package main

import (
	wailsrt "github.com/wailsapp/wails/v2/pkg/runtime"
)

// =============================================================================
// DIALOG WRAPPERS (Go-only runtime functions exposed to frontend)
// =============================================================================

// SelectDirectory opens a directory picker dialog, starting in the default
// workspace folder when one is set.
func (a *App) SelectDirectory(title string) (string, error) {
	opts := wailsrt.OpenDialogOptions{
		Title:                title,
		CanCreateDirectories: true,
	}
	if a.engine != nil {
		opts.DefaultDirectory = a.engine.Settings().GetSettings().DefaultWorkspace
	}
	return wailsrt.OpenDirectoryDialog(a.ctx, opts)
}

// ConfirmDialog shows a confirmation dialog
func (a *App) ConfirmDialog(title, message string) (bool, error) {
	result, err := wailsrt.MessageDialog(a.ctx, wailsrt.MessageDialogOptions{
		Type:    wailsrt.QuestionDialog,
		Title:   title,
		Message: message,
	})
	return result == "Yes", err
}

// AlertDialog shows an error alert dialog
func (a *App) AlertDialog(title, message string) error {
	_, err := wailsrt.MessageDialog(a.ctx, wailsrt.MessageDialogOptions{
		Type:    wailsrt.ErrorDialog,
		Title:   title,
		Message: message,
	})
	return err
}
