package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"openwork/internal/engine"
)

var syncWorkspace string

var syncCmd = &cobra.Command{
	Use:   "sync <thread-id>",
	Short: "Load workspace files missing from a thread's state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEngine(engine.Options{})
		if err != nil {
			return err
		}
		defer e.Close()

		threadID := args[0]
		if syncWorkspace != "" {
			if _, err := e.BindWorkspace(ctx, threadID, syncWorkspace); err != nil {
				return err
			}
		}

		report, err := e.SyncFromDisk(ctx, threadID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, p := range report.Loaded {
			fmt.Fprintf(out, "loaded %s\n", p)
		}
		for _, pe := range report.Errors {
			fmt.Fprintf(out, "failed %s: %v\n", pe.Path, pe.Err)
		}
		fmt.Fprintf(out, "%d loaded, %d failed\n", len(report.Loaded), len(report.Errors))
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVarP(&syncWorkspace, "workspace", "w", "", "bind this folder before syncing")
}
