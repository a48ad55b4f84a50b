package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"feedwatch/internal/app"
	logx "feedwatch/pkg/logx"
)

var seenCmd = &cobra.Command{
	Use:   "seen",
	Short: "Inspect the deduplication set",
}

var seenStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the persisted seen-set size",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd.Context(), func(_ context.Context, w *app.Workspace) error {
			fmt.Printf("storage:      %s\n", w.Config.Storage.Driver)
			fmt.Printf("fingerprints: %d\n", w.Seen.Len())
			fmt.Printf("targets:      %d active, %d dormant\n", len(w.Targets.Active()), len(w.Targets.Dormant()))
			return nil
		})
	},
}

func init() {
	seenCmd.AddCommand(seenStatsCmd)
}

// cliLogger keeps one-shot commands quiet unless something goes wrong.
func cliLogger() logx.Logger {
	return logx.NewConsole("WARN")
}
