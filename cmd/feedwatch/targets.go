package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"feedwatch/internal/app"
	"feedwatch/internal/model"
	"feedwatch/internal/targets"
)

const cliActor = "cli"

var (
	targetLabel string
	showDormant bool
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage monitored posts",
	Long: `Manage monitored posts in the configured storage.

Changes are picked up by a running monitor at its next start. With the file
storage driver, stop the monitor first: it rewrites the targets file.`,
}

var targetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List targets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
			list := w.Targets.Active()
			if showDormant {
				list = append(list, w.Targets.Dormant()...)
			}
			printTargets(list)
			return nil
		})
	},
}

var targetsAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Register a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
			t, err := w.Targets.Add(ctx, args[0], targetLabel, cliActor)
			if err != nil {
				return err
			}
			fmt.Printf("added %s %s\n", t.ID, t.URL)
			return nil
		})
	},
}

var targetsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete a target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
			if err := w.Targets.Remove(ctx, args[0], cliActor); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		})
	},
}

var targetsReactivateCmd = &cobra.Command{
	Use:   "reactivate <id>",
	Short: "Move a dormant target back to the active set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
			t, err := w.Targets.Reactivate(ctx, args[0], cliActor)
			if err != nil {
				return err
			}
			fmt.Printf("reactivated %s (%s)\n", t.ID, t.Name())
			return nil
		})
	},
}

var targetsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Bulk add targets from .csv or .xlsx",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := targets.ReadRows(args[0])
		if err != nil {
			return err
		}
		return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
			rep := w.Targets.Import(ctx, rows, cliActor)
			fmt.Printf("imported %d, skipped %d, errors %d\n", rep.Added, rep.Skipped, len(rep.Errors))
			for _, e := range rep.Errors {
				fmt.Println("  " + e)
			}
			return nil
		})
	},
}

func init() {
	targetsListCmd.Flags().BoolVar(&showDormant, "all", false, "include dormant targets")
	targetsAddCmd.Flags().StringVar(&targetLabel, "label", "", "display name used in notifications")

	targetsCmd.AddCommand(targetsListCmd, targetsAddCmd, targetsRemoveCmd, targetsReactivateCmd, targetsImportCmd)
}

func withWorkspace(parent context.Context, fn func(ctx context.Context, w *app.Workspace) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, time.Minute)
	defer cancel()

	w, err := app.OpenWorkspace(ctx, cfgPath, cliLogger())
	if err != nil {
		return err
	}
	defer w.Close()
	return fn(ctx, w)
}

func printTargets(list []model.Target) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIER\tACTIVE\tITEMS\tLAST ACTIVITY\tNAME")
	for _, t := range list {
		last := "-"
		if !t.LastActivityAt.IsZero() {
			last = t.LastActivityAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\t%s\n", t.ID, t.Tier, t.Active, t.ItemCount, last, t.Name())
	}
	_ = tw.Flush()
}
