package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=X.Y.Z"
var Version = "0.0.0-dev"

var (
	cfgPath string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "feedwatch",
	Short: "Watch social posts for new comments and forward them",
	Long: `feedwatch polls a list of social-media posts during human-like sessions,
drops comments it has already forwarded or that are too old, and delivers the
rest to the configured Telegram chats and webhooks.

Commands:
  run                         Start the monitor (foreground, systemd-friendly)
  targets list                List active and dormant targets
  targets add <url>           Register a post
  targets remove <id>         Delete a target
  targets reactivate <id>     Move a dormant target back to the active set
  targets import <file>       Bulk add from .csv or .xlsx (url,label)
  seen stats                  Show the persisted seen-set size

Secrets may be kept in a .env file next to the binary (see --env).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnv(envFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (json or yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file with secrets (ignored when missing)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(seenCmd)
}

// loadEnv reads path into the environment. Variables already set win.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
