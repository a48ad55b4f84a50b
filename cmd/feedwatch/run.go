package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"feedwatch/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the monitor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMonitor(cmd.Context())
	},
}

func runMonitor(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := a.Start(parent); err != nil {
		return err
	}

	reason := app.StopAppStop
	select {
	case s := <-sigs:
		reason = app.StopSIGINT
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.ShutdownTimeout())
	defer cancel()
	_ = a.Stop(ctx, reason)

	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
