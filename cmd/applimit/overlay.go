package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/app_limit/internal/control"
	"github.com/eliteGoblin/focusd/app_limit/internal/overlay"
)

var overlayCmd = &cobra.Command{
	Use:   "overlay",
	Short: "Show interventions in this terminal",
	Long: `Runs the terminal overlay. It polls the engine and takes over the screen
while an intervention is active: a dismiss button for plain interventions,
a password field for password-protected apps.`,
	RunE: runOverlay,
}

var foregroundCmd = &cobra.Command{
	Use:   "foreground [package-id]",
	Short: "Report the foreground app to the engine",
	Long: `Pushes a foreground transition to the running engine. Host adapters call this
when the focused app changes. Without an argument the foreground is marked
unknown and the engine skips evaluation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runForeground,
}

var overlayPoll time.Duration

func init() {
	overlayCmd.Flags().DurationVar(&overlayPoll, "poll", 500*time.Millisecond, "How often to poll the engine")
}

func runOverlay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return overlay.Run(ctx, control.NewClient(cfg.Control.Address), overlayPoll)
}

func runForeground(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pkg := ""
	if len(args) == 1 {
		pkg = args[0]
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	if err := control.NewClient(cfg.Control.Address).ReportForeground(ctx, pkg, time.Time{}); err != nil {
		return fmt.Errorf("failed to report foreground: %w", err)
	}
	return nil
}
