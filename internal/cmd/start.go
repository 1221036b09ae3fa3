package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kestrelworks/conductor/internal/config"
	"github.com/kestrelworks/conductor/internal/registry"
	"github.com/kestrelworks/conductor/internal/tui"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the conductor daemon",
	Long: `Start the scheduler, session store, and background sweeps, then open
the monitor dashboard. With --headless the daemon runs without a UI
until it receives SIGINT, SIGTERM, or SIGHUP; the session store is
flushed synchronously before exit either way.`,
	RunE: runStart,
}

var startHeadless bool

func init() {
	startCmd.Flags().BoolVar(&startHeadless, "headless", false, "Run without the monitor dashboard")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	reg, err := registry.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to start conductor: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	if startHeadless {
		sig := <-sigCh
		reg.Logger.Info("signal received, shutting down", "signal", sig.String())
		return reg.Shutdown()
	}

	app := tui.New(reg)
	go func() {
		<-sigCh
		app.Quit()
	}()
	if err := app.Run(); err != nil {
		reg.Shutdown()
		return fmt.Errorf("monitor dashboard failed: %w", err)
	}
	return reg.Shutdown()
}
