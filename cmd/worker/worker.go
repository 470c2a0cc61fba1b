// Package worker implements the worker command: job processing ticks and
// the stale-lock sweep without the API server.
package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/coursecheck/cmd/common"
	"github.com/jonesrussell/coursecheck/internal/logger"
)

// Command returns the worker command.
func Command(cfgFile *string) *cobra.Command {
	var (
		runID string
		once  bool
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process analysis jobs on a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), *cfgFile, runID, once)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "restrict processing to one run id")
	cmd.Flags().BoolVar(&once, "once", false, "process a single tick and exit")

	return cmd
}

func run(ctx context.Context, cfgFile, runID string, once bool) error {
	pipeline, err := common.BuildPipeline(ctx, cfgFile)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	cfg := pipeline.Config
	log := pipeline.Logger

	var runFilter *string
	if runID != "" {
		runFilter = &runID
	}

	if once {
		processed := pipeline.Runner.ProcessTick(ctx, cfg.Runner.DefaultMaxConcurrency, runFilter)
		log.Info("tick complete", logger.Int("processed", processed))
		return nil
	}

	scheduler := cron.New()

	_, err = scheduler.AddFunc(
		fmt.Sprintf("@every %s", cfg.Runner.TickInterval),
		func() {
			processed := pipeline.Runner.ProcessTick(ctx, cfg.Runner.DefaultMaxConcurrency, runFilter)
			if processed > 0 {
				log.Debug("tick complete", logger.Int("processed", processed))
			}
		},
	)
	if err != nil {
		return fmt.Errorf("schedule runner tick: %w", err)
	}

	_, err = scheduler.AddFunc(
		fmt.Sprintf("@every %s", cfg.Runner.SweepInterval),
		func() {
			if _, sweepErr := pipeline.Queue.ReleaseStaleLocks(ctx); sweepErr != nil {
				log.Error("stale lock sweep failed", logger.Error(sweepErr))
			}
		},
	)
	if err != nil {
		return fmt.Errorf("schedule stale lock sweep: %w", err)
	}

	scheduler.Start()
	defer scheduler.Stop()
	log.Info("worker started",
		logger.Duration("tick_interval", cfg.Runner.TickInterval),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", logger.String("signal", sig.String()))
	case <-ctx.Done():
	}

	return nil
}
