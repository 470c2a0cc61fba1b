// Package serve implements the serve command: the polling API plus the
// scheduled runner ticks and stale-lock sweep in one process.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/coursecheck/cmd/common"
	"github.com/jonesrussell/coursecheck/internal/api"
	"github.com/jonesrussell/coursecheck/internal/logger"
)

// Command returns the serve command.
func Command(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the status API and the job processing schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), *cfgFile)
		},
	}
}

func run(ctx context.Context, cfgFile string) error {
	pipeline, err := common.BuildPipeline(ctx, cfgFile)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	cfg := pipeline.Config
	log := pipeline.Logger

	scheduler, err := startSchedule(ctx, pipeline)
	if err != nil {
		return err
	}
	defer scheduler.Stop()

	server := api.NewServer(
		cfg.Server.Address,
		pipeline.Runs,
		pipeline.Jobs,
		pipeline.Progress,
		log,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("shutting down", logger.String("signal", sig.String()))
	case <-ctx.Done():
	}

	return server.Shutdown(context.Background())
}

// startSchedule drives the runner tick and the stale-lock sweep on their
// configured cadences.
func startSchedule(ctx context.Context, pipeline *common.Pipeline) (*cron.Cron, error) {
	cfg := pipeline.Config
	log := pipeline.Logger

	scheduler := cron.New()

	_, err := scheduler.AddFunc(
		fmt.Sprintf("@every %s", cfg.Runner.TickInterval),
		func() {
			processed := pipeline.Runner.ProcessTick(ctx, cfg.Runner.DefaultMaxConcurrency, nil)
			if processed > 0 {
				log.Debug("tick complete", logger.Int("processed", processed))
			}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("schedule runner tick: %w", err)
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
		return nil, fmt.Errorf("schedule stale lock sweep: %w", err)
	}

	scheduler.Start()
	log.Info("schedule started",
		logger.Duration("tick_interval", cfg.Runner.TickInterval),
		logger.Duration("sweep_interval", cfg.Runner.SweepInterval),
	)

	return scheduler, nil
}
