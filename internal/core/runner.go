package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gazeta/internal/types"
)

// Runner owns the orchestrator's schedule: a single run or a fixed
// interval loop.
type Runner struct {
	name         string
	orchestrator *Orchestrator
	interval     time.Duration
	runOnce      bool
	opts         types.RunOptions
	logger       *slog.Logger
	shutdownFn   func(context.Context) error

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

type RunnerConfig struct {
	Name         string
	Orchestrator *Orchestrator
	Interval     time.Duration
	RunOnce      bool
	Options      types.RunOptions
	Logger       *slog.Logger
	ShutdownFn   func(context.Context) error
}

func NewRunner(config RunnerConfig) *Runner {
	if config.Interval == 0 {
		config.Interval = 30 * time.Minute
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		name:         config.Name,
		orchestrator: config.Orchestrator,
		interval:     config.Interval,
		runOnce:      config.RunOnce,
		opts:         config.Options,
		logger:       logger,
		shutdownFn:   config.ShutdownFn,
		stopCh:       make(chan struct{}),
	}
}

func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("runner already started")
	}
	r.running = true
	r.mu.Unlock()
	defer r.markStopped()

	if r.runOnce {
		_, err := r.orchestrator.RunPipeline(ctx, r.opts)
		return err
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if err := r.executeRun(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stopCh:
			return nil
		case <-ticker.C:
			if err := r.executeRun(ctx); err != nil {
				return err
			}
		}
	}
}

// executeRun bounds a scheduled run to its interval. Item isolation
// happens inside the orchestrator; an error here means the run itself
// is unsound and the loop must stop.
func (r *Runner) executeRun(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	summary, err := r.orchestrator.RunPipeline(runCtx, r.opts)
	if err != nil && err != context.Canceled {
		return fmt.Errorf("run aborted: %w", err)
	}
	if summary != nil {
		r.logger.Info("scheduled run complete", "name", r.name,
			"processed", summary.Processed, "failed", summary.Failed)
	}

	return nil
}

func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	close(r.stopCh)

	if r.shutdownFn != nil {
		return r.shutdownFn(ctx)
	}
	return nil
}

func (r *Runner) markStopped() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}
