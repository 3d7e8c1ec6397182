// Package core drives items through the fetch -> extract -> publish
// stages, one durable transition at a time. Sources run concurrently;
// items within a source run in discovery order.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"gazeta/internal/registry"
	"gazeta/internal/storage"
	"gazeta/internal/types"
)

// SourceHandle pairs a source's configuration with the adapter and
// fetcher that serve it.
type SourceHandle struct {
	Spec    types.SourceSpec
	Adapter types.SourceAdapter
	Fetcher types.ContentFetcher
}

type Orchestrator struct {
	store      storage.StateStore
	registry   *registry.Registry
	engine     types.ExtractionEngine
	publisher  types.Publisher
	sources    []SourceHandle
	workers    int
	defaultMax int
	logger     *slog.Logger
}

type OrchestratorConfig struct {
	Store      storage.StateStore
	Registry   *registry.Registry
	Engine     types.ExtractionEngine
	Publisher  types.Publisher
	Sources    []SourceHandle
	Workers    int
	DefaultMax int
	Logger     *slog.Logger
}

func NewOrchestrator(config OrchestratorConfig) *Orchestrator {
	workers := config.Workers
	if workers <= 0 {
		workers = 2
	}
	defaultMax := config.DefaultMax
	if defaultMax <= 0 {
		defaultMax = 10
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		store:      config.Store,
		registry:   config.Registry,
		engine:     config.Engine,
		publisher:  config.Publisher,
		sources:    config.Sources,
		workers:    workers,
		defaultMax: defaultMax,
		logger:     logger,
	}
}

// budget is the shared item allowance for one run. Every examined
// candidate consumes one unit regardless of outcome.
type budget struct {
	remaining int64
}

func newBudget(n int) *budget {
	return &budget{remaining: int64(n)}
}

func (b *budget) take() bool {
	for {
		n := atomic.LoadInt64(&b.remaining)
		if n <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&b.remaining, n, n-1) {
			return true
		}
	}
}

func (b *budget) left() int {
	n := atomic.LoadInt64(&b.remaining)
	if n < 0 {
		return 0
	}
	return int(n)
}

// RunPipeline executes one pass over every enabled source. A corrupted
// stage transition aborts the run; every other error is contained to
// its item or source.
func (o *Orchestrator) RunPipeline(ctx context.Context, opts types.RunOptions) (*types.Summary, error) {
	runID := uuid.NewString()

	maxItems := opts.MaxItems
	if maxItems <= 0 {
		maxItems = o.defaultMax
	}
	bud := newBudget(maxItems)

	o.logger.Info("run started", "run_id", runID, "max_items", maxItems, "dry_run", opts.DryRun, "force", opts.Force)

	pool, err := ants.NewPool(o.workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		summary  types.Summary
		fatalErr error
	)

	for _, handle := range o.sources {
		if !handle.Spec.Enabled {
			continue
		}

		handle := handle
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()

			s, err := o.processSource(ctx, handle, opts, bud)

			mu.Lock()
			defer mu.Unlock()
			summary.Add(s)
			if err == nil {
				return
			}
			if types.IsInvalidTransition(err) {
				if fatalErr == nil {
					fatalErr = err
				}
				return
			}
			o.logger.Error("source failed", "source", handle.Spec.ID, "error", err)
		})
		if submitErr != nil {
			wg.Done()
			o.logger.Error("failed to submit source", "source", handle.Spec.ID, "error", submitErr)
		}
	}

	wg.Wait()

	o.logger.Info("run finished",
		"run_id", runID,
		"processed", summary.Processed,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"planned", summary.Planned,
		"cost_units", summary.CostUnits,
		"dry_run", opts.DryRun)

	return &summary, fatalErr
}

func (o *Orchestrator) processSource(ctx context.Context, h SourceHandle, opts types.RunOptions, bud *budget) (types.Summary, error) {
	var summary types.Summary

	profile, set, err := o.registry.Resolve(h.Spec.Profile, h.Spec.DestinationSet)
	if err != nil {
		return summary, &types.ConfigError{Source: h.Spec.ID, Reason: err.Error()}
	}

	var notBefore *time.Time
	if !opts.Force {
		notBefore, err = o.store.Bookmark(ctx, h.Spec.ID)
		if err != nil {
			return summary, err
		}
	}

	max := bud.left()
	if h.Spec.MaxItems > 0 && h.Spec.MaxItems < max {
		max = h.Spec.MaxItems
	}
	if max <= 0 {
		return summary, nil
	}

	candidates, err := h.Adapter.Discover(ctx, h.Spec.Address, notBefore, max)
	if err != nil {
		return summary, fmt.Errorf("discovery failed: %w", err)
	}

	for _, cand := range candidates {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if !bud.take() {
			break
		}

		delta, err := o.processItem(ctx, h, profile, set, cand, opts)
		summary.Add(delta)
		if err != nil {
			if types.IsInvalidTransition(err) {
				return summary, err
			}
			summary.Failed++
			o.logger.Error("item failed", "source", h.Spec.ID, "item", cand.ItemKey, "error", err)
		}
	}

	return summary, nil
}

// processItem drives one candidate as far along the stage graph as it
// can get this run. The returned summary counts at most one of
// processed, skipped or planned.
func (o *Orchestrator) processItem(ctx context.Context, h SourceHandle, profile types.Profile, set types.DestinationSet, cand types.Candidate, opts types.RunOptions) (types.Summary, error) {
	var summary types.Summary

	rec, err := o.store.FindActive(ctx, cand.ItemKey, profile.Name)
	if err != nil {
		return summary, err
	}

	if rec != nil && rec.Stage == types.StagePublished && !opts.Force {
		summary.Skipped++
		return summary, nil
	}

	if opts.DryRun {
		summary.Planned++
		return summary, nil
	}

	switch {
	case rec == nil:
		id, err := o.store.CreateRecord(ctx, cand.ItemKey, h.Spec.ID, profile.Name, cand.ReceivedAt)
		if err != nil {
			if types.IsDuplicateKey(err) {
				summary.Skipped++
				return summary, nil
			}
			return summary, err
		}
		if rec, err = o.store.GetRecord(ctx, id); err != nil {
			return summary, err
		}

	case rec.Stage == types.StagePublished:
		// force: retire the finished record and start a fresh attempt
		if err := o.store.Supersede(ctx, rec.ID); err != nil {
			return summary, err
		}
		id, err := o.store.CreateRecord(ctx, cand.ItemKey, h.Spec.ID, profile.Name, cand.ReceivedAt)
		if err != nil {
			return summary, err
		}
		if rec, err = o.store.GetRecord(ctx, id); err != nil {
			return summary, err
		}

	case rec.Stage == types.StageFailed:
		if err := o.store.RetryFailed(ctx, rec.ID); err != nil {
			return summary, err
		}
		if rec, err = o.store.GetRecord(ctx, rec.ID); err != nil {
			return summary, err
		}
	}

	var raw *types.RawContent
	var extraction *types.Extraction

	if rec.Stage == types.StagePending {
		raw, err = h.Fetcher.Fetch(ctx, rec.ItemKey)
		if err != nil {
			return summary, o.fail(ctx, rec.ID, err)
		}
		if err := o.advance(ctx, rec, types.StageFetched, storage.StageFields{RawRef: raw.Ref}); err != nil {
			return summary, err
		}
		rec.RawRef = raw.Ref
	}

	if rec.Stage == types.StageFetched {
		if raw == nil {
			raw, err = h.Fetcher.Load(ctx, rec.RawRef)
			if err != nil {
				return summary, o.fail(ctx, rec.ID, err)
			}
		}
		extraction, err = o.engine.Extract(ctx, raw, profile)
		if err != nil {
			return summary, o.fail(ctx, rec.ID, err)
		}
		if err := o.advance(ctx, rec, types.StageExtracted, storage.StageFields{
			ResultRef: extraction.ResultRef,
			CostUnits: extraction.CostUnits,
		}); err != nil {
			return summary, err
		}
		rec.ResultRef = extraction.ResultRef
		summary.CostUnits += extraction.CostUnits
	}

	if rec.Stage == types.StageExtracted {
		if extraction == nil {
			extraction, err = o.engine.LoadResult(ctx, rec.ResultRef)
			if err != nil {
				return summary, o.fail(ctx, rec.ID, err)
			}
		}
		if raw == nil && rec.RawRef != "" {
			// metadata only; publishing proceeds without it
			if raw, err = h.Fetcher.Load(ctx, rec.RawRef); err != nil {
				o.logger.Warn("failed to reload raw content", "item", rec.ItemKey, "error", err)
				raw = nil
			}
		}

		pub := buildPublication(rec, raw, extraction, h.Spec)
		refs, err := o.publisher.Publish(ctx, pub, set)
		if err != nil {
			return summary, o.fail(ctx, rec.ID, err)
		}
		if err := o.advance(ctx, rec, types.StagePublished, storage.StageFields{DestinationRefs: refs}); err != nil {
			return summary, err
		}

		if err := h.Adapter.MarkConsumed(ctx, rec.ItemKey); err != nil {
			o.logger.Warn("failed to mark item consumed", "item", rec.ItemKey, "error", err)
		}

		summary.Processed++
	}

	return summary, nil
}

// advance wraps AdvanceStage and keeps the in-memory record in step.
// An invalid transition indicates state corruption and propagates
// untouched so the run aborts.
func (o *Orchestrator) advance(ctx context.Context, rec *types.Record, to types.Stage, fields storage.StageFields) error {
	if err := o.store.AdvanceStage(ctx, rec.ID, to, fields); err != nil {
		if types.IsInvalidTransition(err) {
			return err
		}
		return o.fail(ctx, rec.ID, err)
	}
	rec.Stage = to
	return nil
}

// fail marks the record failed and hands the cause back for counting.
func (o *Orchestrator) fail(ctx context.Context, id int64, cause error) error {
	if err := o.store.MarkFailed(ctx, id, cause); err != nil {
		o.logger.Error("failed to mark record failed", "record", id, "error", err)
	}
	return cause
}

func buildPublication(rec *types.Record, raw *types.RawContent, extraction *types.Extraction, spec types.SourceSpec) *types.Publication {
	pub := &types.Publication{
		ItemKey:    rec.ItemKey,
		SourceID:   spec.ID,
		SourceName: spec.Name,
		Subject:    rec.ItemKey,
		ReceivedAt: rec.ReceivedAt,
		Result:     extraction.Result,
		Model:      extraction.Model,
		CostUnits:  extraction.CostUnits,
	}
	if raw != nil {
		if raw.Subject != "" {
			pub.Subject = raw.Subject
		}
		pub.Link = raw.Link
	}
	return pub
}

// Stats exposes the store's aggregate view for the stats command.
func (o *Orchestrator) Stats(ctx context.Context) (*types.Stats, error) {
	return o.store.Stats(ctx)
}
