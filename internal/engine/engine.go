// Package engine runs a sync: acquire the run lock, plan against state,
// execute uploads through a bounded worker pool, reconcile deletions, and
// report a summary.
//
// Per-document failures are counted and never abort the run; run-level
// failures (lock contention, corrupt state, unreadable manifest) abort before
// any remote mutation.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mhadocs/docsync/internal/index"
	"github.com/mhadocs/docsync/internal/lock"
	"github.com/mhadocs/docsync/internal/planner"
	"github.com/mhadocs/docsync/internal/remote"
	"github.com/mhadocs/docsync/internal/retry"
	"github.com/mhadocs/docsync/internal/state"
	"github.com/mhadocs/docsync/internal/telemetry"
)

// Phase is where a run currently is in its lifecycle.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseLockAcquired Phase = "lock_acquired"
	PhasePlanned      Phase = "planned"
	PhaseExecuting    Phase = "executing"
	PhaseReconciling  Phase = "reconciling"
	PhaseCompleted    Phase = "completed"
	PhaseAborted      Phase = "aborted"
)

// Summary is the outcome of a run. Failed counts documents, not attempts:
// retries inside one document count once.
type Summary struct {
	Created int
	Updated int
	Skipped int
	Deleted int
	Failed  int
}

// Options configures a run.
type Options struct {
	// StatePath locates the persisted sync state.
	StatePath string
	// LockPath locates the run lock record.
	LockPath string
	// StaleLockThreshold is the age past which a leftover lock is reclaimed.
	StaleLockThreshold time.Duration
	// Concurrency bounds parallel uploads. Values below 1 mean sequential.
	Concurrency int
	// DryRun plans and logs but performs no remote call and no state write.
	DryRun bool
	// FailureRateLimit aborts the run when failed/attempted exceeds it.
	// Zero disables the ceiling.
	FailureRateLimit float64
	// IncludeUnknown extends reconciliation to remote files with no
	// recorded identity.
	IncludeUnknown bool
	// Protected ids are never deleted. The manifest self-document is always
	// protected regardless of this list.
	Protected []string
	// SkipReconcile leaves remote deletions to a separate reconcile run.
	SkipReconcile bool
	// ReconcileOnly skips uploads and only removes objects the index no
	// longer names.
	ReconcileOnly bool
	// Retry is applied to every remote call.
	Retry retry.Policy
}

// Engine executes sync runs against one remote store.
type Engine struct {
	client  remote.Client
	logger  *zap.Logger
	metrics *telemetry.SyncMetrics
	opts    Options

	phase Phase
}

// New creates an Engine. logger and metrics may be nil.
func New(client remote.Client, opts Options, logger *zap.Logger, metrics *telemetry.SyncMetrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		client:  client,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
		phase:   PhaseIdle,
	}
}

// Phase returns where the last (or current) run is in its lifecycle.
func (e *Engine) Phase() Phase {
	return e.phase
}

func (e *Engine) transition(next Phase) {
	e.logger.Debug("run.phase",
		zap.String("from", string(e.phase)),
		zap.String("to", string(next)))
	e.phase = next
}

// Run synchronizes the given index. The returned Summary is valid even when
// err is non-nil; err reports an aborted run, not per-document failures.
func (e *Engine) Run(ctx context.Context, idx *index.Index) (Summary, error) {
	start := time.Now()
	summary := Summary{}

	e.transition(PhaseIdle)

	handle, err := lock.Acquire(e.opts.LockPath, e.opts.StaleLockThreshold, e.logger)
	if err != nil {
		e.transition(PhaseAborted)
		return summary, err
	}
	defer func() {
		if releaseErr := handle.Release(); releaseErr != nil {
			e.logger.Error("lock.release_failed", zap.Error(releaseErr))
		}
	}()
	e.transition(PhaseLockAcquired)

	store, err := state.Load(e.opts.StatePath)
	if err != nil {
		e.transition(PhaseAborted)
		return summary, err
	}

	// Documents the loader had to skip count as failures up front.
	for _, skipped := range idx.Skipped {
		summary.Failed++
		e.logger.Error("sync.document_error",
			zap.String("external_id", skipped.ExternalID),
			zap.Error(skipped.Err))
	}

	upserts := planner.Plan(idx, store)
	e.logPlan(upserts)
	e.transition(PhasePlanned)

	if e.opts.DryRun {
		deletions := planner.PlanDeletions(idx, store, nil, e.deletionOptions(idx))
		e.logPlan(deletions)
		summary = e.tallyDryRun(summary, upserts, deletions)
		e.transition(PhaseCompleted)
		e.logComplete(summary, true, time.Since(start))
		return summary, nil
	}

	if !e.opts.ReconcileOnly {
		if err := e.execute(ctx, idx, store, upserts, &summary); err != nil {
			e.transition(PhaseAborted)
			e.logComplete(summary, false, time.Since(start))
			return summary, err
		}
	} else {
		for _, decision := range upserts {
			if decision.Action == planner.ActionSkip {
				summary.Skipped++
			}
		}
	}

	if !e.opts.SkipReconcile {
		e.transition(PhaseReconciling)
		if err := e.reconcile(ctx, idx, store, &summary); err != nil {
			e.transition(PhaseAborted)
			e.logComplete(summary, false, time.Since(start))
			return summary, err
		}
	}

	e.transition(PhaseCompleted)
	e.logComplete(summary, summary.Failed == 0, time.Since(start))
	return summary, nil
}

func (e *Engine) deletionOptions(idx *index.Index) planner.DeletionOptions {
	protected := make([]string, 0, len(e.opts.Protected)+1)
	protected = append(protected, e.opts.Protected...)
	if idx.ManifestID != "" {
		protected = append(protected, idx.ManifestID)
	}
	return planner.DeletionOptions{
		Protected:      protected,
		IncludeUnknown: e.opts.IncludeUnknown,
	}
}

func (e *Engine) logPlan(decisions []planner.Decision) {
	for _, decision := range decisions {
		e.logger.Info("plan.item",
			zap.String("external_id", decision.ExternalID),
			zap.String("action", string(decision.Action)),
			zap.String("reason", decision.Reason),
			zap.String("remote_id", decision.RemoteID))
	}
}

func (*Engine) tallyDryRun(summary Summary, upserts, deletions []planner.Decision) Summary {
	for _, decision := range upserts {
		switch decision.Action {
		case planner.ActionCreate:
			summary.Created++
		case planner.ActionUpdate:
			summary.Updated++
		case planner.ActionSkip:
			summary.Skipped++
		}
	}
	summary.Deleted += len(deletions)
	return summary
}

// execute runs the create and update decisions through a bounded worker pool.
// State commits are serialized under a mutex; each commit happens only after
// the remote confirmed the upload.
func (e *Engine) execute(ctx context.Context, idx *index.Index, store *state.Store, decisions []planner.Decision, summary *Summary) error {
	e.transition(PhaseExecuting)

	docs := make(map[string]index.Document, len(idx.Documents))
	for _, doc := range idx.Documents {
		docs[doc.ExternalID] = doc
	}

	attempted := 0
	total := 0
	for _, decision := range decisions {
		if decision.Action == planner.ActionCreate || decision.Action == planner.ActionUpdate {
			total++
		}
	}

	var mu sync.Mutex
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	aborted := false
	group, groupCtx := errgroup.WithContext(runCtx)
	concurrency := e.opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	group.SetLimit(concurrency)

	for _, decision := range decisions {
		if decision.Action == planner.ActionSkip {
			mu.Lock()
			summary.Skipped++
			mu.Unlock()
			e.logger.Info("sync.skip",
				zap.String("external_id", decision.ExternalID),
				zap.String("reason", decision.Reason))
			continue
		}

		doc, ok := docs[decision.ExternalID]
		if !ok {
			// Planner and index disagree; treat as a document failure.
			// Workers mutate the summary concurrently with this loop.
			mu.Lock()
			summary.Failed++
			mu.Unlock()
			e.logger.Error("sync.document_error",
				zap.String("external_id", decision.ExternalID),
				zap.Error(fmt.Errorf("planned document missing from index")))
			continue
		}

		group.Go(func() error {
			remoteID, err := e.upsertDocument(groupCtx, doc, decision)

			mu.Lock()
			defer mu.Unlock()
			attempted++

			if err != nil {
				summary.Failed++
				e.metrics.RecordDocument(groupCtx, string(decision.Action), false)
				e.logger.Error("sync.document_error",
					zap.String("external_id", doc.ExternalID),
					zap.String("action", string(decision.Action)),
					zap.Error(err))

				if e.opts.FailureRateLimit > 0 && total > 0 {
					rate := float64(summary.Failed) / float64(attempted)
					if rate > e.opts.FailureRateLimit {
						aborted = true
						cancel()
						return fmt.Errorf("failure rate %.2f exceeded limit %.2f", rate, e.opts.FailureRateLimit)
					}
				}
				return nil
			}

			if commitErr := e.commitSuccess(store, doc, remoteID); commitErr != nil {
				summary.Failed++
				e.metrics.RecordDocument(groupCtx, string(decision.Action), false)
				e.logger.Error("sync.state_commit_error",
					zap.String("external_id", doc.ExternalID),
					zap.Error(commitErr))
				return nil
			}

			switch decision.Action {
			case planner.ActionCreate:
				summary.Created++
				e.logger.Info("sync.create",
					zap.String("external_id", doc.ExternalID),
					zap.String("document_type", doc.DocumentType))
			case planner.ActionUpdate:
				summary.Updated++
				e.logger.Info("sync.update",
					zap.String("external_id", doc.ExternalID),
					zap.String("document_type", doc.DocumentType))
			}
			e.metrics.RecordDocument(groupCtx, string(decision.Action), true)
			return nil
		})
	}

	err := group.Wait()
	if aborted {
		return fmt.Errorf("run aborted: %w", err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("run cancelled: %w", ctx.Err())
	}
	return nil
}

// upsertDocument performs the remote side of one create or update and returns
// the new remote id. An update removes the old object first; the window
// between delete and upload is not atomic, which the remote API gives no way
// around.
func (e *Engine) upsertDocument(ctx context.Context, doc index.Document, decision planner.Decision) (string, error) {
	if decision.Action == planner.ActionUpdate && decision.RemoteID != "" {
		_, err := retry.Do(ctx, e.opts.Retry, "delete", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.client.Delete(ctx, decision.RemoteID)
		})
		if err != nil {
			return "", fmt.Errorf("failed to delete superseded object %s: %w", decision.RemoteID, err)
		}
		e.logger.Info("sync.replaced_object_deleted",
			zap.String("external_id", doc.ExternalID),
			zap.String("remote_id", decision.RemoteID))
	}

	remoteID, err := retry.Do(ctx, e.opts.Retry, "upload", func(ctx context.Context) (string, error) {
		return e.client.Upload(ctx, doc.ExternalID, doc.Content, remote.Metadata{
			DocumentType: doc.DocumentType,
			Title:        doc.Title,
		})
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", doc.ExternalID, err)
	}
	return remoteID, nil
}

// commitSuccess records a confirmed upload in state and persists it. Called
// with the engine mutex held.
func (e *Engine) commitSuccess(store *state.Store, doc index.Document, remoteID string) error {
	store.Upsert(doc.ExternalID, state.Entry{
		RemoteID:     remoteID,
		ContentHash:  doc.ContentHash,
		LastSyncedAt: time.Now().UTC().Format(time.RFC3339),
		SourcePath:   doc.SourcePath,
		DocumentType: doc.DocumentType,
		Title:        doc.Title,
	})
	return store.Commit()
}

// reconcile removes remote objects the index no longer names. Deletes run
// sequentially; each confirmed delete drops the state entry and commits.
func (e *Engine) reconcile(ctx context.Context, idx *index.Index, store *state.Store, summary *Summary) error {
	listing, err := retry.Do(ctx, e.opts.Retry, "list", func(ctx context.Context) ([]remote.File, error) {
		return e.client.List(ctx)
	})
	if err != nil {
		summary.Failed++
		e.logger.Error("reconcile.listing_failed", zap.Error(err))
		// Fall back to state-driven planning only.
		listing = nil
	}

	decisions := planner.PlanDeletions(idx, store, listing, e.deletionOptions(idx))
	e.logPlan(decisions)

	for _, decision := range decisions {
		if ctx.Err() != nil {
			return fmt.Errorf("run cancelled: %w", ctx.Err())
		}

		_, err := retry.Do(ctx, e.opts.Retry, "delete", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.client.Delete(ctx, decision.RemoteID)
		})
		if err != nil {
			summary.Failed++
			e.metrics.RecordDocument(ctx, string(planner.ActionDelete), false)
			e.logger.Error("sync.document_error",
				zap.String("external_id", decision.ExternalID),
				zap.String("remote_id", decision.RemoteID),
				zap.String("action", string(planner.ActionDelete)),
				zap.Error(err))
			continue
		}

		if decision.ExternalID != "" {
			store.Remove(decision.ExternalID)
			if err := store.Commit(); err != nil {
				summary.Failed++
				e.logger.Error("sync.state_commit_error",
					zap.String("external_id", decision.ExternalID),
					zap.Error(err))
				continue
			}
		}

		summary.Deleted++
		e.metrics.RecordDocument(ctx, string(planner.ActionDelete), true)
		e.logger.Info("sync.delete",
			zap.String("external_id", decision.ExternalID),
			zap.String("remote_id", decision.RemoteID),
			zap.String("reason", decision.Reason))
	}

	return nil
}

func (e *Engine) logComplete(summary Summary, success bool, elapsed time.Duration) {
	e.metrics.RecordRunDuration(context.Background(), elapsed, success)
	e.logger.Info("run.complete",
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("deleted", summary.Deleted),
		zap.Int("failed", summary.Failed),
		zap.Bool("dry_run", e.opts.DryRun),
		zap.Duration("elapsed", elapsed))
}
