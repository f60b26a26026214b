package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"piaoju/internal/domain"
)

// BatchWorkerConfig holds settings for the batch worker.
type BatchWorkerConfig struct {
	PollInterval time.Duration
	Concurrency  int
	JobTimeout   time.Duration
}

// BatchWorker drains queued batches from the job store and runs them
// through the orchestrator.
type BatchWorker struct {
	store *JobStore
	orch  *Orchestrator
	cfg   BatchWorkerConfig
	wg    sync.WaitGroup
}

// NewBatchWorker creates a new BatchWorker.
func NewBatchWorker(store *JobStore, orch *Orchestrator, cfg BatchWorkerConfig) *BatchWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 15 * time.Minute
	}
	return &BatchWorker{store: store, orch: orch, cfg: cfg}
}

// Start runs the claim loop until ctx is canceled. It blocks until all
// in-flight batches have finished.
func (w *BatchWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, w.cfg.Concurrency)

	zap.L().Info("batch worker started",
		zap.Duration("poll", w.cfg.PollInterval),
		zap.Int("concurrency", w.cfg.Concurrency),
	)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("batch worker shutting down, waiting for in-flight batches")
			w.wg.Wait()
			zap.L().Info("batch worker shutdown complete")
			return
		case <-ticker.C:
			available := w.cfg.Concurrency - len(sem)
			if available <= 0 {
				continue
			}

			for _, rec := range w.store.ClaimQueued(available) {
				rec := rec

				sem <- struct{}{} // acquire
				w.wg.Add(1)
				go func() {
					defer w.wg.Done()
					defer func() { <-sem }() // release

					// A fresh context independent of the claim loop lets
					// in-flight batches finish during shutdown.
					runCtx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
					defer cancel()

					w.run(runCtx, rec)
				}()
			}
		}
	}
}

func (w *BatchWorker) run(ctx context.Context, rec *BatchRecord) {
	docs := w.store.Documents(rec.ID)
	zap.L().Info("dispatching batch",
		zap.String("job_id", rec.ID.String()),
		zap.Int("documents", len(docs)),
	)

	results, job, err := w.orch.ExtractBatch(ctx, docs)
	if err != nil {
		w.store.Complete(rec.ID, domain.BatchStateFailed, nil, err.Error())
		return
	}

	state := domain.BatchStateCompleted
	if job != nil && job.State.Terminal() {
		state = job.State
	}
	if job != nil && job.ArchiveKey != "" {
		w.store.SetArchiveKey(rec.ID, job.ArchiveKey)
	}
	w.store.Complete(rec.ID, state, results, "")
}
