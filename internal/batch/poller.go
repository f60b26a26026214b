package batch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"piaoju/internal/domain"
	"piaoju/internal/port"
)

// PollConfig bounds the polling loop.
type PollConfig struct {
	InitialInterval time.Duration
	BackoffFactor   float64
	MaxInterval     time.Duration
	Timeout         time.Duration
}

// DefaultPollConfig mirrors the provider's documented completion envelope.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialInterval: 2 * time.Second,
		BackoffFactor:   1.5,
		MaxInterval:     30 * time.Second,
		Timeout:         5 * time.Minute,
	}
}

// NextInterval advances the poll interval by the backoff factor, capped at
// the configured maximum. The interval is explicit state threaded through
// each call, so backoff progressions are testable without timers.
func NextInterval(cfg PollConfig, current time.Duration) time.Duration {
	next := time.Duration(float64(current) * cfg.BackoffFactor)
	if next > cfg.MaxInterval {
		next = cfg.MaxInterval
	}
	if next < current {
		// Guard against a factor below 1 configuring a shrinking interval.
		next = current
	}
	return next
}

// Poller awaits batch completion with adaptive backoff under an overall
// timeout.
type Poller struct {
	provider port.OCRProvider
	cfg      PollConfig

	// Hooks for deterministic tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// NewPoller creates a Poller with the given config.
func NewPoller(provider port.OCRProvider, cfg PollConfig) *Poller {
	return &Poller{
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
		sleep:    realSleep,
	}
}

func realSleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// AwaitCompletion polls until every document reaches a terminal provider
// sub-state or the timeout elapses. The first poll happens immediately.
// Per-document failures reported by the provider are recorded into the
// job's outcome slots as they are observed. The job never reaches
// Completed unless every document slot has a recorded outcome; on timeout
// it transitions to TimedOut with whatever partial outcomes were seen, and
// the last observed status (possibly nil) is returned alongside a
// PollTimeoutError.
func (p *Poller) AwaitCompletion(ctx context.Context, job *domain.BatchJob) (*port.BatchStatus, error) {
	job.State = domain.BatchStatePolling
	deadline := p.now().Add(p.cfg.Timeout)
	interval := p.cfg.InitialInterval

	var last *port.BatchStatus
	for {
		status, err := p.provider.PollBatch(ctx, job.ID)
		if err != nil {
			zap.L().Warn("batch poll failed",
				zap.String("batch_id", job.ID),
				zap.Error(err),
			)
		} else {
			last = status
			done, failed, pending := p.recordOutcomes(job, status)
			zap.L().Info("batch poll",
				zap.String("batch_id", job.ID),
				zap.Int("done", done),
				zap.Int("failed", failed),
				zap.Int("pending", pending),
			)
			if pending == 0 {
				p.finalize(job)
				return status, nil
			}
		}

		// A canceled context makes both the poll and the sleep return
		// instantly, which would turn this loop into a busy spin until
		// the deadline. Bail out to the timeout path instead.
		if ctx.Err() != nil {
			break
		}
		if !p.now().Before(deadline) {
			break
		}
		p.sleep(ctx, interval)
		if ctx.Err() != nil {
			break
		}
		interval = NextInterval(p.cfg, interval)
		if !p.now().Before(deadline) {
			break
		}
	}

	job.State = domain.BatchStateTimedOut
	pending := len(job.Unresolved())
	zap.L().Warn("batch poll timed out",
		zap.String("batch_id", job.ID),
		zap.Duration("timeout", p.cfg.Timeout),
		zap.Int("pending", pending),
	)
	return last, &domain.PollTimeoutError{
		BatchID: job.ID,
		Timeout: p.cfg.Timeout,
		Pending: pending,
	}
}

// recordOutcomes writes terminal provider sub-states into the job's
// write-once slots and returns the poll counts.
func (p *Poller) recordOutcomes(job *domain.BatchJob, status *port.BatchStatus) (done, failed, pending int) {
	for _, ds := range status.Documents {
		doc, ok := job.DocumentByProviderID(ds.DocumentID)
		if !ok {
			continue
		}
		switch ds.State {
		case domain.DocumentStateDone:
			done++
			_ = job.SetOutcome(doc.ID, domain.DocumentOutcome{State: domain.DocumentStateDone})
		case domain.DocumentStateFailed:
			failed++
			msg := ds.Error
			if msg == "" {
				msg = "recognition failed"
			}
			_ = job.SetOutcome(doc.ID, domain.DocumentOutcome{State: domain.DocumentStateFailed, Error: msg})
		}
	}
	// A document stays pending until something has resolved it, whether
	// this poll or an upload failure recorded at submit time. Documents
	// the provider stopped reporting count as pending too; they must not
	// be silently dropped.
	pending = len(job.Unresolved())
	return done, failed, pending
}

func (p *Poller) finalize(job *domain.BatchJob) {
	// Judge over recorded outcomes, not just the last poll response, so
	// upload failures recorded before polling also preclude Completed.
	allDone, anyDone := true, false
	for _, d := range job.Documents {
		o, ok := job.Outcome(d.ID)
		if !ok {
			allDone = false
			continue
		}
		if o.State == domain.DocumentStateDone {
			anyDone = true
		} else {
			allDone = false
		}
	}

	switch {
	case allDone:
		job.State = domain.BatchStateCompleted
	case anyDone:
		job.State = domain.BatchStatePartiallyCompleted
	default:
		job.State = domain.BatchStateFailed
	}
}
