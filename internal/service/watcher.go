package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DigestProcessor runs one digest end-to-end.
type DigestProcessor interface {
	Run(ctx context.Context, digestID string, sinceOverride *time.Time) Result
}

// Watcher is the scheduling loop: every interval it selects due digests,
// claims them in one commit, and dispatches a goroutine per digest. It never
// waits for runs to finish and never dies on a failed tick.
type Watcher struct {
	interval  time.Duration
	digests   DigestStore
	processor DigestProcessor
	logger    *zap.SugaredLogger
}

func NewWatcher(interval time.Duration, digests DigestStore, processor DigestProcessor, logger *zap.SugaredLogger) *Watcher {
	return &Watcher{
		interval:  interval,
		digests:   digests,
		processor: processor,
		logger:    logger,
	}
}

// Start blocks until ctx is cancelled, ticking on the configured interval.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Infow("scheduler started", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				w.logger.Errorw("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick performs one scheduling pass. Due digests are marked in_progress in a
// single commit before any dispatch happens, so the next tick cannot see
// them as candidates again.
func (w *Watcher) Tick(ctx context.Context) error {
	candidates, err := w.digests.ListActiveIdle(ctx)
	if err != nil {
		return fmt.Errorf("list candidates: %w", err)
	}

	now := time.Now().UTC()
	var due []string
	for _, d := range candidates {
		if d.IsDue(now) {
			due = append(due, d.ID)
		}
	}
	if len(due) == 0 {
		return nil
	}

	if err := w.digests.SetInProgress(ctx, due, true); err != nil {
		return fmt.Errorf("mark due digests: %w", err)
	}

	for _, id := range due {
		id := id
		go func() {
			// Fire-and-forget; outcomes are supervised via logs and the
			// run ledger, never via a propagated error.
			result := w.processor.Run(ctx, id, nil)
			if result.Success {
				w.logger.Infow("scheduled run finished",
					"digest_id", id, "messages", result.MessagesCount)
			} else {
				w.logger.Errorw("scheduled run failed",
					"digest_id", id, "error", result.Error)
			}
		}()
		w.logger.Infow("dispatched digest", "digest_id", id)
	}
	return nil
}
