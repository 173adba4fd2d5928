package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/worldline-go/hardloop"
	"github.com/worldline-go/types"

	"github.com/clawde-io/clawd/internal/discovery"
	"github.com/clawde-io/clawd/internal/domain"
)

// maxDeadLetterAttempts is the retry ceiling before an event is marked
// permanently_failed (spec §4.9: "after N attempts it transitions to
// permanently_failed").
const maxDeadLetterAttempts = 8

const retryTickSpec = "@every 10s"

// RetryWorker periodically re-attempts delivery of pending dead-letter
// events with exponential backoff, mirroring the governor's hardloop-
// driven poll tick (internal/governor/governor.go) and, like it,
// optionally gated behind a cluster leader lock so only one instance
// retries a shared dead-letter table at a time.
type RetryWorker struct {
	storage   domain.Storage
	bus       *Bus
	discovery *discovery.Discovery

	cron cronRunner
}

type cronRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// NewRetryWorker builds a RetryWorker. discovery may be nil (single
// instance, no leader gating).
func NewRetryWorker(storage domain.Storage, bus *Bus, disc *discovery.Discovery) *RetryWorker {
	return &RetryWorker{storage: storage, bus: bus, discovery: disc}
}

// Start begins the retry tick in the background.
func (w *RetryWorker) Start(ctx context.Context) error {
	if w.discovery != nil {
		go w.runWithLock(ctx)
		return nil
	}
	return w.startLocked(ctx)
}

func (w *RetryWorker) runWithLock(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := w.discovery.Lock(ctx, discovery.LockDeadLetterRetry); err != nil {
			if ctx.Err() != nil {
				return
			}
			time.Sleep(5 * time.Second)
			continue
		}
		if err := w.startLocked(ctx); err != nil {
			slog.Error("eventbus: failed to start dead-letter retry worker", "error", err)
		}
		<-ctx.Done()
		w.Stop()
		_ = w.discovery.Unlock(discovery.LockDeadLetterRetry)
		return
	}
}

func (w *RetryWorker) startLocked(ctx context.Context) error {
	cronJob, err := hardloop.NewCron(hardloop.Cron{
		Name:  "dead-letter-retry",
		Specs: []string{retryTickSpec},
		Func:  w.tick,
	})
	if err != nil {
		return fmt.Errorf("create dead-letter retry ticker: %w", err)
	}
	if err := cronJob.Start(ctx); err != nil {
		return fmt.Errorf("start dead-letter retry ticker: %w", err)
	}
	w.cron = cronJob
	return nil
}

// Stop stops the retry tick. Safe to call even if Start was never called.
func (w *RetryWorker) Stop() {
	if w.cron != nil {
		w.cron.Stop()
		w.cron = nil
	}
}

// tick re-attempts delivery for every pending/retrying dead-letter event
// whose exponential backoff window has elapsed.
func (w *RetryWorker) tick(ctx context.Context) error {
	pending, err := w.storage.DeadLetters().ListPending(ctx, 100)
	if err != nil {
		return fmt.Errorf("eventbus: list pending dead letters: %w", err)
	}

	for _, e := range pending {
		if !backoffElapsed(e) {
			continue
		}
		w.redeliver(ctx, e)
	}
	return nil
}

// backoffElapsed reports whether enough time has passed since the last
// update to retry, using a doubling delay floor of 10s * 2^retryCount.
func backoffElapsed(e *domain.DeadLetterEvent) bool {
	delay := 10 * time.Second
	for i := 0; i < e.RetryCount; i++ {
		delay *= 2
	}
	return time.Since(e.UpdatedAt.Time) >= delay
}

func (w *RetryWorker) redeliver(ctx context.Context, e *domain.DeadLetterEvent) {
	delivered := w.bus.tryDeliver(e.ConnectionID, Event{Name: e.EventType, Payload: e.Payload})

	e.UpdatedAt = types.NewTime(time.Now().UTC())
	if delivered {
		if err := w.storage.DeadLetters().Delete(ctx, e.ID); err != nil {
			slog.Warn("eventbus: delete redelivered dead letter failed", "id", e.ID, "error", err)
		}
		return
	}

	e.RetryCount++
	if e.RetryCount >= maxDeadLetterAttempts {
		e.Status = domain.DeadLetterPermanentlyFailed
		e.FailureReason = "max retry attempts exceeded"
	} else {
		e.Status = domain.DeadLetterRetrying
	}
	if err := w.storage.DeadLetters().Update(ctx, e); err != nil {
		slog.Warn("eventbus: update dead letter failed", "id", e.ID, "error", err)
	}
}
