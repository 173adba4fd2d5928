package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/worldline-go/types"

	"github.com/clawde-io/clawd/internal/domain"
)

func TestBackoffElapsed(t *testing.T) {
	fresh := &domain.DeadLetterEvent{RetryCount: 0, UpdatedAt: types.NewTime(time.Now().UTC())}
	if backoffElapsed(fresh) {
		t.Fatal("expected a just-created dead letter to not be due yet")
	}

	old := &domain.DeadLetterEvent{RetryCount: 0, UpdatedAt: types.NewTime(time.Now().UTC().Add(-20 * time.Second))}
	if !backoffElapsed(old) {
		t.Fatal("expected a 20s-old zero-retry dead letter to be due")
	}

	oldButHigherRetry := &domain.DeadLetterEvent{RetryCount: 3, UpdatedAt: types.NewTime(time.Now().UTC().Add(-20 * time.Second))}
	if backoffElapsed(oldButHigherRetry) {
		t.Fatal("expected a higher retry count to push the backoff window out further")
	}
}

func TestRedeliverMarksPermanentlyFailedAfterMaxAttempts(t *testing.T) {
	storage := newFakeDeadLetterStorage()
	bus := New(storage)
	w := NewRetryWorker(storage, bus, nil)

	dl := &domain.DeadLetterEvent{
		ID:           "dl-1",
		ConnectionID: "gone",
		EventType:    "task.statusChanged",
		Payload:      []byte(`{}`),
		Status:       domain.DeadLetterPending,
		RetryCount:   maxDeadLetterAttempts - 1,
		UpdatedAt:    types.NewTime(time.Now().UTC()),
	}
	if err := storage.DeadLetters().Create(context.Background(), dl); err != nil {
		t.Fatal(err)
	}

	w.redeliver(context.Background(), dl)

	all, err := storage.DeadLetters().ListAll(context.Background(), nil, domain.Pagination{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Status != domain.DeadLetterPermanentlyFailed {
		t.Fatalf("expected dead letter to be permanently failed, got %+v", all)
	}
}
