// Package eventbus implements the in-process publish/subscribe fanout of
// spec §4.9: push events reach every subscribed connection's outbound
// queue, and a send that would block is routed to the dead-letter table
// instead of disconnecting the client.
//
// Generalized from the teacher's internal/server/channel.go
// MessageChannel{Type,Value} fanout (addClient/deleteClient/
// broadcastMessage) into a typed Event{Name,Payload}; unlike the
// teacher, a full outbound queue never drops its client.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/worldline-go/types"

	"github.com/clawde-io/clawd/internal/domain"
)

// Event is a push notification fanned out to every subscriber. Name is a
// canonical dotted event name (session.messageAdded, task.statusChanged,
// ...); Payload is pre-marshaled so Publish never needs a subscriber-side
// type to marshal against.
type Event struct {
	Name      string          `json:"name"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

const outboundQueueSize = 64

// Bus is the daemon-wide event fanout, keyed like the teacher's
// channels map but guarded by a dedicated mutex rather than reusing a
// server-wide lock.
type Bus struct {
	storage domain.Storage

	m    sync.RWMutex
	subs map[string]chan Event
}

// New builds an empty Bus.
func New(storage domain.Storage) *Bus {
	return &Bus{
		storage: storage,
		subs:    make(map[string]chan Event),
	}
}

// Subscribe registers a new outbound queue, returning its id (for
// Unsubscribe) and the receive-only channel a connection should drain.
func (b *Bus) Subscribe() (string, <-chan Event) {
	b.m.Lock()
	defer b.m.Unlock()

	ch := make(chan Event, outboundQueueSize)
	id := ulid.Make().String()
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes the given subscriber channels.
func (b *Bus) Unsubscribe(ids ...string) {
	b.m.Lock()
	defer b.m.Unlock()
	for _, id := range ids {
		if ch, ok := b.subs[id]; ok {
			close(ch)
			delete(b.subs, id)
		}
	}
}

// Publish fans an event out to every subscriber. A subscriber whose queue
// is full does not get disconnected (unlike the teacher's
// broadcastMessage): the event is instead persisted to the dead-letter
// table with status=pending for the background retry worker to redeliver.
func (b *Bus) Publish(sessionID, eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage(`null`)
	}
	event := Event{Name: eventType, SessionID: sessionID, Payload: raw}

	b.m.RLock()
	defer b.m.RUnlock()

	for connID, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.deadLetter(connID, event)
		}
	}
}

// tryDeliver makes a single non-blocking delivery attempt to connectionID,
// used by RetryWorker to redeliver a dead-lettered event without going
// through Publish's fan-out-to-everyone path. Returns false if the
// connection is gone or its queue is still full.
func (b *Bus) tryDeliver(connectionID string, event Event) bool {
	b.m.RLock()
	ch, ok := b.subs[connectionID]
	b.m.RUnlock()
	if !ok {
		return false
	}
	select {
	case ch <- event:
		return true
	default:
		return false
	}
}

// ListDeadLetters implements the dead_letter.list namespace method.
func (b *Bus) ListDeadLetters(ctx context.Context, connectionID *string, page domain.Pagination) ([]*domain.DeadLetterEvent, error) {
	return b.storage.DeadLetters().ListAll(ctx, connectionID, page)
}

// RetryDeadLetter implements the dead_letter.retry namespace method: an
// operator-triggered immediate redelivery attempt, independent of the
// background worker's backoff schedule.
func (b *Bus) RetryDeadLetter(ctx context.Context, id string) error {
	all, err := b.storage.DeadLetters().ListAll(ctx, nil, domain.Pagination{})
	if err != nil {
		return fmt.Errorf("eventbus: list dead letters: %w", err)
	}
	for _, e := range all {
		if e.ID != id {
			continue
		}
		if b.tryDeliver(e.ConnectionID, Event{Name: e.EventType, Payload: e.Payload}) {
			return b.storage.DeadLetters().Delete(ctx, id)
		}
		return fmt.Errorf("eventbus: connection %s is not currently reachable", e.ConnectionID)
	}
	return domain.ErrNotFound
}

func (b *Bus) deadLetter(connectionID string, event Event) {
	now := types.NewTime(time.Now().UTC())
	dl := &domain.DeadLetterEvent{
		ID:           ulid.Make().String(),
		ConnectionID: connectionID,
		EventType:    event.Name,
		Payload:      event.Payload,
		Status:       domain.DeadLetterPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// Best-effort: if the write itself fails, the event is lost, which is
	// the same outcome the teacher's broadcastMessage accepts for a
	// disconnected client, just without killing the connection.
	_ = b.storage.DeadLetters().Create(context.Background(), dl)
}
