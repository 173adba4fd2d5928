// Package discovery provides opt-in LAN awareness for clawd: peers
// advertise themselves over the alan UDP layer (the spec's "_clawd._tcp"
// presence, SPEC_FULL.md §4.4.1) and can take turns holding a named
// distributed lock so only one instance runs the Resource Governor tick
// or the dead-letter retry worker for a shared data directory at a time.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/rakunlabs/alan"
)

const (
	// LockGovernor serializes the Resource Governor's demotion/promotion
	// tick across instances sharing a data directory.
	LockGovernor = "governor-tick"

	// LockDeadLetterRetry serializes the event bus's dead-letter retry worker.
	LockDeadLetterRetry = "dead-letter-retry"

	msgTypeAnnounce = "announce"
)

// announceMessage is broadcast periodically so peers can show each other's
// session counts without a shared database.
type announceMessage struct {
	Type           string `json:"type"`
	DaemonID       string `json:"daemonId"`
	ActiveSessions int    `json:"activeSessions"`
}

// Peer is an instance seen via announce broadcast.
type Peer struct {
	Addr           string
	DaemonID       string
	ActiveSessions int
	LastSeen       time.Time
}

// Discovery wraps an alan instance with clawd-specific presence and locking.
type Discovery struct {
	alan     *alan.Alan
	daemonID string
}

// New creates a Discovery instance from the configured alan settings.
// Returns nil, nil if cfg is nil (discovery disabled, the default).
func New(cfg *alan.Config, daemonID string) (*Discovery, error) {
	if cfg == nil {
		return nil, nil
	}

	a, err := alan.New(*cfg)
	if err != nil {
		return nil, fmt.Errorf("create alan instance: %w", err)
	}

	return &Discovery{alan: a, daemonID: daemonID}, nil
}

// Start begins peer discovery in the background. onPeerAnnounce is invoked
// whenever another instance's presence broadcast is received. Start blocks
// until ctx is cancelled; run it in a goroutine.
func (d *Discovery) Start(ctx context.Context, onPeerAnnounce func(Peer)) error {
	d.alan.OnPeerJoin(func(addr *net.UDPAddr) {
		slog.Info("discovery: peer joined", "addr", addr.String())
	})

	d.alan.OnPeerLeave(func(addr *net.UDPAddr) {
		slog.Info("discovery: peer left", "addr", addr.String())
	})

	handler := func(_ context.Context, msg alan.Message) {
		var am announceMessage
		if err := json.Unmarshal(msg.Data, &am); err != nil {
			slog.Warn("discovery: invalid message", "from", msg.Addr, "error", err)
			return
		}

		if am.Type != msgTypeAnnounce {
			slog.Debug("discovery: unknown message type", "type", am.Type, "from", msg.Addr)
			return
		}

		if onPeerAnnounce != nil {
			onPeerAnnounce(Peer{
				Addr:           msg.Addr.String(),
				DaemonID:       am.DaemonID,
				ActiveSessions: am.ActiveSessions,
				LastSeen:       time.Now(),
			})
		}
	}

	return d.alan.Start(ctx, handler)
}

// Stop gracefully leaves the discovery mesh.
func (d *Discovery) Stop() error {
	return d.alan.Stop()
}

// Announce broadcasts this instance's current active-session count.
// Callers (the Resource Governor) invoke this once per poll interval.
func (d *Discovery) Announce(ctx context.Context, activeSessions int) error {
	data, err := json.Marshal(announceMessage{
		Type:           msgTypeAnnounce,
		DaemonID:       d.daemonID,
		ActiveSessions: activeSessions,
	})
	if err != nil {
		return fmt.Errorf("marshal announce message: %w", err)
	}

	if err := d.alan.Send(ctx, data); err != nil {
		return fmt.Errorf("broadcast announce: %w", err)
	}
	return nil
}

// Lock blocks until the named distributed lock is acquired or ctx is done.
func (d *Discovery) Lock(ctx context.Context, name string) error {
	return d.alan.Lock(ctx, name)
}

// Unlock releases the named distributed lock.
func (d *Discovery) Unlock(name string) error {
	return d.alan.Unlock(name)
}

// Ready returns a channel closed once discovery has joined the mesh.
func (d *Discovery) Ready() <-chan struct{} {
	return d.alan.Ready()
}
