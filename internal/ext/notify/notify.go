// Package notify is the notify.* extension namespace (spec §4.10
// expansion): it subscribes to the event bus and fans session/daemon
// events out to configured NotificationChannels over four transports —
// a generic webhook (klient, grounded on the teacher's http_request
// workflow node), Discord (bwmarrin/discordgo), Telegram
// (go-telegram-bot-api/v5), and email (wneessen/go-mail, grounded on the
// teacher's email workflow node). Unlike tasks/worktrees/device, this
// namespace also runs a background fanout loop, not just request/response
// handlers, so it owns a lifecycle (NewFanout starts the loop, Stop ends
// it) similar in shape to the governor and the event bus's retry worker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/clawde-io/clawd/internal/app"
	"github.com/clawde-io/clawd/internal/domain"
	"github.com/clawde-io/clawd/internal/eventbus"
	"github.com/clawde-io/clawd/internal/ext"
)

func init() {
	ext.Register("notify.listChannels", listChannels)
	ext.Register("notify.createChannel", createChannel)
	ext.Register("notify.deleteChannel", deleteChannel)
}

func listChannels(ctx context.Context, appCtx *app.Context, _ json.RawMessage) (any, error) {
	return appCtx.Storage.NotificationChannels().List(ctx)
}

type createChannelParams struct {
	Kind   domain.NotificationChannelKind `json:"kind"`
	Config json.RawMessage                `json:"config"`
}

func createChannel(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	var p createChannelParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("notify.createChannel: decode params: %w", err)
	}
	if _, err := newSender(p.Kind, p.Config); err != nil {
		return nil, fmt.Errorf("notify.createChannel: %w", err)
	}
	c := &domain.NotificationChannel{
		Kind:    p.Kind,
		Config:  p.Config,
		Enabled: true,
	}
	if err := appCtx.Storage.NotificationChannels().Create(ctx, c); err != nil {
		return nil, fmt.Errorf("notify.createChannel: %w", err)
	}
	return c, nil
}

type deleteChannelParams struct {
	ID string `json:"id"`
}

func deleteChannel(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	var p deleteChannelParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("notify.deleteChannel: decode params: %w", err)
	}
	if err := appCtx.Storage.NotificationChannels().Delete(ctx, p.ID); err != nil {
		return nil, fmt.Errorf("notify.deleteChannel: %w", err)
	}
	return map[string]string{"id": p.ID, "status": "deleted"}, nil
}

// notifiedEvents is the subset of event-bus names worth fanning out
// externally; everything else (session deltas, tool-call streaming) stays
// WebSocket-only to avoid paging an operator on every token.
var notifiedEvents = map[string]bool{
	"session.statusChanged":     true,
	"task.statusChanged":        true,
	"warning.versionBump":       true,
	"daemon.updateAvailable":    true,
}

// sender delivers one rendered notification to one channel kind.
type sender interface {
	Send(ctx context.Context, subject, body string) error
}

// Fanout subscribes to the bus and dispatches matching events to every
// enabled NotificationChannel. Build once at startup alongside the
// governor and dead-letter retry worker; Stop unsubscribes cleanly.
type Fanout struct {
	appCtx *app.Context
	bus    *eventbus.Bus
	subID  string
}

// NewFanout starts the background loop. Call Stop when the daemon shuts
// down.
func NewFanout(appCtx *app.Context, bus *eventbus.Bus) *Fanout {
	id, ch := bus.Subscribe()
	f := &Fanout{appCtx: appCtx, bus: bus, subID: id}
	go f.run(ch)
	return f
}

func (f *Fanout) run(ch <-chan eventbus.Event) {
	for ev := range ch {
		if !notifiedEvents[ev.Name] {
			continue
		}
		f.deliver(ev)
	}
}

func (f *Fanout) deliver(ev eventbus.Event) {
	ctx := context.Background()
	channels, err := f.appCtx.Storage.NotificationChannels().List(ctx)
	if err != nil {
		slog.Error("notify: list channels failed", "error", err)
		return
	}

	subject := ev.Name
	body := string(ev.Payload)

	for _, c := range channels {
		if !c.Enabled {
			continue
		}
		s, err := newSender(c.Kind, c.Config)
		if err != nil {
			slog.Warn("notify: build sender failed", "channel", c.ID, "kind", c.Kind, "error", err)
			continue
		}
		if err := s.Send(ctx, subject, body); err != nil {
			slog.Warn("notify: delivery failed", "channel", c.ID, "kind", c.Kind, "error", err)
		}
	}
}

// Stop unsubscribes the fanout from the bus.
func (f *Fanout) Stop() {
	f.bus.Unsubscribe(f.subID)
}

func newSender(kind domain.NotificationChannelKind, cfg json.RawMessage) (sender, error) {
	switch kind {
	case domain.ChannelWebhook:
		return newWebhookSender(cfg)
	case domain.ChannelDiscord:
		return newDiscordSender(cfg)
	case domain.ChannelTelegram:
		return newTelegramSender(cfg)
	case domain.ChannelEmail:
		return newEmailSender(cfg)
	default:
		return nil, fmt.Errorf("notify: unknown channel kind %q", kind)
	}
}
