// Package app bundles the daemon-wide dependencies every RPC handler and
// extension namespace needs, mirroring the teacher's Server struct
// (internal/server/server.go) but scoped to the pieces spec §4.10 calls
// "app_context": storage, event bus, session manager, worktree manager,
// and configuration. Built once at startup (internal/ipc, cmd/clawd) and
// passed by reference everywhere; there are no package-level singletons.
package app

import (
	"context"

	"github.com/clawde-io/clawd/internal/auth"
	"github.com/clawde-io/clawd/internal/config"
	"github.com/clawde-io/clawd/internal/domain"
	"github.com/clawde-io/clawd/internal/eventbus"
	"github.com/clawde-io/clawd/internal/governor"
	"github.com/clawde-io/clawd/internal/provider"
	"github.com/clawde-io/clawd/internal/session"
	"github.com/clawde-io/clawd/internal/worktree"
)

// Context is the bundle passed to every extension namespace handler
// (spec §4.10: "app_context bundles storage, event bus, session manager,
// worktree manager, and configuration").
type Context struct {
	Config    *config.Config
	Storage   domain.Storage
	Bus       *eventbus.Bus
	Sessions  *session.Manager
	Worktrees *worktree.Manager
	Providers *provider.Registry
	Auth      *auth.Authenticator
	Governor  *governor.Governor
}

// Shutdown stops the background workers that belong to the app context
// (governor tick, resident session actors) in the order cmd/clawd's
// graceful-shutdown sequence (SPEC_FULL.md §6) expects: stop producing new
// work, then drain what's in flight.
func (c *Context) Shutdown(ctx context.Context) {
	if c.Governor != nil {
		c.Governor.Stop()
	}
	if c.Sessions != nil {
		c.Sessions.Shutdown(ctx)
	}
	if c.Storage != nil {
		_ = c.Storage.Checkpoint(ctx)
	}
}
