// Package ext is the plug-in point of spec §4.10: auxiliary namespaces
// (tasks, worktrees, packs, device, doctor, notify, ...) register RPC
// handlers against a package-level table from their own init(), the same
// blank-import idiom the teacher uses for
// internal/service/workflow/nodes. internal/ipc builds its dispatch
// table from Handlers() once at startup; no namespace talks to the
// WebSocket layer directly.
package ext

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clawde-io/clawd/internal/app"
)

// HandlerFunc is the signature every extension method implements: decoded
// params plus the shared app context in, a JSON-marshalable result or
// error out. Session-mutating handlers must go through appCtx.Sessions
// (spec §4.10: "no auxiliary namespace may bypass the bus or mutate
// sessions directly").
type HandlerFunc func(ctx context.Context, appCtx *app.Context, params json.RawMessage) (any, error)

var registry = map[string]HandlerFunc{}

// Register adds a method under its dotted namespace.action name. Called
// from each namespace package's init(); panics on a duplicate name since
// that can only mean two namespace packages collided at build time.
func Register(method string, h HandlerFunc) {
	if _, exists := registry[method]; exists {
		panic(fmt.Sprintf("ext: method %q already registered", method))
	}
	registry[method] = h
}

// Handlers returns a snapshot of every method registered so far, for
// internal/ipc to fold into its dispatch table.
func Handlers() map[string]HandlerFunc {
	out := make(map[string]HandlerFunc, len(registry))
	for k, v := range registry {
		out[k] = v
	}
	return out
}
