// Package packs implements the packs.* extension namespace. The spec's
// own Open Questions note pack content (skills, rules, evals) and its
// registry as "appear partially specified ... the core spec treats them
// as extension handlers with no semantic contract beyond the storage
// tables they reference" — and no pack storage table exists in
// internal/domain, so this namespace is an honest stub: it answers
// packs.list with an empty catalogue rather than inventing a schema the
// spec never committed to.
package packs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clawde-io/clawd/internal/app"
	"github.com/clawde-io/clawd/internal/ext"
)

func init() {
	ext.Register("packs.list", list)
	ext.Register("packs.install", install)
}

// Pack describes one installable content pack. No repository backs this
// yet; see the package doc comment.
type Pack struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func list(ctx context.Context, appCtx *app.Context, _ json.RawMessage) (any, error) {
	return []Pack{}, nil
}

func install(ctx context.Context, appCtx *app.Context, _ json.RawMessage) (any, error) {
	return nil, fmt.Errorf("packs.install: pack installation is not implemented")
}
