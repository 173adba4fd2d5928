// Package device implements the device.* extension namespace (spec §4.6 /
// §4.10): PIN-based pairing, device listing, and revocation, adapting
// internal/auth.Authenticator for the dispatch table.
package device

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clawde-io/clawd/internal/app"
	"github.com/clawde-io/clawd/internal/ext"
)

func init() {
	ext.Register("device.pair", pair)
	ext.Register("device.list", list)
	ext.Register("device.revoke", revoke)
}

type pairParams struct {
	PIN      string `json:"pin"`
	Name     string `json:"name"`
	Platform string `json:"platform"`
}

type pairResult struct {
	Token  string `json:"token"`
	Device any    `json:"device"`
}

func pair(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	var p pairParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("device.pair: decode params: %w", err)
	}
	token, dev, err := appCtx.Auth.PairDevice(ctx, p.PIN, p.Name, p.Platform)
	if err != nil {
		return nil, err
	}
	return pairResult{Token: token, Device: dev}, nil
}

func list(ctx context.Context, appCtx *app.Context, _ json.RawMessage) (any, error) {
	return appCtx.Auth.ListDevices(ctx)
}

type revokeParams struct {
	ID string `json:"id"`
}

func revoke(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	var p revokeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("device.revoke: decode params: %w", err)
	}
	if err := appCtx.Auth.RevokeDevice(ctx, p.ID); err != nil {
		return nil, err
	}
	return map[string]string{"id": p.ID, "status": "revoked"}, nil
}
