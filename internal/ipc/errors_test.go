package ipc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/clawde-io/clawd/internal/session"
)

func TestMapErrorSentinels(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{session.ErrNotFound, codeSessionNotFound},
		{session.ErrPaused, codeSessionPaused},
		{session.ErrTurnInProgress, codeProviderNotAvailable},
		{fmt.Errorf("wrapped: %w", session.ErrPaused), codeSessionPaused},
		{errors.New("something unrecognized"), codeInternal},
	}

	for _, tc := range cases {
		got := mapError(tc.err)
		if got.Code != tc.code {
			t.Fatalf("mapError(%v) = %d, want %d", tc.err, got.Code, tc.code)
		}
	}
}

func TestMapErrorNilIsNil(t *testing.T) {
	if mapError(nil) != nil {
		t.Fatal("expected mapError(nil) to return nil")
	}
}

func TestMapErrorPassesThroughClawdError(t *testing.T) {
	ce := newClawdError(codeToolSecurityBlocked, "blocked")
	got := mapError(ce)
	if got != ce {
		t.Fatalf("expected the same *ClawdError to pass through unchanged, got %+v", got)
	}
}
