package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/worldline-go/klient"
	"golang.org/x/oauth2"
)

// detectTimeout bounds the version-probe child process spawned by
// DetectVersion.
const detectTimeout = 3 * time.Second

// DetectVersion runs "<path> --version" with a short timeout, the fallback
// path spec §4.2's detect() takes when a provider exposes no HTTP health
// endpoint for klient to probe.
func DetectVersion(ctx context.Context, path string) (installed bool, version string) {
	ctx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return false, ""
	}

	return true, strings.TrimSpace(string(out))
}

// DetectHTTP probes a provider's optional local health endpoint, used
// instead of DetectVersion when a provider exposes one (spec §4.2: "a
// version probe" — klient covers both transports behind one client type).
func DetectHTTP(ctx context.Context, baseURL string) (installed bool, version string) {
	c, err := klient.New(klient.WithBaseURL(baseURL))
	if err != nil {
		return false, ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return false, ""
	}

	var body struct {
		Version string `json:"version"`
	}
	if err := c.Do(req, func(r *http.Response) error {
		return json.NewDecoder(r.Body).Decode(&body)
	}); err != nil {
		return false, ""
	}

	return true, body.Version
}

// CredentialFile describes where a provider CLI persists its own OAuth2
// token, so detect() can report authenticated/expiry without clawd ever
// performing the OAuth dance itself.
type CredentialFile struct {
	Path string
	// Unwrap extracts the raw oauth2.Token JSON from the file's top-level
	// shape, since each CLI nests it differently (e.g. under a
	// "claudeAiOauth" key). Returning the input unchanged is correct when
	// the file already matches oauth2.Token's encoding.
	Unwrap func(raw []byte) []byte
}

// ReadCredential reads and decodes a provider's on-disk OAuth2 token,
// purely for reporting — clawd never refreshes or mints this token.
func ReadCredential(cf CredentialFile) (*oauth2.Token, error) {
	raw, err := os.ReadFile(cf.Path)
	if err != nil {
		return nil, err
	}

	if cf.Unwrap != nil {
		raw = cf.Unwrap(raw)
	}
	if len(raw) == 0 {
		return nil, errors.New("empty credential payload")
	}

	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, err
	}

	return &tok, nil
}
