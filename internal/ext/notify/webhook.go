package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/worldline-go/klient"
)

type webhookConfig struct {
	URL string `json:"url"`
}

type webhookSender struct {
	url    string
	client *klient.Client
}

func newWebhookSender(raw json.RawMessage) (sender, error) {
	var cfg webhookConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("webhook: decode config: %w", err)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook: url is required")
	}
	client, err := klient.New(
		klient.WithDisableBaseURLCheck(true),
		klient.WithDisableEnvValues(true),
	)
	if err != nil {
		return nil, fmt.Errorf("webhook: build client: %w", err)
	}
	return &webhookSender{url: cfg.URL, client: client}, nil
}

func (s *webhookSender) Send(ctx context.Context, subject, body string) error {
	payload, err := json.Marshal(map[string]string{"subject": subject, "body": body})
	if err != nil {
		return fmt.Errorf("webhook: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: unexpected status %s", resp.Status)
	}
	return nil
}
