package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mail "github.com/wneessen/go-mail"
)

// emailConfig mirrors the teacher's SMTP NodeConfig shape
// (internal/service/workflow/nodes/email.go's smtpConfig) minus the
// workflow-template fields notify doesn't need.
type emailConfig struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	Username           string `json:"username"`
	Password           string `json:"password"`
	From               string `json:"from"`
	To                 string `json:"to"`
	TLS                bool   `json:"tls"`
	NoTLS              bool   `json:"noTls"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify"`
}

type emailSender struct {
	cfg emailConfig
}

func newEmailSender(raw json.RawMessage) (sender, error) {
	var cfg emailConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("email: decode config: %w", err)
	}
	if cfg.Host == "" || cfg.From == "" || cfg.To == "" {
		return nil, fmt.Errorf("email: host, from, and to are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &emailSender{cfg: cfg}, nil
}

func (s *emailSender) Send(ctx context.Context, subject, body string) error {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return fmt.Errorf("email: set from: %w", err)
	}
	if err := m.To(s.cfg.To); err != nil {
		return fmt.Errorf("email: set to: %w", err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(30 * time.Second),
	}
	if s.cfg.Username != "" || s.cfg.Password != "" {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain), mail.WithUsername(s.cfg.Username), mail.WithPassword(s.cfg.Password))
	}
	if s.cfg.NoTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	} else {
		opts = append(opts, mail.WithTLSConfig(&tls.Config{
			ServerName:         s.cfg.Host,
			InsecureSkipVerify: s.cfg.InsecureSkipVerify,
		}))
		if s.cfg.TLS {
			opts = append(opts, mail.WithSSL(), mail.WithTLSPolicy(mail.TLSMandatory))
		} else {
			opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
		}
	}

	c, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("email: create client: %w", err)
	}
	// DialAndSend (not a context-aware variant, which the teacher's own
	// email workflow node does not use either) honors opts' WithTimeout
	// instead.
	if err := c.DialAndSend(m); err != nil {
		return fmt.Errorf("email: send: %w", err)
	}
	return nil
}
