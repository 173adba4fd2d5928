// Package config loads clawd's layered configuration: built-in defaults,
// then data_dir/clawd.toml, then CLAWD_* environment variables, then
// (optionally) remote overlays from Consul or Vault.
package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rakunlabs/alan"
	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"

	mforwardauth "github.com/rakunlabs/ada/middleware/forwardauth"
	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"
)

// Service is set by cmd/clawd at startup to "clawd/<version>" and used in
// structured log lines and the User-Agent of outbound provider probes.
var Service = ""

// Config is the root configuration object, loaded once at startup. It is
// not re-loaded while the daemon runs: nothing calls Reload, so a changed
// log_level, like every other key, takes effect only on restart.
type Config struct {
	LogLevel     string `cfg:"log_level,no_prefix" default:"info"`
	Port         string `cfg:"port,no_prefix" default:"4300"`
	Bind         string `cfg:"bind,no_prefix" default:"127.0.0.1"`
	MaxSessions  int    `cfg:"max_sessions,no_prefix" default:"64"`
	DataDir      string `cfg:"data_dir,no_prefix" default:"~/.clawd"`

	Resources Resources            `cfg:"resources"`
	Providers map[string]Provider  `cfg:"provider"`
	Server    Server               `cfg:"server"`
	Store     Store                `cfg:"store"`
	Telemetry tell.Config          `cfg:"telemetry,noprefix"`
}

// Resources mirrors every Governor knob listed in spec §5.
type Resources struct {
	MaxMemoryPercent      float64 `cfg:"max_memory_percent" default:"70"`
	MaxConcurrentActive   int     `cfg:"max_concurrent_active" default:"8"`
	IdleToWarmSecs        int     `cfg:"idle_to_warm_secs" default:"300"`
	WarmToColdSecs        int     `cfg:"warm_to_cold_secs" default:"1800"`
	ProcessPoolSize       int     `cfg:"process_pool_size" default:"2"`
	EmergencyMemoryPercent float64 `cfg:"emergency_memory_percent" default:"90"`
	PollIntervalSecs      int     `cfg:"poll_interval_secs" default:"5"`
	// SummarizerModel is read from config but not used: cmd/clawd builds
	// the governor without a Summarizer, so Warm->Cold demotion always
	// writes the template-based summary.
	SummarizerModel string `cfg:"summarizer_model"`
}

// Provider is one provider CLI's timeout/path override (spec §6:
// provider.<name>.timeout_secs).
type Provider struct {
	Path       string `cfg:"path"`
	TimeoutSecs int   `cfg:"timeout_secs" default:"30"`
}

// Server configures the IPC listener.
type Server struct {
	// ForwardAuth, if set, accepts an identity header from a trusted
	// reverse proxy in front of clawd, alongside (never instead of)
	// bearer/device auth (spec §4.6 expansion).
	ForwardAuth *mforwardauth.ForwardAuth `cfg:"forward_auth"`

	// Alan, if set, enables the opt-in LAN discovery / leader-election
	// layer described in SPEC_FULL.md §4.4.1. Disabled by default.
	Alan *alan.Config `cfg:"alan"`

	// RateLimitPerSec is the authenticated per-connection RPC quota
	// (spec §4.6 "100 per connection per second").
	RateLimitPerSec int `cfg:"rate_limit_per_sec" default:"100"`
	// NewConnRatePerMin is the per-source-address new-connection quota.
	NewConnRatePerMin int `cfg:"new_conn_rate_per_min" default:"10"`
}

// Store configures the embedded database (spec §6: data_dir/clawd.db).
type Store struct {
	TablePrefix *string `cfg:"table_prefix"`
	Migrate     Migrate `cfg:"migrate"`
}

// Migrate configures the migration runner (github.com/rakunlabs/muz).
type Migrate struct {
	Table  string            `cfg:"table" default:"clawd_migrations"`
	Values map[string]string `cfg:"values"`
}

// StorePostgres is intentionally absent: clawd's storage contract (spec
// §4.1) is a single embedded, file-backed relational store with its own
// WAL, not an externally-hosted database — see DESIGN.md for why the
// teacher's Postgres backend was not carried over.

// Load reads configuration for the daemon named by path (conventionally
// "clawd"), applying CLAWD_* environment overrides, and sets the global
// slog level as a side effect.
func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("CLAWD_")))); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}

// Reload re-reads configuration and returns it without touching the
// process-wide log level. Nothing in the daemon calls it; the
// Resource-Monitor tick (internal/governor) does not reload configuration.
func Reload(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("CLAWD_")))); err != nil {
		return nil, fmt.Errorf("reload config: %w", err)
	}

	return &cfg, nil
}
