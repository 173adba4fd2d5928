// Package governor implements the Resource Governor: the background tick
// that demotes idle or memory-pressured sessions through the Active/Warm/
// Cold tier ladder, promotes them lazily on demand (via internal/session's
// own promote() hook), and records periodic ResourceMetric rows.
//
// The poll loop is built on github.com/worldline-go/hardloop, the same
// library the teacher uses to drive its cron trigger scheduler
// (internal/service/workflow/scheduler.go): hardloop.NewCron with a single
// "@every" spec plays the role of a plain ticker, since hardloop's
// confirmed, teacher-exercised entry point is NewCron rather than a
// standalone ticker constructor.
package governor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/worldline-go/hardloop"
	"github.com/worldline-go/types"

	"github.com/clawde-io/clawd/internal/discovery"
	"github.com/clawde-io/clawd/internal/domain"
	"github.com/clawde-io/clawd/internal/provider"
	"github.com/clawde-io/clawd/internal/session"
)

// cronRunner is satisfied by hardloop's unexported cron job type, mirrored
// from the teacher's workflow.Scheduler so the Governor doesn't need to name
// the concrete type hardloop.NewCron returns.
type cronRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// Publisher fans a daemon-wide (sessionless) event out to connected
// clients, satisfied structurally by internal/eventbus.Bus.
type Publisher interface {
	Publish(sessionID, eventType string, payload any)
}

// Config bundles a Governor's dependencies and tunables (spec §4.4, §5's
// "resources.*" knobs).
type Config struct {
	Storage   domain.Storage
	Sessions  *session.Manager
	Providers *provider.Registry
	Publisher Publisher

	// Discovery, if non-nil, gates the tick behind Discovery.Lock so only
	// one instance sharing a data_dir runs it at a time (spec §4.4.1).
	Discovery *discovery.Discovery

	MaxMemoryPercent       float64
	EmergencyMemoryPercent float64
	IdleToWarmSecs         int
	WarmToColdSecs         int
	ProcessPoolSize        int
	PollIntervalSecs       int

	// Summarizer, if non-nil, produces the Warm->Cold rolling summary via a
	// configured langchaingo model; nil falls back to the template summary.
	Summarizer Summarizer
}

const (
	defaultIdleToWarmSecs         = 300
	defaultWarmToColdSecs         = 1800
	defaultMaxMemoryPercent       = 70
	defaultEmergencyMemoryPercent = 90
	defaultPollIntervalSecs       = 5
	defaultProcessPoolSize        = 2
)

// Governor runs the poll tick described in spec §4.4/§4.8.
type Governor struct {
	cfg Config

	cron cronRunner
}

// New builds a Governor, filling in spec-documented defaults for any zero
// config field.
func New(cfg Config) *Governor {
	if cfg.IdleToWarmSecs <= 0 {
		cfg.IdleToWarmSecs = defaultIdleToWarmSecs
	}
	if cfg.WarmToColdSecs <= 0 {
		cfg.WarmToColdSecs = defaultWarmToColdSecs
	}
	if cfg.MaxMemoryPercent <= 0 {
		cfg.MaxMemoryPercent = defaultMaxMemoryPercent
	}
	if cfg.EmergencyMemoryPercent <= 0 {
		cfg.EmergencyMemoryPercent = defaultEmergencyMemoryPercent
	}
	if cfg.PollIntervalSecs <= 0 {
		cfg.PollIntervalSecs = defaultPollIntervalSecs
	}
	if cfg.ProcessPoolSize <= 0 {
		cfg.ProcessPoolSize = defaultProcessPoolSize
	}
	return &Governor{cfg: cfg}
}

// Start begins the poll tick in the background. If cfg.Discovery is set,
// the tick only runs while this instance holds the LockGovernor lock,
// matching the teacher's scheduler.runLockLoop leader-election pattern.
func (g *Governor) Start(ctx context.Context) error {
	if g.cfg.Discovery != nil {
		go g.runWithLock(ctx)
		return nil
	}
	return g.startLocked(ctx)
}

func (g *Governor) runWithLock(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := g.cfg.Discovery.Lock(ctx, discovery.LockGovernor); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("governor: failed to acquire leader lock, retrying", "error", err)
			time.Sleep(5 * time.Second)
			continue
		}

		if err := g.startLocked(ctx); err != nil {
			slog.Error("governor: failed to start tick under lock", "error", err)
		}

		<-ctx.Done()
		g.Stop()
		_ = g.cfg.Discovery.Unlock(discovery.LockGovernor)
		return
	}
}

func (g *Governor) startLocked(ctx context.Context) error {
	spec := fmt.Sprintf("@every %ds", g.cfg.PollIntervalSecs)
	cronJob, err := hardloop.NewCron(hardloop.Cron{
		Name:  "resource-governor-tick",
		Specs: []string{spec},
		Func:  g.tick,
	})
	if err != nil {
		return fmt.Errorf("create governor ticker: %w", err)
	}

	if err := cronJob.Start(ctx); err != nil {
		return fmt.Errorf("start governor ticker: %w", err)
	}
	g.cron = cronJob

	g.warmProcessPool(ctx)

	return nil
}

// Stop stops the poll tick. Safe to call even if Start was never called.
func (g *Governor) Stop() {
	if g.cron != nil {
		g.cron.Stop()
		g.cron = nil
	}
}

// warmProcessPool pre-warms process_pool_size adapter probes per provider
// so their installed/authenticated state and resolved binary path are
// cached before the first Cold->Active resurrection needs them. A literal
// pre-forked, swap-in child pool is not possible here: Adapter.Spawn binds
// a child to one session's repo path and turn request at creation time
// (internal/provider/process.go's StartProcess takes a fixed cwd/args), so
// there is no idle, repo-agnostic process to keep warm and hand off later.
// See DESIGN.md for this documented deviation from a literal process pool.
func (g *Governor) warmProcessPool(ctx context.Context) {
	if g.cfg.Providers == nil {
		return
	}
	for range make([]struct{}, g.cfg.ProcessPoolSize) {
		for _, name := range g.cfg.Providers.Names() {
			adapter, ok := g.cfg.Providers.Get(name)
			if !ok {
				continue
			}
			if _, err := adapter.Detect(ctx); err != nil {
				slog.Debug("governor: process pool warm-up probe failed", "provider", name, "error", err)
			}
		}
	}
}

// tick runs one poll iteration: sample memory, demote idle/pressured
// sessions, record a ResourceMetric row, and push system.resources.
func (g *Governor) tick(ctx context.Context) error {
	sample, err := sampleMemory()
	if err != nil {
		slog.Warn("governor: memory sample failed", "error", err)
	}

	sessions, err := g.cfg.Storage.Sessions().List(ctx, domain.SessionFilter{}, domain.Pagination{})
	if err != nil {
		return fmt.Errorf("governor tick: list sessions: %w", err)
	}

	candidates := make([]*domain.Session, 0, len(sessions))
	counts := map[domain.SessionTier]int{}
	for _, s := range sessions {
		counts[s.Tier]++
		if s.Status == domain.SessionRunning || g.cfg.Sessions.IsRunningTurn(ctx, s.ID) {
			continue // exempt: a session currently running a turn is never demoted
		}
		candidates = append(candidates, s)
	}

	budget := g.cfg.MaxMemoryPercent / 100 * float64(sample.HostTotalRAM)
	emergencyThreshold := g.cfg.EmergencyMemoryPercent / 100 * float64(sample.HostTotalRAM)

	if sample.HostTotalRAM > 0 && float64(sample.HostUsedRAM) > emergencyThreshold {
		g.demoteUnderPressure(ctx, candidates, budget, sample)
	} else {
		g.demoteIdle(ctx, candidates)
	}

	metric := &domain.ResourceMetric{
		ID:           ulid.Make().String(),
		HostTotalRAM: sample.HostTotalRAM,
		HostUsedRAM:  sample.HostUsedRAM,
		DaemonRSS:    sample.DaemonRSS,
		ActiveCount:  counts[domain.TierActive],
		WarmCount:    counts[domain.TierWarm],
		ColdCount:    counts[domain.TierCold],
		CreatedAt:    types.NewTime(time.Now().UTC()),
	}
	if err := g.cfg.Storage.ResourceMetrics().Create(ctx, metric); err != nil {
		slog.Warn("governor: record resource metric failed", "error", err)
	}
	if err := g.cfg.Storage.ResourceMetrics().Prune(ctx); err != nil {
		slog.Warn("governor: prune resource metrics failed", "error", err)
	}

	if g.cfg.Publisher != nil {
		g.cfg.Publisher.Publish("", "system.resources", metric)
	}

	if g.cfg.Discovery != nil {
		if err := g.cfg.Discovery.Announce(ctx, counts[domain.TierActive]); err != nil {
			slog.Debug("governor: discovery announce failed", "error", err)
		}
	}

	return nil
}

// demoteIdle applies step 4 of spec §4.4's algorithm: demote any session
// whose last-activity exceeds its tier's threshold.
func (g *Governor) demoteIdle(ctx context.Context, candidates []*domain.Session) {
	now := time.Now().UTC()
	for _, s := range candidates {
		idle := now.Sub(s.LastActivityAt.Time)
		switch s.Tier {
		case domain.TierActive:
			if idle >= time.Duration(g.cfg.IdleToWarmSecs)*time.Second {
				g.demoteToWarm(ctx, s)
			}
		case domain.TierWarm:
			if idle >= time.Duration(g.cfg.WarmToColdSecs)*time.Second {
				g.demoteToCold(ctx, s)
			}
		}
	}
}

// demoteUnderPressure applies step 3: aggressive LRU demotion, Active->Warm
// demotions before Warm->Cold ones, ordered by largest-RSS-first/oldest-last-activity tie-break (spec
// §4.4 "Ordering and tie-breaks"). Since each turn's child process is
// ephemeral (torn down at turn end, see internal/session/actor.go), there
// is no resident per-session RSS to sample; the storage footprint of each
// session's message history stands in as the size proxy, documented in
// DESIGN.md.
func (g *Governor) demoteUnderPressure(ctx context.Context, candidates []*domain.Session, budget float64, sample memSample) {
	warm := make([]*domain.Session, 0)
	active := make([]*domain.Session, 0)
	for _, s := range candidates {
		switch s.Tier {
		case domain.TierWarm:
			warm = append(warm, s)
		case domain.TierActive:
			active = append(active, s)
		}
	}

	byPressureOrder := func(list []*domain.Session) {
		sort.Slice(list, func(i, j int) bool {
			if list[i].MessageCount != list[j].MessageCount {
				return list[i].MessageCount > list[j].MessageCount // largest footprint first
			}
			return list[i].LastActivityAt.Time.Before(list[j].LastActivityAt.Time) // oldest next
		})
	}
	byPressureOrder(warm)
	byPressureOrder(active)

	used := float64(sample.HostUsedRAM)
	for _, s := range active {
		if used <= budget {
			return
		}
		g.demoteToWarm(ctx, s)
		used -= estimateSessionFootprint(s)
	}
	for _, s := range warm {
		if used <= budget {
			return
		}
		g.demoteToCold(ctx, s)
		used -= estimateSessionFootprint(s)
	}
}

// estimateSessionFootprint is a rough per-session memory proxy used only to
// decide when aggressive demotion has freed "enough" budget; it is not a
// precise measurement (see demoteUnderPressure's doc comment).
func estimateSessionFootprint(s *domain.Session) float64 {
	const perMessageEstimate = 4 * 1024
	return float64(s.MessageCount) * perMessageEstimate
}

func (g *Governor) demoteToWarm(ctx context.Context, s *domain.Session) {
	tier := domain.TierWarm
	if err := g.cfg.Storage.Sessions().Touch(ctx, s.ID, nil, &tier); err != nil {
		slog.Warn("governor: demote to warm failed", "session", s.ID, "error", err)
		return
	}
	g.cfg.Sessions.EvictResident(ctx, s.ID)
	if g.cfg.Publisher != nil {
		g.cfg.Publisher.Publish(s.ID, "session.tierChanged", map[string]any{"sessionId": s.ID, "tier": tier})
	}
}

func (g *Governor) demoteToCold(ctx context.Context, s *domain.Session) {
	content, tokenEstimate, err := g.buildSnapshot(ctx, s)
	if err != nil {
		slog.Warn("governor: build context snapshot failed", "session", s.ID, "error", err)
	} else {
		snap := &domain.ContextSnapshot{
			ID:            ulid.Make().String(),
			SessionID:     s.ID,
			Content:       content,
			TokenEstimate: tokenEstimate,
			SnapshotType:  domain.SnapshotSummary,
			CreatedAt:     types.NewTime(time.Now().UTC()),
		}
		if err := g.cfg.Storage.ContextSnapshots().Create(ctx, snap); err != nil {
			slog.Warn("governor: persist context snapshot failed", "session", s.ID, "error", err)
		}
	}

	tier := domain.TierCold
	if err := g.cfg.Storage.Sessions().Touch(ctx, s.ID, nil, &tier); err != nil {
		slog.Warn("governor: demote to cold failed", "session", s.ID, "error", err)
		return
	}
	g.cfg.Sessions.EvictResident(ctx, s.ID)
	if g.cfg.Publisher != nil {
		g.cfg.Publisher.Publish(s.ID, "session.tierChanged", map[string]any{"sessionId": s.ID, "tier": tier})
	}
}
