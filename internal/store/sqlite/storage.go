// Package sqlite is clawd's embedded storage backend: a single WAL-mode
// SQLite database reached through goqu-built SQL, with schema managed by
// muz migrations and IDs minted with ulid. It is the sole storage backend
// (spec §4.1 calls for one embedded relational store, not a pluggable set).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/clawde-io/clawd/internal/domain"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	_ "modernc.org/sqlite"
)

// DefaultTablePrefix namespaces clawd's tables so the database file can
// eventually be shared with other tools without collision.
const DefaultTablePrefix = "clawd_"

// Config is the narrow subset of internal/config.Store this package needs.
type Config struct {
	Datasource  string
	TablePrefix *string
	Migrate     struct {
		Table  string
		Values map[string]string
	}
}

// Storage is clawd's concrete domain.Storage implementation.
//
// Unlike a single-writer token cache, clawd's store is read from
// concurrently by the session registry, the governor tick and every
// in-flight IPC request while writes stream in from active turns, so
// one connection pooled to size 1 would serialize reads behind writes
// for no reason. Two *sql.DB handles share the same WAL-mode file: db
// is a small reader pool, writeDB is a single serialized connection
// that every Exec goes through.
type Storage struct {
	db      *sql.DB // reader pool, read-only statements
	writeDB *sql.DB // single connection, all inserts/updates/deletes
	goqu    *goqu.Database

	prefix string

	tSessions      exp.IdentifierExpression
	tMessages      exp.IdentifierExpression
	tMessagesFTS   exp.IdentifierExpression
	tToolCalls     exp.IdentifierExpression
	tToolResults   exp.IdentifierExpression
	tTokenUsage    exp.IdentifierExpression
	tWorktrees     exp.IdentifierExpression
	tSnapshots     exp.IdentifierExpression
	tMetrics       exp.IdentifierExpression
	tPairPins      exp.IdentifierExpression
	tDevices       exp.IdentifierExpression
	tDeadLetters   exp.IdentifierExpression
	tAPITokens     exp.IdentifierExpression
	tNotifyChans   exp.IdentifierExpression

	sessions      *sessionRepo
	messages      *messageRepo
	toolCalls     *toolCallRepo
	toolResults   *toolResultRepo
	tokenUsage    *tokenUsageRepo
	worktrees     *worktreeRepo
	snapshots     *snapshotRepo
	metrics       *metricRepo
	pairing       *pairingRepo
	deadLetters   *deadLetterRepo
	apiTokens     *apiTokenRepo
	notifyChans   *notificationRepo
}

var _ domain.Storage = (*Storage)(nil)

// New opens (creating if absent) the clawd database at cfg.Datasource,
// running pending migrations first.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Datasource == "" {
		return nil, errors.New("sqlite datasource is required")
	}

	prefix := DefaultTablePrefix
	if cfg.TablePrefix != nil {
		prefix = *cfg.TablePrefix
	}

	migrateTable := cfg.Migrate.Table
	if migrateTable == "" {
		migrateTable = "migrations"
	}
	migrateTable = prefix + migrateTable

	values := cfg.Migrate.Values
	if values == nil {
		values = make(map[string]string)
	}
	values["TABLE_PREFIX"] = prefix

	if err := migrate(ctx, MigrateCfg{
		Datasource: cfg.Datasource,
		Table:      migrateTable,
		Values:     values,
	}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	writeDB, err := sql.Open("sqlite", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open sqlite write connection: %w", err)
	}

	if err := writeDB.PingContext(ctx); err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := writeDB.ExecContext(ctx, pragma); err != nil {
			writeDB.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	// WAL allows any number of concurrent readers alongside the single
	// writer, so the writer handle is pinned to one connection and all
	// reads go through a separate pool sized for the daemon's expected
	// concurrent session count.
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite", cfg.Datasource)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("open sqlite read pool: %w", err)
	}
	if err := readDB.PingContext(ctx); err != nil {
		writeDB.Close()
		readDB.Close()
		return nil, fmt.Errorf("ping sqlite read pool: %w", err)
	}
	if _, err := readDB.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		writeDB.Close()
		readDB.Close()
		return nil, fmt.Errorf("set read pool pragma: %w", err)
	}
	readDB.SetMaxOpenConns(8)
	readDB.SetMaxIdleConns(4)

	slog.Info("connected to clawd store", "datasource", cfg.Datasource)

	s := &Storage{
		db:      readDB,
		writeDB: writeDB,
		goqu:    goqu.New("sqlite3", writeDB),

		prefix: prefix,

		tSessions:    goqu.T(prefix + "sessions"),
		tMessages:    goqu.T(prefix + "messages"),
		tMessagesFTS: goqu.T(prefix + "messages_fts"),
		tToolCalls:   goqu.T(prefix + "tool_calls"),
		tToolResults: goqu.T(prefix + "tool_results_full"),
		tTokenUsage:  goqu.T(prefix + "token_usage"),
		tWorktrees:   goqu.T(prefix + "worktrees"),
		tSnapshots:   goqu.T(prefix + "context_snapshots"),
		tMetrics:     goqu.T(prefix + "resource_metrics"),
		tPairPins:    goqu.T(prefix + "pair_pins"),
		tDevices:     goqu.T(prefix + "paired_devices"),
		tDeadLetters: goqu.T(prefix + "dead_letter_events"),
		tAPITokens:   goqu.T(prefix + "api_tokens"),
		tNotifyChans: goqu.T(prefix + "notification_channels"),
	}

	s.sessions = &sessionRepo{s: s}
	s.messages = &messageRepo{s: s}
	s.toolCalls = &toolCallRepo{s: s}
	s.toolResults = &toolResultRepo{s: s}
	s.tokenUsage = &tokenUsageRepo{s: s}
	s.worktrees = &worktreeRepo{s: s}
	s.snapshots = &snapshotRepo{s: s}
	s.metrics = &metricRepo{s: s}
	s.pairing = &pairingRepo{s: s}
	s.deadLetters = &deadLetterRepo{s: s}
	s.apiTokens = &apiTokenRepo{s: s}
	s.notifyChans = &notificationRepo{s: s}

	return s, nil
}

func (s *Storage) Sessions() domain.SessionRepo                       { return s.sessions }
func (s *Storage) Messages() domain.MessageRepo                       { return s.messages }
func (s *Storage) ToolCalls() domain.ToolCallRepo                     { return s.toolCalls }
func (s *Storage) ToolResults() domain.ToolResultFullRepo             { return s.toolResults }
func (s *Storage) TokenUsage() domain.TokenUsageRepo                  { return s.tokenUsage }
func (s *Storage) Worktrees() domain.WorktreeRepo                     { return s.worktrees }
func (s *Storage) ContextSnapshots() domain.ContextSnapshotRepo       { return s.snapshots }
func (s *Storage) ResourceMetrics() domain.ResourceMetricRepo         { return s.metrics }
func (s *Storage) Pairing() domain.PairingRepo                        { return s.pairing }
func (s *Storage) DeadLetters() domain.DeadLetterRepo                 { return s.deadLetters }
func (s *Storage) APITokens() domain.APITokenRepo                     { return s.apiTokens }
func (s *Storage) NotificationChannels() domain.NotificationChannelRepo { return s.notifyChans }

// Checkpoint collapses the write-ahead log into the main database file.
// Called on clean shutdown (internal/app) so a subsequent copy or backup
// of the .db file alone is consistent.
func (s *Storage) Checkpoint(ctx context.Context) error {
	if _, err := s.writeDB.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint wal: %w", err)
	}
	return nil
}

func (s *Storage) Close() error {
	var errs []error
	if s.writeDB != nil {
		if err := s.writeDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close write connection: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close read pool: %w", err))
		}
	}
	return errors.Join(errs...)
}

func applyPagination(ds *goqu.SelectDataset, page domain.Pagination, orderCol string) *goqu.SelectDataset {
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	ds = ds.Order(goqu.I(orderCol).Desc(), goqu.I("id").Desc()).Limit(uint(limit))

	if page.Before != nil {
		ds = ds.Where(goqu.Or(
			goqu.I(orderCol).Lt(page.Before.CreatedAt),
			goqu.And(goqu.I(orderCol).Eq(page.Before.CreatedAt), goqu.I("id").Lt(page.Before.ID)),
		))
	}

	return ds
}
