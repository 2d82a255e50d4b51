// Package sqlite implements the store ports on SQLite. Pure Go driver, no
// CGo. One database file holds the event log, the unique-constraint index,
// vector clock components, snapshots and sync state; append is a single
// transaction over all of them.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/kamiazya/scopes/pkg/clock"
	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/store/sqlite/migrate"
	"github.com/kamiazya/scopes/pkg/vclock"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func runMigrations(db *sql.DB) error {
	m := migrate.New(db, "schema_migrations")
	if err := m.LoadFromFS(migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := m.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// EventStore is a SQLite-backed implementation of store.EventStore.
type EventStore struct {
	db       *sql.DB
	deviceID string
	clk      clock.Clock

	// Serializes writers. SQLite allows one writer at a time; taking the
	// lock up front turns driver-level busy errors into queueing.
	writeMu sync.Mutex

	subMu       sync.Mutex
	subscribers map[int]chan struct{}
	nextSub     int

	skipped        atomic.Uint64
	lastSkipReason atomic.Value
}

type eventStoreConfig struct {
	dsn          string
	deviceID     string
	clk          clock.Clock
	maxOpenConns int
	maxIdleConns int
	walMode      bool
	autoMigrate  bool
}

func defaultEventStoreConfig() eventStoreConfig {
	return eventStoreConfig{
		dsn:          "scopes.db",
		clk:          clock.NewSystem(),
		maxOpenConns: 25,
		maxIdleConns: 5,
		walMode:      true,
		autoMigrate:  true,
	}
}

// Option configures an EventStore.
type Option func(*eventStoreConfig)

// WithDSN sets the data source name (file path or ":memory:").
func WithDSN(dsn string) Option {
	return func(c *eventStoreConfig) { c.dsn = dsn }
}

// WithMemoryDatabase uses an in-memory database.
func WithMemoryDatabase() Option {
	return func(c *eventStoreConfig) { c.dsn = ":memory:" }
}

// WithClock sets the clock used for stored-at stamps.
func WithClock(clk clock.Clock) Option {
	return func(c *eventStoreConfig) { c.clk = clk }
}

// WithMaxOpenConns sets the connection pool ceiling.
func WithMaxOpenConns(n int) Option {
	return func(c *eventStoreConfig) { c.maxOpenConns = n }
}

// WithMaxIdleConns sets the idle connection pool size.
func WithMaxIdleConns(n int) Option {
	return func(c *eventStoreConfig) { c.maxIdleConns = n }
}

// WithWALMode enables write-ahead logging. Recommended for file databases,
// unavailable for :memory:.
func WithWALMode(enabled bool) Option {
	return func(c *eventStoreConfig) { c.walMode = enabled }
}

// WithAutoMigrate controls running pending migrations on open.
func WithAutoMigrate(enabled bool) Option {
	return func(c *eventStoreConfig) { c.autoMigrate = enabled }
}

// NewEventStore opens a SQLite event store owned by the given device.
//
//	store, err := sqlite.NewEventStore("laptop",
//	    sqlite.WithDSN("/path/to/scopes.db"),
//	)
func NewEventStore(deviceID string, opts ...Option) (*EventStore, error) {
	if err := domain.ValidateDeviceID(deviceID); err != nil {
		return nil, err
	}

	config := defaultEventStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}

	db, err := sql.Open("sqlite", config.dsn)
	if err != nil {
		return nil, domain.StorageError(domain.ReasonTransientStorage, err)
	}

	// A :memory: database exists per connection; the pool must not grow.
	if config.dsn == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(config.maxOpenConns)
		db.SetMaxIdleConns(config.maxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	s := &EventStore{
		db:          db,
		deviceID:    deviceID,
		clk:         config.clk,
		subscribers: make(map[int]chan struct{}),
	}

	if config.walMode && config.dsn != ":memory:" {
		if _, err := db.Exec(`
			PRAGMA journal_mode = WAL;
			PRAGMA synchronous = NORMAL;
			PRAGMA foreign_keys = ON;
		`); err != nil {
			db.Close()
			return nil, domain.StorageError(domain.ReasonTransientStorage, err)
		}
	}

	if config.autoMigrate {
		if err := runMigrations(db); err != nil {
			db.Close()
			return nil, domain.StorageError(domain.ReasonTransientStorage, err)
		}
	}

	return s, nil
}

// DB exposes the underlying handle so companion stores (projections,
// checkpoints) can share the database file.
func (s *EventStore) DB() *sql.DB { return s.db }

func (s *EventStore) DeviceID() string { return s.deviceID }

// Append implements store.EventStore.
func (s *EventStore) Append(ctx context.Context, expectedVersion uint64, events []*domain.Event) ([]*domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.TimeoutError(domain.ReasonCancelled, err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	aggregateID := events[0].AggregateID
	for i, event := range events {
		if event.AggregateID != aggregateID {
			return nil, domain.ConcurrencyError(domain.ReasonOrderingViolation,
				"append batch mixes aggregates", domain.ErrOrderingViolation)
		}
		if event.Version != expectedVersion+uint64(i) {
			return nil, domain.ConcurrencyError(domain.ReasonOrderingViolation,
				fmt.Sprintf("event %s carries version %d, expected %d", event.ID, event.Version, expectedVersion+uint64(i)),
				domain.ErrOrderingViolation)
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.StorageError(domain.ReasonTransientStorage, err)
	}
	defer tx.Rollback()

	var current uint64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(aggregate_version), 0) FROM events WHERE aggregate_id = ?`,
		aggregateID,
	).Scan(&current); err != nil {
		return nil, domain.StorageError(domain.ReasonTransientStorage, err)
	}

	if expectedVersion != current+1 {
		return nil, domain.ConcurrencyError(
			domain.ReasonVersionConflict,
			fmt.Sprintf("aggregate %s is at version %d, append expected %d", aggregateID, current, expectedVersion),
			domain.ErrVersionConflict,
		).With("aggregate_id", aggregateID).With("current_version", current)
	}

	for _, event := range events {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM events WHERE event_id = ?`, event.ID,
		).Scan(&n); err != nil {
			return nil, domain.StorageError(domain.ReasonTransientStorage, err)
		}
		if n > 0 {
			return nil, domain.ConcurrencyError(
				domain.ReasonDuplicateEvent,
				fmt.Sprintf("event %s already stored", event.ID),
				domain.ErrDuplicateEvent,
			)
		}
	}

	for _, event := range events {
		if err := s.applyConstraints(ctx, tx, event, aggregateID); err != nil {
			return nil, err
		}
	}

	deviceClock, err := loadClock(ctx, tx, s.deviceID)
	if err != nil {
		return nil, err
	}

	stored := make([]*domain.Event, 0, len(events))
	for _, event := range events {
		e := *event

		now := s.clk.Now()
		if now.Before(e.OccurredAt) {
			now = e.OccurredAt
		}
		e.StoredAt = now

		if e.OriginDevice == s.deviceID {
			deviceClock = deviceClock.Increment(s.deviceID)
			e.Clock = deviceClock.Clone()
		} else {
			deviceClock = deviceClock.Merge(e.Clock)
		}

		clockJSON, err := json.Marshal(e.Clock)
		if err != nil {
			return nil, fmt.Errorf("marshal vector clock: %w", err)
		}
		var constraintsJSON sql.NullString
		if len(e.UniqueConstraints) > 0 {
			b, err := json.Marshal(e.UniqueConstraints)
			if err != nil {
				return nil, fmt.Errorf("marshal constraints: %w", err)
			}
			constraintsJSON = sql.NullString{String: string(b), Valid: true}
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (
				event_id, aggregate_id, aggregate_type, event_type,
				aggregate_version, payload, occurred_at, stored_at,
				origin_device, vector_clock, constraints
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.AggregateID, e.AggregateType, e.EventType,
			int64(e.Version), e.Payload, e.OccurredAt.UnixMilli(), e.StoredAt.UnixMilli(),
			e.OriginDevice, string(clockJSON), constraintsJSON,
		)
		if err != nil {
			return nil, domain.StorageError(domain.ReasonTransientStorage, err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return nil, domain.StorageError(domain.ReasonTransientStorage, err)
		}
		e.Sequence = uint64(seq)

		stored = append(stored, &e)
	}

	if err := saveClock(ctx, tx, s.deviceID, deviceClock); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.StorageError(domain.ReasonTransientStorage, err)
	}

	s.notifySubscribers()
	return stored, nil
}

func (s *EventStore) applyConstraints(ctx context.Context, tx *sql.Tx, event *domain.Event, aggregateID string) error {
	for _, c := range event.UniqueConstraints {
		switch c.Operation {
		case domain.ConstraintClaim:
			var owner string
			err := tx.QueryRowContext(ctx,
				`SELECT aggregate_id FROM unique_constraints WHERE index_name = ? AND value = ?`,
				c.IndexName, c.Value,
			).Scan(&owner)
			if err == nil && owner != aggregateID {
				return (&domain.Error{
					Kind:    domain.KindDomainRule,
					Reason:  c.IndexName,
					Message: fmt.Sprintf("value %q already claimed in index %q", c.Value, c.IndexName),
					Err:     domain.ErrUniqueViolation,
				}).With("index", c.IndexName).With("value", c.Value).With("owner", owner)
			}
			if err != nil && err != sql.ErrNoRows {
				return domain.StorageError(domain.ReasonTransientStorage, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO unique_constraints (index_name, value, aggregate_id, created_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (index_name, value) DO UPDATE SET aggregate_id = excluded.aggregate_id`,
				c.IndexName, c.Value, aggregateID, s.clk.Now().UnixMilli(),
			); err != nil {
				return domain.StorageError(domain.ReasonTransientStorage, err)
			}

		case domain.ConstraintRelease:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM unique_constraints WHERE index_name = ? AND value = ? AND aggregate_id = ?`,
				c.IndexName, c.Value, aggregateID,
			); err != nil {
				return domain.StorageError(domain.ReasonTransientStorage, err)
			}
		}
	}
	return nil
}

func loadClock(ctx context.Context, tx *sql.Tx, deviceID string) (vclock.Clock, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT component_device, counter FROM vector_clock_components WHERE device_id = ?`,
		deviceID,
	)
	if err != nil {
		return nil, domain.StorageError(domain.ReasonTransientStorage, err)
	}
	defer rows.Close()

	c := vclock.New()
	for rows.Next() {
		var component string
		var counter int64
		if err := rows.Scan(&component, &counter); err != nil {
			return nil, domain.StorageError(domain.ReasonTransientStorage, err)
		}
		c[component] = uint64(counter)
	}
	return c, rows.Err()
}

func saveClock(ctx context.Context, tx *sql.Tx, deviceID string, c vclock.Clock) error {
	for component, counter := range c {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vector_clock_components (device_id, component_device, counter)
			VALUES (?, ?, ?)
			ON CONFLICT (device_id, component_device) DO UPDATE SET counter = excluded.counter`,
			deviceID, component, int64(counter),
		); err != nil {
			return domain.StorageError(domain.ReasonTransientStorage, err)
		}
	}
	return nil
}

func (s *EventStore) notifySubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// IsTransient reports whether an error from the store is worth retrying.
// SQLite reports lock contention as busy/locked errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if domain.ReasonOf(err) == domain.ReasonTransientStorage {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// Close closes the database.
func (s *EventStore) Close() error {
	return s.db.Close()
}
