package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/store"
	"github.com/kamiazya/scopes/pkg/vclock"
)

const eventColumns = `sequence, event_id, aggregate_id, aggregate_type, event_type,
	aggregate_version, payload, occurred_at, stored_at, origin_device, vector_clock, constraints`

type eventRow struct {
	sequence         int64
	eventID          string
	aggregateID      string
	aggregateType    string
	eventType        string
	aggregateVersion int64
	payload          []byte
	occurredAt       int64
	storedAt         int64
	originDevice     string
	vectorClock      string
	constraints      sql.NullString
}

func (s *EventStore) scanEvents(rows *sql.Rows) ([]*domain.Event, error) {
	var out []*domain.Event
	for rows.Next() {
		var r eventRow
		if err := rows.Scan(
			&r.sequence, &r.eventID, &r.aggregateID, &r.aggregateType, &r.eventType,
			&r.aggregateVersion, &r.payload, &r.occurredAt, &r.storedAt,
			&r.originDevice, &r.vectorClock, &r.constraints,
		); err != nil {
			return nil, domain.StorageError(domain.ReasonTransientStorage, err)
		}

		event, err := r.toEvent()
		if err != nil {
			// Query surfaces skip undecodable rows but never silently:
			// the health counter records every skip.
			s.skipped.Add(1)
			s.lastSkipReason.Store(fmt.Sprintf("event %s: %v", r.eventID, err))
			continue
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError(domain.ReasonTransientStorage, err)
	}
	return out, nil
}

func (r *eventRow) toEvent() (*domain.Event, error) {
	var clk vclock.Clock
	if err := json.Unmarshal([]byte(r.vectorClock), &clk); err != nil {
		return nil, fmt.Errorf("vector clock does not decode: %w", err)
	}

	event := &domain.Event{
		ID:            r.eventID,
		AggregateID:   r.aggregateID,
		AggregateType: r.aggregateType,
		EventType:     r.eventType,
		Version:       uint64(r.aggregateVersion),
		Payload:       r.payload,
		OccurredAt:    time.UnixMilli(r.occurredAt).UTC(),
		StoredAt:      time.UnixMilli(r.storedAt).UTC(),
		Sequence:      uint64(r.sequence),
		OriginDevice:  r.originDevice,
		Clock:         clk,
	}
	if r.constraints.Valid && r.constraints.String != "" {
		if err := json.Unmarshal([]byte(r.constraints.String), &event.UniqueConstraints); err != nil {
			return nil, fmt.Errorf("constraints do not decode: %w", err)
		}
	}
	return event, nil
}

func (s *EventStore) query(ctx context.Context, q string, args ...any) ([]*domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.TimeoutError(domain.ReasonCancelled, err)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, domain.StorageError(domain.ReasonTransientStorage, err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

func withLimit(q string, limit int) (string, bool) {
	if limit > 0 {
		return q + " LIMIT ?", true
	}
	return q, false
}

func (s *EventStore) EventsByAggregate(ctx context.Context, aggregateID string, sinceVersion uint64, limit int) ([]*domain.Event, error) {
	q := `SELECT ` + eventColumns + `
		FROM events WHERE aggregate_id = ? AND aggregate_version > ?
		ORDER BY aggregate_version ASC`
	q, limited := withLimit(q, limit)
	args := []any{aggregateID, int64(sinceVersion)}
	if limited {
		args = append(args, limit)
	}
	return s.query(ctx, q, args...)
}

func (s *EventStore) EventsSince(ctx context.Context, cursor uint64, limit int) ([]*domain.Event, error) {
	q := `SELECT ` + eventColumns + `
		FROM events WHERE sequence > ?
		ORDER BY sequence ASC`
	q, limited := withLimit(q, limit)
	args := []any{int64(cursor)}
	if limited {
		args = append(args, limit)
	}
	return s.query(ctx, q, args...)
}

func (s *EventStore) EventsByType(ctx context.Context, eventType string, cursor uint64, limit int) ([]*domain.Event, error) {
	q := `SELECT ` + eventColumns + `
		FROM events WHERE event_type = ? AND sequence > ?
		ORDER BY sequence ASC`
	q, limited := withLimit(q, limit)
	args := []any{eventType, int64(cursor)}
	if limited {
		args = append(args, limit)
	}
	return s.query(ctx, q, args...)
}

func (s *EventStore) EventsByTimeRange(ctx context.Context, from, to time.Time) ([]*domain.Event, error) {
	return s.query(ctx, `SELECT `+eventColumns+`
		FROM events WHERE occurred_at >= ? AND occurred_at < ?
		ORDER BY sequence ASC`,
		from.UnixMilli(), to.UnixMilli())
}

func (s *EventStore) LatestVersion(ctx context.Context, aggregateID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.TimeoutError(domain.ReasonCancelled, err)
	}

	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(aggregate_version), 0) FROM events WHERE aggregate_id = ?`,
		aggregateID,
	).Scan(&version)
	if err != nil {
		return 0, domain.StorageError(domain.ReasonTransientStorage, err)
	}
	return uint64(version), nil
}

func (s *EventStore) EventCount(ctx context.Context, aggregateID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.TimeoutError(domain.ReasonCancelled, err)
	}

	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE aggregate_id = ?`, aggregateID,
	).Scan(&n)
	if err != nil {
		return 0, domain.StorageError(domain.ReasonTransientStorage, err)
	}
	return uint64(n), nil
}

func (s *EventStore) ContainsEvent(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domain.TimeoutError(domain.ReasonCancelled, err)
	}

	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE event_id = ?`, eventID,
	).Scan(&n)
	if err != nil {
		return false, domain.StorageError(domain.ReasonTransientStorage, err)
	}
	return n > 0, nil
}

func (s *EventStore) DeviceClock(ctx context.Context) (vclock.Clock, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.TimeoutError(domain.ReasonCancelled, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT component_device, counter FROM vector_clock_components WHERE device_id = ?`,
		s.deviceID,
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

// Stream produces events in sequence order as they are appended, starting
// after cursor. The channel closes when ctx is cancelled.
func (s *EventStore) Stream(ctx context.Context, cursor uint64) (<-chan *domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.TimeoutError(domain.ReasonCancelled, err)
	}

	notify := make(chan struct{}, 1)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = notify
	s.subMu.Unlock()

	out := make(chan *domain.Event)
	go func() {
		defer close(out)
		defer func() {
			s.subMu.Lock()
			delete(s.subscribers, id)
			s.subMu.Unlock()
		}()

		pos := cursor
		for {
			batch, err := s.EventsSince(ctx, pos, 256)
			if err != nil {
				return
			}
			for _, e := range batch {
				select {
				case out <- e:
					pos = e.Sequence
				case <-ctx.Done():
					return
				}
			}
			if len(batch) == 256 {
				continue
			}

			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (s *EventStore) Health() store.HealthReport {
	reason, _ := s.lastSkipReason.Load().(string)
	return store.HealthReport{
		SkippedRecords: s.skipped.Load(),
		LastSkipReason: reason,
	}
}
