package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/store"
	"github.com/kamiazya/scopes/pkg/vclock"
)

// CheckpointStore persists projection checkpoints in the shared database.
type CheckpointStore struct {
	db *sql.DB
}

// NewCheckpointStore wraps an existing database handle, typically
// eventStore.DB().
func NewCheckpointStore(db *sql.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

func (s *CheckpointStore) Save(checkpoint *store.ProjectionCheckpoint) error {
	_, err := s.db.Exec(`
		INSERT INTO projection_checkpoints (projection_name, position, last_event_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (projection_name) DO UPDATE SET
			position = excluded.position,
			last_event_id = excluded.last_event_id,
			updated_at = excluded.updated_at`,
		checkpoint.ProjectionName, int64(checkpoint.Position),
		checkpoint.LastEventID, checkpoint.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return domain.StorageError(domain.ReasonTransientStorage, err)
	}
	return nil
}

func (s *CheckpointStore) Load(projectionName string) (*store.ProjectionCheckpoint, error) {
	var (
		position    int64
		lastEventID string
		updatedAt   int64
	)
	err := s.db.QueryRow(`
		SELECT position, last_event_id, updated_at
		FROM projection_checkpoints WHERE projection_name = ?`,
		projectionName,
	).Scan(&position, &lastEventID, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageError(domain.ReasonTransientStorage, err)
	}

	return &store.ProjectionCheckpoint{
		ProjectionName: projectionName,
		Position:       uint64(position),
		LastEventID:    lastEventID,
		UpdatedAt:      time.UnixMilli(updatedAt).UTC(),
	}, nil
}

func (s *CheckpointStore) Delete(projectionName string) error {
	_, err := s.db.Exec(`DELETE FROM projection_checkpoints WHERE projection_name = ?`, projectionName)
	if err != nil {
		return domain.StorageError(domain.ReasonTransientStorage, err)
	}
	return nil
}

// SnapshotStore persists aggregate snapshots in the shared database,
// keeping only the most recent per aggregate.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) SaveSnapshot(snapshot *store.Snapshot) error {
	createdAt := snapshot.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO snapshots (aggregate_id, aggregate_type, version, data, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (aggregate_id) DO UPDATE SET
			aggregate_type = excluded.aggregate_type,
			version = excluded.version,
			data = excluded.data,
			created_at = excluded.created_at
		WHERE excluded.version > snapshots.version`,
		snapshot.AggregateID, snapshot.AggregateType,
		int64(snapshot.Version), snapshot.Data, createdAt.UnixMilli(),
	)
	if err != nil {
		return domain.StorageError(domain.ReasonTransientStorage, err)
	}
	return nil
}

func (s *SnapshotStore) LatestSnapshot(aggregateID string) (*store.Snapshot, error) {
	snap := &store.Snapshot{AggregateID: aggregateID}
	var version, createdAt int64
	err := s.db.QueryRow(`
		SELECT aggregate_type, version, data, created_at
		FROM snapshots WHERE aggregate_id = ?`,
		aggregateID,
	).Scan(&snap.AggregateType, &version, &snap.Data, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageError(domain.ReasonTransientStorage, err)
	}
	snap.Version = uint64(version)
	snap.CreatedAt = time.UnixMilli(createdAt).UTC()
	return snap, nil
}

func (s *SnapshotStore) DeleteSnapshots(aggregateID string) error {
	_, err := s.db.Exec(`DELETE FROM snapshots WHERE aggregate_id = ?`, aggregateID)
	if err != nil {
		return domain.StorageError(domain.ReasonTransientStorage, err)
	}
	return nil
}

// DeviceStateStore persists per-device sync state in the shared database.
type DeviceStateStore struct {
	db *sql.DB
}

func NewDeviceStateStore(db *sql.DB) *DeviceStateStore {
	return &DeviceStateStore{db: db}
}

func (s *DeviceStateStore) SaveDeviceState(state *store.DeviceSyncState) error {
	clockJSON, err := json.Marshal(state.RemoteClock)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO device_sync_state (
			device_id, registered_at, last_sync_at, last_push_at, last_pull_at,
			push_cursor, remote_clock, status, pending_events
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET
			last_sync_at = excluded.last_sync_at,
			last_push_at = excluded.last_push_at,
			last_pull_at = excluded.last_pull_at,
			push_cursor = excluded.push_cursor,
			remote_clock = excluded.remote_clock,
			status = excluded.status,
			pending_events = excluded.pending_events`,
		state.DeviceID, state.RegisteredAt.UnixMilli(),
		unixMilliOrZero(state.LastSyncAt), unixMilliOrZero(state.LastPushAt), unixMilliOrZero(state.LastPullAt),
		int64(state.PushCursor), string(clockJSON), string(state.Status), int64(state.PendingEvents),
	)
	if err != nil {
		return domain.StorageError(domain.ReasonTransientStorage, err)
	}
	return nil
}

func (s *DeviceStateStore) DeviceState(deviceID string) (*store.DeviceSyncState, error) {
	row := s.db.QueryRow(`
		SELECT device_id, registered_at, last_sync_at, last_push_at, last_pull_at,
			push_cursor, remote_clock, status, pending_events
		FROM device_sync_state WHERE device_id = ?`, deviceID)

	state, err := scanDeviceState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageError(domain.ReasonTransientStorage, err)
	}
	return state, nil
}

func (s *DeviceStateStore) ListDevices() ([]*store.DeviceSyncState, error) {
	rows, err := s.db.Query(`
		SELECT device_id, registered_at, last_sync_at, last_push_at, last_pull_at,
			push_cursor, remote_clock, status, pending_events
		FROM device_sync_state ORDER BY device_id ASC`)
	if err != nil {
		return nil, domain.StorageError(domain.ReasonTransientStorage, err)
	}
	defer rows.Close()

	var out []*store.DeviceSyncState
	for rows.Next() {
		state, err := scanDeviceState(rows)
		if err != nil {
			return nil, domain.StorageError(domain.ReasonTransientStorage, err)
		}
		out = append(out, state)
	}
	return out, rows.Err()
}

func (s *DeviceStateStore) DeleteDeviceState(deviceID string) error {
	_, err := s.db.Exec(`DELETE FROM device_sync_state WHERE device_id = ?`, deviceID)
	if err != nil {
		return domain.StorageError(domain.ReasonTransientStorage, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeviceState(row rowScanner) (*store.DeviceSyncState, error) {
	var (
		state                                        store.DeviceSyncState
		registered, lastSync, lastPush, lastPull     int64
		pushCursor, pending                          int64
		clockJSON, status                            string
	)
	if err := row.Scan(
		&state.DeviceID, &registered, &lastSync, &lastPush, &lastPull,
		&pushCursor, &clockJSON, &status, &pending,
	); err != nil {
		return nil, err
	}

	state.RegisteredAt = time.UnixMilli(registered).UTC()
	state.LastSyncAt = timeOrZero(lastSync)
	state.LastPushAt = timeOrZero(lastPush)
	state.LastPullAt = timeOrZero(lastPull)
	state.PushCursor = uint64(pushCursor)
	state.PendingEvents = uint64(pending)
	state.Status = store.SyncStatus(status)

	state.RemoteClock = vclock.New()
	if err := json.Unmarshal([]byte(clockJSON), &state.RemoteClock); err != nil {
		return nil, err
	}
	return &state, nil
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func timeOrZero(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// ConflictStore persists sync conflicts in the shared database.
type ConflictStore struct {
	db *sql.DB
}

func NewConflictStore(db *sql.DB) *ConflictStore {
	return &ConflictStore{db: db}
}

func (s *ConflictStore) SaveConflict(conflict *store.Conflict) error {
	_, err := s.db.Exec(`
		INSERT INTO conflicts (
			conflict_id, aggregate_id, local_event_id, remote_event_id,
			remote_device, kind, detected_at, resolution, resolved, resolved_at,
			remote_event
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conflict_id) DO UPDATE SET
			resolution = excluded.resolution,
			resolved = excluded.resolved,
			resolved_at = excluded.resolved_at`,
		conflict.ID, conflict.AggregateID, conflict.LocalEventID, conflict.RemoteEventID,
		conflict.RemoteDevice, string(conflict.Kind), conflict.DetectedAt.UnixMilli(),
		string(conflict.Resolution), boolToInt(conflict.Resolved), unixMilliOrZero(conflict.ResolvedAt),
		conflict.RemoteEvent,
	)
	if err != nil {
		return domain.StorageError(domain.ReasonTransientStorage, err)
	}
	return nil
}

func (s *ConflictStore) Conflict(id string) (*store.Conflict, error) {
	row := s.db.QueryRow(`
		SELECT conflict_id, aggregate_id, local_event_id, remote_event_id,
			remote_device, kind, detected_at, resolution, resolved, resolved_at,
			remote_event
		FROM conflicts WHERE conflict_id = ?`, id)

	c, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageError(domain.ReasonTransientStorage, err)
	}
	return c, nil
}

func (s *ConflictStore) ListConflicts(remoteDevice string, includeResolved bool) ([]*store.Conflict, error) {
	q := `SELECT conflict_id, aggregate_id, local_event_id, remote_event_id,
			remote_device, kind, detected_at, resolution, resolved, resolved_at,
			remote_event
		FROM conflicts WHERE 1 = 1`
	var args []any
	if remoteDevice != "" {
		q += ` AND remote_device = ?`
		args = append(args, remoteDevice)
	}
	if !includeResolved {
		q += ` AND resolved = 0`
	}
	q += ` ORDER BY resolved ASC, detected_at ASC`

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, domain.StorageError(domain.ReasonTransientStorage, err)
	}
	defer rows.Close()

	var out []*store.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, domain.StorageError(domain.ReasonTransientStorage, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *ConflictStore) MarkResolved(id string, action store.ResolutionAction, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE conflicts SET resolved = 1, resolution = ?, resolved_at = ?
		WHERE conflict_id = ?`,
		string(action), at.UnixMilli(), id,
	)
	if err != nil {
		return domain.StorageError(domain.ReasonTransientStorage, err)
	}
	return nil
}

func scanConflict(row rowScanner) (*store.Conflict, error) {
	var (
		c                      store.Conflict
		kind, resolution       string
		detectedAt, resolvedAt int64
		resolved               int64
	)
	if err := row.Scan(
		&c.ID, &c.AggregateID, &c.LocalEventID, &c.RemoteEventID,
		&c.RemoteDevice, &kind, &detectedAt, &resolution, &resolved, &resolvedAt,
		&c.RemoteEvent,
	); err != nil {
		return nil, err
	}
	c.Kind = store.ConflictKind(kind)
	c.Resolution = store.ResolutionAction(resolution)
	c.DetectedAt = time.UnixMilli(detectedAt).UTC()
	c.Resolved = resolved != 0
	c.ResolvedAt = timeOrZero(resolvedAt)
	return &c, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
