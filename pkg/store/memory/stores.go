package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/kamiazya/scopes/pkg/store"
)

// CheckpointStore is an in-memory store.CheckpointStore.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]store.ProjectionCheckpoint
}

func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{checkpoints: make(map[string]store.ProjectionCheckpoint)}
}

func (s *CheckpointStore) Save(checkpoint *store.ProjectionCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[checkpoint.ProjectionName] = *checkpoint
	return nil
}

func (s *CheckpointStore) Load(projectionName string) (*store.ProjectionCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[projectionName]
	if !ok {
		return nil, nil
	}
	out := cp
	return &out, nil
}

func (s *CheckpointStore) Delete(projectionName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, projectionName)
	return nil
}

// SnapshotStore is an in-memory store.SnapshotStore keeping only the most
// recent snapshot per aggregate.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]store.Snapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: make(map[string]store.Snapshot)}
}

func (s *SnapshotStore) SaveSnapshot(snapshot *store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.snapshots[snapshot.AggregateID]
	if ok && existing.Version >= snapshot.Version {
		return nil
	}
	snap := *snapshot
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	snap.Data = append([]byte(nil), snapshot.Data...)
	s.snapshots[snapshot.AggregateID] = snap
	return nil
}

func (s *SnapshotStore) LatestSnapshot(aggregateID string) (*store.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	out := snap
	return &out, nil
}

func (s *SnapshotStore) DeleteSnapshots(aggregateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, aggregateID)
	return nil
}

// DeviceStateStore is an in-memory store.DeviceStateStore.
type DeviceStateStore struct {
	mu      sync.RWMutex
	devices map[string]store.DeviceSyncState
}

func NewDeviceStateStore() *DeviceStateStore {
	return &DeviceStateStore{devices: make(map[string]store.DeviceSyncState)}
}

func (s *DeviceStateStore) SaveDeviceState(state *store.DeviceSyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := *state
	st.RemoteClock = state.RemoteClock.Clone()
	s.devices[state.DeviceID] = st
	return nil
}

func (s *DeviceStateStore) DeviceState(deviceID string) (*store.DeviceSyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.devices[deviceID]
	if !ok {
		return nil, nil
	}
	out := st
	out.RemoteClock = st.RemoteClock.Clone()
	return &out, nil
}

func (s *DeviceStateStore) ListDevices() ([]*store.DeviceSyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*store.DeviceSyncState, 0, len(s.devices))
	for _, st := range s.devices {
		cp := st
		cp.RemoteClock = st.RemoteClock.Clone()
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (s *DeviceStateStore) DeleteDeviceState(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, deviceID)
	return nil
}

// ConflictStore is an in-memory store.ConflictStore.
type ConflictStore struct {
	mu        sync.RWMutex
	conflicts map[string]store.Conflict
}

func NewConflictStore() *ConflictStore {
	return &ConflictStore{conflicts: make(map[string]store.Conflict)}
}

func (s *ConflictStore) SaveConflict(conflict *store.Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts[conflict.ID] = *conflict
	return nil
}

func (s *ConflictStore) Conflict(id string) (*store.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, nil
	}
	out := c
	return &out, nil
}

func (s *ConflictStore) ListConflicts(remoteDevice string, includeResolved bool) ([]*store.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.Conflict
	for _, c := range s.conflicts {
		if remoteDevice != "" && c.RemoteDevice != remoteDevice {
			continue
		}
		if c.Resolved && !includeResolved {
			continue
		}
		cp := c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resolved != out[j].Resolved {
			return !out[i].Resolved
		}
		return out[i].DetectedAt.Before(out[j].DetectedAt)
	})
	return out, nil
}

func (s *ConflictStore) MarkResolved(id string, action store.ResolutionAction, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conflicts[id]
	if !ok {
		return nil
	}
	c.Resolved = true
	c.Resolution = action
	c.ResolvedAt = at
	s.conflicts[id] = c
	return nil
}
