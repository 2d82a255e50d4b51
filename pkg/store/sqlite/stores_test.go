package sqlite_test

import (
	"testing"
	"time"

	"github.com/kamiazya/scopes/pkg/store"
	"github.com/kamiazya/scopes/pkg/store/sqlite"
	"github.com/kamiazya/scopes/pkg/vclock"
)

func TestCheckpointStore(t *testing.T) {
	events := newStore(t)
	checkpoints := sqlite.NewCheckpointStore(events.DB())

	loaded, err := checkpoints.Load("projections")
	if err != nil || loaded != nil {
		t.Fatalf("missing checkpoint should load as nil, got %+v (%v)", loaded, err)
	}

	cp := &store.ProjectionCheckpoint{
		ProjectionName: "projections",
		Position:       42,
		LastEventID:    "evt-42",
		UpdatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := checkpoints.Save(cp); err != nil {
		t.Fatalf("save: %v", err)
	}

	cp.Position = 43
	if err := checkpoints.Save(cp); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	loaded, err = checkpoints.Load("projections")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Position != 43 || loaded.LastEventID != "evt-42" {
		t.Errorf("unexpected checkpoint: %+v", loaded)
	}

	if err := checkpoints.Delete("projections"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	loaded, _ = checkpoints.Load("projections")
	if loaded != nil {
		t.Error("checkpoint should be gone after delete")
	}
}

func TestSnapshotStore(t *testing.T) {
	events := newStore(t)
	snapshots := sqlite.NewSnapshotStore(events.DB())

	if err := snapshots.SaveSnapshot(&store.Snapshot{
		AggregateID: "agg-1", AggregateType: "Scope", Version: 10, Data: []byte(`{"v":10}`),
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	// An older snapshot must not replace a newer one.
	if err := snapshots.SaveSnapshot(&store.Snapshot{
		AggregateID: "agg-1", AggregateType: "Scope", Version: 5, Data: []byte(`{"v":5}`),
	}); err != nil {
		t.Fatalf("save older: %v", err)
	}

	snap, err := snapshots.LatestSnapshot("agg-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Version != 10 {
		t.Errorf("older snapshot overwrote newer: %+v", snap)
	}

	if err := snapshots.DeleteSnapshots("agg-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	snap, _ = snapshots.LatestSnapshot("agg-1")
	if snap != nil {
		t.Error("snapshot should be gone after delete")
	}
}

func TestDeviceStateStore(t *testing.T) {
	events := newStore(t)
	devices := sqlite.NewDeviceStateStore(events.DB())

	state := &store.DeviceSyncState{
		DeviceID:     "phone",
		RegisteredAt: time.Now().UTC().Truncate(time.Millisecond),
		PushCursor:   7,
		RemoteClock:  vclock.Clock{"phone": 3},
		Status:       store.SyncIdle,
	}
	if err := devices.SaveDeviceState(state); err != nil {
		t.Fatalf("save: %v", err)
	}

	state.Status = store.SyncPushing
	state.LastPushAt = time.Now().UTC().Truncate(time.Millisecond)
	if err := devices.SaveDeviceState(state); err != nil {
		t.Fatalf("update: %v", err)
	}

	loaded, err := devices.DeviceState("phone")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Status != store.SyncPushing || loaded.PushCursor != 7 {
		t.Errorf("unexpected state: %+v", loaded)
	}
	if loaded.RemoteClock.Get("phone") != 3 {
		t.Errorf("remote clock did not round-trip: %v", loaded.RemoteClock)
	}
	if !loaded.LastSyncAt.IsZero() {
		t.Errorf("zero time should stay zero, got %v", loaded.LastSyncAt)
	}

	list, err := devices.ListDevices()
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %d", err, len(list))
	}

	if err := devices.DeleteDeviceState("phone"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	loaded, _ = devices.DeviceState("phone")
	if loaded != nil {
		t.Error("device should be gone after delete")
	}
}

func TestConflictStore(t *testing.T) {
	events := newStore(t)
	conflicts := sqlite.NewConflictStore(events.DB())

	c := &store.Conflict{
		ID:            "conf-1",
		AggregateID:   "agg-1",
		LocalEventID:  "evt-local",
		RemoteEventID: "evt-remote",
		RemoteDevice:  "phone",
		Kind:          store.ConflictConcurrentModification,
		DetectedAt:    time.Now().UTC().Truncate(time.Millisecond),
		Resolution:    store.ResolutionPending,
		RemoteEvent:   []byte(`{"ID":"evt-remote"}`),
	}
	if err := conflicts.SaveConflict(c); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := conflicts.Conflict("conf-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Kind != store.ConflictConcurrentModification || loaded.Resolved {
		t.Errorf("unexpected conflict: %+v", loaded)
	}
	if string(loaded.RemoteEvent) != `{"ID":"evt-remote"}` {
		t.Errorf("remote event did not round-trip: %s", loaded.RemoteEvent)
	}

	open, err := conflicts.ListConflicts("phone", false)
	if err != nil || len(open) != 1 {
		t.Fatalf("list unresolved: %v %d", err, len(open))
	}

	if err := conflicts.MarkResolved("conf-1", store.ResolutionLocalKept, time.Now().UTC()); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	open, _ = conflicts.ListConflicts("phone", false)
	if len(open) != 0 {
		t.Error("resolved conflict still listed as unresolved")
	}
	all, _ := conflicts.ListConflicts("phone", true)
	if len(all) != 1 || !all[0].Resolved || all[0].Resolution != store.ResolutionLocalKept {
		t.Errorf("resolved conflict not recorded: %+v", all)
	}
}
