package store

import (
	"time"

	"github.com/kamiazya/scopes/pkg/vclock"
)

// SyncStatus is the lifecycle state of a sync session with a peer.
type SyncStatus string

const (
	SyncIdle      SyncStatus = "idle"
	SyncPushing   SyncStatus = "pushing"
	SyncPulling   SyncStatus = "pulling"
	SyncResolving SyncStatus = "resolving"
	SyncFailed    SyncStatus = "failed"
)

// DeviceSyncState records what we know about one remote device.
type DeviceSyncState struct {
	DeviceID     string
	RegisteredAt time.Time
	LastSyncAt   time.Time
	LastPushAt   time.Time
	LastPullAt   time.Time

	// PushCursor is the local sequence number up to which events have been
	// acknowledged by the peer.
	PushCursor uint64

	// RemoteClock is the peer's vector clock as of the last exchange.
	RemoteClock vclock.Clock

	Status SyncStatus

	// PendingEvents is the count of local events not yet pushed.
	PendingEvents uint64
}

// DeviceStateStore persists per-device sync state.
type DeviceStateStore interface {
	// SaveDeviceState inserts or updates a device record.
	SaveDeviceState(state *DeviceSyncState) error

	// DeviceState loads a device record, nil if unknown.
	DeviceState(deviceID string) (*DeviceSyncState, error)

	// ListDevices returns all registered devices ordered by ID.
	ListDevices() ([]*DeviceSyncState, error)

	// DeleteDeviceState removes a device record.
	DeleteDeviceState(deviceID string) error
}
