// Package sync implements the multi-device synchronization engine: pushing
// and pulling event batches through a pluggable peer transport, detecting
// conflicts by vector-clock causality, and resolving them by strategy —
// always by appending events, never by rewriting history.
package sync

import (
	"context"

	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/vclock"
)

// Transport is the peer transport port. Implementations move event batches
// between devices; the engine never sees the carrier. Errors must match the
// typed set below so the engine can classify failures.
type Transport interface {
	// Push delivers locally originated events to the peer. The peer
	// acknowledges with its current vector clock.
	Push(ctx context.Context, remoteDevice string, req PushRequest) (*PushAck, error)

	// Pull asks the peer for the events the requester lacks, judged
	// against the vector clock carried in the request.
	Pull(ctx context.Context, remoteDevice string, req PullRequest) (*Batch, error)
}

// PushRequest carries one outgoing batch.
type PushRequest struct {
	FromDevice string
	Events     []*domain.Event

	// SinceCursor is the local sequence the batch starts after. HandlePush
	// does not read it; repeated events are skipped by event ID.
	SinceCursor uint64
}

// PushAck acknowledges a received batch.
type PushAck struct {
	Accepted    int
	RemoteClock vclock.Clock
}

// PullRequest asks for events the requester has not seen.
type PullRequest struct {
	FromDevice string

	// Known is the vector clock of the requester's own log: Engine.pull
	// sends its local device clock, not the clock it has recorded for the
	// peer. The peer returns events whose origin component exceeds it.
	Known vclock.Clock
}

// Batch is one incoming set of events plus the peer's clock at send time.
type Batch struct {
	Events      []*domain.Event
	RemoteClock vclock.Clock
}

// Typed transport error prototypes. Implementations return errors matching
// these via errors.Is; the engine maps anything else to peer-unreachable.
var (
	ErrUnreachable      = domain.SyncError(domain.ReasonPeerUnreachable, "peer is unreachable", nil)
	ErrAuthFailed       = domain.SyncError(domain.ReasonAuthFailed, "peer rejected authentication", nil)
	ErrProtocolMismatch = domain.SyncError(domain.ReasonProtocolMismatch, "peer speaks an incompatible protocol version", nil)
	ErrTimeout          = domain.SyncError(domain.ReasonDeadlineExceeded, "peer did not answer in time", nil)
)
