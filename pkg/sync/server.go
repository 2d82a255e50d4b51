package sync

import (
	"context"
	"fmt"

	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/store"
)

// The engine also plays the remote side of the protocol: a transport
// implementation delivers peer requests to HandlePush and HandlePull.

// HandlePush accepts a batch pushed by a registered peer. Incoming events
// run through the same apply/skip/conflict machinery as a pull, except that
// conflicts are never auto-resolved here: resolution strategy belongs to
// the session that initiates a sync, so the passive side records pending
// conflicts and waits. The ack carries the local device clock so the pusher
// can merge it.
func (e *Engine) HandlePush(ctx context.Context, req PushRequest) (*PushAck, error) {
	state, err := e.authPeer(req.FromDevice)
	if err != nil {
		return nil, err
	}

	mu := e.sessionLock(req.FromDevice)
	mu.Lock()
	defer mu.Unlock()

	report := &Report{RemoteDevice: req.FromDevice}
	if err := e.acceptBatch(ctx, state, StrategyManual, req.Events, report); err != nil {
		return nil, err
	}

	for _, event := range req.Events {
		state.RemoteClock = state.RemoteClock.Merge(event.Clock)
	}
	state.LastPullAt = e.clk.Now()
	if err := e.devices.SaveDeviceState(state); err != nil {
		return nil, err
	}

	localClock, err := e.events.DeviceClock(ctx)
	if err != nil {
		return nil, err
	}
	return &PushAck{
		Accepted:    report.Applied + report.Skipped,
		RemoteClock: localClock,
	}, nil
}

// HandlePull serves a peer's pull: every stored event whose origin
// component exceeds the request's Known clock, excluding events the peer
// itself originated.
func (e *Engine) HandlePull(ctx context.Context, req PullRequest) (*Batch, error) {
	if _, err := e.authPeer(req.FromDevice); err != nil {
		return nil, err
	}

	var out []*domain.Event
	cursor := uint64(0)
	for {
		batch, err := e.events.EventsSince(ctx, cursor, e.opts.BatchSize)
		if err != nil {
			return nil, err
		}
		for _, event := range batch {
			cursor = event.Sequence
			if event.OriginDevice == req.FromDevice {
				continue
			}
			if event.Clock.Get(event.OriginDevice) > req.Known.Get(event.OriginDevice) {
				out = append(out, event)
			}
		}
		if len(batch) < e.opts.BatchSize {
			break
		}
	}

	localClock, err := e.events.DeviceClock(ctx)
	if err != nil {
		return nil, err
	}
	return &Batch{Events: out, RemoteClock: localClock}, nil
}

func (e *Engine) authPeer(deviceID string) (*store.DeviceSyncState, error) {
	if err := domain.ValidateDeviceID(deviceID); err != nil {
		return nil, err
	}
	state, err := e.devices.DeviceState(deviceID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, domain.SyncError(domain.ReasonAuthFailed,
			fmt.Sprintf("device %q is not registered here", deviceID), nil)
	}
	return state, nil
}
