package sync

import (
	"context"
	gosync "sync"
)

// Loopback is an in-process transport connecting engines directly. Tests
// and single-process multi-store setups use it; the suspension contract is
// the same as any network transport since every call still takes a context.
type Loopback struct {
	mu      gosync.RWMutex
	peers   map[string]*Engine
	offline map[string]bool
}

// NewLoopback creates an empty loopback fabric.
func NewLoopback() *Loopback {
	return &Loopback{
		peers:   make(map[string]*Engine),
		offline: make(map[string]bool),
	}
}

// Attach registers an engine under its local device id.
func (l *Loopback) Attach(engine *Engine) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.peers[engine.LocalDevice()] = engine
}

// SetOffline simulates an unreachable peer.
func (l *Loopback) SetOffline(deviceID string, offline bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offline[deviceID] = offline
}

func (l *Loopback) peer(deviceID string) (*Engine, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.offline[deviceID] {
		return nil, ErrUnreachable
	}
	engine, ok := l.peers[deviceID]
	if !ok {
		return nil, ErrUnreachable
	}
	return engine, nil
}

func (l *Loopback) Push(ctx context.Context, remoteDevice string, req PushRequest) (*PushAck, error) {
	engine, err := l.peer(remoteDevice)
	if err != nil {
		return nil, err
	}
	return engine.HandlePush(ctx, req)
}

func (l *Loopback) Pull(ctx context.Context, remoteDevice string, req PullRequest) (*Batch, error) {
	engine, err := l.peer(remoteDevice)
	if err != nil {
		return nil, err
	}
	return engine.HandlePull(ctx, req)
}
