package runner_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamiazya/scopes/pkg/runner"
)

type fakeService struct {
	name     string
	startErr error

	mu      sync.Mutex
	started bool
	stopped bool
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *fakeService) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeService) state() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started, s.stopped
}

func TestRunnerStartsAndStopsServices(t *testing.T) {
	first := &fakeService{name: "first"}
	second := &fakeService{name: "second"}

	r := runner.New([]runner.Service{first, second},
		runner.WithSignalHandling(false),
		runner.WithShutdownTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		s1, _ := first.state()
		s2, _ := second.state()
		if s1 && s2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("services did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	require.NoError(t, <-done)

	_, stopped1 := first.state()
	_, stopped2 := second.state()
	assert.True(t, stopped1)
	assert.True(t, stopped2)
}

func TestRunnerStopsStartedServicesOnFailure(t *testing.T) {
	ok := &fakeService{name: "ok"}
	failing := &fakeService{name: "failing", startErr: errors.New("boom")}

	r := runner.New([]runner.Service{ok, failing},
		runner.WithSignalHandling(false))

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing")

	_, stopped := ok.state()
	assert.True(t, stopped, "already-started services stop on startup failure")
}
