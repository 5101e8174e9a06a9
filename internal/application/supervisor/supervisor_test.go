package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instantSleep(s *Supervisor) {
	s.sleep = func(ctx context.Context, _ time.Duration) bool {
		return ctx.Err() == nil
	}
}

type transitionLog struct {
	mu      sync.Mutex
	entries []State
}

func (tl *transitionLog) record(_ string, state State, _ int) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.entries = append(tl.entries, state)
}

func (tl *transitionLog) states() []State {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]State(nil), tl.entries...)
}

func TestBackoff(t *testing.T) {
	s := New(Config{BaseDelay: time.Second, MaxDelay: 30 * time.Second}, Hooks{}, zerolog.Nop())

	assert.Equal(t, time.Second, s.Backoff(1))
	assert.Equal(t, 2*time.Second, s.Backoff(2))
	assert.Equal(t, 4*time.Second, s.Backoff(3))
	assert.Equal(t, 16*time.Second, s.Backoff(5))

	// capped, never decreasing
	assert.Equal(t, 30*time.Second, s.Backoff(6))
	assert.Equal(t, 30*time.Second, s.Backoff(12))

	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := s.Backoff(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}

func TestRunExhaustsAttempts(t *testing.T) {
	tl := &transitionLog{}
	connects := 0
	s := New(Config{Channel: "session:s1", MaxAttempts: 3, BaseDelay: time.Millisecond}, Hooks{
		Connect: func(context.Context) (func(), error) {
			connects++
			return nil, errors.New("transport down")
		},
		OnStateChange: tl.record,
	}, zerolog.Nop())
	instantSleep(s)

	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, 3, connects)

	states := tl.states()
	require.NotEmpty(t, states)
	assert.Equal(t, StateFailed, states[len(states)-1])
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tl := &transitionLog{}
	s := New(Config{Channel: "session:s1", MaxAttempts: 100}, Hooks{
		Connect: func(context.Context) (func(), error) {
			cancel()
			return nil, errors.New("transport down")
		},
		OnStateChange: tl.record,
	}, zerolog.Nop())

	err := s.Run(ctx)
	require.NoError(t, err)
	states := tl.states()
	assert.Equal(t, StateClosed, states[len(states)-1])
}

func TestRunResetsAttemptCounterAfterOpen(t *testing.T) {
	var mu sync.Mutex
	attemptsAtOpen := []int{}
	connects := 0

	ctx, cancel := context.WithCancel(context.Background())
	s := New(Config{
		Channel:         "session:s1",
		MaxAttempts:     3,
		BaseDelay:       time.Millisecond,
		LivenessTimeout: 30 * time.Millisecond,
	}, Hooks{
		Connect: func(context.Context) (func(), error) {
			connects++
			// fail twice, open, then fail twice again, open again
			switch connects {
			case 1, 2, 4, 5:
				return nil, errors.New("transport down")
			}
			return func() {}, nil
		},
		OnOpen: func(context.Context) {},
		LastActivity: func() time.Time {
			// stale forever, so every open closes via liveness
			return time.Time{}
		},
		OnStateChange: func(_ string, state State, attempt int) {
			if state == StateOpen {
				mu.Lock()
				attemptsAtOpen = append(attemptsAtOpen, attempt)
				if len(attemptsAtOpen) == 2 {
					cancel()
				}
				mu.Unlock()
			}
		},
	}, zerolog.Nop())
	instantSleep(s)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, attemptsAtOpen, 2)
	// two consecutive failures before the second open still leave the
	// counter reset: the ceiling of 3 was never hit
	assert.Equal(t, []int{0, 0}, attemptsAtOpen)
	assert.GreaterOrEqual(t, connects, 6)
}

func TestServeOpenLivenessForcesReconnect(t *testing.T) {
	opened := make(chan struct{}, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	openCount := 0
	var mu sync.Mutex
	s := New(Config{
		Channel:         "session:s1",
		BaseDelay:       time.Millisecond,
		LivenessTimeout: 30 * time.Millisecond,
	}, Hooks{
		Connect: func(context.Context) (func(), error) {
			return func() {}, nil
		},
		LastActivity: func() time.Time { return time.Time{} },
		OnStateChange: func(_ string, state State, _ int) {
			if state != StateOpen {
				return
			}
			mu.Lock()
			openCount++
			n := openCount
			mu.Unlock()
			opened <- struct{}{}
			if n >= 2 {
				cancel()
			}
		},
	}, zerolog.Nop())
	instantSleep(s)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// a silent channel must be closed and reopened
	for i := 0; i < 2; i++ {
		select {
		case <-opened:
		case <-time.After(5 * time.Second):
			t.Fatal("channel never reopened after going silent")
		}
	}
	require.NoError(t, <-done)
}

func TestServeOpenHeartbeats(t *testing.T) {
	beats := make(chan struct{}, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Config{
		Channel:           "session:s1",
		HeartbeatInterval: 10 * time.Millisecond,
		LivenessTimeout:   time.Hour,
	}, Hooks{
		Connect: func(context.Context) (func(), error) { return func() {}, nil },
		Heartbeat: func(context.Context) error {
			select {
			case beats <- struct{}{}:
			default:
			}
			return nil
		},
		LastActivity: time.Now,
	}, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-beats:
		case <-time.After(5 * time.Second):
			t.Fatal("no heartbeat published")
		}
	}
	cancel()
	require.NoError(t, <-done)
}
