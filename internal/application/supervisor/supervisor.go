// Package supervisor owns channel subscription lifecycles: reconnection with
// exponential backoff, heartbeat-based liveness detection, and a full-state
// resync trigger on every successful open.
package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// State is the supervised channel lifecycle state.
type State string

const (
	StateConnecting State = "CONNECTING"
	StateOpen       State = "OPEN"
	StateClosed     State = "CLOSED"
	StateError      State = "ERROR"
	// StateFailed is terminal: the attempt ceiling was reached and the
	// channel is surfaced to the consumer as permanently degraded.
	StateFailed State = "FAILED"
)

var ErrAttemptsExhausted = errors.New("reconnect attempt ceiling reached")

// Config tunes one supervised channel.
type Config struct {
	Channel           string
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	MaxAttempts       int
	HeartbeatInterval time.Duration
	LivenessTimeout   time.Duration
}

func (c Config) normalized() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = 45 * time.Second
	}
	return c
}

// Hooks connect the supervisor to the transport and the session runtime.
type Hooks struct {
	// Connect subscribes the channel and returns an unsubscribe func.
	Connect func(ctx context.Context) (func(), error)
	// OnOpen runs after every successful connect (resync trigger).
	OnOpen func(ctx context.Context)
	// Heartbeat publishes a liveness ping while open.
	Heartbeat func(ctx context.Context) error
	// LastActivity reports the latest inbound activity (data or heartbeat).
	LastActivity func() time.Time
	// OnStateChange surfaces lifecycle transitions to the consumer.
	OnStateChange func(channel string, state State, attempt int)
}

// Supervisor drives one channel through
// Connecting -> Open -> (Closed|Error) -> Connecting until the attempt
// ceiling is reached or its context is cancelled.
type Supervisor struct {
	cfg    Config
	hooks  Hooks
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) bool
}

func New(cfg Config, hooks Hooks, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg.normalized(),
		hooks:  hooks,
		logger: logger.With().Str("service", "supervisor").Str("channel", cfg.Channel).Logger(),
		sleep:  sleepCtx,
	}
}

// Backoff returns the reconnect delay for the given attempt (1-based):
// base * 2^(attempt-1), capped at MaxDelay. Exported for tests.
func (s *Supervisor) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return s.cfg.BaseDelay
	}
	d := s.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.MaxDelay {
			return s.cfg.MaxDelay
		}
	}
	return d
}

// Run supervises the channel until ctx is cancelled or the attempt ceiling
// is reached. It blocks; callers run it in its own goroutine.
func (s *Supervisor) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			s.transition(StateClosed, attempt)
			return nil
		}
		s.transition(StateConnecting, attempt)
		unsubscribe, err := s.hooks.Connect(ctx)
		if err != nil {
			attempt++
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("connect failed")
			s.transition(StateError, attempt)
			if attempt >= s.cfg.MaxAttempts {
				s.transition(StateFailed, attempt)
				return ErrAttemptsExhausted
			}
			if !s.sleep(ctx, s.Backoff(attempt)) {
				s.transition(StateClosed, attempt)
				return nil
			}
			continue
		}

		// Successful open resets the counter and forces a full resync so
		// reconnection never resumes blindly.
		attempt = 0
		s.transition(StateOpen, attempt)
		if s.hooks.OnOpen != nil {
			s.hooks.OnOpen(ctx)
		}

		alive := s.serveOpen(ctx)
		unsubscribe()
		if !alive {
			s.transition(StateClosed, attempt)
			return nil
		}
		s.logger.Info().Msg("channel went silent, reconnecting")
		s.transition(StateClosed, attempt)
	}
}

// serveOpen runs heartbeats and liveness checks while the channel is open.
// Returns false when ctx was cancelled, true when liveness forced a close.
func (s *Supervisor) serveOpen(ctx context.Context) bool {
	openedAt := time.Now().UTC()
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	liveness := time.NewTicker(s.cfg.LivenessTimeout / 3)
	defer liveness.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-heartbeat.C:
			if s.hooks.Heartbeat != nil {
				if err := s.hooks.Heartbeat(ctx); err != nil {
					s.logger.Warn().Err(err).Msg("heartbeat publish failed")
				}
			}
		case <-liveness.C:
			if s.hooks.LastActivity == nil {
				continue
			}
			last := s.hooks.LastActivity()
			if last.Before(openedAt) {
				last = openedAt
			}
			if time.Since(last) > s.cfg.LivenessTimeout {
				return true
			}
		}
	}
}

func (s *Supervisor) transition(state State, attempt int) {
	if s.hooks.OnStateChange != nil {
		s.hooks.OnStateChange(s.cfg.Channel, state, attempt)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
