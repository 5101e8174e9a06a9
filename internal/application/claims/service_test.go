package claims

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/housie-live/housie-live/internal/domain/broadcast"
	"github.com/housie-live/housie-live/internal/domain/claim"
	"github.com/housie-live/housie-live/internal/domain/claim/mocks"
)

type capturedPublish struct {
	mu   sync.Mutex
	envs []broadcast.Envelope
	ch   chan broadcast.Envelope
}

func newCapturedPublish() *capturedPublish {
	return &capturedPublish{ch: make(chan broadcast.Envelope, 16)}
}

func (c *capturedPublish) publish(_ context.Context, env broadcast.Envelope) error {
	c.mu.Lock()
	c.envs = append(c.envs, env)
	c.mu.Unlock()
	c.ch <- env
	return nil
}

func (c *capturedPublish) wait(t *testing.T) broadcast.Envelope {
	t.Helper()
	select {
	case env := <-c.ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish")
		return broadcast.Envelope{}
	}
}

func TestRaisePersistsThenBroadcasts(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockRepository(ctrl)
	pub := newCapturedPublish()
	svc := NewService(repo, pub.publish, time.Minute, zerolog.Nop())
	defer svc.Stop()

	repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

	rec, err := svc.Raise(context.Background(), "s1", "p1", "T-1", "oneLine", []int{5, 12})
	require.NoError(t, err)
	assert.Equal(t, claim.StatusRaised, rec.Status)

	env := pub.wait(t)
	assert.Equal(t, broadcast.KindClaimRaised, env.Kind)
	require.NotNil(t, env.ClaimRaised)
	assert.Equal(t, rec.ClaimID, env.ClaimRaised.Claim.ClaimID)
	assert.Equal(t, []int{5, 12}, env.ClaimRaised.CalledValues)
}

func TestRaiseValidation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := NewService(mocks.NewMockRepository(ctrl), newCapturedPublish().publish, time.Minute, zerolog.Nop())
	defer svc.Stop()

	_, err := svc.Raise(context.Background(), "s1", "", "T-1", "oneLine", nil)
	require.Error(t, err)

	_, err = svc.Raise(context.Background(), "s1", "p1", "", "oneLine", nil)
	require.Error(t, err)
}

func TestResolveCancelsTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockRepository(ctrl)
	pub := newCapturedPublish()
	// short timeout: were the timer not cancelled it would fire during the test
	svc := NewService(repo, pub.publish, 50*time.Millisecond, zerolog.Nop())
	defer svc.Stop()

	var raised *claim.Record
	repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, rec *claim.Record) error {
		raised = rec
		return nil
	})

	_, err := svc.Raise(context.Background(), "s1", "p1", "T-1", "oneLine", nil)
	require.NoError(t, err)
	pub.wait(t)

	repo.EXPECT().GetByID(gomock.Any(), raised.ClaimID).DoAndReturn(func(context.Context, uuid.UUID) (*claim.Record, error) {
		cp := *raised
		return &cp, nil
	})
	repo.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil)

	rec, err := svc.Resolve(context.Background(), raised.ClaimID, claim.DecisionValid, false)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusValid, rec.Status)

	env := pub.wait(t)
	assert.Equal(t, broadcast.KindClaimResolved, env.Kind)
	require.NotNil(t, env.ClaimResolved)
	assert.Equal(t, claim.DecisionValid, env.ClaimResolved.Decision)
	assert.False(t, env.ClaimResolved.Global)

	// no further repo calls: a fired timer would hit GetByID again
	time.Sleep(120 * time.Millisecond)
}

func TestTimeoutFiresExactlyOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockRepository(ctrl)
	pub := newCapturedPublish()
	svc := NewService(repo, pub.publish, 30*time.Millisecond, zerolog.Nop())
	defer svc.Stop()

	timedOut := make(chan claim.Record, 4)
	svc.OnChange(func(rec claim.Record) {
		if rec.Status == claim.StatusTimedOut {
			timedOut <- rec
		}
	})

	var raised *claim.Record
	repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, rec *claim.Record) error {
		raised = rec
		return nil
	})

	_, err := svc.Raise(context.Background(), "s1", "p1", "T-1", "oneLine", nil)
	require.NoError(t, err)
	pub.wait(t)

	repo.EXPECT().GetByID(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, uuid.UUID) (*claim.Record, error) {
		cp := *raised
		return &cp, nil
	}).Times(1)
	repo.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, rec *claim.Record) error {
		assert.Equal(t, claim.StatusTimedOut, rec.Status)
		return nil
	}).Times(1)

	select {
	case rec := <-timedOut:
		assert.Equal(t, raised.ClaimID, rec.ClaimID)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}

	select {
	case <-timedOut:
		t.Fatal("timeout fired twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestApplyRaisedIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockRepository(ctrl)
	svc := NewService(repo, newCapturedPublish().publish, time.Minute, zerolog.Nop())
	defer svc.Stop()

	rec := claim.New("s1", "p1", "T-1", "oneLine")
	payload := broadcast.ClaimRaisedPayload{Claim: *rec, CalledValues: []int{5}}

	gomock.InOrder(
		repo.EXPECT().GetByID(gomock.Any(), rec.ClaimID).Return(nil, claim.ErrNotFound),
		repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil),
		// second delivery: the record exists, so no Create
		repo.EXPECT().GetByID(gomock.Any(), rec.ClaimID).Return(rec, nil),
	)

	svc.ApplyRaised(context.Background(), payload)
	svc.ApplyRaised(context.Background(), payload)
}

func TestApplyResolvedTargeting(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockRepository(ctrl)
	svc := NewService(repo, newCapturedPublish().publish, time.Minute, zerolog.Nop())
	defer svc.Stop()

	rec := claim.New("s1", "p1", "T-1", "oneLine")

	// targeted at someone else: no repo access at all
	svc.ApplyResolved(context.Background(), broadcast.ClaimResolvedPayload{
		ClaimID: rec.ClaimID, PlayerID: "p2", Decision: claim.DecisionValid,
	}, "p1")

	// targeted at us: applied once; the redelivery below still reads the
	// record but is dropped before any write
	repo.EXPECT().GetByID(gomock.Any(), rec.ClaimID).DoAndReturn(func(context.Context, uuid.UUID) (*claim.Record, error) {
		cp := *rec
		return &cp, nil
	}).Times(2)
	repo.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, got *claim.Record) error {
		assert.Equal(t, claim.StatusValid, got.Status)
		return nil
	}).Times(1)
	svc.ApplyResolved(context.Background(), broadcast.ClaimResolvedPayload{
		ClaimID: rec.ClaimID, PlayerID: "p1", Decision: claim.DecisionValid,
	}, "p1")

	svc.ApplyResolved(context.Background(), broadcast.ClaimResolvedPayload{
		ClaimID: rec.ClaimID, PlayerID: "p1", Decision: claim.DecisionValid,
	}, "p1")
}

func TestApplyResolvedGlobal(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockRepository(ctrl)
	svc := NewService(repo, newCapturedPublish().publish, time.Minute, zerolog.Nop())
	defer svc.Stop()

	rec := claim.New("s1", "p1", "T-1", "oneLine")

	repo.EXPECT().GetByID(gomock.Any(), rec.ClaimID).DoAndReturn(func(context.Context, uuid.UUID) (*claim.Record, error) {
		cp := *rec
		return &cp, nil
	})
	repo.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil)

	// global decisions apply regardless of the local player
	svc.ApplyResolved(context.Background(), broadcast.ClaimResolvedPayload{
		ClaimID: rec.ClaimID, PlayerID: "p1", Decision: claim.DecisionInvalid, Global: true,
	}, "p7")
}

func TestApplyResolvedKeepsLocalTerminalState(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockRepository(ctrl)
	svc := NewService(repo, newCapturedPublish().publish, time.Minute, zerolog.Nop())
	defer svc.Stop()

	rec := claim.New("s1", "p1", "T-1", "oneLine")
	require.NoError(t, rec.TimeOut(time.Now()))

	// the remote decision loses against the local terminal state; the record
	// is read on both deliveries but never written
	repo.EXPECT().GetByID(gomock.Any(), rec.ClaimID).DoAndReturn(func(context.Context, uuid.UUID) (*claim.Record, error) {
		cp := *rec
		return &cp, nil
	}).Times(2)
	svc.ApplyResolved(context.Background(), broadcast.ClaimResolvedPayload{
		ClaimID: rec.ClaimID, PlayerID: "p1", Decision: claim.DecisionValid,
	}, "p1")

	svc.ApplyResolved(context.Background(), broadcast.ClaimResolvedPayload{
		ClaimID: rec.ClaimID, PlayerID: "p1", Decision: claim.DecisionValid,
	}, "p1")
}

func TestAcknowledge(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockRepository(ctrl)
	svc := NewService(repo, newCapturedPublish().publish, time.Minute, zerolog.Nop())
	defer svc.Stop()

	rec := claim.New("s1", "p1", "T-1", "oneLine")
	require.NoError(t, rec.Decide(claim.DecisionValid, time.Now()))

	repo.EXPECT().GetByID(gomock.Any(), rec.ClaimID).Return(rec, nil)
	repo.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil)

	got, err := svc.Acknowledge(context.Background(), rec.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusResolved, got.Status)
}

func TestStopCancelsTimers(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockRepository(ctrl)
	pub := newCapturedPublish()
	svc := NewService(repo, pub.publish, 30*time.Millisecond, zerolog.Nop())

	repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	_, err := svc.Raise(context.Background(), "s1", "p1", "T-1", "oneLine", nil)
	require.NoError(t, err)
	pub.wait(t)

	svc.Stop()
	// no GetByID expectation: a fired timer after Stop would fail the test
	time.Sleep(100 * time.Millisecond)
}

func TestStopAbortsPendingBroadcast(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockRepository(ctrl)
	repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

	released := make(chan error, 1)
	publish := func(ctx context.Context, _ broadcast.Envelope) error {
		<-ctx.Done()
		released <- ctx.Err()
		return ctx.Err()
	}
	svc := NewService(repo, publish, time.Minute, zerolog.Nop())

	_, err := svc.Raise(context.Background(), "s1", "p1", "T-1", "oneLine", nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		svc.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not abort the pending broadcast")
	}

	// Stop drained the publish goroutine, so its cancellation has been seen
	select {
	case err := <-released:
		require.ErrorIs(t, err, context.Canceled)
	default:
		t.Fatal("publish goroutine still running after Stop")
	}
}
