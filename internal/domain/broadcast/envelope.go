package broadcast

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/housie-live/housie-live/internal/domain/claim"
	"github.com/housie-live/housie-live/internal/domain/ledger"
)

// Kind discriminates the envelope payload. Every consumer switches on it
// exhaustively; there are no optional probe fields.
type Kind string

const (
	KindItemCalled    Kind = "ITEM_CALLED"
	KindReset         Kind = "RESET"
	KindSnapshot      Kind = "SNAPSHOT"
	KindClaimRaised   Kind = "CLAIM_RAISED"
	KindClaimResolved Kind = "CLAIM_RESOLVED"
	KindHeartbeat     Kind = "HEARTBEAT"
)

var (
	ErrEmptyEnvelope   = errors.New("envelope payload is empty")
	ErrPayloadMismatch = errors.New("envelope payload does not match kind")
)

// ItemCalledPayload carries one ledger delta.
type ItemCalledPayload struct {
	Item ledger.CalledItem `json:"item" msgpack:"item"`
}

// ResetPayload announces a game reset effective at At.
type ResetPayload struct {
	At time.Time `json:"at" msgpack:"at"`
}

// SnapshotPayload carries a full ledger state for resync.
type SnapshotPayload struct {
	State ledger.State `json:"state" msgpack:"state"`
}

// ClaimRaisedPayload notifies the caller role of a new claim. The called
// snapshot travels with it so the caller validates against what the player saw.
type ClaimRaisedPayload struct {
	Claim        claim.Record `json:"claim" msgpack:"claim"`
	CalledValues []int        `json:"calledValues" msgpack:"called_values"`
}

// ClaimResolvedPayload carries the caller's verdict. Global broadcasts are
// applied by every player; targeted ones only by the addressed player.
type ClaimResolvedPayload struct {
	ClaimID  uuid.UUID      `json:"claimId" msgpack:"claim_id"`
	PlayerID string         `json:"playerId" msgpack:"player_id"`
	Decision claim.Decision `json:"decision" msgpack:"decision"`
	Global   bool           `json:"global" msgpack:"global"`
}

// HeartbeatPayload keeps a channel observably alive.
type HeartbeatPayload struct {
	ChannelID string    `json:"channelId" msgpack:"channel_id"`
	At        time.Time `json:"at" msgpack:"at"`
}

// Envelope is a single published event. BroadcastID is unique per publish and
// is the receiver's dedup key; republishing on the backup channel reuses it.
type Envelope struct {
	BroadcastID string    `json:"broadcastId" msgpack:"broadcast_id"`
	SessionID   string    `json:"sessionId" msgpack:"session_id"`
	Kind        Kind      `json:"kind" msgpack:"kind"`
	Timestamp   time.Time `json:"timestamp" msgpack:"timestamp"`

	ItemCalled    *ItemCalledPayload    `json:"itemCalled,omitempty" msgpack:"item_called,omitempty"`
	Reset         *ResetPayload         `json:"reset,omitempty" msgpack:"reset,omitempty"`
	Snapshot      *SnapshotPayload      `json:"snapshot,omitempty" msgpack:"snapshot,omitempty"`
	ClaimRaised   *ClaimRaisedPayload   `json:"claimRaised,omitempty" msgpack:"claim_raised,omitempty"`
	ClaimResolved *ClaimResolvedPayload `json:"claimResolved,omitempty" msgpack:"claim_resolved,omitempty"`
	Heartbeat     *HeartbeatPayload     `json:"heartbeat,omitempty" msgpack:"heartbeat,omitempty"`
}

func newEnvelope(sessionID string, kind Kind) Envelope {
	return Envelope{
		BroadcastID: uuid.NewString(),
		SessionID:   sessionID,
		Kind:        kind,
		Timestamp:   time.Now().UTC(),
	}
}

// NewItemCalled wraps a ledger delta.
func NewItemCalled(sessionID string, item ledger.CalledItem) Envelope {
	env := newEnvelope(sessionID, KindItemCalled)
	env.ItemCalled = &ItemCalledPayload{Item: item}
	return env
}

// NewReset announces a reset effective at at.
func NewReset(sessionID string, at time.Time) Envelope {
	env := newEnvelope(sessionID, KindReset)
	env.Reset = &ResetPayload{At: at}
	return env
}

// NewSnapshot wraps a full ledger state.
func NewSnapshot(state ledger.State) Envelope {
	env := newEnvelope(state.SessionID, KindSnapshot)
	env.Snapshot = &SnapshotPayload{State: state}
	return env
}

// NewClaimRaised wraps a freshly raised claim and the raiser's called snapshot.
func NewClaimRaised(rec claim.Record, calledValues []int) Envelope {
	env := newEnvelope(rec.SessionID, KindClaimRaised)
	env.ClaimRaised = &ClaimRaisedPayload{Claim: rec, CalledValues: calledValues}
	return env
}

// NewClaimResolved wraps a caller verdict.
func NewClaimResolved(sessionID string, claimID uuid.UUID, playerID string, decision claim.Decision, global bool) Envelope {
	env := newEnvelope(sessionID, KindClaimResolved)
	env.ClaimResolved = &ClaimResolvedPayload{
		ClaimID:  claimID,
		PlayerID: playerID,
		Decision: decision,
		Global:   global,
	}
	return env
}

// NewHeartbeat wraps a channel liveness ping.
func NewHeartbeat(sessionID, channelID string, at time.Time) Envelope {
	env := newEnvelope(sessionID, KindHeartbeat)
	env.Heartbeat = &HeartbeatPayload{ChannelID: channelID, At: at}
	return env
}

// Validate checks that exactly the payload matching Kind is present.
func (e Envelope) Validate() error {
	if e.BroadcastID == "" {
		return errors.New("broadcast_id is required")
	}
	if e.SessionID == "" {
		return errors.New("session_id is required")
	}
	got := 0
	set := []bool{
		e.ItemCalled != nil,
		e.Reset != nil,
		e.Snapshot != nil,
		e.ClaimRaised != nil,
		e.ClaimResolved != nil,
		e.Heartbeat != nil,
	}
	for _, ok := range set {
		if ok {
			got++
		}
	}
	if got == 0 {
		return ErrEmptyEnvelope
	}
	if got > 1 {
		return ErrPayloadMismatch
	}
	match := false
	switch e.Kind {
	case KindItemCalled:
		match = e.ItemCalled != nil
	case KindReset:
		match = e.Reset != nil
	case KindSnapshot:
		match = e.Snapshot != nil
	case KindClaimRaised:
		match = e.ClaimRaised != nil
	case KindClaimResolved:
		match = e.ClaimResolved != nil
	case KindHeartbeat:
		match = e.Heartbeat != nil
	default:
		return fmt.Errorf("unsupported kind: %s", e.Kind)
	}
	if !match {
		return ErrPayloadMismatch
	}
	return nil
}

// Encode serializes the envelope for the wire.
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return msgpack.Marshal(e)
}

// Decode parses and validates a wire envelope.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
