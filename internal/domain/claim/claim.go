package claim

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the claim lifecycle state.
type Status string

const (
	StatusRaised     Status = "RAISED"
	StatusValidating Status = "VALIDATING"
	StatusValid      Status = "VALID"
	StatusInvalid    Status = "INVALID"
	// StatusTimedOut is the terminal variant of INVALID entered when no
	// decision arrives within the claim window. Kept distinct so telemetry
	// can separate it from an explicit caller rejection.
	StatusTimedOut Status = "TIMED_OUT"
	StatusResolved Status = "RESOLVED"
)

// Decision is the caller's verdict on a raised claim.
type Decision string

const (
	DecisionValid   Decision = "VALID"
	DecisionInvalid Decision = "INVALID"
)

var (
	ErrNotFound          = errors.New("claim not found")
	ErrInvalidTransition = errors.New("invalid claim transition")
	ErrInvalidDecision   = errors.New("decision must be VALID or INVALID")
)

// Record is one claim state-machine instance.
type Record struct {
	ClaimID      uuid.UUID  `json:"claimId" msgpack:"claim_id"`
	SessionID    string     `json:"sessionId" msgpack:"session_id"`
	PlayerID     string     `json:"playerId" msgpack:"player_id"`
	TicketSerial string     `json:"ticketSerial" msgpack:"ticket_serial"`
	Pattern      string     `json:"pattern" msgpack:"pattern"`
	Status       Status     `json:"status" msgpack:"status"`
	RaisedAt     time.Time  `json:"raisedAt" msgpack:"raised_at"`
	DecidedAt    *time.Time `json:"decidedAt,omitempty" msgpack:"decided_at,omitempty"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty" msgpack:"resolved_at,omitempty"`
}

// New creates a freshly raised claim.
func New(sessionID, playerID, ticketSerial, pattern string) *Record {
	return &Record{
		ClaimID:      uuid.New(),
		SessionID:    sessionID,
		PlayerID:     playerID,
		TicketSerial: ticketSerial,
		Pattern:      pattern,
		Status:       StatusRaised,
		RaisedAt:     time.Now().UTC(),
	}
}

// Pending reports whether the claim still awaits a decision.
func (r *Record) Pending() bool {
	return r.Status == StatusRaised || r.Status == StatusValidating
}

// Terminal reports whether the claim can no longer change verdict.
func (r *Record) Terminal() bool {
	return r.Status == StatusValid || r.Status == StatusInvalid ||
		r.Status == StatusTimedOut || r.Status == StatusResolved
}

// MarkValidating notes that the caller started validating the claim.
func (r *Record) MarkValidating() error {
	if r.Status != StatusRaised {
		return ErrInvalidTransition
	}
	r.Status = StatusValidating
	return nil
}

// Decide applies the caller's verdict.
func (r *Record) Decide(d Decision, at time.Time) error {
	if !r.Pending() {
		return ErrInvalidTransition
	}
	switch d {
	case DecisionValid:
		r.Status = StatusValid
	case DecisionInvalid:
		r.Status = StatusInvalid
	default:
		return ErrInvalidDecision
	}
	decided := at.UTC()
	r.DecidedAt = &decided
	return nil
}

// TimeOut transitions an undecided claim to its terminal timed-out state.
func (r *Record) TimeOut(at time.Time) error {
	if !r.Pending() {
		return ErrInvalidTransition
	}
	r.Status = StatusTimedOut
	decided := at.UTC()
	r.DecidedAt = &decided
	return nil
}

// Acknowledge marks a decided claim resolved after the owning client has
// displayed the verdict.
func (r *Record) Acknowledge(at time.Time) error {
	switch r.Status {
	case StatusValid, StatusInvalid, StatusTimedOut:
	default:
		return ErrInvalidTransition
	}
	r.Status = StatusResolved
	resolved := at.UTC()
	r.ResolvedAt = &resolved
	return nil
}
