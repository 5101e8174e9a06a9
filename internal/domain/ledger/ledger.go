package ledger

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrDuplicateItem = errors.New("item already called")
)

// dedupWindow bounds the recently-seen broadcast id set per ledger.
const dedupWindow = 512

// CalledItem is one announced value. Order is assigned by the caller replica
// at append time and travels with the item, so receivers never re-order.
type CalledItem struct {
	Value    int       `json:"value" msgpack:"value"`
	Order    int       `json:"order" msgpack:"order"`
	CalledAt time.Time `json:"calledAt" msgpack:"called_at"`
}

// State is the replicated per-session ledger snapshot.
type State struct {
	SessionID       string       `json:"sessionId" msgpack:"session_id"`
	Items           []CalledItem `json:"items" msgpack:"items"`
	LastItem        *CalledItem  `json:"lastItem,omitempty" msgpack:"last_item,omitempty"`
	RevisionAt      time.Time    `json:"revisionAt" msgpack:"revision_at"`
	LastBroadcastID string       `json:"lastBroadcastId,omitempty" msgpack:"last_broadcast_id,omitempty"`
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := s
	out.Items = append([]CalledItem(nil), s.Items...)
	if s.LastItem != nil {
		last := *s.LastItem
		out.LastItem = &last
	}
	return out
}

// Values returns the called values in call order.
func (s State) Values() []int {
	out := make([]int, 0, len(s.Items))
	for _, it := range s.Items {
		out = append(out, it.Value)
	}
	return out
}

// MergeOutcome reports whether a merge changed local state.
type MergeOutcome struct {
	Applied bool
}

// Ledger is the authoritative per-session called-item sequence. Append, merge
// and reset share one critical section; snapshot reads take the read lock.
type Ledger struct {
	mu      sync.RWMutex
	state   State
	present map[int]struct{}
	seen    map[string]struct{}
	seenLog []string
	now     func() time.Time
}

// New creates an empty ledger for the session.
func New(sessionID string) *Ledger {
	return &Ledger{
		state:   State{SessionID: sessionID},
		present: make(map[int]struct{}),
		seen:    make(map[string]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NewAt creates a ledger with an injectable clock, for tests.
func NewAt(sessionID string, now func() time.Time) *Ledger {
	l := New(sessionID)
	if now != nil {
		l.now = now
	}
	return l
}

// Snapshot returns a deep copy of the current state.
func (l *Ledger) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Clone()
}

// Append records a newly called value and returns the created item for
// broadcasting. Fails with ErrDuplicateItem when the value was already called.
func (l *Ledger) Append(value int, broadcastID string) (CalledItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.present[value]; dup {
		return CalledItem{}, ErrDuplicateItem
	}
	item := CalledItem{
		Value:    value,
		Order:    len(l.state.Items) + 1,
		CalledAt: l.now(),
	}
	l.state.Items = append(l.state.Items, item)
	l.present[value] = struct{}{}
	last := item
	l.state.LastItem = &last
	l.advanceRevisionLocked(item.CalledAt)
	l.rememberLocked(broadcastID)
	l.markAppliedLocked(broadcastID)
	return item, nil
}

// MergeDelta applies one remote item. The item is applied only if its value
// is absent, regardless of timestamps, so a slow duplicate delivery can never
// reorder or regress state.
func (l *Ledger) MergeDelta(item CalledItem, broadcastID string) MergeOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seenLocked(broadcastID) {
		return MergeOutcome{}
	}
	l.rememberLocked(broadcastID)
	if _, dup := l.present[item.Value]; dup {
		return MergeOutcome{}
	}
	l.state.Items = append(l.state.Items, item)
	sort.SliceStable(l.state.Items, func(i, j int) bool {
		return l.state.Items[i].Order < l.state.Items[j].Order
	})
	l.present[item.Value] = struct{}{}
	if l.state.LastItem == nil || item.Order >= l.state.LastItem.Order {
		last := item
		l.state.LastItem = &last
	}
	l.advanceRevisionLocked(item.CalledAt)
	l.markAppliedLocked(broadcastID)
	return MergeOutcome{Applied: true}
}

// MergeState reconciles a full remote snapshot. The remote wins when its
// revision is later, tie-broken by the longer item sequence; a remote whose
// item set is a subset of the local one is always a no-op.
func (l *Ledger) MergeState(remote State, broadcastID string) MergeOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seenLocked(broadcastID) {
		return MergeOutcome{}
	}
	l.rememberLocked(broadcastID)
	if l.subsetLocked(remote.Items) {
		return MergeOutcome{}
	}
	if remote.RevisionAt.Before(l.state.RevisionAt) {
		return MergeOutcome{}
	}
	if remote.RevisionAt.Equal(l.state.RevisionAt) && len(remote.Items) <= len(l.state.Items) {
		return MergeOutcome{}
	}
	l.adoptLocked(remote)
	l.markAppliedLocked(broadcastID)
	return MergeOutcome{Applied: true}
}

// Reset atomically replaces state with an empty revision and returns the new
// state, which must be broadcast exactly like an append.
func (l *Ledger) Reset(broadcastID string) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	at := l.now()
	if !at.After(l.state.RevisionAt) {
		at = l.state.RevisionAt.Add(time.Nanosecond)
	}
	l.state = State{SessionID: l.state.SessionID, RevisionAt: at, LastBroadcastID: broadcastID}
	l.present = make(map[int]struct{})
	l.rememberLocked(broadcastID)
	return l.state.Clone()
}

// ApplyReset applies a remote reset. Resets older than the current revision
// are stale and ignored.
func (l *Ledger) ApplyReset(at time.Time, broadcastID string) MergeOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seenLocked(broadcastID) {
		return MergeOutcome{}
	}
	l.rememberLocked(broadcastID)
	if !at.After(l.state.RevisionAt) {
		return MergeOutcome{}
	}
	l.state = State{SessionID: l.state.SessionID, RevisionAt: at, LastBroadcastID: broadcastID}
	l.present = make(map[int]struct{})
	return MergeOutcome{Applied: true}
}

func (l *Ledger) adoptLocked(remote State) {
	items := append([]CalledItem(nil), remote.Items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	present := make(map[int]struct{}, len(items))
	for _, it := range items {
		present[it.Value] = struct{}{}
	}
	var last *CalledItem
	if len(items) > 0 {
		v := items[len(items)-1]
		last = &v
	}
	rev := remote.RevisionAt
	if rev.Before(l.state.RevisionAt) {
		rev = l.state.RevisionAt
	}
	l.state = State{
		SessionID:       l.state.SessionID,
		Items:           items,
		LastItem:        last,
		RevisionAt:      rev,
		LastBroadcastID: remote.LastBroadcastID,
	}
	l.present = present
}

func (l *Ledger) subsetLocked(items []CalledItem) bool {
	for _, it := range items {
		if _, ok := l.present[it.Value]; !ok {
			return false
		}
	}
	return true
}

func (l *Ledger) advanceRevisionLocked(at time.Time) {
	if at.After(l.state.RevisionAt) {
		l.state.RevisionAt = at
	}
}

func (l *Ledger) seenLocked(broadcastID string) bool {
	if broadcastID == "" {
		return false
	}
	_, ok := l.seen[broadcastID]
	return ok
}

func (l *Ledger) rememberLocked(broadcastID string) {
	if broadcastID == "" {
		return
	}
	if _, ok := l.seen[broadcastID]; ok {
		return
	}
	l.seen[broadcastID] = struct{}{}
	l.seenLog = append(l.seenLog, broadcastID)
	if len(l.seenLog) > dedupWindow {
		evict := l.seenLog[0]
		l.seenLog = l.seenLog[1:]
		delete(l.seen, evict)
	}
}

// markAppliedLocked records the most recently applied broadcast id.
func (l *Ledger) markAppliedLocked(broadcastID string) {
	if broadcastID != "" {
		l.state.LastBroadcastID = broadcastID
	}
}
