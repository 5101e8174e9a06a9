package rules

import (
	"errors"
	"math"
	"sort"

	"github.com/housie-live/housie-live/internal/domain/ticket"
)

var (
	ErrUnknownPattern = errors.New("unknown pattern id")
	ErrInvalidLayout  = errors.New("ticket layout cannot be evaluated")
)

// Unreachable marks a pattern that cannot be satisfied (invalid ticket or
// unknown pattern). It stands in for an infinite distance.
const Unreachable = math.MaxInt32

// Evaluation is the result of scoring one pattern against one ticket.
type Evaluation struct {
	Distance int  `json:"distance"`
	IsWinner bool `json:"isWinner"`
}

// RuleSet computes win evaluations for a family of game types. Implementations
// must be pure: safe for concurrent use and free of side effects.
type RuleSet interface {
	// DefaultPatterns lists the pattern ids this rule set ships with.
	DefaultPatterns() []string
	// Evaluate scores patternID for the layout against the called set.
	// Unknown pattern ids return an Unreachable evaluation and ErrUnknownPattern.
	Evaluate(layout *ticket.Layout, called map[int]struct{}, patternID string) (Evaluation, error)
}

// unreachable is the canonical failure evaluation.
func unreachable() Evaluation {
	return Evaluation{Distance: Unreachable, IsWinner: false}
}

// CalledSet builds a lookup set from a slice of called values.
func CalledSet(values []int) map[int]struct{} {
	out := make(map[int]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

// singleRow scores a pattern needing one complete row.
func singleRow(statuses []ticket.RowStatus) Evaluation {
	best := Unreachable
	for _, st := range statuses {
		if st.Complete {
			return Evaluation{Distance: 0, IsWinner: true}
		}
		if st.Needed > 0 && st.Distance < best {
			best = st.Distance
		}
	}
	return Evaluation{Distance: best, IsWinner: false}
}

// multiRow scores a pattern needing want complete rows.
func multiRow(statuses []ticket.RowStatus, want int) Evaluation {
	complete := 0
	remaining := make([]int, 0, len(statuses))
	for _, st := range statuses {
		if st.Complete {
			complete++
			continue
		}
		if st.Needed > 0 {
			remaining = append(remaining, st.Distance)
		}
	}
	if complete >= want {
		return Evaluation{Distance: 0, IsWinner: true}
	}
	sort.Ints(remaining)
	missing := want - complete
	if missing > len(remaining) {
		return unreachable()
	}
	distance := 0
	for _, d := range remaining[:missing] {
		distance += d
	}
	return Evaluation{Distance: distance, IsWinner: false}
}

// allCells scores the pattern covering every non-empty cell.
func allCells(statuses []ticket.RowStatus) Evaluation {
	distance := 0
	for _, st := range statuses {
		distance += st.Distance
	}
	return Evaluation{Distance: distance, IsWinner: distance == 0}
}
