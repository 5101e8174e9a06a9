package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/Knetic/govaluate"

	"github.com/housie-live/housie-live/internal/domain/ticket"
)

// PatternExpr defines one operator-configured pattern as a pair of
// expressions evaluated against row statistics. Win must evaluate to a
// boolean, Distance to a number. Available parameters:
//
//	rowsComplete, minRowDistance, sumTwoSmallest, totalNeeded,
//	totalMatched, totalDistance
type PatternExpr struct {
	Win      string `json:"win"`
	Distance string `json:"distance"`
}

// ExpressionRuleSet lets operators define custom patterns without code
// changes, e.g. {"corners": {win: "rowsComplete >= 2", distance: "sumTwoSmallest"}}.
type ExpressionRuleSet struct {
	patterns map[string]compiledPattern
	order    []string
}

type compiledPattern struct {
	win      *govaluate.EvaluableExpression
	distance *govaluate.EvaluableExpression
}

// NewExpressionRuleSet compiles the given pattern expressions. Compilation
// failures are returned up front so a bad config never reaches game time.
func NewExpressionRuleSet(patterns map[string]PatternExpr) (*ExpressionRuleSet, error) {
	if len(patterns) == 0 {
		return nil, errors.New("at least one pattern expression is required")
	}
	rs := &ExpressionRuleSet{patterns: make(map[string]compiledPattern, len(patterns))}
	for id, p := range patterns {
		win, err := govaluate.NewEvaluableExpression(p.Win)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: win expression: %w", id, err)
		}
		dist, err := govaluate.NewEvaluableExpression(p.Distance)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: distance expression: %w", id, err)
		}
		rs.patterns[id] = compiledPattern{win: win, distance: dist}
		rs.order = append(rs.order, id)
	}
	sort.Strings(rs.order)
	return rs, nil
}

// ParseCustomRuleSets decodes an operator-supplied JSON document mapping game
// types to pattern expressions and compiles one rule set per game type:
//
//	{"speed-housie": {"earlyFive": {"win": "totalMatched >= 5",
//	                                "distance": "5 - totalMatched"}}}
//
// Any compile failure rejects the whole document.
func ParseCustomRuleSets(raw string) (map[string]*ExpressionRuleSet, error) {
	var doc map[string]map[string]PatternExpr
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode custom patterns: %w", err)
	}
	out := make(map[string]*ExpressionRuleSet, len(doc))
	for gameType, patterns := range doc {
		rs, err := NewExpressionRuleSet(patterns)
		if err != nil {
			return nil, fmt.Errorf("game type %s: %w", gameType, err)
		}
		out[gameType] = rs
	}
	return out, nil
}

func (r *ExpressionRuleSet) DefaultPatterns() []string {
	return append([]string(nil), r.order...)
}

func (r *ExpressionRuleSet) Evaluate(layout *ticket.Layout, called map[int]struct{}, patternID string) (Evaluation, error) {
	if layout == nil || len(layout.Rows) == 0 {
		return unreachable(), ErrInvalidLayout
	}
	p, ok := r.patterns[patternID]
	if !ok {
		return unreachable(), fmt.Errorf("%w: %s", ErrUnknownPattern, patternID)
	}
	params := expressionParams(layout.RowStatuses(called))
	winRaw, err := p.win.Evaluate(params)
	if err != nil {
		return unreachable(), fmt.Errorf("pattern %s: evaluate win: %w", patternID, err)
	}
	won, ok := winRaw.(bool)
	if !ok {
		return unreachable(), fmt.Errorf("pattern %s: win expression did not evaluate to boolean", patternID)
	}
	if won {
		return Evaluation{Distance: 0, IsWinner: true}, nil
	}
	distRaw, err := p.distance.Evaluate(params)
	if err != nil {
		return unreachable(), fmt.Errorf("pattern %s: evaluate distance: %w", patternID, err)
	}
	dist, ok := distRaw.(float64)
	if !ok || dist < 0 {
		return unreachable(), fmt.Errorf("pattern %s: distance expression did not evaluate to a non-negative number", patternID)
	}
	return Evaluation{Distance: int(dist), IsWinner: false}, nil
}

func expressionParams(statuses []ticket.RowStatus) map[string]interface{} {
	rowsComplete := 0
	totalNeeded := 0
	totalMatched := 0
	distances := make([]int, 0, len(statuses))
	for _, st := range statuses {
		if st.Complete {
			rowsComplete++
		} else if st.Needed > 0 {
			distances = append(distances, st.Distance)
		}
		totalNeeded += st.Needed
		totalMatched += st.Matched
	}
	sort.Ints(distances)
	minDistance := Unreachable
	if len(distances) > 0 {
		minDistance = distances[0]
	}
	sumTwoSmallest := Unreachable
	if len(distances) >= 2 {
		sumTwoSmallest = distances[0] + distances[1]
	}
	// govaluate compares numbers as float64
	return map[string]interface{}{
		"rowsComplete":   float64(rowsComplete),
		"minRowDistance": float64(minDistance),
		"sumTwoSmallest": float64(sumTwoSmallest),
		"totalNeeded":    float64(totalNeeded),
		"totalMatched":   float64(totalMatched),
		"totalDistance":  float64(totalNeeded - totalMatched),
	}
}
