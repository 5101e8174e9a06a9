package rules

import (
	"fmt"

	"github.com/housie-live/housie-live/internal/domain/ticket"
)

// Pattern ids shipped by the 75-ball rule set.
const (
	PatternAnyLine  = "anyLine"
	PatternBlackout = "blackout"
)

// SeventyFiveBallRuleSet implements the 75-ball variant played on 5x5 cards:
// a two-pattern game of anyLine (one complete row) and blackout (every cell).
type SeventyFiveBallRuleSet struct{}

func NewSeventyFiveBallRuleSet() *SeventyFiveBallRuleSet {
	return &SeventyFiveBallRuleSet{}
}

func (r *SeventyFiveBallRuleSet) DefaultPatterns() []string {
	return []string{PatternAnyLine, PatternBlackout}
}

func (r *SeventyFiveBallRuleSet) Evaluate(layout *ticket.Layout, called map[int]struct{}, patternID string) (Evaluation, error) {
	if layout == nil || len(layout.Rows) == 0 {
		return unreachable(), ErrInvalidLayout
	}
	statuses := layout.RowStatuses(called)
	switch patternID {
	case PatternAnyLine:
		return singleRow(statuses), nil
	case PatternBlackout:
		return allCells(statuses), nil
	default:
		return unreachable(), fmt.Errorf("%w: %s", ErrUnknownPattern, patternID)
	}
}
