package rules

import (
	"fmt"

	"github.com/housie-live/housie-live/internal/domain/ticket"
)

// Pattern ids shipped by the 90-ball rule set.
const (
	PatternOneLine   = "oneLine"
	PatternTwoLines  = "twoLines"
	PatternFullHouse = "fullHouse"
)

// NinetyBallRuleSet implements the classic 90-ball game: 3x9 tickets,
// values 1-90, patterns oneLine, twoLines and fullHouse.
type NinetyBallRuleSet struct{}

func NewNinetyBallRuleSet() *NinetyBallRuleSet {
	return &NinetyBallRuleSet{}
}

func (r *NinetyBallRuleSet) DefaultPatterns() []string {
	return []string{PatternOneLine, PatternTwoLines, PatternFullHouse}
}

func (r *NinetyBallRuleSet) Evaluate(layout *ticket.Layout, called map[int]struct{}, patternID string) (Evaluation, error) {
	if layout == nil || len(layout.Rows) == 0 {
		return unreachable(), ErrInvalidLayout
	}
	statuses := layout.RowStatuses(called)
	switch patternID {
	case PatternOneLine:
		return singleRow(statuses), nil
	case PatternTwoLines:
		return multiRow(statuses, 2), nil
	case PatternFullHouse:
		return allCells(statuses), nil
	default:
		return unreachable(), fmt.Errorf("%w: %s", ErrUnknownPattern, patternID)
	}
}
