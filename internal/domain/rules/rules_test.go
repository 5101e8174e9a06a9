package rules

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/housie-live/housie-live/internal/domain/ticket"
)

var (
	rowA = []int{5, 12, 23, 41, 67}
	rowB = []int{3, 18, 36, 55, 79}
	rowC = []int{9, 27, 48, 62, 88}
)

func testLayout() *ticket.Layout {
	e := ticket.Empty
	return &ticket.Layout{
		Serial: "HB-1",
		Rows: [][]int{
			{rowA[0], e, rowA[1], e, rowA[2], e, rowA[3], e, rowA[4]},
			{e, rowB[0], e, rowB[1], e, rowB[2], e, rowB[3], rowB[4]},
			{rowC[0], e, rowC[1], e, rowC[2], e, rowC[3], e, rowC[4]},
		},
	}
}

func called(groups ...[]int) map[int]struct{} {
	out := make(map[int]struct{})
	for _, g := range groups {
		for _, v := range g {
			out[v] = struct{}{}
		}
	}
	return out
}

func TestNinetyBallOneLine(t *testing.T) {
	rs := NewNinetyBallRuleSet()
	layout := testLayout()

	eval, err := rs.Evaluate(layout, called(rowA), PatternOneLine)
	require.NoError(t, err)
	assert.True(t, eval.IsWinner)
	assert.Equal(t, 0, eval.Distance)

	// four of five called: one away
	eval, err = rs.Evaluate(layout, called(rowA[:4]), PatternOneLine)
	require.NoError(t, err)
	assert.False(t, eval.IsWinner)
	assert.Equal(t, 1, eval.Distance)

	// nothing called
	eval, err = rs.Evaluate(layout, called(), PatternOneLine)
	require.NoError(t, err)
	assert.False(t, eval.IsWinner)
	assert.Equal(t, 5, eval.Distance)
}

func TestNinetyBallTwoLines(t *testing.T) {
	rs := NewNinetyBallRuleSet()
	layout := testLayout()

	// row A complete, row B missing two
	eval, err := rs.Evaluate(layout, called(rowA, rowB[:3]), PatternTwoLines)
	require.NoError(t, err)
	assert.False(t, eval.IsWinner)
	assert.Equal(t, 2, eval.Distance)

	eval, err = rs.Evaluate(layout, called(rowA, rowB), PatternTwoLines)
	require.NoError(t, err)
	assert.True(t, eval.IsWinner)
	assert.Equal(t, 0, eval.Distance)

	// more complete rows than required still wins
	eval, err = rs.Evaluate(layout, called(rowA, rowB, rowC), PatternTwoLines)
	require.NoError(t, err)
	assert.True(t, eval.IsWinner)
}

func TestNinetyBallTwoLinesPicksClosestRows(t *testing.T) {
	rs := NewNinetyBallRuleSet()
	layout := testLayout()

	// row A missing one, row B missing one, row C untouched: distance is 1+1
	eval, err := rs.Evaluate(layout, called(rowA[:4], rowB[:4]), PatternTwoLines)
	require.NoError(t, err)
	assert.Equal(t, 2, eval.Distance)
}

func TestNinetyBallFullHouse(t *testing.T) {
	rs := NewNinetyBallRuleSet()
	layout := testLayout()

	// fourteen of fifteen
	eval, err := rs.Evaluate(layout, called(rowA, rowB, rowC[:4]), PatternFullHouse)
	require.NoError(t, err)
	assert.False(t, eval.IsWinner)
	assert.Equal(t, 1, eval.Distance)

	eval, err = rs.Evaluate(layout, called(rowA, rowB, rowC), PatternFullHouse)
	require.NoError(t, err)
	assert.True(t, eval.IsWinner)
	assert.Equal(t, 0, eval.Distance)
}

func TestNinetyBallUnknownPattern(t *testing.T) {
	rs := NewNinetyBallRuleSet()

	eval, err := rs.Evaluate(testLayout(), called(rowA), "diagonal")
	require.ErrorIs(t, err, ErrUnknownPattern)
	assert.False(t, eval.IsWinner)
	assert.Equal(t, Unreachable, eval.Distance)
}

func TestNinetyBallInvalidLayout(t *testing.T) {
	rs := NewNinetyBallRuleSet()

	eval, err := rs.Evaluate(nil, called(rowA), PatternOneLine)
	require.ErrorIs(t, err, ErrInvalidLayout)
	assert.Equal(t, Unreachable, eval.Distance)

	eval, err = rs.Evaluate(&ticket.Layout{}, called(rowA), PatternOneLine)
	require.ErrorIs(t, err, ErrInvalidLayout)
	assert.Equal(t, Unreachable, eval.Distance)
}

func TestNinetyBallUncalledValuesIgnored(t *testing.T) {
	rs := NewNinetyBallRuleSet()

	// called values not on the ticket contribute nothing
	extra := called(rowA)
	extra[90] = struct{}{}
	extra[1] = struct{}{}
	eval, err := rs.Evaluate(testLayout(), extra, PatternOneLine)
	require.NoError(t, err)
	assert.True(t, eval.IsWinner)
}

func TestSeventyFiveBall(t *testing.T) {
	rs := NewSeventyFiveBallRuleSet()
	layout := &ticket.Layout{
		Serial: "B-75",
		Rows: [][]int{
			{1, 16, 31, 46, 61},
			{2, 17, 32, 47, 62},
		},
	}

	eval, err := rs.Evaluate(layout, called([]int{1, 16, 31, 46, 61}), PatternAnyLine)
	require.NoError(t, err)
	assert.True(t, eval.IsWinner)

	eval, err = rs.Evaluate(layout, called([]int{1, 16, 31, 46, 61}), PatternBlackout)
	require.NoError(t, err)
	assert.False(t, eval.IsWinner)
	assert.Equal(t, 5, eval.Distance)
}

func TestExpressionRuleSet(t *testing.T) {
	rs, err := NewExpressionRuleSet(map[string]PatternExpr{
		"twoLines": {Win: "rowsComplete >= 2", Distance: "rowsComplete >= 1 ? minRowDistance : sumTwoSmallest"},
		"oneLine":  {Win: "rowsComplete >= 1", Distance: "minRowDistance"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"oneLine", "twoLines"}, rs.DefaultPatterns())

	layout := testLayout()

	eval, err := rs.Evaluate(layout, called(rowA), "oneLine")
	require.NoError(t, err)
	assert.True(t, eval.IsWinner)

	eval, err = rs.Evaluate(layout, called(rowA, rowB[:3]), "twoLines")
	require.NoError(t, err)
	assert.False(t, eval.IsWinner)
	assert.Equal(t, 2, eval.Distance)

	_, err = rs.Evaluate(layout, called(rowA), "diagonal")
	require.ErrorIs(t, err, ErrUnknownPattern)
}

func TestExpressionRuleSetCompileError(t *testing.T) {
	_, err := NewExpressionRuleSet(map[string]PatternExpr{
		"broken": {Win: "rowsComplete >=", Distance: "0"},
	})
	require.Error(t, err)

	_, err = NewExpressionRuleSet(nil)
	require.Error(t, err)
}

func TestRegistryResolve(t *testing.T) {
	reg := NewDefaultRegistry(zerolog.Nop())

	rs := reg.Resolve(GameTypeSeventyFiveBall)
	assert.Equal(t, []string{PatternAnyLine, PatternBlackout}, rs.DefaultPatterns())

	// unknown game types fall back to 90-ball rather than failing
	rs = reg.Resolve("speed-round")
	assert.Equal(t, []string{PatternOneLine, PatternTwoLines, PatternFullHouse}, rs.DefaultPatterns())
}

func TestParseCustomRuleSets(t *testing.T) {
	raw := `{"speed-housie": {
		"earlyFive": {"win": "totalMatched >= 5", "distance": "5 - totalMatched"}
	}}`

	custom, err := ParseCustomRuleSets(raw)
	require.NoError(t, err)
	require.Contains(t, custom, "speed-housie")

	rs := custom["speed-housie"]
	assert.Equal(t, []string{"earlyFive"}, rs.DefaultPatterns())

	eval, err := rs.Evaluate(testLayout(), CalledSet([]int{5, 12, 23}), "earlyFive")
	require.NoError(t, err)
	assert.Equal(t, 2, eval.Distance)
	assert.False(t, eval.IsWinner)

	eval, err = rs.Evaluate(testLayout(), CalledSet(append(rowA[:4:4], rowB[0])), "earlyFive")
	require.NoError(t, err)
	assert.True(t, eval.IsWinner)
}

func TestParseCustomRuleSetsRejectsBadInput(t *testing.T) {
	_, err := ParseCustomRuleSets("{not json")
	require.Error(t, err)

	_, err = ParseCustomRuleSets(`{"g": {"p": {"win": "((", "distance": "0"}}}`)
	require.Error(t, err)

	_, err = ParseCustomRuleSets(`{"g": {}}`)
	require.Error(t, err)
}

func TestParseCustomRuleSetsRegisterable(t *testing.T) {
	custom, err := ParseCustomRuleSets(`{"corners-only": {
		"corners": {"win": "rowsComplete >= 2", "distance": "sumTwoSmallest"}
	}}`)
	require.NoError(t, err)

	reg := NewDefaultRegistry(zerolog.Nop())
	for gameType, rs := range custom {
		reg.Register(gameType, rs)
	}

	eval, err := reg.Resolve("corners-only").Evaluate(testLayout(), CalledSet(rowA), "corners")
	require.NoError(t, err)
	assert.False(t, eval.IsWinner)
}
