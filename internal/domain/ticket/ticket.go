package ticket

import (
	"errors"
	"fmt"
	"math/bits"
)

// Standard 90-ball grid dimensions.
const (
	NinetyBallRows = 3
	NinetyBallCols = 9
)

var (
	ErrLayoutMismatch = errors.New("layout mask bit count does not match value count")
	ErrBadDimensions  = errors.New("layout dimensions must be positive")
)

// Empty marks a cell with no value.
const Empty = 0

// Layout is a decoded ticket grid. Cells hold either a value or Empty.
// Immutable after construction.
type Layout struct {
	Serial string
	Rows   [][]int
}

// Decode expands a packed layout descriptor into a Layout. The mask is read
// row-major, one bit per cell; each set bit consumes the next entry from
// values. The number of set bits in the masked region must equal len(values).
func Decode(serial string, mask uint64, rows, cols int, values []int) (*Layout, error) {
	if rows <= 0 || cols <= 0 {
		return nil, ErrBadDimensions
	}
	cells := rows * cols
	if cells > 64 {
		return nil, fmt.Errorf("%w: %dx%d exceeds 64 cells", ErrBadDimensions, rows, cols)
	}
	masked := mask & (uint64(1)<<uint(cells) - 1)
	if masked != mask {
		return nil, fmt.Errorf("%w: mask has bits outside the %dx%d grid", ErrLayoutMismatch, rows, cols)
	}
	if bits.OnesCount64(masked) != len(values) {
		return nil, fmt.Errorf("%w: %d set bits, %d values", ErrLayoutMismatch, bits.OnesCount64(masked), len(values))
	}
	grid := make([][]int, rows)
	next := 0
	for r := 0; r < rows; r++ {
		grid[r] = make([]int, cols)
		for c := 0; c < cols; c++ {
			bit := uint(r*cols + c)
			if masked&(uint64(1)<<bit) == 0 {
				continue
			}
			grid[r][c] = values[next]
			next++
		}
	}
	return &Layout{Serial: serial, Rows: grid}, nil
}

// RowStatus summarizes one row against a called-value set.
type RowStatus struct {
	Needed   int
	Matched  int
	Distance int
	Complete bool
}

// RowStatuses computes per-row match statistics for the given called set.
func (l *Layout) RowStatuses(called map[int]struct{}) []RowStatus {
	out := make([]RowStatus, 0, len(l.Rows))
	for _, row := range l.Rows {
		st := RowStatus{}
		for _, v := range row {
			if v == Empty {
				continue
			}
			st.Needed++
			if _, ok := called[v]; ok {
				st.Matched++
			}
		}
		st.Distance = st.Needed - st.Matched
		st.Complete = st.Distance == 0 && st.Needed > 0
		out = append(out, st)
	}
	return out
}

// Values returns every non-empty cell value in row-major order.
func (l *Layout) Values() []int {
	if len(l.Rows) == 0 {
		return nil
	}
	out := make([]int, 0, len(l.Rows)*len(l.Rows[0]))
	for _, row := range l.Rows {
		for _, v := range row {
			if v != Empty {
				out = append(out, v)
			}
		}
	}
	return out
}
