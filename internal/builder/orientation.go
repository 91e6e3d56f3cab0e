package builder

import (
	"slices"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
)

// grid holds, for every position of one side, the sorted positions it is
// aligned to on the other side.
type grid [][]uint16

func buildGrids(a model.Alignment, sourceLen, targetLen int) (rows, cols grid) {
	rows = make(grid, sourceLen)
	cols = make(grid, targetLen)
	for _, p := range a {
		rows[p.Source] = append(rows[p.Source], p.Target)
		cols[p.Target] = append(cols[p.Target], p.Source)
	}
	for _, v := range rows {
		slices.Sort(v)
	}
	for _, v := range cols {
		slices.Sort(v)
	}
	return rows, cols
}

// checkBounds widens [l, r] to cover v and adds its size to count. It fails
// on an empty row or column, or when the bounds leave [lft, rgt].
func checkBounds(v []uint16, lft, rgt int, l, r *int, count *int) bool {
	if len(v) == 0 {
		return false
	}
	if front := int(v[0]); *l > front {
		*l = front
		if *l < lft {
			return false
		}
	}
	if back := int(v[len(v)-1]); *r < back {
		*r = back
		if *r > rgt {
			return false
		}
	}
	*count += len(v)
	return true
}

// expandBlock grows the smallest alignment-closed block containing the cell
// (row, col) inside the box [top, bot] x [lft, rgt]. It returns the number of
// alignment points in the block, 0 when the box holds no alignment point
// reachable from the seed, or -1 when the block cannot be closed inside the
// box.
func expandBlock(rows, cols grid, row, col, top, lft, bot, rgt int) int {
	if row < top || row > bot || col < lft || col > rgt {
		return -1
	}
	if len(rows[row]) == 0 && len(cols[col]) == 0 {
		if row == top {
			for row < bot {
				row++
				if len(rows[row]) > 0 {
					break
				}
			}
		} else if row == bot {
			for row > top {
				row--
				if len(rows[row]) > 0 {
					break
				}
			}
		}
		if col == lft {
			for col < rgt {
				col++
				if len(cols[col]) > 0 {
					break
				}
			}
		} else if col == rgt {
			for col > lft {
				col--
				if len(cols[col]) > 0 {
					break
				}
			}
		}
		if len(rows[row]) == 0 && len(cols[col]) == 0 {
			return 0
		}
	}
	if len(rows[row]) == 0 {
		row = int(cols[col][0])
	}
	if len(cols[col]) == 0 {
		col = int(rows[row][0])
	}

	t, b := int(cols[col][0]), int(cols[col][len(cols[col])-1])
	l, r := int(rows[row][0]), int(rows[row][len(rows[row])-1])
	if t < top || b > bot || l < lft || r > rgt {
		return -1
	}
	if b == t && r == l {
		return 1
	}

	rs, re, cs, ce := row, row, col, col
	ret := len(rows[row])
	for tmp := 1; tmp != 0; ret += tmp {
		tmp = 0
		for rs > t {
			rs--
			if !checkBounds(rows[rs], lft, rgt, &l, &r, &tmp) {
				return -1
			}
		}
		for re < b {
			re++
			if !checkBounds(rows[re], lft, rgt, &l, &r, &tmp) {
				return -1
			}
		}
		for cs > l {
			cs--
			if !checkBounds(cols[cs], top, bot, &t, &b, &tmp) {
				return -1
			}
		}
		for ce < r {
			ce++
			if !checkBounds(cols[ce], top, bot, &t, &b, &tmp) {
				return -1
			}
		}
	}
	return ret
}

// forwardOrientation classifies the block that follows the phrase pair with
// source span [s1, e1) and target span [s2, e2).
func forwardOrientation(rows, cols grid, s1, e1, s2, e2 int) model.Orientation {
	if e2 == len(cols) {
		return model.Monotonic
	}
	lastRow, lastCol := len(rows)-1, len(cols)-1
	if e1 < len(rows) && expandBlock(rows, cols, e1, e2, e1, e2, lastRow, lastCol) >= 0 {
		return model.Monotonic
	}
	if s1 > 0 && expandBlock(rows, cols, s1-1, e2, 0, e2, s1-1, lastCol) >= 0 {
		return model.Swap
	}
	for e2 < len(cols) && len(cols[e2]) == 0 {
		e2++
	}
	switch {
	case e2 == len(cols):
		return model.NoOrientation
	case int(cols[e2][len(cols[e2])-1]) < s1:
		return model.DiscontinuousLeft
	case int(cols[e2][0]) >= e1:
		return model.DiscontinuousRight
	}
	return model.NoOrientation
}

// backwardOrientation classifies the block that precedes the phrase pair
// with source span [s1, e1) and target span [s2, e2).
func backwardOrientation(rows, cols grid, s1, e1, s2, e2 int) model.Orientation {
	switch {
	case s1 == 0 && s2 == 0:
		return model.Monotonic
	case s2 == 0:
		return model.DiscontinuousRight
	case s1 == 0:
		return model.DiscontinuousLeft
	}
	if expandBlock(rows, cols, s1-1, s2-1, 0, 0, s1-1, s2-1) >= 0 {
		return model.Monotonic
	}
	if expandBlock(rows, cols, e1, s2-1, e1, 0, len(rows)-1, s2-1) >= 0 {
		return model.Swap
	}
	t := s2 - 1
	for t >= 0 && len(cols[t]) == 0 {
		t--
	}
	switch {
	case t < 0:
		return model.NoOrientation
	case int(cols[t][len(cols[t])-1]) < s1:
		return model.DiscontinuousRight
	case int(cols[t][0]) >= e1:
		return model.DiscontinuousLeft
	}
	return model.NoOrientation
}
