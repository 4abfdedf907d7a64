// Package rank models positions in a retrieval ranking. Absence from a
// ranking is a distinct state, not a sentinel value, so reciprocal-rank
// arithmetic cannot accidentally operate on "infinity".
package rank

// Rank is an optional 1-based position in a ranked list.
type Rank struct {
	pos     int
	present bool
}

// Of creates a present rank. pos is 1-based; values below 1 are clamped.
func Of(pos int) Rank {
	if pos < 1 {
		pos = 1
	}
	return Rank{pos: pos, present: true}
}

// None creates an absent rank (the product did not appear in the list).
func None() Rank { return Rank{} }

// Present reports whether the product appeared in the ranking.
func (r Rank) Present() bool { return r.present }

// Pos returns the 1-based position, or 0 when absent.
func (r Rank) Pos() int {
	if !r.present {
		return 0
	}
	return r.pos
}

// Reciprocal returns 1/(k + pos) for present ranks and 0 for absent ones.
// This is the only arithmetic a rank supports.
func (r Rank) Reciprocal(k int) float64 {
	if !r.present {
		return 0
	}
	return 1.0 / float64(k+r.pos)
}

// Before orders ranks for deterministic tie-breaking: a present rank sorts
// before an absent one, and lower positions sort first.
func (r Rank) Before(o Rank) bool {
	if r.present != o.present {
		return r.present
	}
	if !r.present {
		return false
	}
	return r.pos < o.pos
}
