package rates

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one product's rate as reported by a source.
type Quote struct {
	Rate   decimal.Decimal
	Points *decimal.Decimal
	APR    *decimal.Decimal
	Change *decimal.Decimal
	Date   time.Time
}

// RateSet is a consolidated term -> quote mapping produced by one fetch.
type RateSet map[Term]Quote

// Get returns the quote for term.
func (s RateSet) Get(term Term) (Quote, bool) {
	q, ok := s[term]
	return q, ok
}

// Len returns the number of terms present.
func (s RateSet) Len() int { return len(s) }

// Terms returns the present terms sorted ascending.
func (s RateSet) Terms() []Term {
	out := make([]Term, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Primary returns the 30-year quote when present.
func (s RateSet) Primary() (Quote, bool) {
	return s.Get(PrimaryTerm)
}

// Nearest picks the quote whose term is closest to years. An exact match
// wins; on a tie in distance the longer term is chosen.
func (s RateSet) Nearest(years float64) (Term, Quote, bool) {
	var (
		best     Term
		bestDist float64
		found    bool
	)
	for _, t := range s.Terms() {
		dist := float64(t) - years
		if dist < 0 {
			dist = -dist
		}
		if !found || dist < bestDist || (dist == bestDist && t > best) {
			best, bestDist, found = t, dist, true
		}
	}
	if !found {
		return 0, Quote{}, false
	}
	return best, s[best], true
}

// Floats flattens the set to term-years -> float rate for printing.
func (s RateSet) Floats() map[int]float64 {
	out := make(map[int]float64, len(s))
	for t, q := range s {
		out[t.Years()] = q.Rate.InexactFloat64()
	}
	return out
}
