package rates

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Term is a fixed-rate loan product identified by its length in years.
type Term int

const (
	Term10 Term = 10
	Term15 Term = 15
	Term20 Term = 20
	Term30 Term = 30
)

// PrimaryTerm is the product reported as "the" current rate.
const PrimaryTerm = Term30

// KnownTerms lists every product the engine tracks, longest first.
var KnownTerms = []Term{Term30, Term20, Term15, Term10}

// Years returns the term length in years.
func (t Term) Years() int { return int(t) }

// Months returns the term length in months.
func (t Term) Months() int { return int(t) * 12 }

// RateType is the persisted rate_type key, e.g. "30_year_fixed".
func (t Term) RateType() string {
	return fmt.Sprintf("%d_year_fixed", int(t))
}

// Valid reports whether t is one of KnownTerms.
func (t Term) Valid() bool {
	for _, k := range KnownTerms {
		if k == t {
			return true
		}
	}
	return false
}

func (t Term) String() string {
	return fmt.Sprintf("%dy", int(t))
}

// ParseRateType converts a persisted rate_type back into a Term.
func ParseRateType(s string) (Term, error) {
	years, ok := strings.CutSuffix(strings.TrimSpace(s), "_year_fixed")
	if !ok {
		return 0, fmt.Errorf("unknown rate type %q", s)
	}
	return ParseTerm(years)
}

// ParseTerm accepts "30", "30y" or "30yr".
func ParseTerm(s string) (Term, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimSuffix(strings.TrimSuffix(s, "yr"), "y")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid term %q: %w", s, err)
	}
	t := Term(n)
	if !t.Valid() {
		return 0, fmt.Errorf("unsupported term %d", n)
	}
	return t, nil
}

// DateOf truncates t to its calendar date in loc, returned as midnight UTC so
// dates compare and persist without zone drift.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
