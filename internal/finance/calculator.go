// Package finance holds the pure amortization math used to evaluate
// refinance alerts. Rates are annual decimals (0.045 == 4.5%).
package finance

import (
	"errors"
	"math"
)

const (
	// DefaultRateStep is one eighth of a percentage point.
	DefaultRateStep = 0.00125
	// DefaultRateMax bounds the payment sweep.
	DefaultRateMax = 0.185

	ratePrecision = 1e9
)

// ErrInvalidTerm is returned for non-positive terms.
var ErrInvalidTerm = errors.New("term must be greater than zero months")

// Installment is one row of an amortization schedule.
type Installment struct {
	Period    int
	Payment   float64
	Interest  float64
	Principal float64
	Balance   float64
}

// MonthlyPayment returns the level payment that retires principal over
// termMonths. A non-positive rate degrades to straight division.
func MonthlyPayment(principal, annualRate float64, termMonths int) (float64, error) {
	if termMonths <= 0 {
		return 0, ErrInvalidTerm
	}
	if annualRate <= 0 {
		return principal / float64(termMonths), nil
	}
	r := annualRate / 12
	growth := math.Pow(1+r, float64(termMonths))
	return principal * r * growth / (growth - 1), nil
}

// Amortize builds the full payment schedule.
func Amortize(principal, annualRate float64, termMonths int) ([]Installment, error) {
	payment, err := MonthlyPayment(principal, annualRate, termMonths)
	if err != nil {
		return nil, err
	}

	r := 0.0
	if annualRate > 0 {
		r = annualRate / 12
	}

	schedule := make([]Installment, 0, termMonths)
	balance := principal
	for period := 1; period <= termMonths; period++ {
		interest := balance * r
		toPrincipal := payment - interest
		balance -= toPrincipal
		if period == termMonths || math.Abs(balance) < 1e-7 {
			balance = 0
		}
		schedule = append(schedule, Installment{
			Period:    period,
			Payment:   payment,
			Interest:  interest,
			Principal: toPrincipal,
			Balance:   balance,
		})
	}
	return schedule, nil
}

// TotalInterest sums the interest portion of the given 1-based periods.
// Nil periods means the whole term; out-of-range periods are ignored.
func TotalInterest(annualRate float64, termMonths int, principal float64, periods []int) (float64, error) {
	if termMonths <= 0 {
		return 0, ErrInvalidTerm
	}
	if annualRate <= 0 {
		return 0, nil
	}

	schedule, err := Amortize(principal, annualRate, termMonths)
	if err != nil {
		return 0, err
	}

	total := 0.0
	if periods == nil {
		for _, inst := range schedule {
			total += inst.Interest
		}
		return total, nil
	}
	for _, p := range periods {
		if p < 1 || p > termMonths {
			continue
		}
		total += schedule[p-1].Interest
	}
	return total, nil
}

// FindBreakEvenRate walks down from startRate in step decrements and
// returns the first rate whose total interest falls below target. The walk
// never moves upward; once the next rate would be negative it returns 0. A
// start rate at or below zero is returned unchanged.
func FindBreakEvenRate(principal float64, termMonths int, targetTotalInterest, startRate, step float64) (float64, error) {
	if termMonths <= 0 {
		return 0, ErrInvalidTerm
	}
	if step <= 0 {
		step = DefaultRateStep
	}
	if startRate <= 0 {
		return startRate, nil
	}

	for i := 0; ; i++ {
		rate := roundRate(startRate - float64(i)*step)
		if rate < 0 {
			return 0, nil
		}
		interest, err := TotalInterest(rate, termMonths, principal, nil)
		if err != nil {
			return 0, err
		}
		if interest < targetTotalInterest {
			return rate, nil
		}
	}
}

// FindTargetRateForPayment sweeps [0, rateMax) in rateStep increments and
// returns the highest rate whose payment stays below targetPayment. The
// result is quantized to rateStep. ok is false when no swept rate qualifies.
func FindTargetRateForPayment(principal float64, termMonths int, targetPayment, rateMax, rateStep float64) (rate float64, ok bool, err error) {
	if termMonths <= 0 {
		return 0, false, ErrInvalidTerm
	}
	if rateMax <= 0 {
		rateMax = DefaultRateMax
	}
	if rateStep <= 0 {
		rateStep = DefaultRateStep
	}

	steps := int(math.Ceil(rateMax/rateStep - 1e-9))
	for i := 0; i < steps; i++ {
		candidate := roundRate(float64(i) * rateStep)
		payment, err := MonthlyPayment(principal, candidate, termMonths)
		if err != nil {
			return 0, false, err
		}
		if payment < targetPayment {
			rate, ok = candidate, true
		}
	}
	return rate, ok, nil
}

// RoundCents rounds an amount to two decimal places.
func RoundCents(amount float64) float64 {
	return math.Round(amount*100) / 100
}

func roundRate(rate float64) float64 {
	return math.Round(rate*ratePrecision) / ratePrecision
}
