// Package evaluator decides whether a refinance alert's condition holds for
// a set of current rates.
package evaluator

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"refi-rate-alerts/internal/finance"
	"refi-rate-alerts/internal/portfolio"
	"refi-rate-alerts/internal/rates"
)

// ErrNoRate is returned when the rate set is empty.
var ErrNoRate = errors.New("evaluator: no rate available")

// Result is the outcome of one evaluation.
type Result struct {
	Triggered bool
	Reason    string
	RateUsed  decimal.Decimal
	Term      rates.Term
	// PotentialPayment is the refinanced monthly payment, payment alerts only.
	PotentialPayment *decimal.Decimal
}

// Evaluate picks the quote whose term is nearest the alert's target term and
// applies the alert's condition. Eligibility is the caller's concern.
func Evaluate(alert portfolio.Alert, mortgage portfolio.Mortgage, current rates.RateSet) (Result, error) {
	if err := alert.Validate(); err != nil {
		return Result{}, err
	}

	term, quote, ok := current.Nearest(float64(alert.TargetTermMonths) / 12)
	if !ok {
		return Result{}, ErrNoRate
	}

	res := Result{RateUsed: quote.Rate, Term: term}
	switch alert.Kind {
	case portfolio.KindRate:
		target := *alert.TargetRate
		res.Triggered = quote.Rate.LessThanOrEqual(target)
		res.Reason = fmt.Sprintf("%d-year rate %s %s target %s",
			term.Years(), pct(quote.Rate), cmpWord(res.Triggered), pct(target))

	case portfolio.KindPayment:
		adjusted := mortgage.RemainingPrincipal.Add(alert.EstimatedRefiCost)
		payment, err := finance.MonthlyPayment(adjusted.InexactFloat64(), quote.Rate.InexactFloat64(), alert.TargetTermMonths)
		if err != nil {
			return Result{}, fmt.Errorf("alert %d: %w", alert.ID, err)
		}
		potential := decimal.NewFromFloat(finance.RoundCents(payment))
		target := *alert.TargetPayment
		res.PotentialPayment = &potential
		res.Triggered = potential.LessThanOrEqual(target)
		res.Reason = fmt.Sprintf("payment $%s/mo at %s (%d-year) %s target $%s",
			potential.StringFixed(2), pct(quote.Rate), term.Years(), cmpWord(res.Triggered), target.StringFixed(2))
	}
	return res, nil
}

func pct(rate decimal.Decimal) string {
	return rate.Shift(2).StringFixed(3) + "%"
}

func cmpWord(triggered bool) string {
	if triggered {
		return "<="
	}
	return ">"
}
