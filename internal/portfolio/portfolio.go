// Package portfolio holds the mortgages and refinance alerts the engine
// evaluates. Both are owned by the host application; this package only reads
// them.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMortgageNotFound is returned by MortgageRepository.GetMortgage.
var ErrMortgageNotFound = errors.New("portfolio: mortgage not found")

// AlertKind selects the condition an alert watches.
type AlertKind string

const (
	KindRate    AlertKind = "rate"
	KindPayment AlertKind = "payment"
)

// Mortgage is the borrower's current loan.
type Mortgage struct {
	ID                  int64
	Principal           decimal.Decimal
	Rate                decimal.Decimal
	TermMonths          int
	RemainingPrincipal  decimal.Decimal
	RemainingTermMonths int
	ZipCode             string
}

// Alert is a refinance target attached to a mortgage.
type Alert struct {
	ID                int64
	MortgageID        int64
	Kind              AlertKind
	TargetRate        *decimal.Decimal
	TargetPayment     *decimal.Decimal
	TargetTermMonths  int
	EstimatedRefiCost decimal.Decimal
	Active            bool
	Paused            bool
	DeletedAt         *time.Time
}

// Eligible reports whether the alert may fire: active, not paused and not
// soft-deleted.
func (a Alert) Eligible() bool {
	return a.Active && !a.Paused && a.DeletedAt == nil
}

// Validate checks that the alert carries the target its kind needs.
func (a Alert) Validate() error {
	if a.TargetTermMonths <= 0 {
		return fmt.Errorf("alert %d: target_term_months must be positive", a.ID)
	}
	switch a.Kind {
	case KindRate:
		if a.TargetRate == nil {
			return fmt.Errorf("alert %d: rate alert without target_rate", a.ID)
		}
	case KindPayment:
		if a.TargetPayment == nil {
			return fmt.Errorf("alert %d: payment alert without target_payment", a.ID)
		}
	default:
		return fmt.Errorf("alert %d: unknown kind %q", a.ID, a.Kind)
	}
	return nil
}

// MortgageRepository resolves mortgages by id.
type MortgageRepository interface {
	GetMortgage(ctx context.Context, id int64) (Mortgage, error)
}

// AlertRepository lists alerts that may fire right now.
type AlertRepository interface {
	ListEligible(ctx context.Context) ([]Alert, error)
}
