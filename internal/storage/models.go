package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"refi-rate-alerts/internal/rates"
)

// RateSnapshot is the stored rate for one (date, rate_type) pair.
type RateSnapshot struct {
	ID                 int64
	Date               time.Time
	RateType           string
	Rate               decimal.Decimal
	Points             *decimal.Decimal
	APR                *decimal.Decimal
	ChangeFromPrevious *decimal.Decimal
	Source             string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Term resolves the snapshot's rate type.
func (s RateSnapshot) Term() (rates.Term, error) {
	return rates.ParseRateType(s.RateType)
}

// Quote converts the snapshot into a fetch-style quote.
func (s RateSnapshot) Quote() rates.Quote {
	return rates.Quote{
		Rate:   s.Rate,
		Points: s.Points,
		APR:    s.APR,
		Change: s.ChangeFromPrevious,
		Date:   s.Date,
	}
}

// RateWrite carries the arguments of one upsert.
type RateWrite struct {
	Date     time.Time
	RateType string
	Rate     decimal.Decimal
	Points   *decimal.Decimal
	APR      *decimal.Decimal
	Source   string
}

// Trigger records one evaluation that met its alert condition.
type Trigger struct {
	ID            uuid.UUID
	AlertID       int64
	FiredAt       time.Time
	Reason        string
	RateAtTrigger decimal.Decimal
}
