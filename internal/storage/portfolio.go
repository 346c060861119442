package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"refi-rate-alerts/internal/portfolio"
)

const (
	getMortgageSQL = `SELECT id, principal::text, rate::text, term_months,
        remaining_principal::text, remaining_term_months, zip_code
    FROM mortgages
    WHERE id = $1;`

	listEligibleAlertsSQL = `SELECT id, mortgage_id, kind, target_rate::text, target_payment::text,
        target_term_months, estimated_refi_cost::text, is_active, is_paused, deleted_at
    FROM refi_alerts
    WHERE is_active
      AND NOT is_paused
      AND deleted_at IS NULL
    ORDER BY id ASC;`
)

var (
	_ portfolio.MortgageRepository = (*Store)(nil)
	_ portfolio.AlertRepository    = (*Store)(nil)
)

// GetMortgage reads a mortgage from the host application's tables.
func (s *Store) GetMortgage(ctx context.Context, id int64) (portfolio.Mortgage, error) {
	pool, err := s.getPool()
	if err != nil {
		return portfolio.Mortgage{}, err
	}

	var (
		m                                   portfolio.Mortgage
		principal, rate, remainingPrincipal string
	)
	err = pool.QueryRow(ctx, getMortgageSQL, id).Scan(
		&m.ID,
		&principal,
		&rate,
		&m.TermMonths,
		&remainingPrincipal,
		&m.RemainingTermMonths,
		&m.ZipCode,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return portfolio.Mortgage{}, fmt.Errorf("mortgage %d: %w", id, portfolio.ErrMortgageNotFound)
	}
	if err != nil {
		return portfolio.Mortgage{}, persistErr("get mortgage", err)
	}

	if m.Principal, err = decimal.NewFromString(principal); err != nil {
		return portfolio.Mortgage{}, fmt.Errorf("parse principal: %w", err)
	}
	if m.Rate, err = decimal.NewFromString(rate); err != nil {
		return portfolio.Mortgage{}, fmt.Errorf("parse rate: %w", err)
	}
	if m.RemainingPrincipal, err = decimal.NewFromString(remainingPrincipal); err != nil {
		return portfolio.Mortgage{}, fmt.Errorf("parse remaining principal: %w", err)
	}
	return m, nil
}

// ListEligible returns active, unpaused, undeleted alerts ordered by id.
func (s *Store) ListEligible(ctx context.Context) ([]portfolio.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listEligibleAlertsSQL)
	if queryErr != nil {
		return nil, persistErr("list alerts", queryErr)
	}
	defer rows.Close()

	alerts := make([]portfolio.Alert, 0)
	for rows.Next() {
		var (
			a                         portfolio.Alert
			kind, cost                string
			targetRate, targetPayment *string
		)
		if err := rows.Scan(
			&a.ID,
			&a.MortgageID,
			&kind,
			&targetRate,
			&targetPayment,
			&a.TargetTermMonths,
			&cost,
			&a.Active,
			&a.Paused,
			&a.DeletedAt,
		); err != nil {
			return nil, persistErr("scan alert", err)
		}
		a.Kind = portfolio.AlertKind(kind)
		if a.TargetRate, err = parseNullableDecimal(targetRate); err != nil {
			return nil, fmt.Errorf("alert %d target_rate: %w", a.ID, err)
		}
		if a.TargetPayment, err = parseNullableDecimal(targetPayment); err != nil {
			return nil, fmt.Errorf("alert %d target_payment: %w", a.ID, err)
		}
		if a.EstimatedRefiCost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("alert %d estimated_refi_cost: %w", a.ID, err)
		}
		alerts = append(alerts, a)
	}
	if rows.Err() != nil {
		return nil, persistErr("list alerts", rows.Err())
	}
	return alerts, nil
}
