package evaluator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refi-rate-alerts/internal/portfolio"
	"refi-rate-alerts/internal/rates"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func mortgage() portfolio.Mortgage {
	return portfolio.Mortgage{
		ID:                  1,
		Principal:           decimal.NewFromInt(400000),
		Rate:                decimal.RequireFromString("0.045"),
		TermMonths:          360,
		RemainingPrincipal:  decimal.NewFromInt(400000),
		RemainingTermMonths: 360,
	}
}

func set(pairs map[rates.Term]string) rates.RateSet {
	out := make(rates.RateSet, len(pairs))
	for term, rate := range pairs {
		out[term] = rates.Quote{Rate: decimal.RequireFromString(rate), Date: time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)}
	}
	return out
}

func TestRateAlertTriggersAtOrBelowTarget(t *testing.T) {
	alert := portfolio.Alert{ID: 1, Kind: portfolio.KindRate, TargetRate: dec("0.04"), TargetTermMonths: 360, Active: true}

	res, err := Evaluate(alert, mortgage(), set(map[rates.Term]string{rates.Term30: "0.038"}))
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, rates.Term30, res.Term)
	assert.True(t, res.RateUsed.Equal(decimal.RequireFromString("0.038")))
	assert.Equal(t, "30-year rate 3.800% <= target 4.000%", res.Reason)

	res, err = Evaluate(alert, mortgage(), set(map[rates.Term]string{rates.Term30: "0.04"}))
	require.NoError(t, err)
	assert.True(t, res.Triggered)

	res, err = Evaluate(alert, mortgage(), set(map[rates.Term]string{rates.Term30: "0.0401"}))
	require.NoError(t, err)
	assert.False(t, res.Triggered)
}

func TestRateSelectionPrefersNearestTerm(t *testing.T) {
	current := set(map[rates.Term]string{rates.Term30: "0.068", rates.Term15: "0.059"})

	alert := portfolio.Alert{ID: 2, Kind: portfolio.KindRate, TargetRate: dec("0.06"), TargetTermMonths: 180}
	res, err := Evaluate(alert, mortgage(), current)
	require.NoError(t, err)
	assert.Equal(t, rates.Term15, res.Term)
	assert.True(t, res.Triggered)

	// 20 years sits closer to 15 than 30
	alert.TargetTermMonths = 240
	res, err = Evaluate(alert, mortgage(), current)
	require.NoError(t, err)
	assert.Equal(t, rates.Term15, res.Term)

	alert.TargetTermMonths = 300
	res, err = Evaluate(alert, mortgage(), current)
	require.NoError(t, err)
	assert.Equal(t, rates.Term30, res.Term)
	assert.False(t, res.Triggered)
}

func TestPaymentAlertAddsRefiCost(t *testing.T) {
	alert := portfolio.Alert{
		ID:                3,
		Kind:              portfolio.KindPayment,
		TargetPayment:     dec("1900"),
		TargetTermMonths:  360,
		EstimatedRefiCost: decimal.NewFromInt(5000),
	}

	// 405000 over 30 years at 3.8% is 1887.13/mo
	res, err := Evaluate(alert, mortgage(), set(map[rates.Term]string{rates.Term30: "0.038"}))
	require.NoError(t, err)
	require.NotNil(t, res.PotentialPayment)
	assert.Equal(t, "1887.13", res.PotentialPayment.StringFixed(2))
	assert.True(t, res.Triggered)

	alert.TargetPayment = dec("1887.12")
	res, err = Evaluate(alert, mortgage(), set(map[rates.Term]string{rates.Term30: "0.038"}))
	require.NoError(t, err)
	assert.False(t, res.Triggered)

	alert.TargetPayment = dec("1887.13")
	res, err = Evaluate(alert, mortgage(), set(map[rates.Term]string{rates.Term30: "0.038"}))
	require.NoError(t, err)
	assert.True(t, res.Triggered)
}

func TestEvaluateErrors(t *testing.T) {
	alert := portfolio.Alert{ID: 4, Kind: portfolio.KindRate, TargetRate: dec("0.04"), TargetTermMonths: 360}
	_, err := Evaluate(alert, mortgage(), rates.RateSet{})
	assert.ErrorIs(t, err, ErrNoRate)

	alert.TargetRate = nil
	_, err = Evaluate(alert, mortgage(), set(map[rates.Term]string{rates.Term30: "0.038"}))
	assert.Error(t, err)
}
