package finance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthlyPayment(t *testing.T) {
	cases := []struct {
		name      string
		principal float64
		rate      float64
		term      int
		want      float64
	}{
		{"30y at 4.5%", 400000, 0.045, 360, 2026.74},
		{"15y at 4%", 300000, 0.04, 180, 2219.06},
		{"refi 30y at 3.8%", 405000, 0.038, 360, 1887.13},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MonthlyPayment(tc.principal, tc.rate, tc.term)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 0.01)
			assert.Equal(t, tc.want, RoundCents(got))
		})
	}
}

func TestMonthlyPaymentZeroRateIsDivision(t *testing.T) {
	for _, principal := range []float64{1, 1000, 250000.5} {
		for _, term := range []int{1, 12, 180, 360} {
			got, err := MonthlyPayment(principal, 0, term)
			require.NoError(t, err)
			assert.Equal(t, principal/float64(term), got)
		}
	}

	got, err := MonthlyPayment(1200, -0.01, 12)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got)
}

func TestMonthlyPaymentInvalidTerm(t *testing.T) {
	_, err := MonthlyPayment(1000, 0.05, 0)
	assert.ErrorIs(t, err, ErrInvalidTerm)
}

func TestAmortizeRetiresPrincipal(t *testing.T) {
	schedule, err := Amortize(400000, 0.045, 360)
	require.NoError(t, err)
	require.Len(t, schedule, 360)

	paid := 0.0
	for _, inst := range schedule {
		paid += inst.Principal
	}
	assert.InDelta(t, 400000, paid, 0.01)
	assert.Equal(t, 0.0, schedule[359].Balance)
	assert.InDelta(t, 1500.0, schedule[0].Interest, 1e-9)
}

func TestTotalInterest(t *testing.T) {
	total, err := TotalInterest(0.045, 360, 400000, nil)
	require.NoError(t, err)
	assert.InDelta(t, 329626.85, total, 0.01)

	first, err := TotalInterest(0.045, 360, 400000, []int{1})
	require.NoError(t, err)
	assert.InDelta(t, 1500.0, first, 1e-9)

	ignored, err := TotalInterest(0.045, 360, 400000, []int{0, 361})
	require.NoError(t, err)
	assert.Zero(t, ignored)

	for _, term := range []int{12, 180, 360} {
		zero, err := TotalInterest(0, term, 123456, nil)
		require.NoError(t, err)
		assert.Zero(t, zero)
	}
}

func TestFindBreakEvenRate(t *testing.T) {
	total, err := TotalInterest(0.045, 360, 400000, nil)
	require.NoError(t, err)

	rate, err := FindBreakEvenRate(400000, 360, total-5000, 0.045, DefaultRateStep)
	require.NoError(t, err)
	assert.InDelta(t, 0.04375, rate, 1e-12)

	rate, err = FindBreakEvenRate(400000, 360, total-30000, 0.045, DefaultRateStep)
	require.NoError(t, err)
	assert.InDelta(t, 0.04125, rate, 1e-12)

	// equal interest is not below target, so the walk takes one step
	rate, err = FindBreakEvenRate(400000, 360, total, 0.045, DefaultRateStep)
	require.NoError(t, err)
	assert.InDelta(t, 0.04375, rate, 1e-12)
}

func TestFindBreakEvenRateNeverIncreases(t *testing.T) {
	starts := []float64{0.0025, 0.03, 0.045, 0.0712, 0.12}
	targets := []float64{-1, 0, 1000, 50000, 1e9}
	for _, start := range starts {
		for _, target := range targets {
			rate, err := FindBreakEvenRate(200000, 240, target, start, 0)
			require.NoError(t, err)
			assert.LessOrEqual(t, rate, start)
			assert.GreaterOrEqual(t, rate, 0.0)
		}
	}

	for _, start := range []float64{0, -0.01} {
		rate, err := FindBreakEvenRate(200000, 360, 1000, start, 0)
		require.NoError(t, err)
		assert.Equal(t, start, rate)
	}
}

func TestFindBreakEvenRateUnreachableReturnsZero(t *testing.T) {
	rate, err := FindBreakEvenRate(400000, 360, 0, 0.05, DefaultRateStep)
	require.NoError(t, err)
	assert.Zero(t, rate)
}

func TestFindTargetRateForPayment(t *testing.T) {
	rate, ok, err := FindTargetRateForPayment(400000, 360, 2000, DefaultRateMax, DefaultRateStep)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.04375, rate, 1e-12)

	// quantized to the step: 4.5% yields 2026.74 which is not below 2026.74
	rate, ok, err = FindTargetRateForPayment(400000, 360, 2026.74, 0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.04375, rate, 1e-12)

	_, ok, err = FindTargetRateForPayment(400000, 360, 1000, DefaultRateMax, DefaultRateStep)
	require.NoError(t, err)
	assert.False(t, ok)

	rate, ok, err = FindTargetRateForPayment(100000, 360, 1e9, DefaultRateMax, DefaultRateStep)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.18375, rate, 1e-12)
}
