package finance

// FrontierPoint is the break-even refinance rate for switching after Month
// payments on the original loan.
type FrontierPoint struct {
	Month              int
	RemainingPrincipal float64
	InterestPaid       float64
	BreakEvenRate      float64
	// Feasible is false when no non-negative rate recovers the refinance
	// cost; BreakEvenRate is -1 for such points.
	Feasible bool
}

// FrontierOptions parameterise EfficientFrontier.
type FrontierOptions struct {
	Principal  float64
	AnnualRate float64
	TermMonths int
	RefiCost   float64
	Step       float64
}

// EfficientFrontier returns one point for every month 0..TermMonths. The
// refinanced loan takes the remaining balance over the remaining months and
// must pay less total interest than staying put, net of the refinance cost.
func EfficientFrontier(opts FrontierOptions) ([]FrontierPoint, error) {
	schedule, err := Amortize(opts.Principal, opts.AnnualRate, opts.TermMonths)
	if err != nil {
		return nil, err
	}

	totalInterest := 0.0
	for _, inst := range schedule {
		totalInterest += inst.Interest
	}

	points := make([]FrontierPoint, 0, opts.TermMonths+1)
	balance := opts.Principal
	paid := 0.0
	for month := 0; month <= opts.TermMonths; month++ {
		if month > 0 {
			inst := schedule[month-1]
			balance = inst.Balance
			paid += inst.Interest
		}

		point := FrontierPoint{
			Month:              month,
			RemainingPrincipal: balance,
			InterestPaid:       paid,
			BreakEvenRate:      -1,
		}

		remaining := opts.TermMonths - month
		target := totalInterest - paid - opts.RefiCost
		if remaining > 0 && balance > 0 && target > 0 {
			rate, err := FindBreakEvenRate(balance, remaining, target, opts.AnnualRate, opts.Step)
			if err != nil {
				return nil, err
			}
			point.BreakEvenRate = rate
			point.Feasible = true
		}
		points = append(points, point)
	}
	return points, nil
}
