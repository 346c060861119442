package storage

import (
	"context"
	"fmt"

	"refi-rate-alerts/internal/rates"
)

// LoadLatestSet assembles the newest stored quote for every known term.
// Terms that were never stored are absent from the set.
func LoadLatestSet(ctx context.Context, store RateStore) (rates.RateSet, error) {
	set := make(rates.RateSet, len(rates.KnownTerms))
	for _, term := range rates.KnownTerms {
		snap, err := store.Latest(ctx, term.RateType())
		if err != nil {
			return nil, fmt.Errorf("latest %s: %w", term.RateType(), err)
		}
		if snap != nil {
			set[term] = snap.Quote()
		}
	}
	return set, nil
}
