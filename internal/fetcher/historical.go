package fetcher

import (
	"context"
	"errors"

	"refi-rate-alerts/internal/rates"
	"refi-rate-alerts/internal/storage"
)

// Historical serves the most recent stored quote per term.
type Historical struct {
	store storage.RateStore
}

// NewHistorical wraps a rate store as the last-resort source.
func NewHistorical(store storage.RateStore) *Historical {
	return &Historical{store: store}
}

// Name implements Source.
func (h *Historical) Name() string { return SourceHistorical }

// Fetch fails only when nothing was ever stored.
func (h *Historical) Fetch(ctx context.Context) (rates.RateSet, error) {
	set, err := storage.LoadLatestSet(ctx, h.store)
	if err != nil {
		return nil, &rates.FetchError{Source: SourceHistorical, Err: err}
	}
	if set.Len() == 0 {
		return nil, &rates.FetchError{Source: SourceHistorical, Err: errors.New("no stored rates")}
	}
	return set, nil
}

var _ Source = (*Historical)(nil)
