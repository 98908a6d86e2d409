// Package market supplies the ordered tick sequence the engine consumes.
// Timestamps must be strictly increasing; a non-monotonic feed breaks the
// determinism contract and is rejected outright.
package market

import (
	"errors"
	"fmt"

	"github.com/simex/risk-engine/internal/model"
)

var (
	// ErrNoTicks is returned when a feed contains no data.
	ErrNoTicks = errors.New("market: feed contains no ticks")

	// ErrNonMonotonicTick is returned when timestamps are not strictly
	// increasing.
	ErrNonMonotonicTick = errors.New("market: tick timestamps must be strictly increasing")
)

// Feed is an immutable, validated tick sequence.
type Feed struct {
	ticks []model.Tick
}

// NewFeed validates ordering and wraps the ticks. The slice is copied so
// later caller mutations cannot corrupt the feed.
func NewFeed(ticks []model.Tick) (*Feed, error) {
	if len(ticks) == 0 {
		return nil, ErrNoTicks
	}
	for i := 1; i < len(ticks); i++ {
		if !ticks[i].Timestamp.After(ticks[i-1].Timestamp) {
			return nil, fmt.Errorf("%w: tick %d (%s) not after tick %d (%s)",
				ErrNonMonotonicTick, i, ticks[i].Timestamp, i-1, ticks[i-1].Timestamp)
		}
	}
	copied := make([]model.Tick, len(ticks))
	copy(copied, ticks)
	return &Feed{ticks: copied}, nil
}

// Len returns the number of ticks.
func (f *Feed) Len() int {
	return len(f.ticks)
}

// At returns the tick at index i.
func (f *Feed) At(i int) model.Tick {
	return f.ticks[i]
}
