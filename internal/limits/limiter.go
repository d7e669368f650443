// Package limits implements purchaser exposure limits across markets.
//
// A purchaser backing every runner of one race, or every market of one
// fixture, carries correlated risk. Markets that share an EventGroup are
// treated as one correlated group and their escrowed exposures are summed
// against a group maximum.
package limits

import (
	"fmt"

	"github.com/atmx/betting-exchange/internal/fault"
	"github.com/atmx/betting-exchange/internal/odds"
)

var (
	// ErrMarketLimitExceeded is returned when an operation would push a
	// purchaser's total exposure in one market beyond the per-market maximum.
	ErrMarketLimitExceeded = fmt.Errorf("%w: limits: per-market exposure limit exceeded", fault.ErrValidation)

	// ErrGroupLimitExceeded is returned when the summed exposure across all
	// markets of one event group would exceed the group maximum.
	ErrGroupLimitExceeded = fmt.Errorf("%w: limits: event group exposure limit exceeded", fault.ErrValidation)
)

// Exposure is a purchaser's escrowed exposure in one market.
type Exposure struct {
	MarketID   string
	EventGroup string
	Amount     uint64
}

// ExposureLimiter enforces exposure limits with event-group awareness.
// A zero maximum disables that check.
type ExposureLimiter struct {
	// MaxPerMarket is the maximum total exposure in any single market.
	MaxPerMarket uint64

	// MaxPerEventGroup is the maximum aggregate exposure across all markets
	// that share an event group. Markets with no group are never correlated.
	MaxPerEventGroup uint64
}

// NewExposureLimiter creates a limiter with the given per-market and
// per-group exposure limits.
func NewExposureLimiter(maxPerMarket, maxPerEventGroup uint64) *ExposureLimiter {
	return &ExposureLimiter{MaxPerMarket: maxPerMarket, MaxPerEventGroup: maxPerEventGroup}
}

// CheckLimit validates the purchaser's exposure after an operation.
//
// target carries the new exposure in the market being traded; existing
// holds the purchaser's current exposures in other markets (an entry for
// target's own market is ignored).
func (l *ExposureLimiter) CheckLimit(target Exposure, existing []Exposure) error {
	if l == nil {
		return nil
	}
	if l.MaxPerMarket > 0 && target.Amount > l.MaxPerMarket {
		return fmt.Errorf("%w: market %s exposure %d > %d", ErrMarketLimitExceeded, target.MarketID, target.Amount, l.MaxPerMarket)
	}
	if l.MaxPerEventGroup == 0 || target.EventGroup == "" {
		return nil
	}
	total := target.Amount
	for _, e := range existing {
		if e.MarketID == target.MarketID || e.EventGroup != target.EventGroup {
			continue
		}
		var err error
		if total, err = odds.Add(total, e.Amount); err != nil {
			return err
		}
	}
	if total > l.MaxPerEventGroup {
		return fmt.Errorf("%w: group %s exposure %d > %d", ErrGroupLimitExceeded, target.EventGroup, total, l.MaxPerEventGroup)
	}
	return nil
}
