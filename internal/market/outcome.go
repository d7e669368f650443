package market

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/atmx/betting-exchange/internal/fault"
	"github.com/atmx/betting-exchange/internal/odds"
)

// DefaultLadderCap is the initial number of prices an outcome may list.
const DefaultLadderCap = 50

var (
	ErrLadderFull      = fmt.Errorf("%w: market: price ladder full", fault.ErrCapacity)
	ErrLadderShrink    = fmt.Errorf("%w: market: price ladder can only grow", fault.ErrValidation)
	ErrPriceOffLadder  = fmt.Errorf("%w: market: price not on outcome ladder", fault.ErrValidation)
	ErrInvalidOutcome  = fmt.Errorf("%w: market: outcome does not exist", fault.ErrValidation)
	ErrOutcomeMismatch = fmt.Errorf("%w: market: outcome belongs to another market", fault.ErrConsistency)
)

// Outcome is one selectable result of a market and its legal price ladder.
type Outcome struct {
	MarketID           string            `json:"market_id"`
	Index              int               `json:"index"`
	Title              string            `json:"title"`
	Prices             []decimal.Decimal `json:"prices"`
	LadderCap          int               `json:"ladder_cap"`
	MatchedTotal       uint64            `json:"matched_total"`
	LatestMatchedPrice decimal.Decimal   `json:"latest_matched_price"`
}

// AddPrices merges prices into the ladder, keeping it sorted and
// deduplicated. Prices already listed are ignored. Nothing changes if any
// price is invalid or the merged ladder would exceed LadderCap.
func (o *Outcome) AddPrices(prices []decimal.Decimal) error {
	merged := slices.Clone(o.Prices)
	for _, p := range prices {
		if err := odds.ValidatePrice(p); err != nil {
			return fmt.Errorf("%w: %s", err, p)
		}
		i, found := o.search(merged, p)
		if found {
			continue
		}
		merged = slices.Insert(merged, i, p)
	}
	if len(merged) > o.LadderCap {
		return fmt.Errorf("%w: %d prices, cap %d", ErrLadderFull, len(merged), o.LadderCap)
	}
	o.Prices = merged
	return nil
}

// IncreaseLadderSize raises the ladder cap to size.
func (o *Outcome) IncreaseLadderSize(size int) error {
	if size < o.LadderCap {
		return fmt.Errorf("%w: %d < %d", ErrLadderShrink, size, o.LadderCap)
	}
	o.LadderCap = size
	return nil
}

// HasPrice reports whether p is on the ladder.
func (o *Outcome) HasPrice(p decimal.Decimal) bool {
	_, found := o.search(o.Prices, p)
	return found
}

// RecordMatch adds a fill to the running matched total.
func (o *Outcome) RecordMatch(stake uint64, price decimal.Decimal) error {
	total, err := odds.Add(o.MatchedTotal, stake)
	if err != nil {
		return err
	}
	o.MatchedTotal = total
	o.LatestMatchedPrice = price
	return nil
}

func (o *Outcome) search(prices []decimal.Decimal, p decimal.Decimal) (int, bool) {
	return slices.BinarySearchFunc(prices, p, func(a, b decimal.Decimal) int { return a.Cmp(b) })
}

func (o *Outcome) clone() *Outcome {
	c := *o
	c.Prices = slices.Clone(o.Prices)
	return &c
}
