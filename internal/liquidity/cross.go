package liquidity

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/atmx/betting-exchange/internal/model"
	"github.com/atmx/betting-exchange/internal/odds"
)

// Cross computes, without mutating the book, the derived point on side s
// implied by one direct point per other outcome of an outcomeCount-outcome
// market. Sources are read from the opposite side: backers of every other
// outcome jointly lay the remaining one, and vice versa.
//
// The derived stake is the largest stake at the derived price whose gross
// payout every source can fund: min_k floor(amount_k * p_k / p).
func (b *Book) Cross(s model.Side, outcomeCount int, sources []Source) (Point, error) {
	if !s.Valid() {
		return Point{}, fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
	if outcomeCount < 2 || len(sources) != outcomeCount-1 {
		return Point{}, fmt.Errorf("%w: need %d sources, got %d", ErrInvalidSourceSet, outcomeCount-1, len(sources))
	}

	sorted := slices.Clone(sources)
	slices.SortFunc(sorted, func(a, b Source) int { return a.Outcome - b.Outcome })

	covered := make([]bool, outcomeCount)
	for _, src := range sorted {
		if src.Outcome < 0 || src.Outcome >= outcomeCount || covered[src.Outcome] {
			return Point{}, fmt.Errorf("%w: outcome %d duplicated or out of range", ErrInvalidSourceSet, src.Outcome)
		}
		covered[src.Outcome] = true
	}
	target := slices.Index(covered, false)

	points := make([]Point, 0, len(sorted))
	prices := make([]decimal.Decimal, 0, len(sorted))
	for _, src := range sorted {
		p, ok := b.Point(s.Opposite(), src.Outcome, src.Price)
		if !ok || p.Derived() {
			return Point{}, fmt.Errorf("%w: no direct %s liquidity on outcome %d at %s",
				ErrInvalidSourceSet, s.Opposite(), src.Outcome, src.Price)
		}
		points = append(points, p)
		prices = append(prices, p.Price)
	}

	price, err := odds.CrossPrice(prices)
	if err != nil {
		return Point{}, err
	}
	amount, err := b.crossAmount(points, price)
	if err != nil {
		return Point{}, err
	}

	srcs := make([]Source, len(sorted))
	for i, p := range points {
		srcs[i] = Source{Outcome: p.Outcome, Price: p.Price}
	}
	return Point{Outcome: target, Price: price, Amount: amount, Sources: srcs}, nil
}

// AddCross stores the derived point computed by Cross, replacing any earlier
// derived point at the same key.
func (b *Book) AddCross(s model.Side, outcomeCount int, sources []Source) (Point, error) {
	p, err := b.Cross(s, outcomeCount, sources)
	if err != nil {
		return Point{}, err
	}
	if p.Amount == 0 {
		return Point{}, fmt.Errorf("%w: derived amount is zero", ErrInsufficientLiquidity)
	}
	tree, _ := b.side(s)
	existing, ok := tree.Get(p)
	if ok && !existing.Derived() {
		return Point{}, fmt.Errorf("%w: outcome %d at %s", ErrCrossCollision, p.Outcome, p.Price)
	}
	if !ok && tree.Len() >= b.capacity {
		return Point{}, fmt.Errorf("%w: %d points", ErrBookFull, tree.Len())
	}
	tree.ReplaceOrInsert(p)
	return p, nil
}

// Available re-evaluates a derived point against the current amounts of its
// sources, returning the stake still fundable. Direct points return their
// own amount.
func (b *Book) Available(s model.Side, p Point) (uint64, error) {
	if !p.Derived() {
		return p.Amount, nil
	}
	points := make([]Point, 0, len(p.Sources))
	for _, src := range p.Sources {
		sp, ok := b.Point(s.Opposite(), src.Outcome, src.Price)
		if !ok {
			return 0, nil
		}
		points = append(points, sp)
	}
	fundable, err := b.crossAmount(points, p.Price)
	if err != nil {
		return 0, err
	}
	return min(fundable, p.Amount), nil
}

func (b *Book) crossAmount(points []Point, price decimal.Decimal) (uint64, error) {
	var amount uint64
	for i, p := range points {
		fundable, err := odds.Rebalance(p.Amount, p.Price, price)
		if err != nil {
			return 0, err
		}
		if i == 0 || fundable < amount {
			amount = fundable
		}
	}
	return amount, nil
}
