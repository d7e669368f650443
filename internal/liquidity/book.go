// Package liquidity implements the per-market liquidity book: for each side,
// the standing stake available at every (outcome, price) point.
//
// Points are kept in google/btree trees ordered by (outcome, price)
// ascending. Takers read the best price from a fixed end of their outcome's
// range: a for-taker walks the against side from the highest price down, an
// against-taker walks the for side from the lowest price up.
package liquidity

import (
	"fmt"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/atmx/betting-exchange/internal/fault"
	"github.com/atmx/betting-exchange/internal/model"
	"github.com/atmx/betting-exchange/internal/odds"
)

var (
	ErrInsufficientLiquidity = fmt.Errorf("%w: liquidity: insufficient liquidity", fault.ErrValidation)
	ErrInvalidSourceSet      = fmt.Errorf("%w: liquidity: invalid source set", fault.ErrValidation)
	ErrCrossCollision        = fmt.Errorf("%w: liquidity: direct liquidity already at derived point", fault.ErrValidation)
	ErrBookFull              = fmt.Errorf("%w: liquidity: book side is full", fault.ErrCapacity)
	ErrInvalidSide           = fmt.Errorf("%w: liquidity: invalid side", fault.ErrValidation)
)

const btreeDegree = 8

// Source identifies one direct point a derived point was synthesised from.
type Source struct {
	Outcome int             `json:"outcome"`
	Price   decimal.Decimal `json:"price"`
}

// Point is the liquidity standing at one outcome and price. A point with
// Sources is derived (cross liquidity) rather than backed by orders at its
// own price.
type Point struct {
	Outcome int             `json:"outcome"`
	Price   decimal.Decimal `json:"price"`
	Amount  uint64          `json:"amount"`
	Sources []Source        `json:"sources,omitempty"`
}

// Derived reports whether the point was synthesised from other outcomes.
func (p Point) Derived() bool { return len(p.Sources) > 0 }

func lessPoint(a, b Point) bool {
	if a.Outcome != b.Outcome {
		return a.Outcome < b.Outcome
	}
	return a.Price.LessThan(b.Price)
}

// Book is the liquidity of one market.
type Book struct {
	capacity int
	forSide  *btree.BTreeG[Point]
	against  *btree.BTreeG[Point]
}

// New creates an empty book allowing at most capacity points per side.
func New(capacity int) *Book {
	return &Book{
		capacity: capacity,
		forSide:  btree.NewG(btreeDegree, lessPoint),
		against:  btree.NewG(btreeDegree, lessPoint),
	}
}

func (b *Book) side(s model.Side) (*btree.BTreeG[Point], error) {
	switch s {
	case model.For:
		return b.forSide, nil
	case model.Against:
		return b.against, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

// Add adds amount at (outcome, price). A derived point at the same key is
// replaced by the direct liquidity.
func (b *Book) Add(s model.Side, outcome int, price decimal.Decimal, amount uint64) error {
	tree, err := b.side(s)
	if err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	key := Point{Outcome: outcome, Price: price}
	existing, ok := tree.Get(key)
	if !ok || existing.Derived() {
		if !ok && tree.Len() >= b.capacity {
			return fmt.Errorf("%w: %d points", ErrBookFull, tree.Len())
		}
		key.Amount = amount
		tree.ReplaceOrInsert(key)
		return nil
	}
	total, err := odds.Add(existing.Amount, amount)
	if err != nil {
		return err
	}
	existing.Amount = total
	tree.ReplaceOrInsert(existing)
	return nil
}

// Remove subtracts amount at (outcome, price), deleting the point when it
// reaches zero.
func (b *Book) Remove(s model.Side, outcome int, price decimal.Decimal, amount uint64) error {
	tree, err := b.side(s)
	if err != nil {
		return err
	}
	existing, ok := tree.Get(Point{Outcome: outcome, Price: price})
	if !ok {
		return fmt.Errorf("%w: %s outcome %d at %s", ErrInsufficientLiquidity, s, outcome, price)
	}
	left, err := odds.Sub(existing.Amount, amount)
	if err != nil {
		return fmt.Errorf("%w: %s outcome %d at %s has %d, removing %d",
			ErrInsufficientLiquidity, s, outcome, price, existing.Amount, amount)
	}
	if left == 0 {
		tree.Delete(existing)
		return nil
	}
	existing.Amount = left
	tree.ReplaceOrInsert(existing)
	return nil
}

// Get returns the amount at (outcome, price), or zero.
func (b *Book) Get(s model.Side, outcome int, price decimal.Decimal) uint64 {
	p, ok := b.Point(s, outcome, price)
	if !ok {
		return 0
	}
	return p.Amount
}

// Point returns the point at (outcome, price).
func (b *Book) Point(s model.Side, outcome int, price decimal.Decimal) (Point, bool) {
	tree, err := b.side(s)
	if err != nil {
		return Point{}, false
	}
	return tree.Get(Point{Outcome: outcome, Price: price})
}

// Points lists a side in (outcome, price) ascending order.
func (b *Book) Points(s model.Side) []Point {
	tree, err := b.side(s)
	if err != nil {
		return nil
	}
	out := make([]Point, 0, tree.Len())
	tree.Ascend(func(p Point) bool {
		out = append(out, p)
		return true
	})
	return out
}

// Len returns the number of points on a side.
func (b *Book) Len(s model.Side) int {
	tree, err := b.side(s)
	if err != nil {
		return 0
	}
	return tree.Len()
}

// Eligible calls fn for each point a taker on takerSide can match on
// outcome at limit, best price first, until fn returns false.
func (b *Book) Eligible(takerSide model.Side, outcome int, limit decimal.Decimal, fn func(Point) bool) {
	switch takerSide {
	case model.For:
		// Against liquidity at price >= limit, highest first.
		b.against.DescendLessOrEqual(Point{Outcome: outcome + 1}, func(p Point) bool {
			if p.Outcome != outcome || p.Price.LessThan(limit) {
				return false
			}
			return fn(p)
		})
	case model.Against:
		// For liquidity at price <= limit, lowest first.
		b.forSide.AscendGreaterOrEqual(Point{Outcome: outcome, Price: decimal.Zero}, func(p Point) bool {
			if p.Outcome != outcome || p.Price.GreaterThan(limit) {
				return false
			}
			return fn(p)
		})
	}
}

// Clear drops every point on both sides.
func (b *Book) Clear() {
	b.forSide.Clear(false)
	b.against.Clear(false)
}

// Clone returns a copy-on-write snapshot of the book.
func (b *Book) Clone() *Book {
	return &Book{
		capacity: b.capacity,
		forSide:  b.forSide.Clone(),
		against:  b.against.Clone(),
	}
}
