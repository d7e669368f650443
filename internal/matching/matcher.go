package matching

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/betting-exchange/internal/liquidity"
	"github.com/atmx/betting-exchange/internal/model"
	"github.com/atmx/betting-exchange/internal/odds"
)

// DefaultMatchesPerCall bounds how many price points one Plan consumes. A
// plan that hits the bound is incomplete and its taker's residual is not
// rested until a later plan finishes the scan.
const DefaultMatchesPerCall = 5

// Taker is the view of an order the matcher needs.
type Taker struct {
	MarketID       string
	OrderID        string
	Outcome        int
	Side           model.Side
	Limit          decimal.Decimal
	StakeUnmatched uint64
}

// MakerFill is the stake taken from one direct point.
type MakerFill struct {
	Outcome int
	Side    model.Side
	Price   decimal.Decimal
	Stake   uint64
}

// Fill is one consumed price point. Derived points carry one maker fill per
// source outcome.
type Fill struct {
	Point  liquidity.Point
	Stake  uint64
	Makers []MakerFill
}

// Plan is the outcome of scanning the book for one taker. Nothing in the
// book changes until Apply.
type Plan struct {
	Taker     Taker
	Fills     []Fill
	Entries   []Entry
	Matched   uint64
	Payout    uint64
	Remaining uint64
	// Complete is false when the per-call budget ran out while eligible
	// liquidity remained; matching must resume with another Plan.
	Complete bool
}

type pointKey struct {
	side    model.Side
	outcome int
	price   string
}

// PlanMatch walks the liquidity eligible for t best price first, consuming
// at most budget price points.
func PlanMatch(book *liquidity.Book, t Taker, budget int) (*Plan, error) {
	if budget < 1 {
		budget = DefaultMatchesPerCall
	}
	plan := &Plan{Taker: t, Remaining: t.StakeUnmatched, Complete: true}
	consumed := make(map[pointKey]uint64)
	makerSide := t.Side.Opposite()

	var scanErr error
	book.Eligible(t.Side, t.Outcome, t.Limit, func(p liquidity.Point) bool {
		if plan.Remaining == 0 {
			return false
		}
		available, err := available(book, makerSide, p, consumed)
		if err != nil {
			scanErr = err
			return false
		}
		if available == 0 {
			return true
		}
		if len(plan.Fills) == budget {
			plan.Complete = false
			return false
		}

		fill := Fill{Point: p, Stake: min(available, plan.Remaining)}
		consumed[keyOf(makerSide, p.Outcome, p.Price)] += fill.Stake
		if p.Derived() {
			for _, src := range p.Sources {
				stake, err := odds.Rebalance(fill.Stake, p.Price, src.Price)
				if err != nil {
					scanErr = err
					return false
				}
				if stake == 0 {
					continue
				}
				consumed[keyOf(t.Side, src.Outcome, src.Price)] += stake
				fill.Makers = append(fill.Makers, MakerFill{Outcome: src.Outcome, Side: t.Side, Price: src.Price, Stake: stake})
			}
		} else {
			fill.Makers = []MakerFill{{Outcome: p.Outcome, Side: makerSide, Price: p.Price, Stake: fill.Stake}}
		}

		payout, err := odds.Payout(fill.Stake, p.Price)
		if err != nil {
			scanErr = err
			return false
		}
		if plan.Payout, err = odds.Add(plan.Payout, payout); err != nil {
			scanErr = err
			return false
		}

		for _, m := range fill.Makers {
			plan.Entries = append(plan.Entries, Entry{
				Role: RoleMaker, Outcome: m.Outcome, Side: m.Side, Price: m.Price, Stake: m.Stake, Counterpart: t.OrderID,
			})
		}
		plan.Entries = append(plan.Entries, Entry{
			Role: RoleTaker, Outcome: t.Outcome, Side: t.Side, Price: p.Price, Stake: fill.Stake, OrderID: t.OrderID,
			Counterpart: counterpart(t.MarketID, fill.Makers),
		})
		plan.Fills = append(plan.Fills, fill)
		plan.Matched += fill.Stake
		plan.Remaining -= fill.Stake
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}
	return plan, nil
}

// Apply removes the consumed liquidity from book. Derived points release
// both their own amount and the stake each source contributed. When
// withResidual is set and the plan is complete, the remaining stake is added
// on the taker's own side at its limit price. An incomplete plan never rests
// a residual, since eligible liquidity may still be ahead of it.
func (p *Plan) Apply(book *liquidity.Book, withResidual bool) error {
	makerSide := p.Taker.Side.Opposite()
	for _, f := range p.Fills {
		if err := book.Remove(makerSide, f.Point.Outcome, f.Point.Price, f.Stake); err != nil {
			return err
		}
		if !f.Point.Derived() {
			continue
		}
		for _, m := range f.Makers {
			if err := book.Remove(m.Side, m.Outcome, m.Price, m.Stake); err != nil {
				return err
			}
		}
	}
	if withResidual && p.Complete && p.Remaining > 0 {
		return book.Add(p.Taker.Side, p.Taker.Outcome, p.Taker.Limit, p.Remaining)
	}
	return nil
}

// counterpart names the maker pools a taker fill drew on, joined with "+"
// for derived fills.
func counterpart(marketID string, makers []MakerFill) string {
	refs := make([]string, len(makers))
	for i, m := range makers {
		refs[i] = NewPoolKey(marketID, m.Outcome, m.Side, m.Price).String()
	}
	return strings.Join(refs, "+")
}

func keyOf(side model.Side, outcome int, price decimal.Decimal) pointKey {
	return pointKey{side: side, outcome: outcome, price: price.String()}
}

func available(book *liquidity.Book, side model.Side, p liquidity.Point, consumed map[pointKey]uint64) (uint64, error) {
	own := p.Amount - min(p.Amount, consumed[keyOf(side, p.Outcome, p.Price)])
	if !p.Derived() {
		return own, nil
	}
	fundable := own
	for _, src := range p.Sources {
		sp, ok := book.Point(side.Opposite(), src.Outcome, src.Price)
		if !ok {
			return 0, nil
		}
		left := sp.Amount - min(sp.Amount, consumed[keyOf(side.Opposite(), src.Outcome, src.Price)])
		stake, err := odds.Rebalance(left, src.Price, p.Price)
		if err != nil {
			return 0, err
		}
		fundable = min(fundable, stake)
	}
	return fundable, nil
}
