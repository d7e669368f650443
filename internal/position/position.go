// Package position implements the per-purchaser, per-market exposure ledger.
//
// A Position nets a purchaser's bets across every outcome of a market so
// that only the worst case has to be escrowed. OutcomeSums holds the signed
// matched result per outcome (what the purchaser wins or loses if that
// outcome wins); UnmatchedExposures holds the liability of stake that is
// still waiting to be matched.
package position

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/atmx/betting-exchange/internal/fault"
	"github.com/atmx/betting-exchange/internal/model"
	"github.com/atmx/betting-exchange/internal/odds"
)

// DefaultProductCap bounds the commission attribution table.
const DefaultProductCap = 20

var (
	ErrOutcomeOutOfRange = fmt.Errorf("%w: position: outcome out of range", fault.ErrConsistency)
	ErrSumOutOfRange     = fmt.Errorf("%w: position: outcome sum exceeds 128-bit range", fault.ErrArithmetic)
	ErrNegativePayout    = fmt.Errorf("%w: position: settlement payout below zero", fault.ErrArithmetic)
)

var (
	// outcome sums are bounded to the signed 128-bit range.
	sumLimit = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 127), 0)
	hundred  = big.NewRat(100, 1)
)

// ProductRisk is the matched risk attributed to one referring product at the
// commission rate snapshotted on the purchaser's orders.
type ProductRisk struct {
	Product string          `json:"product"`
	Rate    decimal.Decimal `json:"rate"`
	Risk    uint64          `json:"risk"`
}

// Position is one purchaser's exposure in one market.
type Position struct {
	Purchaser             string            `json:"purchaser"`
	MarketID              string            `json:"market_id"`
	OutcomeSums           []decimal.Decimal `json:"outcome_sums"`
	UnmatchedExposures    []uint64          `json:"unmatched_exposures"`
	MatchedRisk           uint64            `json:"matched_risk"`
	MatchedRiskPerProduct []ProductRisk     `json:"matched_risk_per_product"`
	ProductCap            int               `json:"-"`
	Paid                  bool              `json:"paid"`
}

// New sizes a position to the market's outcome count. The vectors are never
// resized afterwards.
func New(purchaser, marketID string, outcomeCount, productCap int) *Position {
	sums := make([]decimal.Decimal, outcomeCount)
	for i := range sums {
		sums[i] = decimal.Zero
	}
	return &Position{
		Purchaser:          purchaser,
		MarketID:           marketID,
		OutcomeSums:        sums,
		UnmatchedExposures: make([]uint64, outcomeCount),
		ProductCap:         productCap,
	}
}

// OutcomeCount returns the size of the exposure vectors.
func (p *Position) OutcomeCount() int { return len(p.OutcomeSums) }

// OnRequestCreated reserves the liability of a new request: a for bet can
// lose its stake on every other outcome, an against bet can lose its risk
// on its own outcome.
func (p *Position) OnRequestCreated(side model.Side, outcome int, stake uint64, price decimal.Decimal) error {
	if err := p.checkOutcome(outcome); err != nil {
		return err
	}
	next := append([]uint64(nil), p.UnmatchedExposures...)
	if side == model.For {
		for k := range next {
			if k == outcome {
				continue
			}
			v, err := odds.Add(next[k], stake)
			if err != nil {
				return err
			}
			next[k] = v
		}
	} else {
		risk, err := odds.Risk(stake, price)
		if err != nil {
			return err
		}
		if next[outcome], err = odds.Add(next[outcome], risk); err != nil {
			return err
		}
	}
	p.UnmatchedExposures = next
	return nil
}

// OnCancel releases the unmatched liability of voided stake, exactly
// reversing OnRequestCreated for that amount.
func (p *Position) OnCancel(side model.Side, outcome int, voided uint64, price decimal.Decimal) error {
	if err := p.checkOutcome(outcome); err != nil {
		return err
	}
	next, err := p.releaseUnmatched(side, outcome, voided, price)
	if err != nil {
		return err
	}
	p.UnmatchedExposures = next
	return nil
}

// OnMatch books a fill of stake at matchPrice. The unmatched liability is
// released at the order's expectedPrice, the same price it was reserved at.
func (p *Position) OnMatch(side model.Side, outcome int, stake uint64, matchPrice, expectedPrice decimal.Decimal) error {
	if err := p.checkOutcome(outcome); err != nil {
		return err
	}
	risk, err := odds.Risk(stake, matchPrice)
	if err != nil {
		return err
	}
	riskD, stakeD := odds.FromUint(risk), odds.FromUint(stake)
	if side == model.Against {
		riskD, stakeD = riskD.Neg(), stakeD.Neg()
	}

	sums := append([]decimal.Decimal(nil), p.OutcomeSums...)
	for k := range sums {
		if k == outcome {
			sums[k] = sums[k].Add(riskD)
		} else {
			sums[k] = sums[k].Sub(stakeD)
		}
		if sums[k].Abs().GreaterThanOrEqual(sumLimit) {
			return fmt.Errorf("%w: outcome %d", ErrSumOutOfRange, k)
		}
	}
	unmatched, err := p.releaseUnmatched(side, outcome, stake, expectedPrice)
	if err != nil {
		return err
	}
	p.OutcomeSums = sums
	p.UnmatchedExposures = unmatched
	return nil
}

// TotalExposure is the worst-case liability over all outcomes:
// max_i(unmatched[i] + max(-sum[i], 0)).
func (p *Position) TotalExposure() (uint64, error) {
	var worst uint64
	for i, sum := range p.OutcomeSums {
		exposure := p.UnmatchedExposures[i]
		if sum.IsNegative() {
			loss, err := toUint(sum.Neg())
			if err != nil {
				return 0, err
			}
			if exposure, err = odds.Add(exposure, loss); err != nil {
				return 0, err
			}
		}
		worst = max(worst, exposure)
	}
	return worst, nil
}

// AddMatchedRisk accumulates risk in the total and, when product is set,
// under the (product, rate) entry. Once the table holds ProductCap entries,
// new pairs are dropped from attribution and dropped reports true; the
// total still accrues.
func (p *Position) AddMatchedRisk(product string, rate decimal.Decimal, risk uint64) (dropped bool, err error) {
	total, err := odds.Add(p.MatchedRisk, risk)
	if err != nil {
		return false, err
	}
	if product == "" {
		p.MatchedRisk = total
		return false, nil
	}
	for i, pr := range p.MatchedRiskPerProduct {
		if pr.Product == product && pr.Rate.Equal(rate) {
			v, err := odds.Add(pr.Risk, risk)
			if err != nil {
				return false, err
			}
			table := append([]ProductRisk(nil), p.MatchedRiskPerProduct...)
			table[i].Risk = v
			p.MatchedRisk = total
			p.MatchedRiskPerProduct = table
			return false, nil
		}
	}
	p.MatchedRisk = total
	if len(p.MatchedRiskPerProduct) >= p.ProductCap {
		return true, nil
	}
	p.MatchedRiskPerProduct = append(append([]ProductRisk(nil), p.MatchedRiskPerProduct...),
		ProductRisk{Product: product, Rate: rate, Risk: risk})
	return false, nil
}

// FillRisk is the amount a fill puts at risk: the stake for a for bet, the
// liability stake*(price-1) for an against bet.
func FillRisk(side model.Side, stake uint64, price decimal.Decimal) (uint64, error) {
	if side == model.For {
		return stake, nil
	}
	return odds.Risk(stake, price)
}

// Commission is the amount owed to one product at settlement.
type Commission struct {
	Product string `json:"product"`
	Amount  uint64 `json:"amount"`
}

// Settlement is the result of settling a position on a winning outcome.
type Settlement struct {
	// Gross is returned from escrow before commission: exposure + sum[winner].
	Gross       uint64       `json:"gross"`
	Profit      uint64       `json:"profit"`
	Commissions []Commission `json:"commissions"`
	// Net is Gross minus all commissions; it goes to the purchaser.
	Net uint64 `json:"net"`
}

// SettlementPayout computes what the escrow pays out when winner wins. Commission is
// charged on positive profit only, split across products in proportion to
// the risk attributed to each and scaled by each entry's rate percentage.
func (p *Position) SettlementPayout(winner int) (Settlement, error) {
	if err := p.checkOutcome(winner); err != nil {
		return Settlement{}, err
	}
	exposure, err := p.TotalExposure()
	if err != nil {
		return Settlement{}, err
	}
	grossD := odds.FromUint(exposure).Add(p.OutcomeSums[winner])
	if grossD.IsNegative() {
		return Settlement{}, fmt.Errorf("%w: %s", ErrNegativePayout, grossD)
	}
	gross, err := toUint(grossD)
	if err != nil {
		return Settlement{}, err
	}
	s := Settlement{Gross: gross, Net: gross}
	if !p.OutcomeSums[winner].IsPositive() || p.MatchedRisk == 0 {
		return s, nil
	}
	if s.Profit, err = toUint(p.OutcomeSums[winner]); err != nil {
		return Settlement{}, err
	}
	for _, pr := range p.MatchedRiskPerProduct {
		amount := commission(s.Profit, pr.Risk, p.MatchedRisk, pr.Rate)
		if amount == 0 {
			continue
		}
		if amount > s.Net {
			amount = s.Net
		}
		s.Net -= amount
		s.Commissions = append(s.Commissions, Commission{Product: pr.Product, Amount: amount})
	}
	return s, nil
}

// VoidRefund is the full escrowed exposure, returned when the market is
// voided.
func (p *Position) VoidRefund() (uint64, error) { return p.TotalExposure() }

// Clone returns a deep copy.
func (p *Position) Clone() *Position {
	c := *p
	c.OutcomeSums = append([]decimal.Decimal(nil), p.OutcomeSums...)
	c.UnmatchedExposures = append([]uint64(nil), p.UnmatchedExposures...)
	c.MatchedRiskPerProduct = append([]ProductRisk(nil), p.MatchedRiskPerProduct...)
	return &c
}

func (p *Position) releaseUnmatched(side model.Side, outcome int, stake uint64, price decimal.Decimal) ([]uint64, error) {
	next := append([]uint64(nil), p.UnmatchedExposures...)
	if side == model.For {
		for k := range next {
			if k == outcome {
				continue
			}
			v, err := odds.Sub(next[k], stake)
			if err != nil {
				return nil, err
			}
			next[k] = v
		}
		return next, nil
	}
	risk, err := odds.Risk(stake, price)
	if err != nil {
		return nil, err
	}
	if next[outcome], err = odds.Sub(next[outcome], risk); err != nil {
		return nil, err
	}
	return next, nil
}

func (p *Position) checkOutcome(outcome int) error {
	if outcome < 0 || outcome >= len(p.OutcomeSums) {
		return fmt.Errorf("%w: %d of %d", ErrOutcomeOutOfRange, outcome, len(p.OutcomeSums))
	}
	return nil
}

// commission = floor(profit * risk/matchedRisk * rate/100), computed exactly.
func commission(profit, risk, matchedRisk uint64, rate decimal.Decimal) uint64 {
	r := new(big.Rat).SetInt(new(big.Int).SetUint64(profit))
	r.Mul(r, new(big.Rat).SetFrac(new(big.Int).SetUint64(risk), new(big.Int).SetUint64(matchedRisk)))
	r.Mul(r, rate.Rat())
	r.Quo(r, hundred)
	q := new(big.Int).Quo(r.Num(), r.Denom())
	if !q.IsUint64() {
		return 0
	}
	return q.Uint64()
}

func toUint(d decimal.Decimal) (uint64, error) {
	b := d.BigInt()
	if b.Sign() < 0 {
		return 0, odds.ErrUnderflow
	}
	if !b.IsUint64() {
		return 0, odds.ErrOverflow
	}
	return b.Uint64(), nil
}
