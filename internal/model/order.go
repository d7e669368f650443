package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/betting-exchange/internal/fault"
	"github.com/atmx/betting-exchange/internal/odds"
)

// OrderStatus is the order state machine:
//
//	Open -> Matched -> {SettledWin | SettledLose | Cancelled | Voided}
//
// An Open order with partial fills stays Open; it becomes Matched once its
// unmatched stake reaches zero. The four right-hand states are terminal.
type OrderStatus string

const (
	OrderOpen        OrderStatus = "OPEN"
	OrderMatched     OrderStatus = "MATCHED"
	OrderSettledWin  OrderStatus = "SETTLED_WIN"
	OrderSettledLose OrderStatus = "SETTLED_LOSE"
	OrderCancelled   OrderStatus = "CANCELLED"
	OrderVoided      OrderStatus = "VOIDED"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderSettledWin, OrderSettledLose, OrderCancelled, OrderVoided:
		return true
	}
	return false
}

var (
	ErrOrderNotCancellable = fmt.Errorf("%w: order not cancellable", fault.ErrValidation)
	ErrOrderTerminal       = fmt.Errorf("%w: order already in a terminal status", fault.ErrValidation)
	ErrFillExceedsStake    = fmt.Errorf("%w: fill exceeds unmatched stake", fault.ErrConsistency)
)

// Order is a purchaser's bet once its request has been processed.
type Order struct {
	ID                    string          `json:"id"`
	Purchaser             string          `json:"purchaser"`
	MarketID              string          `json:"market_id"`
	Outcome               int             `json:"outcome"`
	Side                  Side            `json:"side"`
	Status                OrderStatus     `json:"status"`
	Stake                 uint64          `json:"stake"`
	StakeUnmatched        uint64          `json:"stake_unmatched"`
	VoidedStake           uint64          `json:"voided_stake"`
	ExpectedPrice         decimal.Decimal `json:"expected_price"`
	Payout                uint64          `json:"payout"`
	Product               string          `json:"product,omitempty"`
	ProductCommissionRate decimal.Decimal `json:"product_commission_rate"`
	CreatedAt             time.Time       `json:"created_at"`
	Inplay                bool            `json:"inplay"`
	DelayExpiresAt        time.Time       `json:"delay_expires_at"`
}

// NewOrder initialises an Open order from a dequeued request.
func NewOrder(r *OrderRequest) *Order {
	return &Order{
		ID:                    r.OrderID(),
		Purchaser:             r.Purchaser,
		MarketID:              r.MarketID,
		Outcome:               r.Outcome,
		Side:                  r.Side,
		Status:                OrderOpen,
		Stake:                 r.Stake,
		StakeUnmatched:        r.Stake,
		ExpectedPrice:         r.ExpectedPrice,
		Product:               r.Product,
		ProductCommissionRate: r.ProductCommissionRate,
		CreatedAt:             r.CreatedAt,
		Inplay:                r.Inplay,
		DelayExpiresAt:        r.DelayExpiresAt,
	}
}

// MatchedStake is the stake that has been filled.
func (o *Order) MatchedStake() uint64 {
	return o.Stake - o.StakeUnmatched - o.VoidedStake
}

// ApplyFill records a fill of stake at price.
func (o *Order) ApplyFill(stake uint64, price decimal.Decimal) error {
	if o.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrOrderTerminal, o.ID)
	}
	if stake > o.StakeUnmatched {
		return fmt.Errorf("%w: order %s fill %d unmatched %d", ErrFillExceedsStake, o.ID, stake, o.StakeUnmatched)
	}
	payout, err := odds.Payout(stake, price)
	if err != nil {
		return err
	}
	total, err := odds.Add(o.Payout, payout)
	if err != nil {
		return err
	}
	o.Payout = total
	o.StakeUnmatched -= stake
	if o.StakeUnmatched == 0 {
		o.Status = OrderMatched
	}
	return nil
}

// VoidRemaining cancels the whole unmatched stake and returns the amount
// voided. An order with no matched stake becomes Cancelled; otherwise it is
// Matched with nothing left to match.
func (o *Order) VoidRemaining() (uint64, error) {
	if o.Status.Terminal() || o.StakeUnmatched == 0 {
		return 0, fmt.Errorf("%w: %s", ErrOrderNotCancellable, o.ID)
	}
	voided := o.StakeUnmatched
	o.VoidedStake += voided
	o.StakeUnmatched = 0
	if o.MatchedStake() == 0 {
		o.Status = OrderCancelled
	} else {
		o.Status = OrderMatched
	}
	return voided, nil
}

// Settle moves a matched order to its settled status for the winning
// outcome. Orders that never matched become Cancelled.
func (o *Order) Settle(winner int) {
	switch {
	case o.MatchedStake() == 0:
		o.Status = OrderCancelled
	case (o.Outcome == winner) == (o.Side == For):
		o.Status = OrderSettledWin
	default:
		o.Status = OrderSettledLose
	}
}

// Void moves the order to Voided.
func (o *Order) Void() {
	o.Status = OrderVoided
}
