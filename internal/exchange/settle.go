package exchange

import (
	"fmt"

	"github.com/atmx/betting-exchange/internal/custody"
	"github.com/atmx/betting-exchange/internal/model"
	"github.com/atmx/betting-exchange/internal/position"
)

// SettleOrder moves an order to its settled status for the market's winning
// outcome. Orders already terminal, including those cancelled outright, are
// left untouched.
func (e *Engine) SettleOrder(orderID string) (*model.Order, error) {
	return e.finishOrder(orderID, func(tx *txn, o *model.Order) error {
		if !tx.market.Settling() {
			return fmt.Errorf("%w: %s", ErrWrongMarketStatus, tx.market.Status)
		}
		o.Settle(tx.market.WinningOutcome)
		return nil
	})
}

// VoidOrder moves an order of a voided market to Voided.
func (e *Engine) VoidOrder(orderID string) (*model.Order, error) {
	return e.finishOrder(orderID, func(tx *txn, o *model.Order) error {
		if !tx.market.Voiding() {
			return fmt.Errorf("%w: %s", ErrWrongMarketStatus, tx.market.Status)
		}
		o.Void()
		return nil
	})
}

func (e *Engine) finishOrder(orderID string, apply func(*txn, *model.Order) error) (*model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, o, err := e.beginOrder(orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		c := *o
		return &c, nil
	}
	if err := apply(tx, o); err != nil {
		return nil, err
	}
	if err := tx.market.AccountSettled(); err != nil {
		return nil, err
	}
	if err := tx.commit(); err != nil {
		return nil, err
	}
	c := *o
	e.log.Info("order settled", "market_id", c.MarketID, "order_id", c.ID, "status", c.Status)
	return &c, nil
}

// SettlePosition pays out purchaser's position on the winning outcome and
// any commission owed to referring products. A paid position is a no-op.
func (e *Engine) SettlePosition(marketID, purchaser string) (*position.Settlement, error) {
	var out position.Settlement
	err := e.crank(marketID, func(tx *txn) error {
		if !tx.market.Settling() {
			return fmt.Errorf("%w: %s", ErrWrongMarketStatus, tx.market.Status)
		}
		pos, ok := tx.position(purchaser)
		if !ok {
			return fmt.Errorf("%w: %s in %s", ErrPositionNotFound, purchaser, marketID)
		}
		if pos.Paid {
			return nil
		}
		s, err := pos.SettlementPayout(tx.market.WinningOutcome)
		if err != nil {
			return err
		}
		escrow := tx.market.EscrowAccount()
		tx.transfer(escrow, purchaser, s.Net)
		for _, c := range s.Commissions {
			tx.transfer(escrow, custody.ProductAccount(c.Product), c.Amount)
		}
		pos.Paid = true
		out = s
		return tx.market.AccountSettled()
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("position settled", "market_id", marketID, "purchaser", purchaser,
		"gross", out.Gross, "net", out.Net, "commissions", len(out.Commissions))
	return &out, nil
}

// VoidPosition refunds purchaser's entire escrowed exposure. A paid
// position is a no-op.
func (e *Engine) VoidPosition(marketID, purchaser string) (uint64, error) {
	var refund uint64
	err := e.crank(marketID, func(tx *txn) error {
		if !tx.market.Voiding() {
			return fmt.Errorf("%w: %s", ErrWrongMarketStatus, tx.market.Status)
		}
		pos, ok := tx.position(purchaser)
		if !ok {
			return fmt.Errorf("%w: %s in %s", ErrPositionNotFound, purchaser, marketID)
		}
		if pos.Paid {
			return nil
		}
		var err error
		if refund, err = pos.VoidRefund(); err != nil {
			return err
		}
		tx.transfer(tx.market.EscrowAccount(), purchaser, refund)
		pos.Paid = true
		return tx.market.AccountSettled()
	})
	if err != nil {
		return 0, err
	}
	e.log.Info("position voided", "market_id", marketID, "purchaser", purchaser, "refund", refund)
	return refund, nil
}
