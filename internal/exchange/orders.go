package exchange

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/betting-exchange/internal/fault"
	"github.com/atmx/betting-exchange/internal/market"
	"github.com/atmx/betting-exchange/internal/matching"
	"github.com/atmx/betting-exchange/internal/model"
	"github.com/atmx/betting-exchange/internal/odds"
	"github.com/atmx/betting-exchange/internal/position"
	"github.com/atmx/betting-exchange/internal/ringqueue"
)

var (
	ErrUnknownEntry = fmt.Errorf("%w: exchange: matching entry references unknown state", fault.ErrConsistency)

	hundred = decimal.NewFromInt(100)
)

// CreateOrderRequest validates a purchaser's request, escrows its exposure
// and queues it for processing.
func (e *Engine) CreateOrderRequest(purchaser string, req model.OrderRequest) (*model.OrderRequest, error) {
	var out model.OrderRequest
	err := e.crank(req.MarketID, func(tx *txn) error {
		req.Purchaser = purchaser
		req.CreatedAt = tx.now
		if tx.market.Inplay {
			req.Inplay = true
			req.DelayExpiresAt = tx.now.Add(tx.market.InplayOrderDelay)
		} else {
			req.Inplay = false
			req.DelayExpiresAt = tx.now
		}
		if req.Product == "" {
			req.ProductCommissionRate = decimal.Zero
		}
		if err := tx.validateRequest(&req); err != nil {
			return err
		}

		pos, err := tx.positionOrCreate(purchaser)
		if err != nil {
			return err
		}
		before, err := pos.TotalExposure()
		if err != nil {
			return err
		}
		if err := pos.OnRequestCreated(req.Side, req.Outcome, req.Stake, req.ExpectedPrice); err != nil {
			return err
		}
		if err := tx.escrowDelta(pos, before); err != nil {
			return err
		}
		if err := tx.requests.Enqueue(req); err != nil {
			return fmt.Errorf("%w: %v", ErrRequestQueueFull, err)
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("order request created", "market_id", out.MarketID, "purchaser", purchaser,
		"order_id", out.OrderID(), "side", out.Side, "outcome", out.Outcome,
		"stake", out.Stake, "price", out.ExpectedPrice.String())
	return &out, nil
}

func (tx *txn) validateRequest(r *model.OrderRequest) error {
	if err := tx.market.AcceptingOrders(tx.now); err != nil {
		return err
	}
	if r.Purchaser == "" || r.Seed == "" {
		return fmt.Errorf("%w: purchaser and seed required", ErrInvalidRequest)
	}
	if !r.Side.Valid() {
		return fmt.Errorf("%w: side %q", ErrInvalidRequest, r.Side)
	}
	if r.Stake == 0 {
		return fmt.Errorf("%w: zero stake", ErrInvalidRequest)
	}
	if r.ProductCommissionRate.IsNegative() || r.ProductCommissionRate.GreaterThan(hundred) {
		return fmt.Errorf("%w: commission rate %s", ErrInvalidRequest, r.ProductCommissionRate)
	}
	o, err := tx.market.Outcome(r.Outcome)
	if err != nil {
		return err
	}
	if !o.HasPrice(r.ExpectedPrice) {
		return fmt.Errorf("%w: %s on outcome %d", market.ErrPriceOffLadder, r.ExpectedPrice, r.Outcome)
	}
	if err := odds.CheckStakePrecision(r.Stake, tx.market.MintDecimals, tx.market.DecimalLimit); err != nil {
		return err
	}
	id := r.OrderID()
	if _, ok := tx.peekOrder(id); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRequest, r.Seed)
	}
	for _, q := range tx.requests.Items() {
		if q.OrderID() == id {
			return fmt.Errorf("%w: %s", ErrDuplicateRequest, r.Seed)
		}
	}
	return nil
}

// DequeueOrderRequest drops the front request of a market that stopped
// accepting orders before it was processed, refunding its escrow.
func (e *Engine) DequeueOrderRequest(marketID string) (*model.OrderRequest, error) {
	var out model.OrderRequest
	err := e.crank(marketID, func(tx *txn) error {
		switch tx.market.Status {
		case market.StatusOpen, market.StatusLocked, market.StatusReadyToVoid:
		default:
			return fmt.Errorf("%w: %s", ErrWrongMarketStatus, tx.market.Status)
		}
		if tx.market.Status == market.StatusOpen && !tx.market.Locked(tx.now) {
			return fmt.Errorf("%w: market still accepting orders", ErrWrongMarketStatus)
		}
		req, err := tx.requests.Dequeue()
		if errors.Is(err, ringqueue.ErrEmpty) {
			return ErrNothingToProcess
		}
		if err != nil {
			return err
		}
		pos, ok := tx.position(req.Purchaser)
		if !ok {
			return fmt.Errorf("%w: position of %s", ErrUnknownEntry, req.Purchaser)
		}
		out = req
		if pos.Paid {
			return nil
		}
		before, err := pos.TotalExposure()
		if err != nil {
			return err
		}
		if err := pos.OnCancel(req.Side, req.Outcome, req.Stake, req.ExpectedPrice); err != nil {
			return err
		}
		return tx.escrowDelta(pos, before)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("order request dequeued", "market_id", marketID, "order_id", out.OrderID(), "stake", out.Stake)
	return &out, nil
}

// ProcessResult reports one matching pass.
type ProcessResult struct {
	Order   *model.Order     `json:"order"`
	Entries []matching.Entry `json:"entries"`
	// Complete is false when the pass ran out of budget; the next call
	// resumes the same order.
	Complete bool `json:"complete"`
}

// ProcessOrderRequest resumes the order whose matching is in progress or,
// if none is, turns the front request into an order. Either way the order
// then gets one budgeted matching pass.
func (e *Engine) ProcessOrderRequest(marketID string) (*ProcessResult, error) {
	var res ProcessResult
	err := e.crank(marketID, func(tx *txn) error {
		if _, err := tx.releaseDelayed(); err != nil {
			return err
		}
		var (
			o   *model.Order
			err error
		)
		if tx.inProgress != "" {
			if err := tx.requireMatchingStatus(); err != nil {
				return err
			}
			if o, err = tx.order(tx.inProgress); err != nil {
				return err
			}
		} else {
			if err := tx.market.AcceptingOrders(tx.now); err != nil {
				return err
			}
			req, err := tx.requests.Dequeue()
			if errors.Is(err, ringqueue.ErrEmpty) {
				return ErrNothingToProcess
			}
			if err != nil {
				return err
			}
			o = model.NewOrder(&req)
			if tx.market.Inplay && !o.Inplay {
				o.Inplay = true
				o.DelayExpiresAt = tx.now.Add(tx.market.InplayOrderDelay)
			}
			if err := tx.market.AccountOpened(); err != nil {
				return err
			}
			tx.addOrder(o)
		}
		entries, complete, err := tx.match(o)
		if err != nil {
			return err
		}
		c := *o
		res = ProcessResult{Order: &c, Entries: entries, Complete: complete}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("order processed", "market_id", marketID, "order_id", res.Order.ID,
		"status", res.Order.Status, "stake_unmatched", res.Order.StakeUnmatched,
		"entries", len(res.Entries), "complete", res.Complete)
	return &res, nil
}

// match runs one budgeted matching pass for o as taker. The taker's own
// fills are booked immediately; maker fills wait in the matching queue.
func (tx *txn) match(o *model.Order) ([]matching.Entry, bool, error) {
	pos, ok := tx.position(o.Purchaser)
	if !ok {
		return nil, false, fmt.Errorf("%w: position of %s", ErrUnknownEntry, o.Purchaser)
	}
	before, err := pos.TotalExposure()
	if err != nil {
		return nil, false, err
	}
	outcome, err := tx.market.Outcome(o.Outcome)
	if err != nil {
		return nil, false, err
	}

	taker := matching.Taker{MarketID: o.MarketID, OrderID: o.ID, Outcome: o.Outcome, Side: o.Side, Limit: o.ExpectedPrice, StakeUnmatched: o.StakeUnmatched}
	plan, err := matching.PlanMatch(tx.book, taker, tx.e.cfg.MatchesPerCall)
	if err != nil {
		return nil, false, err
	}
	if err := tx.matching.Push(plan.Entries...); err != nil {
		return nil, false, err
	}
	if err := plan.Apply(tx.book, false); err != nil {
		return nil, false, err
	}
	for _, f := range plan.Fills {
		if err := tx.fill(pos, o, f.Stake, f.Point.Price); err != nil {
			return nil, false, err
		}
		if err := outcome.RecordMatch(f.Stake, f.Point.Price); err != nil {
			return nil, false, err
		}
	}
	if err := tx.escrowDelta(pos, before); err != nil {
		return nil, false, err
	}

	if !plan.Complete {
		tx.inProgress = o.ID
		return plan.Entries, false, nil
	}
	tx.inProgress = ""
	if o.StakeUnmatched > 0 {
		pool := tx.poolOrCreate(o.Outcome, o.Side, o.ExpectedPrice)
		live, err := pool.EnqueueNew(o.ID, o.StakeUnmatched, o.DelayExpiresAt, tx.now, tx.market.Inplay, tx.market.EventStartOrderBehaviour)
		if err != nil {
			return nil, false, err
		}
		if live > 0 {
			if err := tx.book.Add(o.Side, o.Outcome, o.ExpectedPrice, live); err != nil {
				return nil, false, err
			}
		}
	}
	return plan.Entries, true, nil
}

// fill books stake matched at price on the order and its position.
func (tx *txn) fill(pos *position.Position, o *model.Order, stake uint64, price decimal.Decimal) error {
	if err := o.ApplyFill(stake, price); err != nil {
		return err
	}
	if err := pos.OnMatch(o.Side, o.Outcome, stake, price, o.ExpectedPrice); err != nil {
		return err
	}
	risk, err := position.FillRisk(o.Side, stake, price)
	if err != nil {
		return err
	}
	dropped, err := pos.AddMatchedRisk(o.Product, o.ProductCommissionRate, risk)
	if err != nil {
		return err
	}
	if dropped {
		tx.e.log.Warn("commission attribution table full", "market_id", tx.market.ID,
			"purchaser", o.Purchaser, "product", o.Product)
	}
	return nil
}

// MatchStep applies the front entry of the market's matching queue and
// returns the trade receipt it produced.
func (e *Engine) MatchStep(marketID string) (*model.Trade, error) {
	var trade model.Trade
	err := e.crank(marketID, func(tx *txn) error {
		if err := tx.requireMatchingStatus(); err != nil {
			return err
		}
		entry, ok := tx.matching.Front()
		if !ok {
			return ErrMatchingQueueEmpty
		}
		var err error
		if entry.Role == matching.RoleTaker {
			trade, err = tx.takerStep(entry)
		} else {
			trade, err = tx.makerStep(entry)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("order matched", "market_id", marketID, "order_id", trade.OrderID, "trade_id", trade.ID,
		"maker", trade.Maker, "side", trade.Side, "stake", trade.Stake, "price", trade.Price.String())
	return &trade, nil
}

func (tx *txn) takerStep(entry matching.Entry) (model.Trade, error) {
	o, ok := tx.peekOrder(entry.OrderID)
	if !ok {
		return model.Trade{}, fmt.Errorf("%w: taker order %s", ErrUnknownEntry, entry.OrderID)
	}
	trade, err := tx.trade(o, entry.Stake, entry.Price, entry.Counterpart, false)
	if err != nil {
		return model.Trade{}, err
	}
	if err := tx.market.TakerFilled(); err != nil {
		return model.Trade{}, err
	}
	if _, err := tx.matching.Pop(); err != nil {
		return model.Trade{}, err
	}
	return trade, nil
}

func (tx *txn) makerStep(entry matching.Entry) (model.Trade, error) {
	pool := tx.poolAt(entry.Outcome, entry.Side, entry.Price)
	if pool == nil {
		return model.Trade{}, fmt.Errorf("%w: no pool for %s %d@%s", ErrUnknownEntry, entry.Side, entry.Outcome, entry.Price)
	}
	head, ok := pool.Head()
	if !ok {
		return model.Trade{}, fmt.Errorf("%w: %+v", matching.ErrNotInPool, pool.Key)
	}
	o, err := tx.order(head.OrderID)
	if err != nil {
		return model.Trade{}, err
	}
	pos, ok := tx.position(o.Purchaser)
	if !ok {
		return model.Trade{}, fmt.Errorf("%w: position of %s", ErrUnknownEntry, o.Purchaser)
	}
	stake := min(o.StakeUnmatched, entry.Stake)
	if stake == 0 {
		return model.Trade{}, fmt.Errorf("%w: head order %s has nothing to match", ErrUnknownEntry, o.ID)
	}
	before, err := pos.TotalExposure()
	if err != nil {
		return model.Trade{}, err
	}
	if err := tx.fill(pos, o, stake, entry.Price); err != nil {
		return model.Trade{}, err
	}
	if err := pool.ApplyMatch(o.ID, stake, o.StakeUnmatched == 0); err != nil {
		return model.Trade{}, err
	}
	if err := tx.escrowDelta(pos, before); err != nil {
		return model.Trade{}, err
	}
	trade, err := tx.trade(o, stake, entry.Price, entry.Counterpart, true)
	if err != nil {
		return model.Trade{}, err
	}
	if stake == entry.Stake {
		_, err = tx.matching.Pop()
	} else if !tx.matching.SetFrontStake(entry.Stake - stake) {
		err = ErrMatchingQueueEmpty
	}
	return trade, err
}

func (tx *txn) trade(o *model.Order, stake uint64, price decimal.Decimal, counterpart string, maker bool) (model.Trade, error) {
	n, err := tx.market.NextTradeSeq()
	if err != nil {
		return model.Trade{}, err
	}
	return model.Trade{
		ID:          model.TradeID(tx.market.ID, n),
		Purchaser:   o.Purchaser,
		MarketID:    o.MarketID,
		OrderID:     o.ID,
		Outcome:     o.Outcome,
		Side:        o.Side,
		Stake:       stake,
		Price:       price,
		Counterpart: counterpart,
		Maker:       maker,
		CreatedAt:   tx.now,
	}, nil
}

// requireMatchingStatus allows matching work while the market is Open or
// Locked; work already accepted completes after the lock.
func (tx *txn) requireMatchingStatus() error {
	switch tx.market.Status {
	case market.StatusOpen, market.StatusLocked:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrWrongMarketStatus, tx.market.Status)
}

// Cancellation reports a cancelled order and the stake it released.
type Cancellation struct {
	Order  *model.Order `json:"order"`
	Voided uint64       `json:"voided"`
}

// CancelOrder cancels the purchaser's remaining unmatched stake.
func (e *Engine) CancelOrder(purchaser, orderID string) (*Cancellation, error) {
	return e.cancel(orderID, func(tx *txn, o *model.Order) error {
		if o.Purchaser != purchaser {
			return fmt.Errorf("%w: %s does not own %s", ErrUnauthorized, purchaser, orderID)
		}
		return tx.requireMatchingStatus()
	})
}

// CancelOrderPostLock cancels unmatched stake left on a locked market whose
// lock behaviour is to cancel unmatched orders.
func (e *Engine) CancelOrderPostLock(orderID string) (*Cancellation, error) {
	return e.cancel(orderID, func(tx *txn, o *model.Order) error {
		if err := tx.requireMatchingStatus(); err != nil {
			return err
		}
		if !tx.market.Locked(tx.now) || tx.market.MarketLockOrderBehaviour != model.BehaviourCancelUnmatched {
			return fmt.Errorf("%w: %s", model.ErrOrderNotCancellable, orderID)
		}
		return nil
	})
}

// CancelPreplayOrderPostEventStart cancels unmatched preplay stake once the
// market has gone inplay under a cancel-unmatched event start behaviour.
func (e *Engine) CancelPreplayOrderPostEventStart(orderID string) (*Cancellation, error) {
	return e.cancel(orderID, func(tx *txn, o *model.Order) error {
		if err := tx.requireMatchingStatus(); err != nil {
			return err
		}
		if !tx.market.Inplay || o.Inplay || tx.market.EventStartOrderBehaviour != model.BehaviourCancelUnmatched {
			return fmt.Errorf("%w: %s", model.ErrOrderNotCancellable, orderID)
		}
		if pool := tx.poolAt(o.Outcome, o.Side, o.ExpectedPrice); pool != nil {
			pool.MoveToInplay(model.BehaviourCancelUnmatched)
		}
		return nil
	})
}

func (e *Engine) cancel(orderID string, check func(*txn, *model.Order) error) (*Cancellation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, o, err := e.beginOrder(orderID)
	if err != nil {
		return nil, err
	}
	if err := check(tx, o); err != nil {
		return nil, err
	}
	voided, err := tx.cancelRemaining(o)
	if err != nil {
		return nil, err
	}
	if err := tx.commit(); err != nil {
		return nil, err
	}
	c := *o
	e.log.Info("order cancelled", "market_id", c.MarketID, "order_id", c.ID, "voided", voided, "status", c.Status)
	return &Cancellation{Order: &c, Voided: voided}, nil
}

// cancelRemaining voids o's unmatched stake, withdraws it from its pool and
// the book and refunds the released exposure.
func (tx *txn) cancelRemaining(o *model.Order) (uint64, error) {
	if tx.inProgress == o.ID {
		return 0, fmt.Errorf("%w: %s is still matching", model.ErrOrderNotCancellable, o.ID)
	}
	pool := tx.poolAt(o.Outcome, o.Side, o.ExpectedPrice)
	if pool != nil && tx.market.Inplay && !pool.Inplay {
		// the book dropped this pool's preplay liquidity at event start
		pool.MoveToInplay(tx.market.EventStartOrderBehaviour)
	}
	queued := pool != nil && pool.Contains(o.ID)
	if queued && tx.claimed(pool, o.ID) {
		return 0, fmt.Errorf("%w: %s has pending fills", model.ErrOrderNotCancellable, o.ID)
	}
	pos, ok := tx.position(o.Purchaser)
	if !ok {
		return 0, fmt.Errorf("%w: position of %s", ErrUnknownEntry, o.Purchaser)
	}
	before, err := pos.TotalExposure()
	if err != nil {
		return 0, err
	}
	voided, err := o.VoidRemaining()
	if err != nil {
		return 0, err
	}
	if o.Status == model.OrderCancelled {
		if err := tx.market.AccountSettled(); err != nil {
			return 0, err
		}
	}
	if queued {
		live, err := pool.Cancel(o.ID, voided)
		if err != nil {
			return 0, err
		}
		if live {
			if err := tx.book.Remove(o.Side, o.Outcome, o.ExpectedPrice, voided); err != nil {
				return 0, err
			}
		}
	}
	if err := pos.OnCancel(o.Side, o.Outcome, voided, o.ExpectedPrice); err != nil {
		return 0, err
	}
	if err := tx.escrowDelta(pos, before); err != nil {
		return 0, err
	}
	return voided, nil
}

// claimed reports whether maker entries still waiting in the matching queue
// cover part of orderID's stake. Pending entries consume the pool's live
// orders front to back.
func (tx *txn) claimed(pool *matching.Pool, orderID string) bool {
	pending := tx.matching.PendingMakerStake(pool.Key.Outcome, pool.Key.Side, pool.Price)
	for _, entry := range pool.Entries() {
		if entry.DeferredLiquidity > 0 {
			continue
		}
		o, ok := tx.peekOrder(entry.OrderID)
		if !ok {
			continue
		}
		take := min(pending, o.StakeUnmatched)
		if entry.OrderID == orderID {
			return take > 0
		}
		pending -= take
	}
	return false
}
