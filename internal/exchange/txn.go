package exchange

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/betting-exchange/internal/limits"
	"github.com/atmx/betting-exchange/internal/liquidity"
	"github.com/atmx/betting-exchange/internal/market"
	"github.com/atmx/betting-exchange/internal/matching"
	"github.com/atmx/betting-exchange/internal/model"
	"github.com/atmx/betting-exchange/internal/position"
	"github.com/atmx/betting-exchange/internal/ringqueue"
)

type transfer struct {
	from, to string
	amount   uint64
}

// txn stages one operation against one market. Pools, positions and orders
// are copied on first write; the market, book and queues are copied up
// front. Nothing reaches the engine until commit.
type txn struct {
	e   *Engine
	s   *marketState
	now time.Time

	market     *market.Market
	book       *liquidity.Book
	requests   *ringqueue.Queue[model.OrderRequest]
	matching   *matching.Queue
	inProgress string

	pools     map[matching.PoolKey]*matching.Pool
	positions map[string]*position.Position
	orders    map[string]*model.Order
	transfers []transfer
}

func (e *Engine) begin(marketID string) (*txn, error) {
	s, ok := e.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	return &txn{
		e:          e,
		s:          s,
		now:        e.clock.Now(),
		market:     s.market.Clone(),
		book:       s.book.Clone(),
		requests:   s.requests.Clone(),
		matching:   s.matching.Clone(),
		inProgress: s.inProgress,
		pools:      make(map[matching.PoolKey]*matching.Pool),
		positions:  make(map[string]*position.Position),
		orders:     make(map[string]*model.Order),
	}, nil
}

// beginOrder opens a transaction on the market holding orderID.
func (e *Engine) beginOrder(orderID string) (*txn, *model.Order, error) {
	marketID, ok := e.orderMarket[orderID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	tx, err := e.begin(marketID)
	if err != nil {
		return nil, nil, err
	}
	o, err := tx.order(orderID)
	if err != nil {
		return nil, nil, err
	}
	return tx, o, nil
}

// order returns a writable copy of orderID.
func (tx *txn) order(id string) (*model.Order, error) {
	if o, ok := tx.orders[id]; ok {
		return o, nil
	}
	o, ok := tx.s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	c := *o
	tx.orders[id] = &c
	return &c, nil
}

// peekOrder reads orderID without copying it.
func (tx *txn) peekOrder(id string) (*model.Order, bool) {
	if o, ok := tx.orders[id]; ok {
		return o, true
	}
	o, ok := tx.s.orders[id]
	return o, ok
}

func (tx *txn) addOrder(o *model.Order) {
	tx.orders[o.ID] = o
}

// pool returns a writable copy of the pool at key, or nil.
func (tx *txn) pool(key matching.PoolKey) *matching.Pool {
	if p, ok := tx.pools[key]; ok {
		return p
	}
	p, ok := tx.s.pools[key]
	if !ok {
		return nil
	}
	c := p.Clone()
	tx.pools[key] = c
	return c
}

func (tx *txn) poolAt(outcome int, side model.Side, price decimal.Decimal) *matching.Pool {
	return tx.pool(matching.NewPoolKey(tx.market.ID, outcome, side, price))
}

// poolOrCreate returns the pool at key, creating it on first use.
func (tx *txn) poolOrCreate(outcome int, side model.Side, price decimal.Decimal) *matching.Pool {
	key := matching.NewPoolKey(tx.market.ID, outcome, side, price)
	if p := tx.pool(key); p != nil {
		return p
	}
	p := matching.NewPool(key, price, tx.e.cfg.PoolCapacity)
	tx.pools[key] = p
	return p
}

// poolKeys lists every pool of the market, committed or staged.
func (tx *txn) poolKeys() []matching.PoolKey {
	keys := make([]matching.PoolKey, 0, len(tx.s.pools))
	for k := range tx.s.pools {
		keys = append(keys, k)
	}
	for k := range tx.pools {
		if _, ok := tx.s.pools[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// position returns a writable copy of purchaser's position.
func (tx *txn) position(purchaser string) (*position.Position, bool) {
	if p, ok := tx.positions[purchaser]; ok {
		return p, true
	}
	p, ok := tx.s.positions[purchaser]
	if !ok {
		return nil, false
	}
	c := p.Clone()
	tx.positions[purchaser] = c
	return c, true
}

// positionOrCreate creates the position on the purchaser's first request
// and counts it as an account awaiting settlement.
func (tx *txn) positionOrCreate(purchaser string) (*position.Position, error) {
	if p, ok := tx.position(purchaser); ok {
		return p, nil
	}
	if err := tx.market.AccountOpened(); err != nil {
		return nil, err
	}
	p := position.New(purchaser, tx.market.ID, tx.market.OutcomeCount(), tx.e.cfg.ProductCap)
	tx.positions[purchaser] = p
	return p, nil
}

// escrowDelta moves the change in a position's total exposure between the
// purchaser and the market escrow. Increases are checked against the
// exposure limiter.
func (tx *txn) escrowDelta(p *position.Position, before uint64) error {
	after, err := p.TotalExposure()
	if err != nil {
		return err
	}
	switch {
	case after > before:
		if err := tx.checkLimit(p.Purchaser, after); err != nil {
			return err
		}
		tx.transfer(p.Purchaser, tx.market.EscrowAccount(), after-before)
	case after < before:
		tx.transfer(tx.market.EscrowAccount(), p.Purchaser, before-after)
	}
	return nil
}

func (tx *txn) checkLimit(purchaser string, exposure uint64) error {
	if tx.e.limiter == nil {
		return nil
	}
	var existing []limits.Exposure
	for id, s := range tx.e.markets {
		if id == tx.market.ID {
			continue
		}
		p, ok := s.positions[purchaser]
		if !ok || p.Paid {
			continue
		}
		amount, err := p.TotalExposure()
		if err != nil {
			return err
		}
		existing = append(existing, limits.Exposure{MarketID: id, EventGroup: s.market.EventGroup, Amount: amount})
	}
	target := limits.Exposure{MarketID: tx.market.ID, EventGroup: tx.market.EventGroup, Amount: exposure}
	return tx.e.limiter.CheckLimit(target, existing)
}

func (tx *txn) transfer(from, to string, amount uint64) {
	if amount == 0 {
		return
	}
	tx.transfers = append(tx.transfers, transfer{from: from, to: to, amount: amount})
}

// commit executes the staged transfers and then publishes the staged state.
// A failed transfer reverses the ones already made and nothing is
// published.
func (tx *txn) commit() error {
	for i, t := range tx.transfers {
		if err := tx.e.custodian.Transfer(t.from, t.to, t.amount); err != nil {
			for j := i - 1; j >= 0; j-- {
				r := tx.transfers[j]
				if rerr := tx.e.custodian.Transfer(r.to, r.from, r.amount); rerr != nil {
					tx.e.log.Error("transfer reversal failed", "market_id", tx.market.ID,
						"from", r.to, "to", r.from, "amount", r.amount, "error", rerr)
				}
			}
			return fmt.Errorf("transfer %d from %s to %s: %w", t.amount, t.from, t.to, err)
		}
	}

	s := tx.s
	s.market = tx.market
	s.book = tx.book
	s.requests = tx.requests
	s.matching = tx.matching
	s.inProgress = tx.inProgress
	for k, p := range tx.pools {
		s.pools[k] = p
	}
	for k, p := range tx.positions {
		s.positions[k] = p
	}
	for k, o := range tx.orders {
		s.orders[k] = o
		tx.e.orderMarket[k] = s.market.ID
	}
	return nil
}
