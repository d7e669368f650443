package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/betting-exchange/internal/liquidity"
	"github.com/atmx/betting-exchange/internal/market"
	"github.com/atmx/betting-exchange/internal/matching"
	"github.com/atmx/betting-exchange/internal/model"
	"github.com/atmx/betting-exchange/internal/position"
	"github.com/atmx/betting-exchange/internal/ringqueue"
)

// CreateMarket registers an Initializing market.
func (e *Engine) CreateMarket(caller string, cfg market.Config) (*market.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.authorize(caller); err != nil {
		return nil, err
	}
	if _, ok := e.markets[cfg.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketExists, cfg.ID)
	}
	m, err := market.New(cfg)
	if err != nil {
		return nil, err
	}
	e.markets[m.ID] = &marketState{
		market:    m,
		book:      liquidity.New(e.cfg.BookCapacity),
		requests:  ringqueue.New[model.OrderRequest](e.cfg.RequestQueueCapacity),
		matching:  matching.NewQueue(e.cfg.MatchingQueueCapacity),
		pools:     make(map[matching.PoolKey]*matching.Pool),
		positions: make(map[string]*position.Position),
		orders:    make(map[string]*model.Order),
	}
	e.log.Info("market created", "market_id", m.ID, "event_group", m.EventGroup)
	return m.Clone(), nil
}

// AddOutcome appends an outcome with an initial price ladder.
func (e *Engine) AddOutcome(caller, marketID, title string, prices []decimal.Decimal) (*market.Outcome, error) {
	var out *market.Outcome
	err := e.operate(caller, marketID, func(tx *txn) error {
		o, err := tx.market.AddOutcome(title)
		if err != nil {
			return err
		}
		if err := o.AddPrices(prices); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	c := *out
	c.Prices = append([]decimal.Decimal(nil), out.Prices...)
	return &c, nil
}

// AddPrices extends an outcome's price ladder.
func (e *Engine) AddPrices(caller, marketID string, outcome int, prices []decimal.Decimal) error {
	return e.operate(caller, marketID, func(tx *txn) error {
		if tx.market.Terminal() {
			return fmt.Errorf("%w: %s", ErrWrongMarketStatus, tx.market.Status)
		}
		o, err := tx.market.Outcome(outcome)
		if err != nil {
			return err
		}
		return o.AddPrices(prices)
	})
}

// IncreasePriceLadderSize raises an outcome's ladder capacity.
func (e *Engine) IncreasePriceLadderSize(caller, marketID string, outcome, size int) error {
	return e.operate(caller, marketID, func(tx *txn) error {
		o, err := tx.market.Outcome(outcome)
		if err != nil {
			return err
		}
		return o.IncreaseLadderSize(size)
	})
}

// OpenMarket starts accepting order requests.
func (e *Engine) OpenMarket(caller, marketID string) error {
	return e.operate(caller, marketID, func(tx *txn) error {
		return tx.market.Open()
	})
}

// LockMarket stops accepting order requests.
func (e *Engine) LockMarket(caller, marketID string) error {
	return e.operate(caller, marketID, func(tx *txn) error {
		return tx.market.Lock()
	})
}

// MoveMarketToInplay flags the market inplay once its event has started.
// Under a cancel-unmatched event start behaviour the preplay liquidity is
// withdrawn from the book at once; pools and orders follow lazily.
func (e *Engine) MoveMarketToInplay(marketID string) error {
	return e.crank(marketID, func(tx *txn) error {
		if err := tx.requireIdleMatching(); err != nil {
			return err
		}
		if err := tx.market.MoveToInplay(tx.now); err != nil {
			return err
		}
		if tx.market.EventStartOrderBehaviour == model.BehaviourCancelUnmatched {
			tx.book.Clear()
		}
		return nil
	})
}

// SettleMarket records the winning outcome. Settlement of orders and
// positions then runs per account.
func (e *Engine) SettleMarket(caller, marketID string, winner int) error {
	return e.operate(caller, marketID, func(tx *txn) error {
		if err := tx.requireIdleMatching(); err != nil {
			return err
		}
		if !tx.requests.IsEmpty() {
			return fmt.Errorf("%w: %d order requests queued", ErrMatchingPending, tx.requests.Len())
		}
		return tx.market.Settle(winner, tx.now)
	})
}

// CompleteSettlement finishes settlement once every account is settled.
func (e *Engine) CompleteSettlement(caller, marketID string) error {
	return e.operate(caller, marketID, func(tx *txn) error {
		return tx.market.CompleteSettlement()
	})
}

// VoidMarket abandons the market so every position can be refunded.
func (e *Engine) VoidMarket(caller, marketID string) error {
	return e.operate(caller, marketID, func(tx *txn) error {
		if err := tx.market.Void(); err != nil {
			return err
		}
		tx.inProgress = ""
		return nil
	})
}

// CompleteVoid finishes voiding once every account is refunded and no
// order request remains queued.
func (e *Engine) CompleteVoid(caller, marketID string) error {
	return e.operate(caller, marketID, func(tx *txn) error {
		if !tx.requests.IsEmpty() {
			return fmt.Errorf("%w: %d order requests queued", ErrMatchingPending, tx.requests.Len())
		}
		return tx.market.CompleteVoid()
	})
}

// ReadyToClose marks a settled or voided market for reclamation.
func (e *Engine) ReadyToClose(caller, marketID string) error {
	return e.operate(caller, marketID, func(tx *txn) error {
		return tx.market.ReadyToClose()
	})
}

// AddCrossLiquidity derives liquidity on side for the one outcome the
// sources do not name.
func (e *Engine) AddCrossLiquidity(marketID string, side model.Side, sources []liquidity.Source) (liquidity.Point, error) {
	var point liquidity.Point
	err := e.crank(marketID, func(tx *txn) error {
		if !tx.market.CrossMatching {
			return ErrCrossDisabled
		}
		if err := tx.market.AcceptingOrders(tx.now); err != nil {
			return err
		}
		p, err := tx.book.AddCross(side, tx.market.OutcomeCount(), sources)
		if err != nil {
			return err
		}
		point = p
		return nil
	})
	return point, err
}

// ReleaseDelayedLiquidity moves inplay stake whose delay has expired into
// the book. It returns the amount released.
func (e *Engine) ReleaseDelayedLiquidity(marketID string) (uint64, error) {
	var released uint64
	err := e.crank(marketID, func(tx *txn) error {
		var err error
		released, err = tx.releaseDelayed()
		return err
	})
	return released, err
}

func (tx *txn) releaseDelayed() (uint64, error) {
	if !tx.market.Inplay {
		return 0, nil
	}
	var total uint64
	for _, key := range tx.poolKeys() {
		committed := tx.s.pools[key]
		if staged, ok := tx.pools[key]; ok {
			committed = staged
		}
		if !hasDeferred(committed) {
			continue
		}
		p := tx.pool(key)
		released, err := p.ApplyDelayExpirations(tx.now)
		if err != nil {
			return 0, err
		}
		if released == 0 {
			continue
		}
		if err := tx.book.Add(key.Side, key.Outcome, p.Price, released); err != nil {
			return 0, err
		}
		total += released
	}
	return total, nil
}

func hasDeferred(p *matching.Pool) bool {
	for _, e := range p.Entries() {
		if e.DeferredLiquidity > 0 {
			return true
		}
	}
	return false
}

// requireIdleMatching rejects transitions while match instructions are
// still waiting to be applied.
func (tx *txn) requireIdleMatching() error {
	if !tx.matching.IsEmpty() || tx.inProgress != "" {
		return fmt.Errorf("%w: %d entries queued", ErrMatchingPending, tx.matching.Len())
	}
	return nil
}

// operate runs an operator action.
func (e *Engine) operate(caller, marketID string, fn func(*txn) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.authorize(caller); err != nil {
		return err
	}
	return e.run(marketID, fn)
}

// crank runs a permissionless action.
func (e *Engine) crank(marketID string, fn func(*txn) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run(marketID, fn)
}

func (e *Engine) run(marketID string, fn func(*txn) error) error {
	tx, err := e.begin(marketID)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	before := tx.s.market.Status
	if err := tx.commit(); err != nil {
		return err
	}
	if before != tx.market.Status {
		e.log.Info("market status changed", "market_id", marketID, "from", before, "to", tx.market.Status)
	}
	return nil
}
