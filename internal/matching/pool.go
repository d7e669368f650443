// Package matching implements price-time matching for the exchange: the
// per-price matching pools that keep orders in FIFO order, the per-market
// queue of match instructions, and the matcher that produces them.
package matching

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/betting-exchange/internal/fault"
	"github.com/atmx/betting-exchange/internal/model"
	"github.com/atmx/betting-exchange/internal/odds"
	"github.com/atmx/betting-exchange/internal/ringqueue"
)

var (
	ErrPoolHeadMismatch = fmt.Errorf("%w: matching: pool head mismatch", fault.ErrConsistency)
	ErrNotInPool        = fmt.Errorf("%w: matching: order not queued in pool", fault.ErrConsistency)
	ErrPoolUnderflow    = fmt.Errorf("%w: matching: pool liquidity underflow", fault.ErrArithmetic)
	ErrPoolFull         = fmt.Errorf("%w: matching: pool queue full", fault.ErrCapacity)
)

// PoolKey addresses the pool of one exact (market, outcome, side, price).
type PoolKey struct {
	MarketID string
	Outcome  int
	Side     model.Side
	Price    string
}

// NewPoolKey normalises price so 1.2 and 1.20 address the same pool.
func NewPoolKey(marketID string, outcome int, side model.Side, price decimal.Decimal) PoolKey {
	return PoolKey{MarketID: marketID, Outcome: outcome, Side: side, Price: price.String()}
}

// String renders the key as market/outcome/side/price.
func (k PoolKey) String() string {
	return fmt.Sprintf("%s/%d/%s/%s", k.MarketID, k.Outcome, k.Side, k.Price)
}

// PoolEntry is one order waiting in a pool. DeferredLiquidity is stake not
// yet released to matching because the order is still inside its inplay
// delay.
type PoolEntry struct {
	OrderID           string
	DelayExpiresAt    int64
	DeferredLiquidity uint64
}

// Pool aggregates the unmatched stake at one price and the FIFO of orders
// that own it.
type Pool struct {
	Key             PoolKey
	Price           decimal.Decimal
	LiquidityAmount uint64
	MatchedAmount   uint64
	Inplay          bool
	orders          *ringqueue.Queue[PoolEntry]
}

// NewPool creates an empty pool holding at most capacity orders.
func NewPool(key PoolKey, price decimal.Decimal, capacity int) *Pool {
	return &Pool{Key: key, Price: price, orders: ringqueue.New[PoolEntry](capacity)}
}

// Len returns the number of queued orders.
func (p *Pool) Len() int { return p.orders.Len() }

// Entries lists queued orders front to back.
func (p *Pool) Entries() []PoolEntry { return p.orders.Items() }

// IsEmpty reports whether the pool has neither queued orders nor liquidity.
func (p *Pool) IsEmpty() bool { return p.orders.IsEmpty() && p.LiquidityAmount == 0 }

// Head returns the order at the front of the FIFO.
func (p *Pool) Head() (PoolEntry, bool) { return p.orders.Front() }

// Contains reports whether orderID is queued.
func (p *Pool) Contains(orderID string) bool {
	_, _, ok := p.find(orderID)
	return ok
}

// EnqueueNew appends an order with amount of unmatched stake. When the
// market is inplay and the pool has not yet transitioned, the pool first
// moves to inplay under behaviour. Stake whose delay has already expired at
// now becomes liquidity immediately; otherwise it waits as deferred
// liquidity. It returns the amount made live immediately.
func (p *Pool) EnqueueNew(orderID string, amount uint64, delayExpiresAt, now time.Time, marketInplay bool, behaviour model.OrderBehaviour) (uint64, error) {
	truncates := marketInplay && !p.Inplay && behaviour == model.BehaviourCancelUnmatched
	if p.orders.IsFull() && !truncates {
		return 0, fmt.Errorf("%w: %+v", ErrPoolFull, p.Key)
	}
	entry := PoolEntry{OrderID: orderID}
	var live uint64
	if delayExpiresAt.After(now) {
		entry.DelayExpiresAt = delayExpiresAt.UnixNano()
		entry.DeferredLiquidity = amount
	} else {
		live = amount
	}
	total, err := odds.Add(p.LiquidityAmount, live)
	if err != nil {
		return 0, err
	}

	if marketInplay && !p.Inplay {
		p.MoveToInplay(behaviour)
		if truncates {
			total = live
		}
	}
	if err := p.orders.Enqueue(entry); err != nil {
		return 0, err
	}
	p.LiquidityAmount = total
	return live, nil
}

// MoveToInplay flags the pool inplay. Under BehaviourCancelUnmatched the
// queue is emptied and the live liquidity zeroed; matched history stays.
func (p *Pool) MoveToInplay(behaviour model.OrderBehaviour) {
	if p.Inplay {
		return
	}
	p.Inplay = true
	if behaviour == model.BehaviourCancelUnmatched {
		p.orders.Truncate()
		p.LiquidityAmount = 0
	}
}

// ApplyDelayExpirations releases the deferred liquidity of every entry at
// the front whose delay expired at or before now, stopping at the first
// entry still delayed. It returns the amount released.
func (p *Pool) ApplyDelayExpirations(now time.Time) (uint64, error) {
	cutoff := now.UnixNano()
	var released uint64
	updated := p.orders.Clone()
	for i := 0; i < updated.Len(); i++ {
		e, _ := updated.Peek(i)
		if e.DelayExpiresAt > cutoff {
			break
		}
		if e.DeferredLiquidity == 0 {
			continue
		}
		sum, err := odds.Add(released, e.DeferredLiquidity)
		if err != nil {
			return 0, err
		}
		released = sum
		e.DeferredLiquidity = 0
		updated.Replace(i, e)
	}
	total, err := odds.Add(p.LiquidityAmount, released)
	if err != nil {
		return 0, err
	}
	p.orders = updated
	p.LiquidityAmount = total
	return released, nil
}

// ApplyMatch records a maker fill of amount against the order at the head
// of the pool. A fully matched order is dequeued.
func (p *Pool) ApplyMatch(orderID string, amount uint64, fullyMatched bool) error {
	head, ok := p.orders.Front()
	if !ok || head.OrderID != orderID {
		return fmt.Errorf("%w: expected %s at head of %+v, found %q", ErrPoolHeadMismatch, orderID, p.Key, head.OrderID)
	}
	left, err := odds.Sub(p.LiquidityAmount, amount)
	if err != nil {
		return fmt.Errorf("%w: %+v has %d, matching %d", ErrPoolUnderflow, p.Key, p.LiquidityAmount, amount)
	}
	matched, err := odds.Add(p.MatchedAmount, amount)
	if err != nil {
		return err
	}
	if fullyMatched {
		if _, err := p.orders.Dequeue(); err != nil {
			return err
		}
	}
	p.LiquidityAmount = left
	p.MatchedAmount = matched
	return nil
}

// Cancel removes orderID from the queue. If the order's stake had been
// released, amount is withdrawn from the live liquidity and live is true;
// stake still deferred is simply dropped.
func (p *Pool) Cancel(orderID string, amount uint64) (live bool, err error) {
	_, entry, ok := p.find(orderID)
	if !ok {
		return false, fmt.Errorf("%w: %s in %+v", ErrNotInPool, orderID, p.Key)
	}
	left := p.LiquidityAmount
	if entry.DeferredLiquidity == 0 {
		left, err = odds.Sub(p.LiquidityAmount, amount)
		if err != nil {
			return false, fmt.Errorf("%w: %+v has %d, cancelling %d", ErrPoolUnderflow, p.Key, p.LiquidityAmount, amount)
		}
	}
	p.orders.Remove(entry)
	p.LiquidityAmount = left
	return entry.DeferredLiquidity == 0, nil
}

// Clone returns an independent copy.
func (p *Pool) Clone() *Pool {
	c := *p
	c.orders = p.orders.Clone()
	return &c
}

func (p *Pool) find(orderID string) (int, PoolEntry, bool) {
	for i := 0; i < p.orders.Len(); i++ {
		e, _ := p.orders.Peek(i)
		if e.OrderID == orderID {
			return i, e, true
		}
	}
	return -1, PoolEntry{}, false
}
