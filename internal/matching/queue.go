package matching

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/betting-exchange/internal/model"
	"github.com/atmx/betting-exchange/internal/ringqueue"
)

// ErrQueueFull is returned when a batch of entries does not fit.
var ErrQueueFull = fmt.Errorf("%w: matching queue", ringqueue.ErrFull)

// Role tells the settlement step which side of a fill an entry describes.
type Role string

const (
	RoleMaker Role = "MAKER"
	RoleTaker Role = "TAKER"
)

// Entry is one pending match instruction. Taker entries name the order that
// crossed the book; maker entries address the pool whose head order
// supplied the liquidity.
type Entry struct {
	Role        Role            `json:"role"`
	Outcome     int             `json:"outcome"`
	Side        model.Side      `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Stake       uint64          `json:"stake"`
	OrderID     string          `json:"order_id,omitempty"`
	Counterpart string          `json:"counterpart,omitempty"`
}

// Queue is a market's FIFO of pending match instructions.
type Queue struct {
	entries *ringqueue.Queue[Entry]
}

// NewQueue creates a queue of the given capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{entries: ringqueue.New[Entry](capacity)}
}

// Len returns the number of pending entries.
func (q *Queue) Len() int { return q.entries.Len() }

// IsEmpty reports whether nothing is pending.
func (q *Queue) IsEmpty() bool { return q.entries.IsEmpty() }

// Free returns the remaining capacity.
func (q *Queue) Free() int { return q.entries.Free() }

// Push enqueues all entries or none.
func (q *Queue) Push(entries ...Entry) error {
	if len(entries) > q.entries.Free() {
		return fmt.Errorf("%w: %d entries, %d free", ErrQueueFull, len(entries), q.entries.Free())
	}
	for _, e := range entries {
		if err := q.entries.Enqueue(e); err != nil {
			return err
		}
	}
	return nil
}

// Front returns the next entry to settle.
func (q *Queue) Front() (Entry, bool) { return q.entries.Front() }

// SetFrontStake overwrites the remaining stake of the front entry.
func (q *Queue) SetFrontStake(stake uint64) bool {
	e, ok := q.entries.Front()
	if !ok {
		return false
	}
	e.Stake = stake
	return q.entries.Replace(0, e)
}

// Pop removes the front entry.
func (q *Queue) Pop() (Entry, error) { return q.entries.Dequeue() }

// Items lists pending entries front to back.
func (q *Queue) Items() []Entry { return q.entries.Items() }

// PendingMakerStake sums the stake of maker entries still waiting to be
// applied to the pool at (outcome, side, price).
func (q *Queue) PendingMakerStake(outcome int, side model.Side, price decimal.Decimal) uint64 {
	var total uint64
	for _, e := range q.entries.Items() {
		if e.Role == RoleMaker && e.Outcome == outcome && e.Side == side && e.Price.Equal(price) {
			total += e.Stake
		}
	}
	return total
}

// Clone returns an independent copy.
func (q *Queue) Clone() *Queue {
	return &Queue{entries: q.entries.Clone()}
}
