// Package events publishes exchange activity to downstream consumers:
// WebSocket clients and a Kafka topic.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/atmx/betting-exchange/internal/model"
)

// Type names the kind of an Event.
type Type string

const (
	TypeTrade  Type = "trade"
	TypeOrder  Type = "order"
	TypeMarket Type = "market"
)

// Event is one notification. Exactly one of Trade or Order is set for
// trade and order events; market events carry only Status.
type Event struct {
	Type     Type         `json:"type"`
	MarketID string       `json:"market_id"`
	Status   string       `json:"status,omitempty"`
	Trade    *model.Trade `json:"trade,omitempty"`
	Order    *model.Order `json:"order,omitempty"`
	At       time.Time    `json:"at"`
}

// TradeEvent wraps a trade receipt.
func TradeEvent(t model.Trade) Event {
	return Event{Type: TypeTrade, MarketID: t.MarketID, Trade: &t, At: t.CreatedAt}
}

// OrderEvent wraps an order snapshot.
func OrderEvent(o model.Order, at time.Time) Event {
	return Event{Type: TypeOrder, MarketID: o.MarketID, Status: string(o.Status), Order: &o, At: at}
}

// MarketEvent reports a market status change.
func MarketEvent(marketID, status string, at time.Time) Event {
	return Event{Type: TypeMarket, MarketID: marketID, Status: status, At: at}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Fanout publishes to every publisher in turn and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
