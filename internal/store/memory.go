package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/betting-exchange/internal/market"
	"github.com/atmx/betting-exchange/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	markets  map[string]*market.Market
	orders   map[string]*model.Order
	trades   []model.Trade
	tradeIDs map[string]bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:  make(map[string]*market.Market),
		orders:   make(map[string]*model.Order),
		tradeIDs: make(map[string]bool),
	}
}

func (s *MemoryStore) SaveMarket(_ context.Context, m *market.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.ID] = m.Clone()
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*market.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	return m.Clone(), nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]*market.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*market.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpsertOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListOrdersByMarket(_ context.Context, marketID string) ([]model.Order, error) {
	return s.filterOrders(func(o *model.Order) bool { return o.MarketID == marketID }), nil
}

func (s *MemoryStore) ListOrdersByPurchaser(_ context.Context, purchaser string) ([]model.Order, error) {
	return s.filterOrders(func(o *model.Order) bool { return o.Purchaser == purchaser }), nil
}

func (s *MemoryStore) filterOrders(keep func(*model.Order) bool) []model.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Order
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, *o)
		}
	}
	sortOrders(out)
	return out
}

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tradeIDs[t.ID] {
		return fmt.Errorf("trade %s: %w", t.ID, ErrDuplicate)
	}
	s.tradeIDs[t.ID] = true
	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) GetTradesByMarket(_ context.Context, marketID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.MarketID == marketID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetTradesByPurchaser(_ context.Context, purchaser string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.Purchaser == purchaser {
			result = append(result, t)
		}
	}
	return result, nil
}

// sortOrders orders by creation time, breaking ties on ID.
func sortOrders(orders []model.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}
