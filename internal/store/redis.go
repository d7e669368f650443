package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/betting-exchange/internal/market"
	"github.com/atmx/betting-exchange/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Writes go to the primary store and refresh or invalidate the cache;
// reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedStore) SaveMarket(ctx context.Context, m *market.Market) error {
	if err := s.primary.SaveMarket(ctx, m); err != nil {
		return err
	}
	s.put(ctx, marketKey(m.ID), m)
	return nil
}

func (s *CachedStore) UpsertOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.UpsertOrder(ctx, o); err != nil {
		return err
	}
	s.put(ctx, orderKey(o.ID), o)
	s.rdb.Del(ctx, purchaserOrdersKey(o.Purchaser))
	return nil
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	if err := s.primary.InsertTrade(ctx, t); err != nil {
		return err
	}
	s.rdb.Del(ctx, purchaserTradesKey(t.Purchaser))
	return nil
}

// --- Read-through ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*market.Market, error) {
	var m market.Market
	if s.get(ctx, marketKey(id), &m) {
		return &m, nil
	}

	mp, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.put(ctx, marketKey(id), mp)
	return mp, nil
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	if s.get(ctx, orderKey(id), &o) {
		return &o, nil
	}

	op, err := s.primary.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.put(ctx, orderKey(id), op)
	return op, nil
}

func (s *CachedStore) ListOrdersByPurchaser(ctx context.Context, purchaser string) ([]model.Order, error) {
	var orders []model.Order
	if s.get(ctx, purchaserOrdersKey(purchaser), &orders) {
		return orders, nil
	}

	orders, err := s.primary.ListOrdersByPurchaser(ctx, purchaser)
	if err != nil {
		return nil, err
	}
	s.put(ctx, purchaserOrdersKey(purchaser), orders)
	return orders, nil
}

func (s *CachedStore) GetTradesByPurchaser(ctx context.Context, purchaser string) ([]model.Trade, error) {
	var trades []model.Trade
	if s.get(ctx, purchaserTradesKey(purchaser), &trades) {
		return trades, nil
	}

	trades, err := s.primary.GetTradesByPurchaser(ctx, purchaser)
	if err != nil {
		return nil, err
	}
	s.put(ctx, purchaserTradesKey(purchaser), trades)
	return trades, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]*market.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) ListOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error) {
	return s.primary.ListOrdersByMarket(ctx, marketID)
}

func (s *CachedStore) GetTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	return s.primary.GetTradesByMarket(ctx, marketID)
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) put(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func marketKey(id string) string          { return fmt.Sprintf("market:%s", id) }
func orderKey(id string) string           { return fmt.Sprintf("order:%s", id) }
func purchaserOrdersKey(p string) string  { return fmt.Sprintf("orders:%s", p) }
func purchaserTradesKey(p string) string  { return fmt.Sprintf("trades:%s", p) }
