// Package store defines the persistence interface for the exchange read
// side. The engine keeps authoritative state in memory; implementations
// here hold the durable copy of markets, orders and trade receipts:
// PostgreSQL (source of truth), Pebble (embedded, single node), Redis
// (read-through cache) and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/betting-exchange/internal/market"
	"github.com/atmx/betting-exchange/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an immutable record is written twice.
	ErrDuplicate = errors.New("duplicate record")
)

// Store is the persistence interface.
type Store interface {
	// --- Markets ---

	// SaveMarket inserts or replaces a market snapshot.
	SaveMarket(ctx context.Context, m *market.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*market.Market, error)

	// ListMarkets returns all markets ordered by ID.
	ListMarkets(ctx context.Context) ([]*market.Market, error)

	// --- Orders ---

	// UpsertOrder inserts or replaces an order.
	UpsertOrder(ctx context.Context, o *model.Order) error

	// GetOrder retrieves an order by its ID.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// ListOrdersByMarket returns a market's orders in creation order.
	ListOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error)

	// ListOrdersByPurchaser returns a purchaser's orders in creation order.
	ListOrdersByPurchaser(ctx context.Context, purchaser string) ([]model.Order, error)

	// --- Immutable trade receipts ---

	// InsertTrade appends a trade receipt. Receipts are never updated.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// GetTradesByMarket returns all trades for a market.
	GetTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error)

	// GetTradesByPurchaser returns all trades for a purchaser.
	GetTradesByPurchaser(ctx context.Context, purchaser string) ([]model.Trade, error)
}
