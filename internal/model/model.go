// Package model defines the domain types shared across the exchange core.
// Stakes are uint64 base units of the settlement token; prices are decimal
// odds (shopspring/decimal, never float64).
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of a bet on an outcome.
type Side string

const (
	// For backs the outcome to happen.
	For Side = "FOR"
	// Against lays the outcome.
	Against Side = "AGAINST"
)

// Valid reports whether s is For or Against.
func (s Side) Valid() bool { return s == For || s == Against }

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == For {
		return Against
	}
	return For
}

// OrderBehaviour configures what happens to unmatched stake when a market
// locks or its event starts.
type OrderBehaviour string

const (
	BehaviourNone            OrderBehaviour = "NONE"
	BehaviourCancelUnmatched OrderBehaviour = "CANCEL_UNMATCHED"
)

// idNamespace seeds deterministic identifiers so that deriving the same
// order twice always yields the same key.
var idNamespace = uuid.MustParse("6f5b3a0e-2c1d-4b8e-9a57-0d3c1e2f4a6b")

// OrderID derives the identifier of the order created from a purchaser's
// request with the given seed.
func OrderID(marketID, purchaser, seed string) string {
	return uuid.NewSHA1(idNamespace, []byte(marketID+"/"+purchaser+"/"+seed)).String()
}

// TradeID derives the identifier of the n-th trade receipt of a market.
func TradeID(marketID string, n uint64) string {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s/trade/%d", marketID, n))).String()
}

// OrderRequest is a staged order waiting in its market's request queue.
type OrderRequest struct {
	Purchaser             string          `json:"purchaser"`
	MarketID              string          `json:"market_id"`
	Outcome               int             `json:"outcome"`
	Side                  Side            `json:"side"`
	Stake                 uint64          `json:"stake"`
	ExpectedPrice         decimal.Decimal `json:"expected_price"`
	Product               string          `json:"product,omitempty"`
	ProductCommissionRate decimal.Decimal `json:"product_commission_rate"`
	Seed                  string          `json:"seed"`
	CreatedAt             time.Time       `json:"created_at"`
	Inplay                bool            `json:"inplay"`
	DelayExpiresAt        time.Time       `json:"delay_expires_at"`
}

// OrderID returns the identifier the request's order will carry.
func (r *OrderRequest) OrderID() string {
	return OrderID(r.MarketID, r.Purchaser, r.Seed)
}

// Trade is an immutable receipt of one matched fill for one side.
// Counterpart is the taker order ID on maker receipts. On taker receipts it
// is the maker pool key (market/outcome/side/price), several joined with
// "+" when the fill came from derived liquidity.
type Trade struct {
	ID          string          `json:"id" db:"id"`
	Purchaser   string          `json:"purchaser" db:"purchaser"`
	MarketID    string          `json:"market_id" db:"market_id"`
	OrderID     string          `json:"order_id" db:"order_id"`
	Outcome     int             `json:"outcome" db:"outcome"`
	Side        Side            `json:"side" db:"side"`
	Stake       uint64          `json:"stake" db:"stake"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Counterpart string          `json:"counterpart" db:"counterpart"`
	Maker       bool            `json:"maker" db:"maker"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
