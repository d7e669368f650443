package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/betting-exchange/internal/market"
	"github.com/atmx/betting-exchange/internal/model"
)

// Schema creates the tables PostgresStore reads and writes. Stakes and
// payouts are u64 base units, stored as NUMERIC(20,0) so the full range
// survives; prices and rates are NUMERIC for exact decimal precision.
const Schema = `
CREATE TABLE IF NOT EXISTS markets (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS orders (
	id                      TEXT PRIMARY KEY,
	purchaser               TEXT NOT NULL,
	market_id               TEXT NOT NULL,
	outcome                 INTEGER NOT NULL,
	side                    TEXT NOT NULL,
	status                  TEXT NOT NULL,
	stake                   NUMERIC(20,0) NOT NULL,
	stake_unmatched         NUMERIC(20,0) NOT NULL,
	voided_stake            NUMERIC(20,0) NOT NULL,
	expected_price          NUMERIC NOT NULL,
	payout                  NUMERIC(20,0) NOT NULL,
	product                 TEXT NOT NULL DEFAULT '',
	product_commission_rate NUMERIC NOT NULL,
	created_at              TIMESTAMPTZ NOT NULL,
	inplay                  BOOLEAN NOT NULL,
	delay_expires_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_market_idx ON orders (market_id, created_at);
CREATE INDEX IF NOT EXISTS orders_purchaser_idx ON orders (purchaser, created_at);

CREATE TABLE IF NOT EXISTS trades (
	id          TEXT PRIMARY KEY,
	purchaser   TEXT NOT NULL,
	market_id   TEXT NOT NULL,
	order_id    TEXT NOT NULL,
	outcome     INTEGER NOT NULL,
	side        TEXT NOT NULL,
	stake       NUMERIC(20,0) NOT NULL,
	price       NUMERIC NOT NULL,
	counterpart TEXT NOT NULL,
	maker       BOOLEAN NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_market_idx ON trades (market_id, created_at);
CREATE INDEX IF NOT EXISTS trades_purchaser_idx ON trades (purchaser, created_at);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// Markets are stored as whole JSON documents; the engine always writes
// a complete snapshot.
func (s *PostgresStore) SaveMarket(ctx context.Context, m *market.Market) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode market %s: %w", m.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO markets (id, status, doc, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, doc = EXCLUDED.doc, updated_at = now()`,
		m.ID, string(m.Status), doc,
	)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*market.Market, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM markets WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	var m market.Market
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("decode market %s: %w", id, err)
	}
	return &m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]*market.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM markets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []*market.Market
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var m market.Market
		if err := json.Unmarshal(doc, &m); err != nil {
			return nil, err
		}
		markets = append(markets, &m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpsertOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, purchaser, market_id, outcome, side, status,
		                     stake, stake_unmatched, voided_stake, expected_price, payout,
		                     product, product_commission_rate, created_at, inplay, delay_expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6,
		         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC,
		         $12, $13::NUMERIC, $14, $15, $16)
		 ON CONFLICT (id) DO UPDATE SET
		     status = EXCLUDED.status,
		     stake_unmatched = EXCLUDED.stake_unmatched,
		     voided_stake = EXCLUDED.voided_stake,
		     payout = EXCLUDED.payout`,
		o.ID, o.Purchaser, o.MarketID, o.Outcome, string(o.Side), string(o.Status),
		u64(o.Stake), u64(o.StakeUnmatched), u64(o.VoidedStake), o.ExpectedPrice.String(), u64(o.Payout),
		o.Product, o.ProductCommissionRate.String(), o.CreatedAt, o.Inplay, o.DelayExpiresAt,
	)
	return err
}

const orderColumns = `id, purchaser, market_id, outcome, side, status,
	stake::TEXT, stake_unmatched::TEXT, voided_stake::TEXT, expected_price::TEXT, payout::TEXT,
	product, product_commission_rate::TEXT, created_at, inplay, delay_expires_at`

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return &orders[0], nil
}

func (s *PostgresStore) ListOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE market_id = $1 ORDER BY created_at, id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

func (s *PostgresStore) ListOrdersByPurchaser(ctx context.Context, purchaser string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE purchaser = $1 ORDER BY created_at, id`, purchaser)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, purchaser, market_id, order_id, outcome, side, stake, price, counterpart, maker, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9, $10, $11)
		 ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Purchaser, t.MarketID, t.OrderID, t.Outcome, string(t.Side),
		u64(t.Stake), t.Price.String(), t.Counterpart, t.Maker, t.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %s: %w", t.ID, ErrDuplicate)
	}
	return nil
}

const tradeColumns = `id, purchaser, market_id, order_id, outcome, side,
	stake::TEXT, price::TEXT, counterpart, maker, created_at`

func (s *PostgresStore) GetTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE market_id = $1 ORDER BY created_at, id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) GetTradesByPurchaser(ctx context.Context, purchaser string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE purchaser = $1 ORDER BY created_at, id`, purchaser)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanOrders(rows pgxRows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var side, status string
		var stakeS, unmatchedS, voidedS, priceS, payoutS, rateS string

		if err := rows.Scan(&o.ID, &o.Purchaser, &o.MarketID, &o.Outcome, &side, &status,
			&stakeS, &unmatchedS, &voidedS, &priceS, &payoutS,
			&o.Product, &rateS, &o.CreatedAt, &o.Inplay, &o.DelayExpiresAt); err != nil {
			return nil, err
		}

		o.Side = model.Side(side)
		o.Status = model.OrderStatus(status)
		var err error
		if o.Stake, err = parseU64(stakeS); err != nil {
			return nil, err
		}
		if o.StakeUnmatched, err = parseU64(unmatchedS); err != nil {
			return nil, err
		}
		if o.VoidedStake, err = parseU64(voidedS); err != nil {
			return nil, err
		}
		if o.Payout, err = parseU64(payoutS); err != nil {
			return nil, err
		}
		o.ExpectedPrice, _ = decimal.NewFromString(priceS)
		o.ProductCommissionRate, _ = decimal.NewFromString(rateS)

		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanTrades(rows pgxRows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var side, stakeS, priceS string

		if err := rows.Scan(&t.ID, &t.Purchaser, &t.MarketID, &t.OrderID, &t.Outcome, &side,
			&stakeS, &priceS, &t.Counterpart, &t.Maker, &t.CreatedAt); err != nil {
			return nil, err
		}

		t.Side = model.Side(side)
		stake, err := parseU64(stakeS)
		if err != nil {
			return nil, err
		}
		t.Stake = stake
		t.Price, _ = decimal.NewFromString(priceS)

		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse base units %q: %w", s, err)
	}
	return v, nil
}
