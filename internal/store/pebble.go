package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/atmx/betting-exchange/internal/market"
	"github.com/atmx/betting-exchange/internal/model"
)

// Key layout. Components are joined with a NUL byte so identifiers may
// contain any printable character.
//
//	m  <market>                         -> market JSON
//	o  <order>                          -> order JSON
//	om <market> <created> <order>       -> order ID
//	op <purchaser> <created> <order>    -> order ID
//	t  <trade>                          -> sequence
//	tm <market> <seq>                   -> trade JSON
//	tp <purchaser> <seq>                -> trade JSON
//	seq                                 -> last trade sequence
const sep = "\x00"

var seqKey = []byte("seq")

// PebbleStore implements Store on an embedded Pebble database. It is used
// for single-node deployments without PostgreSQL.
type PebbleStore struct {
	db *pebble.DB

	mu  sync.Mutex // serialises trade sequence allocation
	seq uint64
}

// OpenPebble opens (or creates) a store in dir.
func OpenPebble(dir string) (*PebbleStore, error) {
	return openPebble(dir, &pebble.Options{})
}

func openPebble(dir string, opts *pebble.Options) (*PebbleStore, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	s := &PebbleStore{db: db}

	val, closer, err := db.Get(seqKey)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		db.Close()
		return nil, err
	default:
		s.seq = binary.BigEndian.Uint64(val)
		closer.Close()
	}
	return s, nil
}

// Close flushes and closes the database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func (s *PebbleStore) SaveMarket(_ context.Context, m *market.Market) error {
	return s.putJSON(key("m", m.ID), m)
}

func (s *PebbleStore) GetMarket(_ context.Context, id string) (*market.Market, error) {
	var m market.Market
	if err := s.getJSON(key("m", id), &m); err != nil {
		return nil, fmt.Errorf("market %s: %w", id, err)
	}
	return &m, nil
}

func (s *PebbleStore) ListMarkets(_ context.Context) ([]*market.Market, error) {
	var markets []*market.Market
	err := s.scan(prefix("m"), func(_, val []byte) error {
		var m market.Market
		if err := json.Unmarshal(val, &m); err != nil {
			return err
		}
		markets = append(markets, &m)
		return nil
	})
	return markets, err
}

func (s *PebbleStore) UpsertOrder(_ context.Context, o *model.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	created := stamp(o.CreatedAt)

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(key("o", o.ID), data, nil); err != nil {
		return err
	}
	if err := b.Set(key("om", o.MarketID, created, o.ID), []byte(o.ID), nil); err != nil {
		return err
	}
	if err := b.Set(key("op", o.Purchaser, created, o.ID), []byte(o.ID), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *PebbleStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	var o model.Order
	if err := s.getJSON(key("o", id), &o); err != nil {
		return nil, fmt.Errorf("order %s: %w", id, err)
	}
	return &o, nil
}

func (s *PebbleStore) ListOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error) {
	return s.ordersAt(ctx, prefix("om", marketID))
}

func (s *PebbleStore) ListOrdersByPurchaser(ctx context.Context, purchaser string) ([]model.Order, error) {
	return s.ordersAt(ctx, prefix("op", purchaser))
}

func (s *PebbleStore) ordersAt(ctx context.Context, p []byte) ([]model.Order, error) {
	var ids []string
	err := s.scan(p, func(_, val []byte) error {
		ids = append(ids, string(val))
		return nil
	})
	if err != nil {
		return nil, err
	}

	orders := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		o, err := s.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	// Index keys carry nanosecond timestamps; re-sort so ties break on ID
	// exactly as the other stores do.
	sortOrders(orders)
	return orders, nil
}

func (s *PebbleStore) InsertTrade(_ context.Context, t *model.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, closer, err := s.db.Get(key("t", t.ID)); err == nil {
		closer.Close()
		return fmt.Errorf("trade %s: %w", t.ID, ErrDuplicate)
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}

	next := s.seq + 1
	seq := make([]byte, 8)
	binary.BigEndian.PutUint64(seq, next)

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(key("t", t.ID), seq, nil); err != nil {
		return err
	}
	if err := b.Set(key("tm", t.MarketID, string(seq)), data, nil); err != nil {
		return err
	}
	if err := b.Set(key("tp", t.Purchaser, string(seq)), data, nil); err != nil {
		return err
	}
	if err := b.Set(seqKey, seq, nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return err
	}
	s.seq = next
	return nil
}

func (s *PebbleStore) GetTradesByMarket(_ context.Context, marketID string) ([]model.Trade, error) {
	return s.tradesAt(prefix("tm", marketID))
}

func (s *PebbleStore) GetTradesByPurchaser(_ context.Context, purchaser string) ([]model.Trade, error) {
	return s.tradesAt(prefix("tp", purchaser))
}

func (s *PebbleStore) tradesAt(p []byte) ([]model.Trade, error) {
	var trades []model.Trade
	err := s.scan(p, func(_, val []byte) error {
		var t model.Trade
		if err := json.Unmarshal(val, &t); err != nil {
			return err
		}
		trades = append(trades, t)
		return nil
	})
	return trades, err
}

// -------------------- helpers --------------------

func (s *PebbleStore) putJSON(k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Set(k, data, pebble.Sync)
}

func (s *PebbleStore) getJSON(k []byte, dst any) error {
	val, closer, err := s.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	return json.Unmarshal(val, dst)
}

// scan visits every key with prefix p in key order.
func (s *PebbleStore) scan(p []byte, fn func(k, v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: p,
		UpperBound: upperBound(p),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func key(parts ...string) []byte {
	var buf bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			buf.WriteString(sep)
		}
		buf.WriteString(p)
	}
	return buf.Bytes()
}

func prefix(parts ...string) []byte {
	return append(key(parts...), sep...)
}

// upperBound returns the smallest key greater than every key starting
// with p.
func upperBound(p []byte) []byte {
	end := bytes.Clone(p)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// stamp renders t as a fixed-width big-endian sort key.
func stamp(t time.Time) string {
	var ns uint64
	if !t.IsZero() {
		ns = uint64(t.UnixNano())
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, ns)
	return string(b)
}

var (
	_ Store = (*PebbleStore)(nil)
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*CachedStore)(nil)
)

