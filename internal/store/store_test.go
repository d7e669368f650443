package store

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/betting-exchange/internal/market"
	"github.com/atmx/betting-exchange/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testMarket(t *testing.T, id string) *market.Market {
	t.Helper()
	m, err := market.New(market.Config{
		ID:           id,
		Title:        "Final",
		LockAt:       t0.Add(time.Hour),
		EventStartAt: t0.Add(time.Hour),
		MintDecimals: 6,
		DecimalLimit: 2,
	})
	require.NoError(t, err)
	for _, title := range []string{"Home", "Away"} {
		o, err := m.AddOutcome(title)
		require.NoError(t, err)
		require.NoError(t, o.AddPrices([]decimal.Decimal{decimal.RequireFromString("2")}))
	}
	return m
}

func testOrder(id, marketID, purchaser string, created time.Time) *model.Order {
	return &model.Order{
		ID:             id,
		Purchaser:      purchaser,
		MarketID:       marketID,
		Outcome:        1,
		Side:           model.For,
		Status:         model.OrderOpen,
		Stake:          100,
		StakeUnmatched: 100,
		ExpectedPrice:  decimal.RequireFromString("2.5"),
		CreatedAt:      created,
	}
}

func testTrade(id, marketID, purchaser string) *model.Trade {
	return &model.Trade{
		ID:        id,
		Purchaser: purchaser,
		MarketID:  marketID,
		OrderID:   "o-" + id,
		Side:      model.Against,
		Stake:     40,
		Price:     decimal.RequireFromString("3"),
		CreatedAt: t0,
	}
}

// exerciseStore runs the behaviour every Store implementation shares.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("markets", func(t *testing.T) {
		_, err := s.GetMarket(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.SaveMarket(ctx, testMarket(t, "mkt-b")))
		m := testMarket(t, "mkt-a")
		require.NoError(t, s.SaveMarket(ctx, m))

		require.NoError(t, m.Open())
		require.NoError(t, s.SaveMarket(ctx, m))

		got, err := s.GetMarket(ctx, "mkt-a")
		require.NoError(t, err)
		assert.Equal(t, market.StatusOpen, got.Status)
		require.Len(t, got.Outcomes, 2)
		assert.True(t, got.Outcomes[0].Prices[0].Equal(decimal.RequireFromString("2")))

		all, err := s.ListMarkets(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "mkt-a", all[0].ID)
		assert.Equal(t, "mkt-b", all[1].ID)
	})

	t.Run("orders", func(t *testing.T) {
		_, err := s.GetOrder(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.UpsertOrder(ctx, testOrder("o2", "m1", "alice", t0.Add(time.Second))))
		require.NoError(t, s.UpsertOrder(ctx, testOrder("o1", "m1", "bob", t0)))
		require.NoError(t, s.UpsertOrder(ctx, testOrder("o3", "m2", "alice", t0)))

		o := testOrder("o2", "m1", "alice", t0.Add(time.Second))
		require.NoError(t, o.ApplyFill(100, decimal.RequireFromString("2.5")))
		require.NoError(t, s.UpsertOrder(ctx, o))

		got, err := s.GetOrder(ctx, "o2")
		require.NoError(t, err)
		assert.Equal(t, model.OrderMatched, got.Status)
		assert.Equal(t, uint64(0), got.StakeUnmatched)
		assert.Equal(t, uint64(250), got.Payout)
		assert.True(t, got.ExpectedPrice.Equal(decimal.RequireFromString("2.5")))

		byMarket, err := s.ListOrdersByMarket(ctx, "m1")
		require.NoError(t, err)
		require.Len(t, byMarket, 2)
		assert.Equal(t, "o1", byMarket[0].ID)
		assert.Equal(t, "o2", byMarket[1].ID)

		byPurchaser, err := s.ListOrdersByPurchaser(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, byPurchaser, 2)
		assert.Equal(t, "o3", byPurchaser[0].ID)
	})

	t.Run("trades", func(t *testing.T) {
		require.NoError(t, s.InsertTrade(ctx, testTrade("t1", "m1", "alice")))
		require.NoError(t, s.InsertTrade(ctx, testTrade("t0", "m1", "bob")))
		require.NoError(t, s.InsertTrade(ctx, testTrade("t2", "m2", "alice")))

		err := s.InsertTrade(ctx, testTrade("t1", "m1", "alice"))
		assert.ErrorIs(t, err, ErrDuplicate)

		byMarket, err := s.GetTradesByMarket(ctx, "m1")
		require.NoError(t, err)
		require.Len(t, byMarket, 2)
		assert.Equal(t, "t1", byMarket[0].ID, "insertion order")
		assert.Equal(t, "t0", byMarket[1].ID)
		assert.Equal(t, uint64(40), byMarket[0].Stake)
		assert.True(t, byMarket[0].Price.Equal(decimal.RequireFromString("3")))

		byPurchaser, err := s.GetTradesByPurchaser(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, byPurchaser, 2)
		assert.Equal(t, "t2", byPurchaser[1].ID)

		none, err := s.GetTradesByPurchaser(ctx, "carol")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	o := testOrder("o1", "m1", "alice", t0)
	require.NoError(t, s.UpsertOrder(ctx, o))

	o.Status = model.OrderCancelled
	got, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderOpen, got.Status)
}

func openMemPebble(t *testing.T, fs vfs.FS) *PebbleStore {
	t.Helper()
	s, err := openPebble("db", &pebble.Options{FS: fs})
	require.NoError(t, err)
	return s
}

func TestPebbleStore(t *testing.T) {
	s := openMemPebble(t, vfs.NewMem())
	defer s.Close()
	exerciseStore(t, s)
}

func TestPebbleStore_SequenceSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	fs := vfs.NewMem()

	s := openMemPebble(t, fs)
	require.NoError(t, s.InsertTrade(ctx, testTrade("t9", "m1", "alice")))
	require.NoError(t, s.Close())

	s = openMemPebble(t, fs)
	defer s.Close()
	require.NoError(t, s.InsertTrade(ctx, testTrade("t1", "m1", "alice")))
	assert.ErrorIs(t, s.InsertTrade(ctx, testTrade("t9", "m1", "alice")), ErrDuplicate)

	trades, err := s.GetTradesByMarket(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "t9", trades[0].ID)
	assert.Equal(t, "t1", trades[1].ID)
}

func TestPebbleStore_OnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenPebble(dir)
	require.NoError(t, err)
	require.NoError(t, s.UpsertOrder(ctx, testOrder("o1", "m1", "alice", t0)))
	require.NoError(t, s.Close())

	s, err = OpenPebble(dir)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Purchaser)
}

func TestUpperBound(t *testing.T) {
	assert.Equal(t, []byte("om\x01"), upperBound([]byte("om\x00")))
	assert.Equal(t, []byte("b"), upperBound([]byte("a\xff")))
	assert.Nil(t, upperBound([]byte{0xff}))
}
