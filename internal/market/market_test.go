package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/betting-exchange/internal/fault"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newMarket(t *testing.T, cfg Config) *Market {
	t.Helper()
	if cfg.ID == "" {
		cfg.ID = "m1"
	}
	m, err := New(cfg)
	require.NoError(t, err)
	for _, title := range []string{"home", "draw", "away"} {
		_, err := m.AddOutcome(title)
		require.NoError(t, err)
	}
	return m
}

func TestLadderSortedDeduplicated(t *testing.T) {
	o := &Outcome{LadderCap: 5}
	require.NoError(t, o.AddPrices([]decimal.Decimal{d("2.5"), d("1.5"), d("2.50"), d("3")}))
	require.NoError(t, o.AddPrices([]decimal.Decimal{d("1.5"), d("2")}))

	got := make([]string, len(o.Prices))
	for i, p := range o.Prices {
		got[i] = p.StringFixed(3)
	}
	assert.Equal(t, []string{"1.500", "2.000", "2.500", "3.000"}, got)
	assert.True(t, o.HasPrice(d("2.000")))
	assert.False(t, o.HasPrice(d("2.25")))
}

func TestLadderCapacity(t *testing.T) {
	o := &Outcome{LadderCap: 2}
	require.NoError(t, o.AddPrices([]decimal.Decimal{d("1.5"), d("2")}))
	err := o.AddPrices([]decimal.Decimal{d("3")})
	require.ErrorIs(t, err, ErrLadderFull)
	require.ErrorIs(t, err, fault.ErrCapacity)
	assert.Len(t, o.Prices, 2)

	require.ErrorIs(t, o.IncreaseLadderSize(1), ErrLadderShrink)
	require.NoError(t, o.IncreaseLadderSize(3))
	require.NoError(t, o.AddPrices([]decimal.Decimal{d("3")}))
}

func TestLadderRejectsInvalidPrice(t *testing.T) {
	o := &Outcome{LadderCap: 5}
	err := o.AddPrices([]decimal.Decimal{d("2"), d("1.0001")})
	require.ErrorIs(t, err, fault.ErrValidation)
	assert.Empty(t, o.Prices)
}

func TestOutcomesFixedOnceOpen(t *testing.T) {
	m := newMarket(t, Config{})
	require.NoError(t, m.Open())
	_, err := m.AddOutcome("extra")
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 3, m.OutcomeCount())
}

func TestOpenNeedsTwoOutcomes(t *testing.T) {
	m, err := New(Config{ID: "m1"})
	require.NoError(t, err)
	_, err = m.AddOutcome("only")
	require.NoError(t, err)
	require.ErrorIs(t, m.Open(), ErrInvalidConfig)
}

func TestSettlementPath(t *testing.T) {
	m := newMarket(t, Config{LockAt: t0})
	require.NoError(t, m.Open())
	require.NoError(t, m.AcceptingOrders(t0.Add(-time.Minute)))
	require.ErrorIs(t, m.AcceptingOrders(t0), ErrNotOpen)

	require.ErrorIs(t, m.Settle(0, t0.Add(-time.Minute)), ErrInvalidTransition)
	require.NoError(t, m.AccountOpened())
	require.NoError(t, m.Settle(2, t0))
	assert.Equal(t, StatusReadyForSettlement, m.Status)
	assert.Equal(t, 2, m.WinningOutcome)

	require.ErrorIs(t, m.CompleteSettlement(), ErrAccountsOpen)
	require.NoError(t, m.AccountSettled())
	require.NoError(t, m.CompleteSettlement())
	require.ErrorIs(t, m.Void(), ErrInvalidTransition)
	require.NoError(t, m.ReadyToClose())
	assert.True(t, m.Terminal())
}

func TestVoidPath(t *testing.T) {
	m := newMarket(t, Config{})
	require.NoError(t, m.Open())
	require.NoError(t, m.Lock())
	require.NoError(t, m.Void())
	require.NoError(t, m.CompleteVoid())
	assert.Equal(t, StatusVoided, m.Status)
	require.NoError(t, m.ReadyToClose())
}

func TestMoveToInplay(t *testing.T) {
	m := newMarket(t, Config{InplayEnabled: true, EventStartAt: t0, LockAt: t0.Add(2 * time.Hour)})
	require.NoError(t, m.Open())
	require.ErrorIs(t, m.MoveToInplay(t0.Add(-time.Second)), ErrEventNotStarted)
	require.NoError(t, m.MoveToInplay(t0))
	assert.True(t, m.Inplay)
	require.ErrorIs(t, m.MoveToInplay(t0), ErrInvalidTransition)

	plain := newMarket(t, Config{ID: "m2", EventStartAt: t0})
	require.NoError(t, plain.Open())
	require.ErrorIs(t, plain.MoveToInplay(t0), ErrInplayDisabled)
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{ID: "m", MintDecimals: 2, DecimalLimit: 3})
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(Config{ID: "m", EventStartAt: t0, LockAt: t0.Add(time.Hour)})
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(Config{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCloneIsDeep(t *testing.T) {
	m := newMarket(t, Config{})
	require.NoError(t, m.Outcomes[0].AddPrices([]decimal.Decimal{d("2")}))
	c := m.Clone()
	require.NoError(t, c.Outcomes[0].AddPrices([]decimal.Decimal{d("3")}))
	require.NoError(t, c.Outcomes[0].RecordMatch(10, d("2")))
	assert.Len(t, m.Outcomes[0].Prices, 1)
	assert.Zero(t, m.Outcomes[0].MatchedTotal)
}
