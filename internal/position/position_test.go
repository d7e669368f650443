package position

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/atmx/betting-exchange/internal/fault"
	"github.com/atmx/betting-exchange/internal/model"
	"github.com/atmx/betting-exchange/internal/odds"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sums(p *Position) []string {
	out := make([]string, len(p.OutcomeSums))
	for i, s := range p.OutcomeSums {
		out[i] = s.String()
	}
	return out
}

// place creates a request and matches all of it at its own price.
func place(t *testing.T, p *Position, side model.Side, outcome int, stake uint64, price string) {
	t.Helper()
	require.NoError(t, p.OnRequestCreated(side, outcome, stake, d(price)))
	require.NoError(t, p.OnMatch(side, outcome, stake, d(price), d(price)))
}

func TestForAndAgainstNetToZero(t *testing.T) {
	p := New("alice", "m1", 3, DefaultProductCap)
	place(t, p, model.For, 0, 100, "2.0")
	assert.Equal(t, []string{"100", "-100", "-100"}, sums(p))
	place(t, p, model.Against, 0, 100, "2.0")
	assert.Equal(t, []string{"0", "0", "0"}, sums(p))
	assert.Equal(t, []uint64{0, 0, 0}, p.UnmatchedExposures)

	exposure, err := p.TotalExposure()
	require.NoError(t, err)
	assert.Zero(t, exposure)
}

func TestCrossOutcomeNettingIsOrderIndependent(t *testing.T) {
	a := New("alice", "m1", 3, DefaultProductCap)
	place(t, a, model.For, 0, 10, "2.0")
	place(t, a, model.For, 1, 10, "2.0")

	b := New("alice", "m1", 3, DefaultProductCap)
	place(t, b, model.For, 1, 10, "2.0")
	place(t, b, model.For, 0, 10, "2.0")

	assert.Equal(t, []string{"0", "0", "-20"}, sums(a))
	assert.Equal(t, sums(a), sums(b))

	exposure, err := a.TotalExposure()
	require.NoError(t, err)
	assert.Equal(t, uint64(20), exposure)
}

func TestUnmatchedExposure(t *testing.T) {
	p := New("alice", "m1", 3, DefaultProductCap)
	require.NoError(t, p.OnRequestCreated(model.For, 1, 50, d("3.0")))
	assert.Equal(t, []uint64{50, 0, 50}, p.UnmatchedExposures)

	require.NoError(t, p.OnRequestCreated(model.Against, 1, 10, d("2.5")))
	assert.Equal(t, []uint64{50, 15, 50}, p.UnmatchedExposures)

	exposure, err := p.TotalExposure()
	require.NoError(t, err)
	assert.Equal(t, uint64(50), exposure)

	require.NoError(t, p.OnCancel(model.For, 1, 50, d("3.0")))
	require.NoError(t, p.OnCancel(model.Against, 1, 10, d("2.5")))
	assert.Equal(t, []uint64{0, 0, 0}, p.UnmatchedExposures)
}

func TestPartialMatchReleasesAtExpectedPrice(t *testing.T) {
	p := New("bob", "m1", 2, DefaultProductCap)
	require.NoError(t, p.OnRequestCreated(model.Against, 0, 100, d("3.0")))
	assert.Equal(t, []uint64{200, 0}, p.UnmatchedExposures)

	// filled better than requested: liability booked at 2.5, reservation
	// released at 3.0
	require.NoError(t, p.OnMatch(model.Against, 0, 40, d("2.5"), d("3.0")))
	assert.Equal(t, []uint64{120, 0}, p.UnmatchedExposures)
	assert.Equal(t, []string{"-60", "40"}, sums(p))

	exposure, err := p.TotalExposure()
	require.NoError(t, err)
	assert.Equal(t, uint64(180), exposure)
}

func TestCancelBeyondReservationUnderflows(t *testing.T) {
	p := New("bob", "m1", 2, DefaultProductCap)
	require.NoError(t, p.OnRequestCreated(model.For, 0, 10, d("2.0")))
	err := p.OnCancel(model.For, 0, 11, d("2.0"))
	require.ErrorIs(t, err, fault.ErrArithmetic)
	assert.Equal(t, []uint64{0, 10}, p.UnmatchedExposures)
}

func TestOutcomeOutOfRange(t *testing.T) {
	p := New("bob", "m1", 2, DefaultProductCap)
	err := p.OnRequestCreated(model.For, 2, 10, d("2.0"))
	require.ErrorIs(t, err, ErrOutcomeOutOfRange)
	require.ErrorIs(t, err, fault.ErrConsistency)
}

func TestMatchedRiskAttribution(t *testing.T) {
	p := New("carol", "m1", 2, 2)
	dropped, err := p.AddMatchedRisk("p1", d("5"), 10)
	require.NoError(t, err)
	assert.False(t, dropped)
	_, err = p.AddMatchedRisk("p1", d("5"), 5)
	require.NoError(t, err)
	_, err = p.AddMatchedRisk("p1", d("7"), 3)
	require.NoError(t, err)
	dropped, err = p.AddMatchedRisk("p2", d("5"), 4)
	require.NoError(t, err)
	assert.True(t, dropped)
	_, err = p.AddMatchedRisk("", decimal.Zero, 1)
	require.NoError(t, err)

	assert.Equal(t, uint64(23), p.MatchedRisk)
	require.Len(t, p.MatchedRiskPerProduct, 2)
	assert.Equal(t, uint64(15), p.MatchedRiskPerProduct[0].Risk)
	assert.Equal(t, uint64(3), p.MatchedRiskPerProduct[1].Risk)
}

func TestSettlementPayout(t *testing.T) {
	p := New("dave", "m1", 3, DefaultProductCap)
	require.NoError(t, p.OnRequestCreated(model.For, 0, 100, d("2.0")))
	require.NoError(t, p.OnMatch(model.For, 0, 100, d("2.0"), d("2.0")))
	_, err := p.AddMatchedRisk("p1", d("10"), 100)
	require.NoError(t, err)

	win, err := p.SettlementPayout(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), win.Gross)
	assert.Equal(t, uint64(100), win.Profit)
	assert.Equal(t, []Commission{{Product: "p1", Amount: 10}}, win.Commissions)
	assert.Equal(t, uint64(190), win.Net)

	lose, err := p.SettlementPayout(1)
	require.NoError(t, err)
	assert.Zero(t, lose.Gross)
	assert.Empty(t, lose.Commissions)

	refund, err := p.VoidRefund()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), refund)
}

func TestCommissionSplitByRiskShare(t *testing.T) {
	p := New("erin", "m1", 2, DefaultProductCap)
	place(t, p, model.For, 0, 300, "2.0")
	_, err := p.AddMatchedRisk("p1", d("10"), 200)
	require.NoError(t, err)
	_, err = p.AddMatchedRisk("p2", d("1.5"), 100)
	require.NoError(t, err)

	s, err := p.SettlementPayout(0)
	require.NoError(t, err)
	// p1: 300 * 2/3 * 10% = 20, p2: 300 * 1/3 * 1.5% = 1.5 -> 1
	assert.Equal(t, []Commission{{Product: "p1", Amount: 20}, {Product: "p2", Amount: 1}}, s.Commissions)
	assert.Equal(t, uint64(600-21), s.Net)
}

func TestCloneIsIndependent(t *testing.T) {
	p := New("frank", "m1", 2, DefaultProductCap)
	place(t, p, model.For, 0, 10, "2.0")
	c := p.Clone()
	place(t, c, model.For, 1, 10, "2.0")
	assert.Equal(t, []string{"10", "-10"}, sums(p))
	assert.Equal(t, []string{"0", "0"}, sums(c))
}

// Exposure after any sequence of create/match/cancel equals what escrow
// would hold if every outcome were settled: the worst payout deficit.
func TestFullyMatchedExposureCoversEveryOutcome(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 5).Draw(t, "outcomes")
		p := New("p", "m", n, DefaultProductCap)
		var escrow uint64
		bets := rapid.IntRange(1, 12).Draw(t, "bets")
		for i := 0; i < bets; i++ {
			side := model.For
			if rapid.Bool().Draw(t, "against") {
				side = model.Against
			}
			outcome := rapid.IntRange(0, n-1).Draw(t, "outcome")
			stake := rapid.Uint64Range(1, 1000).Draw(t, "stake")
			price := odds.FromUint(rapid.Uint64Range(1001, 10000).Draw(t, "milli")).Shift(-3)
			if err := p.OnRequestCreated(side, outcome, stake, price); err != nil {
				t.Fatal(err)
			}
			if err := p.OnMatch(side, outcome, stake, price, price); err != nil {
				t.Fatal(err)
			}
			e, err := p.TotalExposure()
			if err != nil {
				t.Fatal(err)
			}
			escrow = e
		}
		for w := 0; w < n; w++ {
			s, err := p.SettlementPayout(w)
			if err != nil {
				t.Fatalf("outcome %d: %v", w, err)
			}
			if got := odds.FromUint(escrow).Add(p.OutcomeSums[w]); !got.Equal(odds.FromUint(s.Gross)) {
				t.Fatalf("outcome %d: gross %d, want %s", w, s.Gross, got)
			}
		}
	})
}
