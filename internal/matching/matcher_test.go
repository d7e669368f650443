package matching

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/betting-exchange/internal/liquidity"
	"github.com/atmx/betting-exchange/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ladderBook(t *testing.T) *liquidity.Book {
	t.Helper()
	b := liquidity.New(16)
	for _, p := range []string{"1.2", "1.3", "1.4"} {
		require.NoError(t, b.Add(model.For, 1, d(p), 10))
	}
	return b
}

func TestAgainstOrderMatchesLowestForPrice(t *testing.T) {
	book := ladderBook(t)
	plan, err := PlanMatch(book, Taker{OrderID: "o1", Outcome: 1, Side: model.Against, Limit: d("1.2"), StakeUnmatched: 100}, 5)
	require.NoError(t, err)
	require.NoError(t, plan.Apply(book, true))

	assert.True(t, plan.Complete)
	assert.Equal(t, uint64(90), plan.Remaining)
	assert.Equal(t, uint64(12), plan.Payout)
	require.Len(t, plan.Entries, 2)
	assert.Equal(t, RoleMaker, plan.Entries[0].Role)
	assert.Equal(t, model.For, plan.Entries[0].Side)
	assert.Equal(t, RoleTaker, plan.Entries[1].Role)
	assert.Equal(t, "o1", plan.Entries[1].OrderID)
	for _, e := range plan.Entries {
		assert.True(t, e.Price.Equal(d("1.2")))
		assert.Equal(t, uint64(10), e.Stake)
	}

	forSide := book.Points(model.For)
	require.Len(t, forSide, 2)
	assert.True(t, forSide[0].Price.Equal(d("1.3")))
	assert.True(t, forSide[1].Price.Equal(d("1.4")))
	assert.Equal(t, uint64(90), book.Get(model.Against, 1, d("1.2")))
}

func TestForOrderTakesHighestAgainstFirst(t *testing.T) {
	book := liquidity.New(16)
	require.NoError(t, book.Add(model.Against, 0, d("2.0"), 10))
	require.NoError(t, book.Add(model.Against, 0, d("2.5"), 10))
	require.NoError(t, book.Add(model.Against, 0, d("1.5"), 10))

	plan, err := PlanMatch(book, Taker{OrderID: "o", Outcome: 0, Side: model.For, Limit: d("2.0"), StakeUnmatched: 15}, 5)
	require.NoError(t, err)
	require.Len(t, plan.Fills, 2)
	assert.True(t, plan.Fills[0].Point.Price.Equal(d("2.5")))
	assert.Equal(t, uint64(10), plan.Fills[0].Stake)
	assert.True(t, plan.Fills[1].Point.Price.Equal(d("2.0")))
	assert.Equal(t, uint64(5), plan.Fills[1].Stake)
	assert.Equal(t, uint64(0), plan.Remaining)
	// 10*2.5 + 5*2.0
	assert.Equal(t, uint64(35), plan.Payout)

	require.NoError(t, plan.Apply(book, true))
	assert.Equal(t, uint64(5), book.Get(model.Against, 0, d("2.0")))
	assert.Equal(t, uint64(10), book.Get(model.Against, 0, d("1.5")))
	assert.Equal(t, 0, book.Len(model.For), "fully matched order leaves no residual")
}

func TestPlanDoesNotMutateBook(t *testing.T) {
	book := ladderBook(t)
	_, err := PlanMatch(book, Taker{OrderID: "o", Outcome: 1, Side: model.Against, Limit: d("1.4"), StakeUnmatched: 25}, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, book.Len(model.For))
	assert.Equal(t, 0, book.Len(model.Against))
}

func TestBudgetStopsAndResumes(t *testing.T) {
	book := ladderBook(t)
	taker := Taker{OrderID: "o", Outcome: 1, Side: model.Against, Limit: d("1.4"), StakeUnmatched: 100}

	first, err := PlanMatch(book, taker, 2)
	require.NoError(t, err)
	assert.False(t, first.Complete)
	assert.Len(t, first.Fills, 2)
	require.NoError(t, first.Apply(book, true))
	assert.Equal(t, 0, book.Len(model.Against), "incomplete plans must not rest the residual")

	taker.StakeUnmatched = first.Remaining
	second, err := PlanMatch(book, taker, 2)
	require.NoError(t, err)
	assert.True(t, second.Complete)
	require.NoError(t, second.Apply(book, true))

	assert.Equal(t, uint64(70), second.Remaining)
	assert.Equal(t, 0, book.Len(model.For))
	assert.Equal(t, uint64(70), book.Get(model.Against, 1, d("1.4")))
}

func TestBudgetExactlySpentIsComplete(t *testing.T) {
	book := ladderBook(t)
	plan, err := PlanMatch(book, Taker{OrderID: "o", Outcome: 1, Side: model.Against, Limit: d("1.4"), StakeUnmatched: 20}, 2)
	require.NoError(t, err)
	assert.True(t, plan.Complete)
	assert.Equal(t, uint64(0), plan.Remaining)
}

func TestNoEligibleLiquidity(t *testing.T) {
	book := ladderBook(t)
	plan, err := PlanMatch(book, Taker{OrderID: "o", Outcome: 1, Side: model.Against, Limit: d("1.1"), StakeUnmatched: 5}, 5)
	require.NoError(t, err)
	assert.Empty(t, plan.Entries)
	require.NoError(t, plan.Apply(book, true))
	assert.Equal(t, uint64(5), book.Get(model.Against, 1, d("1.1")))
}

// Derived fills split the taker's stake across sources so each maker
// receives the same gross payout as the taker (stake_k = fill * p / p_k).
// This payout-balanced split is a deliberate choice for cross matching.
func TestCrossMatchSplitsAcrossSources(t *testing.T) {
	book := liquidity.New(16)
	require.NoError(t, book.Add(model.For, 1, d("3"), 30))
	require.NoError(t, book.Add(model.For, 2, d("3"), 60))
	_, err := book.AddCross(model.Against, 3, []liquidity.Source{{Outcome: 1, Price: d("3")}, {Outcome: 2, Price: d("3")}})
	require.NoError(t, err)

	plan, err := PlanMatch(book, Taker{MarketID: "m1", OrderID: "o", Outcome: 0, Side: model.For, Limit: d("3"), StakeUnmatched: 12}, 5)
	require.NoError(t, err)
	require.Len(t, plan.Fills, 1)
	require.Len(t, plan.Entries, 3)
	assert.ElementsMatch(t, []string{"m1/1/FOR/3", "m1/2/FOR/3"}, strings.Split(plan.Entries[2].Counterpart, "+"))
	for _, e := range plan.Entries[:2] {
		assert.Equal(t, RoleMaker, e.Role)
		assert.Equal(t, model.For, e.Side)
		assert.Equal(t, uint64(12), e.Stake)
	}
	assert.Equal(t, RoleTaker, plan.Entries[2].Role)

	require.NoError(t, plan.Apply(book, true))
	assert.Equal(t, uint64(18), book.Get(model.For, 1, d("3")))
	assert.Equal(t, uint64(48), book.Get(model.For, 2, d("3")))
	assert.Equal(t, uint64(18), book.Get(model.Against, 0, d("3")))
}
