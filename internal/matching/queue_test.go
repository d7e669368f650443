package matching

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/betting-exchange/internal/fault"
	"github.com/atmx/betting-exchange/internal/model"
)

func TestPushIsAllOrNothing(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Push(Entry{Role: RoleMaker, Stake: 1}))
	err := q.Push(Entry{Role: RoleMaker, Stake: 2}, Entry{Role: RoleTaker, Stake: 2})
	assert.True(t, errors.Is(err, fault.ErrCapacity))
	assert.Equal(t, 1, q.Len())
}

func TestPendingMakerStake(t *testing.T) {
	q := NewQueue(8)
	require.NoError(t, q.Push(
		Entry{Role: RoleMaker, Outcome: 1, Side: model.For, Price: d("1.2"), Stake: 10},
		Entry{Role: RoleTaker, Outcome: 1, Side: model.Against, Price: d("1.2"), Stake: 10, OrderID: "t"},
		Entry{Role: RoleMaker, Outcome: 1, Side: model.For, Price: d("1.20"), Stake: 5},
		Entry{Role: RoleMaker, Outcome: 1, Side: model.For, Price: d("1.3"), Stake: 7},
	))
	assert.Equal(t, uint64(15), q.PendingMakerStake(1, model.For, d("1.2")))
	assert.Equal(t, uint64(0), q.PendingMakerStake(0, model.For, d("1.2")))
}

func TestSetFrontStake(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Push(Entry{Role: RoleMaker, Stake: 10}))
	assert.True(t, q.SetFrontStake(4))
	e, ok := q.Front()
	require.True(t, ok)
	assert.Equal(t, uint64(4), e.Stake)
}
