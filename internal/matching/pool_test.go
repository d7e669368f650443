package matching

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/betting-exchange/internal/model"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newPool() *Pool {
	return NewPool(NewPoolKey("m", 0, model.For, d("2")), d("2"), 4)
}

func TestPreplayEnqueueIsLiveImmediately(t *testing.T) {
	p := newPool()
	live, err := p.EnqueueNew("a", 10, time.Time{}, t0, false, model.BehaviourNone)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), live)
	assert.Equal(t, uint64(10), p.LiquidityAmount)
	assert.False(t, p.Inplay)
}

func TestInplayDelayIsDeferredUntilExpiry(t *testing.T) {
	p := newPool()
	_, err := p.EnqueueNew("a", 10, t0.Add(5*time.Second), t0, true, model.BehaviourNone)
	require.NoError(t, err)
	_, err = p.EnqueueNew("b", 7, t0.Add(8*time.Second), t0, true, model.BehaviourNone)
	require.NoError(t, err)
	assert.True(t, p.Inplay)
	assert.Equal(t, uint64(0), p.LiquidityAmount)

	released, err := p.ApplyDelayExpirations(t0.Add(6 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), released)
	assert.Equal(t, uint64(10), p.LiquidityAmount)

	released, _ = p.ApplyDelayExpirations(t0.Add(8 * time.Second))
	assert.Equal(t, uint64(7), released)
	released, _ = p.ApplyDelayExpirations(t0.Add(time.Hour))
	assert.Equal(t, uint64(0), released, "released stake is never counted twice")
	assert.Equal(t, uint64(17), p.LiquidityAmount)
}

func TestMoveToInplayCancelsUnmatched(t *testing.T) {
	p := newPool()
	_, _ = p.EnqueueNew("a", 10, time.Time{}, t0, false, model.BehaviourNone)
	require.NoError(t, p.ApplyMatch("a", 4, false))

	_, err := p.EnqueueNew("b", 3, time.Time{}, t0, true, model.BehaviourCancelUnmatched)
	require.NoError(t, err)
	assert.True(t, p.Inplay)
	assert.Equal(t, []PoolEntry{{OrderID: "b"}}, p.Entries())
	assert.Equal(t, uint64(3), p.LiquidityAmount)
	assert.Equal(t, uint64(4), p.MatchedAmount, "matched history survives")
}

func TestApplyMatchChecksHead(t *testing.T) {
	p := newPool()
	_, _ = p.EnqueueNew("a", 10, time.Time{}, t0, false, model.BehaviourNone)
	_, _ = p.EnqueueNew("b", 5, time.Time{}, t0, false, model.BehaviourNone)

	err := p.ApplyMatch("b", 5, true)
	assert.True(t, errors.Is(err, ErrPoolHeadMismatch))
	assert.Equal(t, uint64(15), p.LiquidityAmount)

	require.NoError(t, p.ApplyMatch("a", 6, false))
	require.NoError(t, p.ApplyMatch("a", 4, true))
	require.NoError(t, p.ApplyMatch("b", 5, true))
	assert.Equal(t, uint64(0), p.LiquidityAmount)
	assert.Equal(t, uint64(15), p.MatchedAmount)
	assert.True(t, p.IsEmpty())
}

func TestApplyMatchUnderflow(t *testing.T) {
	p := newPool()
	_, _ = p.EnqueueNew("a", 10, time.Time{}, t0, false, model.BehaviourNone)
	err := p.ApplyMatch("a", 11, true)
	assert.True(t, errors.Is(err, ErrPoolUnderflow))
	assert.Equal(t, 1, p.Len())
}

func TestCancelFromMiddle(t *testing.T) {
	p := newPool()
	_, _ = p.EnqueueNew("a", 1, time.Time{}, t0, false, model.BehaviourNone)
	_, _ = p.EnqueueNew("b", 2, time.Time{}, t0, false, model.BehaviourNone)
	_, _ = p.EnqueueNew("c", 3, t0.Add(time.Minute), t0, true, model.BehaviourNone)

	live, err := p.Cancel("b", 2)
	require.NoError(t, err)
	assert.True(t, live)
	assert.Equal(t, uint64(1), p.LiquidityAmount)

	live, err = p.Cancel("c", 3)
	require.NoError(t, err)
	assert.False(t, live, "deferred stake never reached the pool")
	assert.Equal(t, uint64(1), p.LiquidityAmount)
	assert.Equal(t, []PoolEntry{{OrderID: "a"}}, p.Entries())

	_, err = p.Cancel("zzz", 1)
	assert.True(t, errors.Is(err, ErrNotInPool))
}

func TestPoolFull(t *testing.T) {
	p := NewPool(NewPoolKey("m", 0, model.For, d("2")), d("2"), 1)
	_, _ = p.EnqueueNew("a", 1, time.Time{}, t0, false, model.BehaviourNone)
	_, err := p.EnqueueNew("b", 1, time.Time{}, t0, false, model.BehaviourNone)
	assert.True(t, errors.Is(err, ErrPoolFull))
	assert.Equal(t, uint64(1), p.LiquidityAmount)
}
