package liquidity

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/betting-exchange/internal/fault"
	"github.com/atmx/betting-exchange/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAddMergesSamePoint(t *testing.T) {
	b := New(10)
	_ = b.Add(model.For, 1, d("1.2"), 10)
	_ = b.Add(model.For, 1, d("1.20"), 5)

	if got := b.Get(model.For, 1, d("1.2")); got != 15 {
		t.Errorf("expected merged amount 15, got %d", got)
	}
	if b.Len(model.For) != 1 {
		t.Errorf("expected a single point, got %d", b.Len(model.For))
	}
}

func TestAddThenRemoveRestoresBook(t *testing.T) {
	b := New(10)
	_ = b.Add(model.Against, 0, d("2.0"), 50)
	_ = b.Add(model.Against, 2, d("3.5"), 7)
	before := b.Points(model.Against)

	if err := b.Add(model.Against, 1, d("2.5"), 20); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := b.Remove(model.Against, 1, d("2.5"), 20); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, ok := b.Point(model.Against, 1, d("2.5")); ok {
		t.Error("point should be deleted once its amount reaches zero")
	}
	after := b.Points(model.Against)
	if len(after) != len(before) {
		t.Fatalf("expected %d points, got %d", len(before), len(after))
	}
	for i := range before {
		if before[i].Outcome != after[i].Outcome || !before[i].Price.Equal(after[i].Price) || before[i].Amount != after[i].Amount {
			t.Errorf("point %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestRemoveInsufficient(t *testing.T) {
	b := New(10)
	if err := b.Remove(model.For, 0, d("2"), 1); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Errorf("expected ErrInsufficientLiquidity for missing point, got %v", err)
	}
	_ = b.Add(model.For, 0, d("2"), 5)
	if err := b.Remove(model.For, 0, d("2"), 6); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Errorf("expected ErrInsufficientLiquidity for over-removal, got %v", err)
	}
	if got := b.Get(model.For, 0, d("2")); got != 5 {
		t.Errorf("failed removal must not change the point, got %d", got)
	}
}

func TestAddOverflow(t *testing.T) {
	b := New(10)
	_ = b.Add(model.For, 0, d("2"), math.MaxUint64)
	if err := b.Add(model.For, 0, d("2"), 1); !errors.Is(err, fault.ErrArithmetic) {
		t.Errorf("expected arithmetic error, got %v", err)
	}
}

func TestCapacity(t *testing.T) {
	b := New(2)
	_ = b.Add(model.For, 0, d("2"), 1)
	_ = b.Add(model.For, 0, d("3"), 1)
	if err := b.Add(model.For, 0, d("4"), 1); !errors.Is(err, ErrBookFull) {
		t.Errorf("expected ErrBookFull, got %v", err)
	}
	if err := b.Add(model.For, 0, d("3"), 1); err != nil {
		t.Errorf("adding to an existing point should not hit capacity, got %v", err)
	}
}

func TestEligibleOrdering(t *testing.T) {
	b := New(10)
	for _, p := range []string{"1.2", "1.3", "1.4"} {
		_ = b.Add(model.For, 1, d(p), 10)
		_ = b.Add(model.Against, 1, d(p), 10)
	}
	// Other outcomes must never leak into the walk.
	_ = b.Add(model.For, 0, d("1.1"), 10)
	_ = b.Add(model.Against, 2, d("9"), 10)

	var got []string
	b.Eligible(model.Against, 1, d("1.3"), func(p Point) bool {
		got = append(got, p.Price.String())
		return true
	})
	if len(got) != 2 || got[0] != "1.2" || got[1] != "1.3" {
		t.Errorf("against-taker walk = %v, want [1.2 1.3]", got)
	}

	got = nil
	b.Eligible(model.For, 1, d("1.3"), func(p Point) bool {
		got = append(got, p.Price.String())
		return true
	})
	if len(got) != 2 || got[0] != "1.4" || got[1] != "1.3" {
		t.Errorf("for-taker walk = %v, want [1.4 1.3]", got)
	}
}

func TestCloneIsCopyOnWrite(t *testing.T) {
	b := New(10)
	_ = b.Add(model.For, 0, d("2"), 10)
	c := b.Clone()
	_ = c.Remove(model.For, 0, d("2"), 10)

	if b.Get(model.For, 0, d("2")) != 10 {
		t.Error("mutating the clone changed the original")
	}
}
