package model

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newOrder(side Side) *Order {
	return NewOrder(&OrderRequest{
		Purchaser: "alice", MarketID: "m1", Outcome: 1, Side: side,
		Stake: 100, ExpectedPrice: d("2.5"), Seed: "s1",
	})
}

func TestOrderIDDeterministic(t *testing.T) {
	a := OrderID("m1", "alice", "s1")
	if a != OrderID("m1", "alice", "s1") {
		t.Fatal("order id not stable")
	}
	if a == OrderID("m1", "alice", "s2") || a == OrderID("m2", "alice", "s1") {
		t.Fatal("order id collides across seeds or markets")
	}
	if newOrder(For).ID != a {
		t.Errorf("NewOrder id = %s, want %s", newOrder(For).ID, a)
	}
}

func TestApplyFill(t *testing.T) {
	o := newOrder(For)
	if err := o.ApplyFill(40, d("2.5")); err != nil {
		t.Fatal(err)
	}
	if o.Status != OrderOpen || o.StakeUnmatched != 60 || o.Payout != 100 {
		t.Fatalf("after partial fill: %+v", o)
	}
	if err := o.ApplyFill(61, d("2.5")); !errors.Is(err, ErrFillExceedsStake) {
		t.Fatalf("overfill err = %v", err)
	}
	if err := o.ApplyFill(60, d("2.6")); err != nil {
		t.Fatal(err)
	}
	if o.Status != OrderMatched || o.Payout != 256 {
		t.Errorf("status %s payout %d", o.Status, o.Payout)
	}
}

func TestVoidRemaining(t *testing.T) {
	o := newOrder(Against)
	voided, err := o.VoidRemaining()
	if err != nil || voided != 100 || o.Status != OrderCancelled {
		t.Fatalf("voided %d status %s err %v", voided, o.Status, err)
	}
	if _, err := o.VoidRemaining(); !errors.Is(err, ErrOrderNotCancellable) {
		t.Fatalf("second cancel err = %v", err)
	}

	p := newOrder(Against)
	if err := p.ApplyFill(30, d("2.5")); err != nil {
		t.Fatal(err)
	}
	voided, err = p.VoidRemaining()
	if err != nil || voided != 70 || p.Status != OrderMatched || p.MatchedStake() != 30 {
		t.Fatalf("voided %d status %s matched %d err %v", voided, p.Status, p.MatchedStake(), err)
	}
}

func TestSettle(t *testing.T) {
	cases := []struct {
		side   Side
		winner int
		want   OrderStatus
	}{
		{For, 1, OrderSettledWin},
		{For, 0, OrderSettledLose},
		{Against, 1, OrderSettledLose},
		{Against, 2, OrderSettledWin},
	}
	for _, c := range cases {
		o := newOrder(c.side)
		if err := o.ApplyFill(100, d("2.5")); err != nil {
			t.Fatal(err)
		}
		o.Settle(c.winner)
		if o.Status != c.want {
			t.Errorf("%s winner %d: got %s, want %s", c.side, c.winner, o.Status, c.want)
		}
	}

	unmatched := newOrder(For)
	unmatched.Settle(1)
	if unmatched.Status != OrderCancelled {
		t.Errorf("unmatched settle = %s", unmatched.Status)
	}
}
