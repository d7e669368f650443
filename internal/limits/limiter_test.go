package limits

import (
	"errors"
	"testing"
)

func TestCheckLimit_WithinLimits(t *testing.T) {
	limiter := NewExposureLimiter(1000, 5000)

	err := limiter.CheckLimit(Exposure{MarketID: "m1", EventGroup: "race-1", Amount: 100}, nil)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckLimit_PerMarketExceeded(t *testing.T) {
	limiter := NewExposureLimiter(1000, 5000)

	err := limiter.CheckLimit(Exposure{MarketID: "m1", Amount: 1050}, nil)
	if !errors.Is(err, ErrMarketLimitExceeded) {
		t.Errorf("expected ErrMarketLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_GroupExceeded(t *testing.T) {
	limiter := NewExposureLimiter(1000, 2000)

	existing := []Exposure{
		{MarketID: "m1", EventGroup: "race-1", Amount: 800},
		{MarketID: "m2", EventGroup: "race-1", Amount: 800},
		{MarketID: "m3", EventGroup: "race-2", Amount: 900},
	}

	// 800 + 800 + 500 = 2100 > 2000; race-2 is not counted.
	err := limiter.CheckLimit(Exposure{MarketID: "m4", EventGroup: "race-1", Amount: 500}, existing)
	if !errors.Is(err, ErrGroupLimitExceeded) {
		t.Errorf("expected ErrGroupLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_OwnMarketNotDoubleCounted(t *testing.T) {
	limiter := NewExposureLimiter(1000, 1500)

	existing := []Exposure{
		{MarketID: "m1", EventGroup: "race-1", Amount: 900},
		{MarketID: "m2", EventGroup: "race-1", Amount: 500},
	}

	// The new m1 exposure replaces the old one: 950 + 500 = 1450.
	err := limiter.CheckLimit(Exposure{MarketID: "m1", EventGroup: "race-1", Amount: 950}, existing)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckLimit_UngroupedMarketsUncorrelated(t *testing.T) {
	limiter := NewExposureLimiter(0, 100)

	existing := []Exposure{{MarketID: "m1", Amount: 90}}
	err := limiter.CheckLimit(Exposure{MarketID: "m2", Amount: 90}, existing)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckLimit_NilLimiter(t *testing.T) {
	var limiter *ExposureLimiter
	if err := limiter.CheckLimit(Exposure{Amount: 1 << 62}, nil); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}
