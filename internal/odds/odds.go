// Package odds implements the fixed-point arithmetic of the exchange.
//
// Stakes and liabilities are uint64 amounts in the smallest unit of the
// settlement token. Prices are decimal odds with exactly PricePrecision
// decimal places, carried as shopspring/decimal values so no float64 ever
// touches money.
package odds

import (
	"errors"
	"fmt"
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"

	"github.com/atmx/betting-exchange/internal/fault"
)

// PricePrecision is the number of decimal places a price may carry.
const PricePrecision int32 = 3

var (
	ErrOverflow          = fmt.Errorf("%w: odds: overflow", fault.ErrArithmetic)
	ErrUnderflow         = fmt.Errorf("%w: odds: underflow", fault.ErrArithmetic)
	ErrInvalidPrice      = fmt.Errorf("%w: odds: price must be greater than 1 with at most 3 decimal places", fault.ErrValidation)
	ErrStakePrecision    = fmt.Errorf("%w: odds: stake precision too fine for market", fault.ErrValidation)
	ErrInvalidCrossPrice = fmt.Errorf("%w: odds: cross price undefined for source prices", fault.ErrValidation)
)

var (
	one      = decimal.NewFromInt(1)
	maxUint  = new(big.Int).SetUint64(^uint64(0))
	errRange = errors.New("value out of uint64 range")
)

// ValidatePrice rejects prices that are not strictly above evens-minus-stake
// (1.0) or that carry more than PricePrecision decimal places.
func ValidatePrice(price decimal.Decimal) error {
	if price.LessThanOrEqual(one) {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}
	if !price.Equal(price.Truncate(PricePrecision)) {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}
	return nil
}

// Risk is the liability of the against side: stake * (price - 1), floored to
// a whole base unit.
func Risk(stake uint64, price decimal.Decimal) (uint64, error) {
	return toUint(FromUint(stake).Mul(price.Sub(one)))
}

// Payout is the gross return of a for-side fill: stake * price, floored to a
// whole base unit.
func Payout(stake uint64, price decimal.Decimal) (uint64, error) {
	return toUint(FromUint(stake).Mul(price))
}

// CheckStakePrecision rejects stakes with a non-zero remainder below the
// market's decimal limit. A token with 6 decimals and a limit of 2 accepts
// multiples of 10^4.
func CheckStakePrecision(stake uint64, mintDecimals, decimalLimit uint8) error {
	if decimalLimit >= mintDecimals {
		return nil
	}
	step := uint64(1)
	for i := decimalLimit; i < mintDecimals; i++ {
		next, err := Mul(step, 10)
		if err != nil {
			return err
		}
		step = next
	}
	if stake%step != 0 {
		return fmt.Errorf("%w: stake %d is not a multiple of %d", ErrStakePrecision, stake, step)
	}
	return nil
}

// CrossPrice derives the implied price of the remaining outcome of a market
// from one price per other outcome: 1 / (1 - Σ 1/p_k), truncated to
// PricePrecision. The sum is computed exactly, so the supplied order never
// affects the result.
func CrossPrice(prices []decimal.Decimal) (decimal.Decimal, error) {
	if len(prices) == 0 {
		return decimal.Zero, ErrInvalidCrossPrice
	}
	sum := new(big.Rat)
	for _, p := range prices {
		if err := ValidatePrice(p); err != nil {
			return decimal.Zero, err
		}
		sum.Add(sum, new(big.Rat).Inv(p.Rat()))
	}
	rest := new(big.Rat).Sub(big.NewRat(1, 1), sum)
	if rest.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: implied probability %s", ErrInvalidCrossPrice, sum.FloatString(6))
	}
	price := truncate(new(big.Rat).Inv(rest), PricePrecision)
	if price.LessThanOrEqual(one) {
		return decimal.Zero, fmt.Errorf("%w: derived price %s", ErrInvalidCrossPrice, price)
	}
	return price, nil
}

// Rebalance converts a stake at price from into the stake at price to that
// carries the same gross payout, floored: stake * from / to.
func Rebalance(stake uint64, from, to decimal.Decimal) (uint64, error) {
	r := new(big.Rat).SetInt(new(big.Int).SetUint64(stake))
	r.Mul(r, from.Rat())
	r.Quo(r, to.Rat())
	return toUint(truncate(r, 0))
}

// truncate floors a non-negative rational to places decimal places.
func truncate(r *big.Rat, places int32) decimal.Decimal {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(places)), nil)
	num := new(big.Int).Mul(r.Num(), scale)
	return decimal.NewFromBigInt(num.Quo(num, r.Denom()), -places)
}

// FromUint lifts a base-unit amount into a decimal.
func FromUint(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func toUint(d decimal.Decimal) (uint64, error) {
	if d.IsNegative() {
		return 0, ErrUnderflow
	}
	b := d.Floor().BigInt()
	if b.Cmp(maxUint) > 0 {
		return 0, fmt.Errorf("%w: %s", ErrOverflow, errRange)
	}
	return b.Uint64(), nil
}

// Add returns a+b or ErrOverflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b or ErrUnderflow.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrUnderflow
	}
	return diff, nil
}

// Mul returns a*b or ErrOverflow.
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}
