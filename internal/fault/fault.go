// Package fault defines the error taxonomy shared by the exchange core.
//
// Every sentinel error in the core wraps exactly one of the kinds below so
// callers can decide how to react with errors.Is:
//   - ErrValidation: business-rule violation detected before any mutation.
//   - ErrArithmetic: checked add/sub/mul overflow or underflow; aborts the operation.
//   - ErrCapacity: a bounded collection is full; recoverable.
//   - ErrConsistency: caller wiring bug (wrong reference, pool head mismatch); never retried.
package fault

import "errors"

var (
	ErrValidation  = errors.New("validation error")
	ErrArithmetic  = errors.New("arithmetic error")
	ErrCapacity    = errors.New("capacity error")
	ErrConsistency = errors.New("consistency error")
)

// Kind reports which taxonomy kind err belongs to, or nil when err is not
// classified.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrArithmetic, ErrCapacity, ErrConsistency} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
