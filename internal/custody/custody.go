// Package custody moves value between accounts. The exchange core only ever
// asks it to move N base units from one account to another; a Transfer
// either fully succeeds or fails with nothing moved.
package custody

import (
	"errors"
	"fmt"
	"sync"

	"github.com/atmx/betting-exchange/internal/fault"
	"github.com/atmx/betting-exchange/internal/odds"
)

var (
	ErrInsufficientFunds = fmt.Errorf("%w: custody: insufficient funds", fault.ErrValidation)
	ErrSameAccount       = errors.New("custody: transfer to same account")
)

// Custodian is the value-transfer primitive.
type Custodian interface {
	Transfer(from, to string, amount uint64) error
}

// ProductAccount names the account commission for product is paid into.
func ProductAccount(product string) string { return "product:" + product }

// Ledger is an in-memory Custodian keyed by account name.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]uint64
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]uint64)}
}

// Deposit credits account from outside the exchange.
func (l *Ledger) Deposit(account string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, err := odds.Add(l.balances[account], amount)
	if err != nil {
		return err
	}
	l.balances[account] = v
	return nil
}

// Transfer moves amount from one account to another. Zero amounts are a
// no-op.
func (l *Ledger) Transfer(from, to string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if from == to {
		return ErrSameAccount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	src := l.balances[from]
	if src < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, src, amount)
	}
	dst, err := odds.Add(l.balances[to], amount)
	if err != nil {
		return err
	}
	l.balances[from] = src - amount
	l.balances[to] = dst
	return nil
}

// Balance returns account's current balance.
func (l *Ledger) Balance(account string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

// Balances returns a copy of every non-zero balance.
func (l *Ledger) Balances() map[string]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]uint64, len(l.balances))
	for k, v := range l.balances {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}
