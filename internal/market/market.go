// Package market holds the market aggregate: its outcomes, price ladders,
// counters and the status state machine
//
//	Initializing -> Open -> Locked -> ReadyForSettlement -> Settled -> ReadyToClose
//	                   \-------------> ReadyToVoid -> Voided ------^
//
// Settlement may also start straight from Open once the lock time has
// passed. Void is reachable from every pre-settlement status.
package market

import (
	"fmt"
	"time"

	"github.com/atmx/betting-exchange/internal/fault"
	"github.com/atmx/betting-exchange/internal/model"
	"github.com/atmx/betting-exchange/internal/odds"
)

type Status string

const (
	StatusInitializing       Status = "INITIALIZING"
	StatusOpen               Status = "OPEN"
	StatusLocked             Status = "LOCKED"
	StatusReadyForSettlement Status = "READY_FOR_SETTLEMENT"
	StatusSettled            Status = "SETTLED"
	StatusReadyToVoid        Status = "READY_TO_VOID"
	StatusVoided             Status = "VOIDED"
	StatusReadyToClose       Status = "READY_TO_CLOSE"
)

// MinOutcomes is the smallest outcome count a market can open with.
const MinOutcomes = 2

var (
	ErrInvalidTransition = fmt.Errorf("%w: market: invalid status transition", fault.ErrValidation)
	ErrInvalidConfig     = fmt.Errorf("%w: market: invalid configuration", fault.ErrValidation)
	ErrNotOpen           = fmt.Errorf("%w: market: not open for orders", fault.ErrValidation)
	ErrInplayDisabled    = fmt.Errorf("%w: market: inplay not enabled", fault.ErrValidation)
	ErrEventNotStarted   = fmt.Errorf("%w: market: event has not started", fault.ErrValidation)
	ErrAccountsOpen      = fmt.Errorf("%w: market: accounts still unsettled", fault.ErrValidation)
)

// Config is everything fixed when a market is created.
type Config struct {
	ID                       string               `json:"id"`
	Title                    string               `json:"title"`
	EventGroup               string               `json:"event_group"`
	LockAt                   time.Time            `json:"lock_at"`
	EventStartAt             time.Time            `json:"event_start_at"`
	InplayEnabled            bool                 `json:"inplay_enabled"`
	InplayOrderDelay         time.Duration        `json:"inplay_order_delay"`
	EventStartOrderBehaviour model.OrderBehaviour `json:"event_start_order_behaviour"`
	MarketLockOrderBehaviour model.OrderBehaviour `json:"market_lock_order_behaviour"`
	MintDecimals             uint8                `json:"mint_decimals"`
	DecimalLimit             uint8                `json:"decimal_limit"`
	CrossMatching            bool                 `json:"cross_matching"`
	LadderCap                int                  `json:"ladder_cap"`
}

// Market is one betting market. Counters track the PositionLedger entries
// and Orders that still need settling or closing before the market can be
// wound down.
type Market struct {
	Config
	Status            Status     `json:"status"`
	Inplay            bool       `json:"inplay"`
	Outcomes          []*Outcome `json:"outcomes"`
	WinningOutcome    int        `json:"winning_outcome"`
	SettledAt         time.Time  `json:"settled_at"`
	UnsettledAccounts uint64     `json:"unsettled_accounts"`
	UnclosedAccounts  uint64     `json:"unclosed_accounts"`
	OpenAccounts      uint64     `json:"open_accounts"`
	NextTrade         uint64     `json:"next_trade"`
}

// New validates cfg and returns an Initializing market with no outcomes.
func New(cfg Config) (*Market, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidConfig)
	}
	if cfg.DecimalLimit > cfg.MintDecimals {
		return nil, fmt.Errorf("%w: decimal limit %d above mint decimals %d", ErrInvalidConfig, cfg.DecimalLimit, cfg.MintDecimals)
	}
	if cfg.InplayOrderDelay < 0 {
		return nil, fmt.Errorf("%w: negative inplay delay", ErrInvalidConfig)
	}
	if !cfg.LockAt.IsZero() && !cfg.EventStartAt.IsZero() && !cfg.InplayEnabled && cfg.EventStartAt.Before(cfg.LockAt) {
		return nil, fmt.Errorf("%w: lock after event start without inplay", ErrInvalidConfig)
	}
	if cfg.LadderCap == 0 {
		cfg.LadderCap = DefaultLadderCap
	}
	if cfg.LadderCap < 0 {
		return nil, fmt.Errorf("%w: negative ladder cap", ErrInvalidConfig)
	}
	if cfg.EventStartOrderBehaviour == "" {
		cfg.EventStartOrderBehaviour = model.BehaviourNone
	}
	if cfg.MarketLockOrderBehaviour == "" {
		cfg.MarketLockOrderBehaviour = model.BehaviourNone
	}
	return &Market{Config: cfg, Status: StatusInitializing, WinningOutcome: -1}, nil
}

// OutcomeCount is the number of initialised outcomes.
func (m *Market) OutcomeCount() int { return len(m.Outcomes) }

// EscrowAccount names the custody account holding the market's collateral.
func (m *Market) EscrowAccount() string { return "escrow:" + m.ID }

// AddOutcome appends an outcome. Outcomes can only be added while the market
// is Initializing, so the count is fixed from Open onwards.
func (m *Market) AddOutcome(title string) (*Outcome, error) {
	if m.Status != StatusInitializing {
		return nil, fmt.Errorf("%w: add outcome while %s", ErrInvalidTransition, m.Status)
	}
	o := &Outcome{MarketID: m.ID, Index: len(m.Outcomes), Title: title, LadderCap: m.LadderCap}
	m.Outcomes = append(m.Outcomes, o)
	return o, nil
}

// Outcome returns outcome i.
func (m *Market) Outcome(i int) (*Outcome, error) {
	if i < 0 || i >= len(m.Outcomes) {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidOutcome, i, len(m.Outcomes))
	}
	return m.Outcomes[i], nil
}

// Open makes the market accept orders.
func (m *Market) Open() error {
	if m.Status != StatusInitializing {
		return fmt.Errorf("%w: open from %s", ErrInvalidTransition, m.Status)
	}
	if len(m.Outcomes) < MinOutcomes {
		return fmt.Errorf("%w: %d outcomes", ErrInvalidConfig, len(m.Outcomes))
	}
	m.Status = StatusOpen
	return nil
}

// Lock stops the market accepting orders ahead of settlement.
func (m *Market) Lock() error {
	if m.Status != StatusOpen {
		return fmt.Errorf("%w: lock from %s", ErrInvalidTransition, m.Status)
	}
	m.Status = StatusLocked
	return nil
}

// Locked reports whether the market no longer accepts orders, either
// because it was locked explicitly or because its lock time has passed.
func (m *Market) Locked(now time.Time) bool {
	if m.Status == StatusLocked {
		return true
	}
	return m.Status == StatusOpen && !m.LockAt.IsZero() && !now.Before(m.LockAt)
}

// AcceptingOrders reports whether new requests may be created or processed.
func (m *Market) AcceptingOrders(now time.Time) error {
	if m.Status != StatusOpen || m.Locked(now) {
		return fmt.Errorf("%w: %s", ErrNotOpen, m.Status)
	}
	return nil
}

// EventStarted reports whether the event start time has passed.
func (m *Market) EventStarted(now time.Time) bool {
	return !m.EventStartAt.IsZero() && !now.Before(m.EventStartAt)
}

// MoveToInplay flags the market inplay once its event has started.
func (m *Market) MoveToInplay(now time.Time) error {
	if m.Status != StatusOpen {
		return fmt.Errorf("%w: inplay from %s", ErrInvalidTransition, m.Status)
	}
	if !m.InplayEnabled {
		return ErrInplayDisabled
	}
	if m.Inplay {
		return fmt.Errorf("%w: already inplay", ErrInvalidTransition)
	}
	if !m.EventStarted(now) {
		return ErrEventNotStarted
	}
	m.Inplay = true
	return nil
}

// Settle records the winning outcome.
func (m *Market) Settle(winner int, now time.Time) error {
	if m.Status != StatusLocked && !(m.Status == StatusOpen && m.Locked(now)) {
		return fmt.Errorf("%w: settle from %s", ErrInvalidTransition, m.Status)
	}
	if _, err := m.Outcome(winner); err != nil {
		return err
	}
	m.Status = StatusReadyForSettlement
	m.WinningOutcome = winner
	m.SettledAt = now
	return nil
}

// CompleteSettlement finishes settlement once every position has been paid.
func (m *Market) CompleteSettlement() error {
	if m.Status != StatusReadyForSettlement {
		return fmt.Errorf("%w: complete settlement from %s", ErrInvalidTransition, m.Status)
	}
	if m.UnsettledAccounts != 0 {
		return fmt.Errorf("%w: %d", ErrAccountsOpen, m.UnsettledAccounts)
	}
	m.Status = StatusSettled
	return nil
}

// Void abandons the market; every position is refunded in full.
func (m *Market) Void() error {
	switch m.Status {
	case StatusInitializing, StatusOpen, StatusLocked:
	default:
		return fmt.Errorf("%w: void from %s", ErrInvalidTransition, m.Status)
	}
	m.Status = StatusReadyToVoid
	return nil
}

// CompleteVoid finishes voiding once every position has been refunded.
func (m *Market) CompleteVoid() error {
	if m.Status != StatusReadyToVoid {
		return fmt.Errorf("%w: complete void from %s", ErrInvalidTransition, m.Status)
	}
	if m.UnsettledAccounts != 0 {
		return fmt.Errorf("%w: %d", ErrAccountsOpen, m.UnsettledAccounts)
	}
	m.Status = StatusVoided
	return nil
}

// ReadyToClose gates reclamation of the market's pools, positions and
// queues.
func (m *Market) ReadyToClose() error {
	if m.Status != StatusSettled && m.Status != StatusVoided {
		return fmt.Errorf("%w: close from %s", ErrInvalidTransition, m.Status)
	}
	m.Status = StatusReadyToClose
	return nil
}

// Settling reports whether per-account settlement may run.
func (m *Market) Settling() bool { return m.Status == StatusReadyForSettlement }

// Voiding reports whether per-account voiding may run.
func (m *Market) Voiding() bool { return m.Status == StatusReadyToVoid }

// Terminal statuses accept no order or position changes at all.
func (m *Market) Terminal() bool {
	switch m.Status {
	case StatusSettled, StatusVoided, StatusReadyToClose:
		return true
	}
	return false
}

// AccountOpened counts a new position or order that will need settling.
func (m *Market) AccountOpened() error {
	unsettled, err := odds.Add(m.UnsettledAccounts, 1)
	if err != nil {
		return err
	}
	unclosed, err := odds.Add(m.UnclosedAccounts, 1)
	if err != nil {
		return err
	}
	m.UnsettledAccounts, m.UnclosedAccounts = unsettled, unclosed
	return nil
}

// AccountSettled counts down a settled or voided account.
func (m *Market) AccountSettled() error {
	v, err := odds.Sub(m.UnsettledAccounts, 1)
	if err != nil {
		return err
	}
	m.UnsettledAccounts = v
	return nil
}

// TakerFilled bumps the open-accounts counter once per taker receipt.
func (m *Market) TakerFilled() error {
	v, err := odds.Add(m.OpenAccounts, 1)
	if err != nil {
		return err
	}
	m.OpenAccounts = v
	return nil
}

// NextTradeSeq returns the sequence number of the market's next trade
// receipt.
func (m *Market) NextTradeSeq() (uint64, error) {
	n, err := odds.Add(m.NextTrade, 1)
	if err != nil {
		return 0, err
	}
	m.NextTrade = n
	return n, nil
}

// Clone returns a deep copy.
func (m *Market) Clone() *Market {
	c := *m
	c.Outcomes = make([]*Outcome, len(m.Outcomes))
	for i, o := range m.Outcomes {
		c.Outcomes[i] = o.clone()
	}
	return &c
}
