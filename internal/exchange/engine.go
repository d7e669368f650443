// Package exchange sequences the matching core into the operations a host
// exposes: market lifecycle, order request intake, matching, the
// match-queue settlement step, cancellation, settlement and voiding.
//
// Every public method is atomic. It works on copies of the market's
// aggregates and commits them, together with any value transfers, only when
// the whole operation succeeded.
package exchange

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/atmx/betting-exchange/internal/custody"
	"github.com/atmx/betting-exchange/internal/fault"
	"github.com/atmx/betting-exchange/internal/limits"
	"github.com/atmx/betting-exchange/internal/liquidity"
	"github.com/atmx/betting-exchange/internal/market"
	"github.com/atmx/betting-exchange/internal/matching"
	"github.com/atmx/betting-exchange/internal/model"
	"github.com/atmx/betting-exchange/internal/position"
	"github.com/atmx/betting-exchange/internal/ringqueue"
)

var (
	ErrUnauthorized       = fmt.Errorf("%w: exchange: caller not authorized", fault.ErrValidation)
	ErrMarketExists       = fmt.Errorf("%w: exchange: market already exists", fault.ErrValidation)
	ErrMarketNotFound     = fmt.Errorf("%w: exchange: market not found", fault.ErrValidation)
	ErrOrderNotFound      = fmt.Errorf("%w: exchange: order not found", fault.ErrValidation)
	ErrPositionNotFound   = fmt.Errorf("%w: exchange: position not found", fault.ErrValidation)
	ErrDuplicateRequest   = fmt.Errorf("%w: exchange: duplicate order request seed", fault.ErrValidation)
	ErrInvalidRequest     = fmt.Errorf("%w: exchange: invalid order request", fault.ErrValidation)
	ErrNothingToProcess   = fmt.Errorf("%w: exchange: no order request to process", fault.ErrValidation)
	ErrMatchingQueueEmpty = fmt.Errorf("%w: exchange: matching queue empty", fault.ErrValidation)
	ErrMatchingPending    = fmt.Errorf("%w: exchange: matching still pending", fault.ErrValidation)
	ErrCrossDisabled      = fmt.Errorf("%w: exchange: cross matching disabled", fault.ErrValidation)
	ErrWrongMarketStatus  = fmt.Errorf("%w: exchange: operation not allowed in market status", fault.ErrValidation)
	ErrRequestQueueFull   = fmt.Errorf("%w: exchange: order request queue", ringqueue.ErrFull)
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Authorizer decides whether caller may perform operator actions.
type Authorizer interface {
	Authorized(caller string) bool
}

// AllowList authorizes the operators it lists.
type AllowList map[string]bool

func (a AllowList) Authorized(caller string) bool { return a[caller] }

// Config bounds every per-market collection.
type Config struct {
	MatchesPerCall        int
	RequestQueueCapacity  int
	MatchingQueueCapacity int
	PoolCapacity          int
	BookCapacity          int
	ProductCap            int
}

// DefaultConfig returns the capacities used when none are configured.
func DefaultConfig() Config {
	return Config{
		MatchesPerCall:        matching.DefaultMatchesPerCall,
		RequestQueueCapacity:  64,
		MatchingQueueCapacity: 128,
		PoolCapacity:          64,
		BookCapacity:          512,
		ProductCap:            position.DefaultProductCap,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MatchesPerCall < 1 {
		c.MatchesPerCall = def.MatchesPerCall
	}
	if c.RequestQueueCapacity < 1 {
		c.RequestQueueCapacity = def.RequestQueueCapacity
	}
	if c.MatchingQueueCapacity < 1 {
		c.MatchingQueueCapacity = def.MatchingQueueCapacity
	}
	if c.PoolCapacity < 1 {
		c.PoolCapacity = def.PoolCapacity
	}
	if c.BookCapacity < 1 {
		c.BookCapacity = def.BookCapacity
	}
	if c.ProductCap < 1 {
		c.ProductCap = def.ProductCap
	}
	return c
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

func WithAuthorizer(a Authorizer) Option { return func(e *Engine) { e.auth = a } }

func WithLimiter(l *limits.ExposureLimiter) Option { return func(e *Engine) { e.limiter = l } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// Engine owns every market's aggregates. A single mutex serialises calls.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	custodian custody.Custodian
	clock     Clock
	auth      Authorizer
	limiter   *limits.ExposureLimiter
	log       *slog.Logger

	markets map[string]*marketState
	// orderMarket indexes every created order by id.
	orderMarket map[string]string
}

// marketState is one market and everything addressed under it.
type marketState struct {
	market    *market.Market
	book      *liquidity.Book
	requests  *ringqueue.Queue[model.OrderRequest]
	matching  *matching.Queue
	pools     map[matching.PoolKey]*matching.Pool
	positions map[string]*position.Position
	orders    map[string]*model.Order
	// inProgress is the order whose matching stopped on the per-call budget.
	inProgress string
}

// New creates an engine moving value through custodian.
func New(cfg Config, custodian custody.Custodian, opts ...Option) *Engine {
	e := &Engine{
		cfg:         cfg.withDefaults(),
		custodian:   custodian,
		clock:       ClockFunc(func() time.Time { return time.Now().UTC() }),
		auth:        AllowList{},
		log:         slog.Default(),
		markets:     make(map[string]*marketState),
		orderMarket: make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) authorize(caller string) error {
	if !e.auth.Authorized(caller) {
		return fmt.Errorf("%w: %q", ErrUnauthorized, caller)
	}
	return nil
}

// Market returns a copy of market id.
func (e *Engine) Market(id string) (*market.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	return s.market.Clone(), nil
}

// Markets lists copies of every market ordered by id.
func (e *Engine) Markets() []*market.Market {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*market.Market, 0, len(e.markets))
	for _, s := range e.markets {
		out = append(out, s.market.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Order returns a copy of order id.
func (e *Engine) Order(id string) (*model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.markets[e.orderMarket[id]]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	o := *s.orders[id]
	return &o, nil
}

// Position returns a copy of purchaser's position in marketID.
func (e *Engine) Position(marketID, purchaser string) (*position.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	p, ok := s.positions[purchaser]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrPositionNotFound, purchaser, marketID)
	}
	return p.Clone(), nil
}

// BookSnapshot is the liquidity resting in a market's book.
type BookSnapshot struct {
	For     []liquidity.Point `json:"for"`
	Against []liquidity.Point `json:"against"`
}

// Book returns the market's liquidity on both sides.
func (e *Engine) Book(marketID string) (BookSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.markets[marketID]
	if !ok {
		return BookSnapshot{}, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	return BookSnapshot{For: s.book.Points(model.For), Against: s.book.Points(model.Against)}, nil
}

// Pool returns a copy of the pool at key, if it exists.
func (e *Engine) Pool(key matching.PoolKey) (*matching.Pool, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.markets[key.MarketID]
	if !ok {
		return nil, false
	}
	p, ok := s.pools[key]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// MatchingQueue lists the market's pending match instructions.
func (e *Engine) MatchingQueue(marketID string) ([]matching.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	return s.matching.Items(), nil
}

// Requests lists the market's queued order requests.
func (e *Engine) Requests(marketID string) ([]model.OrderRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	return s.requests.Items(), nil
}
