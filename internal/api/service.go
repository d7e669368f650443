// Package api provides the HTTP handlers over the exchange engine: market
// lifecycle, order intake, matching cranks, cancellation, settlement, and
// read queries backed by the persistent store.
//
// All prices use shopspring/decimal and all stakes are u64 base units,
// never float64.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/betting-exchange/internal/custody"
	"github.com/atmx/betting-exchange/internal/events"
	"github.com/atmx/betting-exchange/internal/exchange"
	"github.com/atmx/betting-exchange/internal/fault"
	"github.com/atmx/betting-exchange/internal/market"
	"github.com/atmx/betting-exchange/internal/metrics"
	"github.com/atmx/betting-exchange/internal/store"
)

// CallerHeader carries the identity of the account making a request.
// Authentication happens in front of this service.
const CallerHeader = "X-Account"

// Service exposes an Engine over HTTP. The engine is authoritative; every
// state change it commits is mirrored into the store and published.
type Service struct {
	engine    *exchange.Engine
	store     store.Store
	pub       events.Publisher
	ledger    *custody.Ledger
	operators exchange.Authorizer
	clock     exchange.Clock
	maxSteps  int
}

// Option configures a Service.
type Option func(*Service)

// WithLedger exposes balances and operator deposits on an in-process ledger.
func WithLedger(l *custody.Ledger, operators exchange.Authorizer) Option {
	return func(s *Service) {
		s.ledger = l
		s.operators = operators
	}
}

// WithClock sets the clock used to timestamp events.
func WithClock(c exchange.Clock) Option { return func(s *Service) { s.clock = c } }

// WithMaxSteps bounds the match steps one request may crank.
func WithMaxSteps(n int) Option { return func(s *Service) { s.maxSteps = n } }

// NewService creates a new service. Pass nil for pub if events are not
// needed.
func NewService(engine *exchange.Engine, st store.Store, pub events.Publisher, opts ...Option) *Service {
	if pub == nil {
		pub = events.Discard{}
	}
	s := &Service{
		engine:   engine,
		store:    st,
		pub:      pub,
		clock:    exchange.ClockFunc(func() time.Time { return time.Now().UTC() }),
		maxSteps: 100,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Routes registers every handler on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/markets", s.ListMarkets)
	r.Post("/markets", s.CreateMarket)
	r.Route("/markets/{marketID}", func(r chi.Router) {
		r.Get("/", s.GetMarket)
		r.Post("/outcomes", s.AddOutcome)
		r.Post("/outcomes/{outcome}/prices", s.AddPrices)
		r.Post("/outcomes/{outcome}/ladder", s.IncreaseLadderSize)
		r.Post("/open", s.OpenMarket)
		r.Post("/lock", s.LockMarket)
		r.Post("/inplay", s.MoveToInplay)
		r.Post("/settle", s.SettleMarket)
		r.Post("/complete-settlement", s.CompleteSettlement)
		r.Post("/void", s.VoidMarket)
		r.Post("/complete-void", s.CompleteVoid)
		r.Post("/close", s.ReadyToClose)
		r.Post("/cross-liquidity", s.AddCrossLiquidity)
		r.Post("/release-delayed", s.ReleaseDelayedLiquidity)

		r.Get("/book", s.GetBook)
		r.Get("/matching-queue", s.GetMatchingQueue)
		r.Get("/orders", s.ListMarketOrders)
		r.Get("/trades", s.ListMarketTrades)

		r.Get("/requests", s.ListRequests)
		r.Post("/requests", s.CreateOrderRequest)
		r.Post("/requests/dequeue", s.DequeueOrderRequest)
		r.Post("/process", s.ProcessOrderRequest)
		r.Post("/match", s.MatchSteps)

		r.Get("/positions/{purchaser}", s.GetPosition)
		r.Post("/positions/{purchaser}/settle", s.SettlePosition)
		r.Post("/positions/{purchaser}/void", s.VoidPosition)
	})

	r.Get("/orders/{orderID}", s.GetOrder)
	r.Post("/orders/{orderID}/cancel", s.CancelOrder)
	r.Post("/orders/{orderID}/cancel-post-lock", s.CancelOrderPostLock)
	r.Post("/orders/{orderID}/cancel-post-event-start", s.CancelPreplayOrder)
	r.Post("/orders/{orderID}/settle", s.SettleOrder)
	r.Post("/orders/{orderID}/void", s.VoidOrder)

	r.Get("/purchasers/{purchaser}/orders", s.ListPurchaserOrders)
	r.Get("/purchasers/{purchaser}/trades", s.ListPurchaserTrades)

	r.Get("/accounts/{account}/balance", s.GetBalance)
	r.Post("/accounts/{account}/deposit", s.Deposit)
}

// --- Persistence and publishing ---

// syncOrder mirrors the engine's copy of an order into the store and
// publishes it. Store failures are logged; the engine state stands.
func (s *Service) syncOrder(ctx context.Context, orderID string) {
	o, err := s.engine.Order(orderID)
	if err != nil {
		slog.Error("order sync failed", "order_id", orderID, "err", err)
		return
	}
	if err := s.store.UpsertOrder(ctx, o); err != nil {
		logPersistError("order", orderID, err)
	}
	s.publish(ctx, events.OrderEvent(*o, s.clock.Now()))
}

// syncMarket mirrors a market snapshot into the store and, when its status
// changed, publishes the transition.
func (s *Service) syncMarket(ctx context.Context, marketID string, before market.Status) *market.Market {
	m, err := s.engine.Market(marketID)
	if err != nil {
		slog.Error("market sync failed", "market_id", marketID, "err", err)
		return nil
	}
	if err := s.store.SaveMarket(ctx, m); err != nil {
		logPersistError("market", marketID, err)
	}
	if m.Status != before {
		s.publish(ctx, events.MarketEvent(marketID, string(m.Status), s.clock.Now()))
		s.refreshActiveMarkets()
	}
	return m
}

func logPersistError(kind, id string, err error) {
	slog.Error(kind+" persist failed", "id", id, "err", err)
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if err := s.pub.Publish(ctx, ev); err != nil {
		slog.Error("event publish failed", "type", ev.Type, "market_id", ev.MarketID, "err", err)
	}
}

func (s *Service) refreshActiveMarkets() {
	var open int
	for _, m := range s.engine.Markets() {
		if m.Status == market.StatusOpen {
			open++
		}
	}
	metrics.ActiveMarkets.Set(float64(open))
}

// statusOf returns the market's current status, or "" when unknown.
func (s *Service) statusOf(marketID string) market.Status {
	m, err := s.engine.Market(marketID)
	if err != nil {
		return ""
	}
	return m.Status
}

// --- Response helpers ---

func caller(r *http.Request) string { return r.Header.Get(CallerHeader) }

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// fail maps an engine error onto an HTTP status and counts the rejection.
func fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	kind := "unclassified"
	if k := fault.Kind(err); k != nil {
		kind = k.Error()
	}
	metrics.Rejections.WithLabelValues(op, kind).Inc()
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "op", op, "err", err)
	}
	writeError(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, exchange.ErrMarketNotFound),
		errors.Is(err, exchange.ErrOrderNotFound),
		errors.Is(err, exchange.ErrPositionNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, exchange.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, fault.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fault.ErrCapacity):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
