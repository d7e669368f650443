package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/betting-exchange/internal/events"
	"github.com/atmx/betting-exchange/internal/exchange"
	"github.com/atmx/betting-exchange/internal/metrics"
	"github.com/atmx/betting-exchange/internal/model"
)

// OrderRequestBody is the JSON body for POST /markets/{id}/requests. The
// purchaser is the caller.
type OrderRequestBody struct {
	Outcome               int             `json:"outcome"`
	Side                  model.Side      `json:"side"`
	Stake                 uint64          `json:"stake"`
	ExpectedPrice         decimal.Decimal `json:"expected_price"`
	Product               string          `json:"product,omitempty"`
	ProductCommissionRate decimal.Decimal `json:"product_commission_rate"`
	Seed                  string          `json:"seed"`
}

// OrderRequestResponse echoes a queued request with its future order ID.
type OrderRequestResponse struct {
	OrderID string              `json:"order_id"`
	Request *model.OrderRequest `json:"request"`
}

// MatchResponse is the JSON body returned from POST /markets/{id}/match.
type MatchResponse struct {
	Trades    []model.Trade `json:"trades"`
	Remaining int           `json:"remaining"`
}

// CreateOrderRequest handles POST /api/v1/markets/{marketID}/requests
func (s *Service) CreateOrderRequest(w http.ResponseWriter, r *http.Request) {
	purchaser := caller(r)
	if purchaser == "" {
		writeError(w, CallerHeader+" header is required", http.StatusBadRequest)
		return
	}
	var body OrderRequestBody
	if !decode(w, r, &body) {
		return
	}
	req, err := s.engine.CreateOrderRequest(purchaser, model.OrderRequest{
		MarketID:              chi.URLParam(r, "marketID"),
		Outcome:               body.Outcome,
		Side:                  body.Side,
		Stake:                 body.Stake,
		ExpectedPrice:         body.ExpectedPrice,
		Product:               body.Product,
		ProductCommissionRate: body.ProductCommissionRate,
		Seed:                  body.Seed,
	})
	if err != nil {
		fail(w, "create_order_request", err)
		return
	}
	metrics.OrderRequestsTotal.WithLabelValues(string(req.Side)).Inc()
	writeJSON(w, http.StatusAccepted, OrderRequestResponse{OrderID: req.OrderID(), Request: req})
}

// ListRequests handles GET /api/v1/markets/{marketID}/requests
func (s *Service) ListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.engine.Requests(chi.URLParam(r, "marketID"))
	if err != nil {
		fail(w, "list_requests", err)
		return
	}
	if reqs == nil {
		reqs = []model.OrderRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

// DequeueOrderRequest handles POST /api/v1/markets/{marketID}/requests/dequeue
func (s *Service) DequeueOrderRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.engine.DequeueOrderRequest(chi.URLParam(r, "marketID"))
	if err != nil {
		fail(w, "dequeue_order_request", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ProcessOrderRequest handles POST /api/v1/markets/{marketID}/process
func (s *Service) ProcessOrderRequest(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	before := s.statusOf(marketID)

	start := time.Now()
	res, err := s.engine.ProcessOrderRequest(marketID)
	metrics.MatchLatency.WithLabelValues("process").Observe(time.Since(start).Seconds())
	if err != nil {
		fail(w, "process_order_request", err)
		return
	}
	metrics.OrdersProcessedTotal.Inc()

	s.syncOrder(r.Context(), res.Order.ID)
	s.syncMarket(r.Context(), marketID, before)
	writeJSON(w, http.StatusOK, res)
}

// MatchSteps handles POST /api/v1/markets/{marketID}/match?steps=n
// It applies up to n matching-queue entries (default 1) and stops early
// when the queue drains.
func (s *Service) MatchSteps(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	steps := 1
	if v := r.URL.Query().Get("steps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, "steps must be a positive integer", http.StatusBadRequest)
			return
		}
		steps = min(n, s.maxSteps)
	}
	before := s.statusOf(marketID)
	ctx := r.Context()

	resp := MatchResponse{Trades: []model.Trade{}}
	start := time.Now()
	for i := 0; i < steps; i++ {
		t, err := s.engine.MatchStep(marketID)
		if err != nil {
			if len(resp.Trades) == 0 {
				fail(w, "match_step", err)
				return
			}
			if !errors.Is(err, exchange.ErrMatchingQueueEmpty) {
				slog.Warn("match step stopped early", "market_id", marketID, "applied", len(resp.Trades), "err", err)
			}
			break
		}
		resp.Trades = append(resp.Trades, *t)
		s.recordTrade(r, *t)
	}
	metrics.MatchLatency.WithLabelValues("match").Observe(time.Since(start).Seconds())

	if entries, err := s.engine.MatchingQueue(marketID); err == nil {
		resp.Remaining = len(entries)
	}
	s.syncMarket(ctx, marketID, before)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) recordTrade(r *http.Request, t model.Trade) {
	ctx := r.Context()
	role := "taker"
	if t.Maker {
		role = "maker"
	}
	metrics.TradesTotal.WithLabelValues(string(t.Side), role).Inc()
	metrics.MatchedVolume.WithLabelValues(t.MarketID).Add(float64(t.Stake))

	if err := s.store.InsertTrade(ctx, &t); err != nil {
		logPersistError("trade", t.ID, err)
	}
	s.publish(ctx, events.TradeEvent(t))
	s.syncOrder(ctx, t.OrderID)
}

// --- Orders ---

// GetOrder handles GET /api/v1/orders/{orderID}
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	o, err := s.engine.Order(orderID)
	if err != nil {
		if o, err = s.store.GetOrder(r.Context(), orderID); err != nil {
			fail(w, "get_order", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Service) cancelled(w http.ResponseWriter, r *http.Request, reason string, c *exchange.Cancellation, err error) {
	if err != nil {
		fail(w, "cancel_"+reason, err)
		return
	}
	metrics.Cancellations.WithLabelValues(reason).Inc()
	s.syncOrder(r.Context(), c.Order.ID)
	writeJSON(w, http.StatusOK, c)
}

// CancelOrder handles POST /api/v1/orders/{orderID}/cancel
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.CancelOrder(caller(r), chi.URLParam(r, "orderID"))
	s.cancelled(w, r, "purchaser", c, err)
}

// CancelOrderPostLock handles POST /api/v1/orders/{orderID}/cancel-post-lock
func (s *Service) CancelOrderPostLock(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.CancelOrderPostLock(chi.URLParam(r, "orderID"))
	s.cancelled(w, r, "post_lock", c, err)
}

// CancelPreplayOrder handles POST /api/v1/orders/{orderID}/cancel-post-event-start
func (s *Service) CancelPreplayOrder(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.CancelPreplayOrderPostEventStart(chi.URLParam(r, "orderID"))
	s.cancelled(w, r, "post_event_start", c, err)
}

// ListPurchaserOrders handles GET /api/v1/purchasers/{purchaser}/orders
func (s *Service) ListPurchaserOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListOrdersByPurchaser(r.Context(), chi.URLParam(r, "purchaser"))
	if err != nil {
		writeError(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// ListPurchaserTrades handles GET /api/v1/purchasers/{purchaser}/trades
func (s *Service) ListPurchaserTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.GetTradesByPurchaser(r.Context(), chi.URLParam(r, "purchaser"))
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}
