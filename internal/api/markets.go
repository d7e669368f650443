package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/betting-exchange/internal/liquidity"
	"github.com/atmx/betting-exchange/internal/market"
	"github.com/atmx/betting-exchange/internal/model"
)

// --- Request types ---

// CreateMarketRequest is the JSON body for POST /markets.
type CreateMarketRequest struct {
	ID                       string               `json:"id"`
	Title                    string               `json:"title"`
	EventGroup               string               `json:"event_group"`
	LockAt                   time.Time            `json:"lock_at"`
	EventStartAt             time.Time            `json:"event_start_at"`
	InplayEnabled            bool                 `json:"inplay_enabled"`
	InplayOrderDelaySeconds  int64                `json:"inplay_order_delay_seconds"`
	EventStartOrderBehaviour model.OrderBehaviour `json:"event_start_order_behaviour"`
	MarketLockOrderBehaviour model.OrderBehaviour `json:"market_lock_order_behaviour"`
	MintDecimals             uint8                `json:"mint_decimals"`
	DecimalLimit             uint8                `json:"decimal_limit"`
	CrossMatching            bool                 `json:"cross_matching"`
	LadderCap                int                  `json:"ladder_cap"`
}

func (r CreateMarketRequest) config() market.Config {
	return market.Config{
		ID:                       r.ID,
		Title:                    r.Title,
		EventGroup:               r.EventGroup,
		LockAt:                   r.LockAt,
		EventStartAt:             r.EventStartAt,
		InplayEnabled:            r.InplayEnabled,
		InplayOrderDelay:         time.Duration(r.InplayOrderDelaySeconds) * time.Second,
		EventStartOrderBehaviour: r.EventStartOrderBehaviour,
		MarketLockOrderBehaviour: r.MarketLockOrderBehaviour,
		MintDecimals:             r.MintDecimals,
		DecimalLimit:             r.DecimalLimit,
		CrossMatching:            r.CrossMatching,
		LadderCap:                r.LadderCap,
	}
}

// AddOutcomeRequest is the JSON body for POST /markets/{id}/outcomes.
type AddOutcomeRequest struct {
	Title  string            `json:"title"`
	Prices []decimal.Decimal `json:"prices"`
}

// PricesRequest is the JSON body for adding prices to a ladder.
type PricesRequest struct {
	Prices []decimal.Decimal `json:"prices"`
}

// LadderRequest is the JSON body for growing a ladder.
type LadderRequest struct {
	Size int `json:"size"`
}

// SettleMarketRequest names the winning outcome.
type SettleMarketRequest struct {
	WinningOutcome int `json:"winning_outcome"`
}

// CrossLiquidityRequest is the JSON body for POST /markets/{id}/cross-liquidity.
type CrossLiquidityRequest struct {
	Side    model.Side         `json:"side"`
	Sources []liquidity.Source `json:"sources"`
}

// --- Market lifecycle ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := s.engine.CreateMarket(caller(r), req.config())
	if err != nil {
		fail(w, "create_market", err)
		return
	}
	s.syncMarket(r.Context(), m.ID, "")

	slog.Info("market created", "id", m.ID, "title", m.Title, "event_group", m.EventGroup)
	writeJSON(w, http.StatusCreated, m)
}

// AddOutcome handles POST /api/v1/markets/{marketID}/outcomes
func (s *Service) AddOutcome(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	var req AddOutcomeRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := s.engine.AddOutcome(caller(r), marketID, req.Title, req.Prices)
	if err != nil {
		fail(w, "add_outcome", err)
		return
	}
	s.syncMarket(r.Context(), marketID, market.StatusInitializing)
	writeJSON(w, http.StatusCreated, o)
}

// AddPrices handles POST /api/v1/markets/{marketID}/outcomes/{outcome}/prices
func (s *Service) AddPrices(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	outcome, ok := outcomeParam(w, r)
	if !ok {
		return
	}
	var req PricesRequest
	if !decode(w, r, &req) {
		return
	}
	before := s.statusOf(marketID)
	if err := s.engine.AddPrices(caller(r), marketID, outcome, req.Prices); err != nil {
		fail(w, "add_prices", err)
		return
	}
	m := s.syncMarket(r.Context(), marketID, before)
	writeJSON(w, http.StatusOK, m.Outcomes[outcome])
}

// IncreaseLadderSize handles POST /api/v1/markets/{marketID}/outcomes/{outcome}/ladder
func (s *Service) IncreaseLadderSize(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	outcome, ok := outcomeParam(w, r)
	if !ok {
		return
	}
	var req LadderRequest
	if !decode(w, r, &req) {
		return
	}
	before := s.statusOf(marketID)
	if err := s.engine.IncreasePriceLadderSize(caller(r), marketID, outcome, req.Size); err != nil {
		fail(w, "increase_ladder", err)
		return
	}
	m := s.syncMarket(r.Context(), marketID, before)
	writeJSON(w, http.StatusOK, m.Outcomes[outcome])
}

// transition runs a status-changing engine call and replies with the
// market snapshot.
func (s *Service) transition(w http.ResponseWriter, r *http.Request, op string, fn func(marketID string) error) {
	marketID := chi.URLParam(r, "marketID")
	before := s.statusOf(marketID)
	if err := fn(marketID); err != nil {
		fail(w, op, err)
		return
	}
	m := s.syncMarket(r.Context(), marketID, before)
	slog.Info("market transition", "op", op, "market_id", marketID, "from", before, "to", m.Status)
	writeJSON(w, http.StatusOK, m)
}

// OpenMarket handles POST /api/v1/markets/{marketID}/open
func (s *Service) OpenMarket(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "open_market", func(id string) error { return s.engine.OpenMarket(caller(r), id) })
}

// LockMarket handles POST /api/v1/markets/{marketID}/lock
func (s *Service) LockMarket(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "lock_market", func(id string) error { return s.engine.LockMarket(caller(r), id) })
}

// MoveToInplay handles POST /api/v1/markets/{marketID}/inplay
func (s *Service) MoveToInplay(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "move_to_inplay", s.engine.MoveMarketToInplay)
}

// SettleMarket handles POST /api/v1/markets/{marketID}/settle
func (s *Service) SettleMarket(w http.ResponseWriter, r *http.Request) {
	var req SettleMarketRequest
	if !decode(w, r, &req) {
		return
	}
	s.transition(w, r, "settle_market", func(id string) error {
		return s.engine.SettleMarket(caller(r), id, req.WinningOutcome)
	})
}

// CompleteSettlement handles POST /api/v1/markets/{marketID}/complete-settlement
func (s *Service) CompleteSettlement(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "complete_settlement", func(id string) error { return s.engine.CompleteSettlement(caller(r), id) })
}

// VoidMarket handles POST /api/v1/markets/{marketID}/void
func (s *Service) VoidMarket(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "void_market", func(id string) error { return s.engine.VoidMarket(caller(r), id) })
}

// CompleteVoid handles POST /api/v1/markets/{marketID}/complete-void
func (s *Service) CompleteVoid(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "complete_void", func(id string) error { return s.engine.CompleteVoid(caller(r), id) })
}

// ReadyToClose handles POST /api/v1/markets/{marketID}/close
func (s *Service) ReadyToClose(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "ready_to_close", func(id string) error { return s.engine.ReadyToClose(caller(r), id) })
}

// AddCrossLiquidity handles POST /api/v1/markets/{marketID}/cross-liquidity
func (s *Service) AddCrossLiquidity(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	var req CrossLiquidityRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.engine.AddCrossLiquidity(marketID, req.Side, req.Sources)
	if err != nil {
		fail(w, "add_cross_liquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ReleaseDelayedLiquidity handles POST /api/v1/markets/{marketID}/release-delayed
func (s *Service) ReleaseDelayedLiquidity(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	released, err := s.engine.ReleaseDelayedLiquidity(marketID)
	if err != nil {
		fail(w, "release_delayed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"released": released})
}

// --- Market queries ---

// ListMarkets handles GET /api/v1/markets
// Returns all markets, optionally filtered by ?status=<status> or
// ?event_group=<group>.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	status := market.Status(r.URL.Query().Get("status"))
	group := r.URL.Query().Get("event_group")

	markets := []*market.Market{}
	for _, m := range s.engine.Markets() {
		if status != "" && m.Status != status {
			continue
		}
		if group != "" && m.EventGroup != group {
			continue
		}
		markets = append(markets, m)
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
// Markets that are no longer loaded in the engine are read from the store.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	m, err := s.engine.Market(marketID)
	if err != nil {
		if m, err = s.store.GetMarket(r.Context(), marketID); err != nil {
			fail(w, "get_market", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, m)
}

// GetBook handles GET /api/v1/markets/{marketID}/book
func (s *Service) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.engine.Book(chi.URLParam(r, "marketID"))
	if err != nil {
		fail(w, "get_book", err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// GetMatchingQueue handles GET /api/v1/markets/{marketID}/matching-queue
func (s *Service) GetMatchingQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.MatchingQueue(chi.URLParam(r, "marketID"))
	if err != nil {
		fail(w, "get_matching_queue", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"length": len(entries), "entries": entries})
}

// ListMarketTrades handles GET /api/v1/markets/{marketID}/trades
func (s *Service) ListMarketTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.GetTradesByMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// ListMarketOrders handles GET /api/v1/markets/{marketID}/orders
func (s *Service) ListMarketOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListOrdersByMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func outcomeParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	i, err := strconv.Atoi(chi.URLParam(r, "outcome"))
	if err != nil || i < 0 {
		writeError(w, "invalid outcome index", http.StatusBadRequest)
		return 0, false
	}
	return i, true
}
