package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/betting-exchange/internal/exchange"
	"github.com/atmx/betting-exchange/internal/metrics"
	"github.com/atmx/betting-exchange/internal/model"
)

// DepositRequest is the JSON body for POST /accounts/{account}/deposit.
type DepositRequest struct {
	Amount uint64 `json:"amount"`
}

// VoidRefundResponse reports a position refund.
type VoidRefundResponse struct {
	MarketID  string `json:"market_id"`
	Purchaser string `json:"purchaser"`
	Refund    uint64 `json:"refund"`
}

func (s *Service) finished(w http.ResponseWriter, r *http.Request, op string, o *model.Order, err error) {
	if err != nil {
		fail(w, op, err)
		return
	}
	s.syncOrder(r.Context(), o.ID)
	s.syncMarket(r.Context(), o.MarketID, s.statusOf(o.MarketID))
	writeJSON(w, http.StatusOK, o)
}

// SettleOrder handles POST /api/v1/orders/{orderID}/settle
func (s *Service) SettleOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.SettleOrder(chi.URLParam(r, "orderID"))
	s.finished(w, r, "settle_order", o, err)
}

// VoidOrder handles POST /api/v1/orders/{orderID}/void
func (s *Service) VoidOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.VoidOrder(chi.URLParam(r, "orderID"))
	s.finished(w, r, "void_order", o, err)
}

// GetPosition handles GET /api/v1/markets/{marketID}/positions/{purchaser}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Position(chi.URLParam(r, "marketID"), chi.URLParam(r, "purchaser"))
	if err != nil {
		fail(w, "get_position", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SettlePosition handles POST /api/v1/markets/{marketID}/positions/{purchaser}/settle
// Pays out the position, net of product commission.
func (s *Service) SettlePosition(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	purchaser := chi.URLParam(r, "purchaser")

	settlement, err := s.engine.SettlePosition(marketID, purchaser)
	if err != nil {
		fail(w, "settle_position", err)
		return
	}
	metrics.Settlements.WithLabelValues("settle").Inc()
	for _, c := range settlement.Commissions {
		metrics.CommissionPaid.WithLabelValues(c.Product).Add(float64(c.Amount))
	}
	s.syncMarket(r.Context(), marketID, s.statusOf(marketID))

	slog.Info("position paid", "market_id", marketID, "purchaser", purchaser,
		"net", settlement.Net, "profit", settlement.Profit)
	writeJSON(w, http.StatusOK, settlement)
}

// VoidPosition handles POST /api/v1/markets/{marketID}/positions/{purchaser}/void
func (s *Service) VoidPosition(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	purchaser := chi.URLParam(r, "purchaser")

	refund, err := s.engine.VoidPosition(marketID, purchaser)
	if err != nil {
		fail(w, "void_position", err)
		return
	}
	metrics.Settlements.WithLabelValues("void").Inc()
	s.syncMarket(r.Context(), marketID, s.statusOf(marketID))
	writeJSON(w, http.StatusOK, VoidRefundResponse{MarketID: marketID, Purchaser: purchaser, Refund: refund})
}

// --- Accounts ---

// GetBalance handles GET /api/v1/accounts/{account}/balance
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, "balances are held by an external custodian", http.StatusNotImplemented)
		return
	}
	account := chi.URLParam(r, "account")
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "balance": s.ledger.Balance(account)})
}

// Deposit handles POST /api/v1/accounts/{account}/deposit
// Operator-only funding of the in-process ledger.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, "deposits are handled by an external custodian", http.StatusNotImplemented)
		return
	}
	if s.operators == nil || !s.operators.Authorized(caller(r)) {
		fail(w, "deposit", fmt.Errorf("%w: %s", exchange.ErrUnauthorized, caller(r)))
		return
	}
	var req DepositRequest
	if !decode(w, r, &req) {
		return
	}
	account := chi.URLParam(r, "account")
	if err := s.ledger.Deposit(account, req.Amount); err != nil {
		fail(w, "deposit", err)
		return
	}
	slog.Info("deposit", "account", account, "amount", req.Amount, "operator", caller(r))
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "balance": s.ledger.Balance(account)})
}
