package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"spotx/internal/apperr"
	"spotx/internal/auth"
	"spotx/internal/engine"
	"spotx/internal/models"
)

// routes registers every handler named in spec.md §6.
func (s *server) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/public/register", s.handleRegister)
	mux.HandleFunc("GET /api/v1/public/instrument", s.handleListInstruments)
	mux.HandleFunc("GET /api/v1/public/orderbook/{ticker}", s.handleOrderBook)
	mux.HandleFunc("GET /api/v1/public/transactions/{ticker}", s.handleTransactions)

	mux.HandleFunc("GET /api/v1/balance", s.auther.Require(s.handleBalance))
	mux.HandleFunc("POST /api/v1/order", s.auther.Require(s.handlePlaceOrder))
	mux.HandleFunc("GET /api/v1/order", s.auther.Require(s.handleListOrders))
	mux.HandleFunc("GET /api/v1/order/{id}", s.auther.Require(s.handleGetOrder))
	mux.HandleFunc("DELETE /api/v1/order/{id}", s.auther.Require(s.handleCancelOrder))

	mux.HandleFunc("POST /api/v1/admin/instrument", s.auther.RequireAdmin(s.handleCreateInstrument))
	mux.HandleFunc("DELETE /api/v1/admin/instrument/{ticker}", s.auther.RequireAdmin(s.handleDeleteInstrument))
	mux.HandleFunc("POST /api/v1/admin/balance/deposit", s.auther.RequireAdmin(s.handleDeposit))
	mux.HandleFunc("POST /api/v1/admin/balance/withdraw", s.auther.RequireAdmin(s.handleWithdraw))
	mux.HandleFunc("DELETE /api/v1/admin/user/{user_id}", s.auther.RequireAdmin(s.handleDeleteUser))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.New(apperr.KindInvalidAmount, "malformed JSON body: %v", err)
	}
	return nil
}

// limitParam parses a ?limit=N query parameter, falling back to def when
// absent. A value that is not an integer in [1, max] is rejected with
// InvalidAmount rather than clamped.
func limitParam(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > max {
		return 0, apperr.New(apperr.KindInvalidAmount, "limit must be an integer between 1 and %d", max)
	}
	return n, nil
}

// --- public ---

type registerRequest struct {
	Name string `json:"name"`
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	if len(req.Name) < 3 {
		apperr.WriteHTTP(w, apperr.New(apperr.KindInvalidAmount, "name must be at least 3 characters"))
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		apperr.WriteHTTP(w, apperr.Wrap(apperr.KindTransient, err, "failed to begin registration"))
		return
	}
	defer tx.Rollback()

	u, err := s.users.Create(tx, req.Name, models.RoleUser)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		apperr.WriteHTTP(w, apperr.Wrap(apperr.KindTransient, err, "failed to commit registration"))
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *server) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	list, err := s.instr.List(s.db)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	if list == nil {
		list = []*models.Instrument{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	ticker := r.PathValue("ticker")
	limit, err := limitParam(r, 10, 25)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	snap, err := s.book.Snapshot(s.db, ticker, limit, "")
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// publicTrade is the redacted trade shape spec.md §6 exposes publicly: no
// counter-party identities.
type publicTrade struct {
	Ticker    string          `json:"ticker"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

func (s *server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	ticker := r.PathValue("ticker")
	limit, err := limitParam(r, 10, 100)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	list, err := s.trades.ListByTicker(s.db, ticker, limit)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	out := make([]publicTrade, len(list))
	for i, t := range list {
		out[i] = publicTrade{Ticker: t.Ticker, Amount: t.Amount, Price: t.Price, Timestamp: t.Timestamp}
	}
	writeJSON(w, http.StatusOK, out)
}

// --- authenticated ---

func (s *server) handleBalance(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	tx, err := s.db.Begin()
	if err != nil {
		apperr.WriteHTTP(w, apperr.Wrap(apperr.KindTransient, err, "failed to begin balance read"))
		return
	}
	defer tx.Rollback()

	balances, err := s.ledger.Balances(tx, u.ID)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

type placeOrderRequest struct {
	Direction models.Direction `json:"direction"`
	Ticker    string           `json:"ticker"`
	Qty       decimal.Decimal  `json:"qty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

func (s *server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req placeOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	if req.Direction != models.Buy && req.Direction != models.Sell {
		apperr.WriteHTTP(w, apperr.New(apperr.KindInvalidAmount, "direction must be BUY or SELL"))
		return
	}
	qty, err := models.NewAmount(req.Qty)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	sub := engine.Submission{
		UserID:    u.ID,
		Ticker:    req.Ticker,
		Direction: req.Direction,
		Qty:       qty,
	}
	if req.Price != nil {
		price, err := models.NewAmount(*req.Price)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		sub.Kind = models.KindLimit
		sub.Price = &price
	} else {
		sub.Kind = models.KindMarket
	}

	order, _, err := s.eng.Place(sub)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "order_id": order.ID})
}

type orderView struct {
	ID        string          `json:"id"`
	Status    models.Status   `json:"status"`
	UserID    string          `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
	Body      orderBody       `json:"body"`
	Filled    decimal.Decimal `json:"filled"`
}

type orderBody struct {
	Direction models.Direction `json:"direction"`
	Ticker    string           `json:"ticker"`
	Qty       decimal.Decimal  `json:"qty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

func toOrderView(o *models.Order) orderView {
	return orderView{
		ID:        o.ID,
		Status:    o.Status,
		UserID:    o.UserID,
		Timestamp: o.CreatedAt,
		Body: orderBody{
			Direction: o.Direction,
			Ticker:    o.Ticker,
			Qty:       o.Qty,
			Price:     o.Price,
		},
		Filled: o.Filled,
	}
}

func (s *server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	list, err := s.orders.ListByUser(s.db, u.ID)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	out := make([]orderView, len(list))
	for i, o := range list {
		out[i] = toOrderView(o)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	id := r.PathValue("id")

	o, err := s.orders.Get(s.db, id)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	if o.UserID != u.ID && u.Role != models.RoleAdmin {
		apperr.WriteHTTP(w, apperr.New(apperr.KindForbidden, "not the owner of order %s", id))
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(o))
}

func (s *server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	id := r.PathValue("id")

	o, err := s.orders.Get(s.db, id)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	if o.UserID != u.ID && u.Role != models.RoleAdmin {
		apperr.WriteHTTP(w, apperr.New(apperr.KindForbidden, "not the owner of order %s", id))
		return
	}

	cancelled, err := s.eng.Cancel(id)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order_id": cancelled.ID})
}

// --- admin ---

type instrumentRequest struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
}

func (s *server) handleCreateInstrument(w http.ResponseWriter, r *http.Request) {
	var req instrumentRequest
	if err := decodeJSON(r, &req); err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		apperr.WriteHTTP(w, apperr.Wrap(apperr.KindTransient, err, "failed to begin instrument creation"))
		return
	}
	defer tx.Rollback()

	in, err := s.instr.Create(tx, req.Ticker, req.Name)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		apperr.WriteHTTP(w, apperr.Wrap(apperr.KindTransient, err, "failed to commit instrument creation"))
		return
	}
	writeJSON(w, http.StatusCreated, in)
}

func (s *server) handleDeleteInstrument(w http.ResponseWriter, r *http.Request) {
	ticker := r.PathValue("ticker")

	tx, err := s.db.Begin()
	if err != nil {
		apperr.WriteHTTP(w, apperr.Wrap(apperr.KindTransient, err, "failed to begin instrument deletion"))
		return
	}
	defer tx.Rollback()

	if err := s.instr.Delete(tx, ticker); err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		apperr.WriteHTTP(w, apperr.Wrap(apperr.KindTransient, err, "failed to commit instrument deletion"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type balanceMoveRequest struct {
	UserID string          `json:"user_id"`
	Ticker string          `json:"ticker"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req balanceMoveRequest
	if err := decodeJSON(r, &req); err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		apperr.WriteHTTP(w, apperr.Wrap(apperr.KindTransient, err, "failed to begin deposit"))
		return
	}
	defer tx.Rollback()

	if _, err := s.users.Get(tx, req.UserID); err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	if req.Ticker != models.RUB {
		if _, err := s.instr.Get(tx, req.Ticker); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
	}
	if err := s.ledger.Deposit(tx, req.UserID, req.Ticker, req.Amount); err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		apperr.WriteHTTP(w, apperr.Wrap(apperr.KindTransient, err, "failed to commit deposit"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req balanceMoveRequest
	if err := decodeJSON(r, &req); err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		apperr.WriteHTTP(w, apperr.Wrap(apperr.KindTransient, err, "failed to begin withdrawal"))
		return
	}
	defer tx.Rollback()

	if _, err := s.users.Get(tx, req.UserID); err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	if req.Ticker != models.RUB {
		if _, err := s.instr.Get(tx, req.Ticker); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
	}
	if err := s.ledger.Withdraw(tx, req.UserID, req.Ticker, req.Amount); err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		apperr.WriteHTTP(w, apperr.Wrap(apperr.KindTransient, err, "failed to commit withdrawal"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")

	tx, err := s.db.Begin()
	if err != nil {
		apperr.WriteHTTP(w, apperr.Wrap(apperr.KindTransient, err, "failed to begin user deletion"))
		return
	}

	deleted, err := s.users.SoftDelete(tx, userID)
	if err != nil {
		tx.Rollback()
		apperr.WriteHTTP(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		apperr.WriteHTTP(w, apperr.Wrap(apperr.KindTransient, err, "failed to commit user deletion"))
		return
	}

	if _, err := s.eng.CascadeCancel(userID); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("cascade cancel failed after user deletion")
	}

	writeJSON(w, http.StatusOK, deleted)
}
