// Package engine is the matching engine: order acceptance, price-time
// matching, settlement and cancellation (spec.md §4.2-§4.4).
//
// Grounded on the teacher's internal/engine/engine.go for the per-symbol
// mutex and transaction-scoped structure, generalized from an in-memory
// OrderBook to the ledger- and store-backed primitives in internal/ledger
// and internal/store, per spec.md §5's "no durable in-process order book"
// design note.
package engine

import (
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spotx/internal/apperr"
	"spotx/internal/config"
	"spotx/internal/ledger"
	"spotx/internal/models"
	"spotx/internal/store"
)

// Engine accepts orders, matches them against resting counter-orders and
// commits settlement atomically per symbol.
type Engine struct {
	db     *sql.DB
	ledger *ledger.Ledger
	orders *store.Orders
	trades *store.Trades
	cfg    config.MatchingConfig
	log    zerolog.Logger

	symbolMutexes map[string]*sync.Mutex
	globalMutex   sync.RWMutex
}

// New constructs an Engine over the given connection pool.
func New(db *sql.DB, orders *store.Orders, trades *store.Trades, l *ledger.Ledger, cfg config.MatchingConfig, log zerolog.Logger) *Engine {
	return &Engine{
		db:            db,
		ledger:        l,
		orders:        orders,
		trades:        trades,
		cfg:           cfg,
		log:           log.With().Str("component", "engine").Logger(),
		symbolMutexes: make(map[string]*sync.Mutex),
	}
}

// symbolMutex returns the per-ticker mutex, creating it on first use. All
// matching against one ticker is serialized through this lock, per
// spec.md §5's concurrency model: cross-ticker orders never block each
// other.
func (e *Engine) symbolMutex(ticker string) *sync.Mutex {
	e.globalMutex.RLock()
	mtx, ok := e.symbolMutexes[ticker]
	e.globalMutex.RUnlock()
	if ok {
		return mtx
	}

	e.globalMutex.Lock()
	defer e.globalMutex.Unlock()
	if mtx, ok = e.symbolMutexes[ticker]; ok {
		return mtx
	}
	mtx = &sync.Mutex{}
	e.symbolMutexes[ticker] = mtx
	return mtx
}

// Submission is a validated request to place an order.
type Submission struct {
	UserID    string
	Ticker    string
	Direction models.Direction
	Kind      models.Kind
	Qty       decimal.Decimal
	Price     *decimal.Decimal // nil for market orders
}

// buyerReserved reports whether the buy side of a quantum already has its
// RUB locked from an up-front reservation, per spec.md §4.3's "reserve at
// submission, settle against the lock" rule for limit orders and §4.3.2's
// live-budget rule for market buys. A resting order is always a limit
// order and therefore always reserved; only an unreserved *incoming*
// market buy uses the live-budget path.
func buyerReserved(incoming *Submission) bool {
	return !(incoming.Direction == models.Buy && incoming.Kind == models.KindMarket)
}

// Place submits a new order: it reserves funds, matches it against the
// book and persists the resulting order and trade rows, all within one
// transaction serialized on the ticker. Transient storage errors are
// retried per spec.md §5's bounded-retry rule before giving up.
func (e *Engine) Place(sub Submission) (*models.Order, []*models.Trade, error) {
	mtx := e.symbolMutex(sub.Ticker)
	mtx.Lock()
	defer mtx.Unlock()

	var order *models.Order
	var fills []*models.Trade

	err := e.withRetry(func() error {
		var err error
		order, fills, err = e.place(sub)
		return err
	})
	return order, fills, err
}

func (e *Engine) place(sub Submission) (*models.Order, []*models.Trade, error) {
	tx, err := e.db.Begin()
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindTransient, err, "failed to begin placement transaction")
	}
	defer tx.Rollback()

	if err := e.reserve(tx, sub); err != nil {
		return nil, nil, err
	}

	incoming := &models.Order{
		ID:        models.NewID(),
		UserID:    sub.UserID,
		Ticker:    sub.Ticker,
		Direction: sub.Direction,
		Kind:      sub.Kind,
		Qty:       sub.Qty,
		Price:     sub.Price,
		Filled:    decimal.Zero,
		Status:    models.StatusNew,
		CreatedAt: time.Now(),
	}

	fills, err := e.match(tx, incoming, &sub)
	if err != nil {
		return nil, nil, err
	}

	finalizeIncoming(incoming)

	if err := e.releaseUnmatchedMarketTail(tx, incoming, &sub); err != nil {
		return nil, nil, err
	}

	if err := e.orders.Insert(tx, incoming); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, apperr.Wrap(apperr.KindTransient, err, "failed to commit placement transaction")
	}
	e.log.Info().
		Str("order_id", incoming.ID).
		Str("ticker", incoming.Ticker).
		Str("status", string(incoming.Status)).
		Int("fills", len(fills)).
		Msg("order placed")
	return incoming, fills, nil
}

// reserve locks the funds an order needs before it can enter the book,
// per spec.md §4.3's "reserve, then match" rule. A market buy is the one
// submission that reserves nothing up front (spec.md §4.3.2).
func (e *Engine) reserve(tx *sql.Tx, sub Submission) error {
	switch {
	case sub.Direction == models.Buy && sub.Kind == models.KindMarket:
		return nil
	case sub.Direction == models.Buy:
		return e.ledger.Reserve(tx, sub.UserID, models.RUB, sub.Qty.Mul(*sub.Price))
	default:
		return e.ledger.Reserve(tx, sub.UserID, sub.Ticker, sub.Qty)
	}
}

// finalizeIncoming sets the incoming order's terminal/resting status once
// matching has stopped. A market order never rests: per spec.md §4.3.2 it
// is CANCELLED only if nothing filled at all; any partial fill leaves it
// PARTIALLY_EXECUTED, same as a limit order short of its full quantity.
func finalizeIncoming(o *models.Order) {
	remaining := o.Remaining()
	switch {
	case remaining.IsZero():
		o.Status = models.StatusExecuted
	case o.Filled.IsPositive():
		o.Status = models.StatusPartiallyExecuted
	case o.Kind == models.KindMarket:
		o.Status = models.StatusCancelled
	default:
		o.Status = models.StatusNew
	}
}

// releaseUnmatchedMarketTail releases the reservation behind a market
// order's unfilled remainder once it has gone terminal, whether that
// terminal status is CANCELLED (nothing filled) or PARTIALLY_EXECUTED
// (some filled, book ran dry). A market buy reserves nothing up front (see
// reserve), so only a market sell that stops short of a full fill can
// leave a stale lock; per spec.md §4.3.2 and the terminal-order-holds-no-
// reserve invariant (§3.4), that tail must be released before commit, the
// same as the explicit-cancel path in cancel.
func (e *Engine) releaseUnmatchedMarketTail(tx *sql.Tx, o *models.Order, sub *Submission) error {
	if o.Kind != models.KindMarket || o.Direction != models.Sell {
		return nil
	}
	if o.Status != models.StatusCancelled && o.Status != models.StatusPartiallyExecuted {
		return nil
	}
	remaining := o.Remaining()
	if remaining.IsZero() {
		return nil
	}
	return e.ledger.Release(tx, sub.UserID, sub.Ticker, remaining)
}

// Cancel marks an active order cancelled and releases its remaining
// reservation. Only the owner or an admin may cancel (enforced by the
// caller via internal/auth); Cancel itself only checks order state.
func (e *Engine) Cancel(orderID string) (*models.Order, error) {
	o, err := e.orders.Get(e.db, orderID)
	if err != nil {
		return nil, err
	}

	mtx := e.symbolMutex(o.Ticker)
	mtx.Lock()
	defer mtx.Unlock()

	var cancelled *models.Order
	err = e.withRetry(func() error {
		var err error
		cancelled, err = e.cancel(orderID)
		return err
	})
	return cancelled, err
}

func (e *Engine) cancel(orderID string) (*models.Order, error) {
	tx, err := e.db.Begin()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to begin cancel transaction")
	}
	defer tx.Rollback()

	o, err := e.orders.GetForUpdate(tx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.Status.IsActive() {
		return nil, apperr.New(apperr.KindIllegalState, "order %s is already %s", o.ID, o.Status)
	}
	if o.Kind == models.KindMarket {
		return nil, apperr.New(apperr.KindIllegalState, "market order %s cannot be cancelled", o.ID)
	}

	remaining := o.Remaining()
	if o.Direction == models.Buy {
		if err := e.ledger.Release(tx, o.UserID, models.RUB, remaining.Mul(*o.Price)); err != nil {
			return nil, err
		}
	} else {
		if err := e.ledger.Release(tx, o.UserID, o.Ticker, remaining); err != nil {
			return nil, err
		}
	}

	if err := e.orders.SetCancelled(tx, o.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to commit cancel transaction")
	}

	o.Status = models.StatusCancelled
	e.log.Info().Str("order_id", o.ID).Msg("order cancelled")
	return o, nil
}

// withRetry retries fn a bounded number of times when it fails with a
// Transient storage error, per spec.md §5. Any other error kind returns
// immediately.
func (e *Engine) withRetry(fn func() error) error {
	retries := e.cfg.TransientRetries
	if retries < 1 {
		retries = 1
	}
	var err error
	for attempt := 0; attempt < retries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if k, ok := apperr.KindOf(err); !ok || k != apperr.KindTransient {
			return err
		}
		e.log.Warn().Err(err).Int("attempt", attempt+1).Msg("retrying after transient storage error")
		time.Sleep(time.Duration(attempt+1) * e.cfg.TransientBackoff)
	}
	return err
}
