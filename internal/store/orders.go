// Package store implements the durable order store, trade log, and the
// user/instrument rows the matching engine's collaborators need (spec.md
// §4.2 plus the provisioning surface spec.md treats as external).
//
// Grounded on original_source/app/crud/v1/order/crud_order.py's
// _find_matching_orders query shape and the teacher's prepared-statement
// style in internal/engine/engine.go.
package store

import (
	"database/sql"

	"github.com/shopspring/decimal"

	"spotx/internal/apperr"
	"spotx/internal/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx, letting snapshot reads
// (no FOR UPDATE) run against either, per spec.md §5: "reads for display
// use snapshot semantics without FOR UPDATE."
type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Orders is the durable order table.
type Orders struct{}

// NewOrders constructs an Orders store.
func NewOrders() *Orders { return &Orders{} }

func scanOrder(row interface{ Scan(dest ...any) error }) (*models.Order, error) {
	var o models.Order
	var price sql.NullString
	if err := row.Scan(
		&o.ID, &o.UserID, &o.Ticker, &o.Direction, &o.Kind,
		&o.Qty, &price, &o.Filled, &o.Status, &o.CreatedAt,
	); err != nil {
		return nil, err
	}
	if price.Valid {
		p, err := decimal.NewFromString(price.String)
		if err != nil {
			return nil, err
		}
		o.Price = &p
	}
	return &o, nil
}

const orderColumns = "id, user_id, ticker, direction, kind, qty, price, filled, status, created_at"

// Insert appends a new order row. Called once the engine has finished
// matching and knows the submitter's final status and filled quantity.
func (s *Orders) Insert(tx *sql.Tx, o *models.Order) error {
	_, err := tx.Exec(
		`INSERT INTO `+"`order`"+` (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, o.Ticker, o.Direction, o.Kind, o.Qty, o.Price, o.Filled, o.Status, o.CreatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to insert order")
	}
	return nil
}

// Get fetches an order by id with snapshot semantics (no lock). Used for
// introspection (GET /order/{id}).
func (s *Orders) Get(q querier, id string) (*models.Order, error) {
	row := q.QueryRow(`SELECT `+orderColumns+` FROM `+"`order`"+` WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.KindUnknownOrder, "order %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to scan order")
	}
	return o, nil
}

// GetForUpdate fetches an order by id and takes a row lock, for cancel.
func (s *Orders) GetForUpdate(tx *sql.Tx, id string) (*models.Order, error) {
	row := tx.QueryRow(`SELECT `+orderColumns+` FROM `+"`order`"+` WHERE id = ? FOR UPDATE`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.KindUnknownOrder, "order %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to scan order")
	}
	return o, nil
}

// oppositeDirection returns the counter-side for matching.
func oppositeDirection(d models.Direction) models.Direction {
	if d == models.Buy {
		return models.Sell
	}
	return models.Buy
}

// Candidates returns active counter-orders for a ticker, locked FOR UPDATE
// and ordered best-price-first then earliest-created-first (spec.md §4.3.3).
// Only LIMIT orders ever rest on the book: a market order is matched
// in-place and never becomes a counterparty, even when it is persisted
// with the terminal PARTIALLY_EXECUTED status (it has no price to match
// against). priceBound is nil for a market order (unfiltered); for a limit
// order it admits asks <= priceBound (when incomingSide is Buy) or bids >=
// priceBound (when incomingSide is Sell). excludeUser filters out the
// submitter's own resting orders (spec.md §4.3's self-trade policy).
func (s *Orders) Candidates(tx *sql.Tx, ticker string, incomingSide models.Direction, priceBound *decimal.Decimal, excludeUser string, limit int) ([]*models.Order, error) {
	counterSide := oppositeDirection(incomingSide)

	query := `SELECT ` + orderColumns + ` FROM ` + "`order`" + `
		WHERE ticker = ? AND direction = ? AND kind = 'LIMIT' AND status IN ('NEW','PARTIALLY_EXECUTED') AND user_id != ?`
	args := []any{ticker, counterSide, excludeUser}

	if priceBound != nil {
		if incomingSide == models.Buy {
			query += ` AND price <= ?`
		} else {
			query += ` AND price >= ?`
		}
		args = append(args, *priceBound)
	}

	if counterSide == models.Sell {
		query += ` ORDER BY price ASC, created_at ASC, id ASC`
	} else {
		query += ` ORDER BY price DESC, created_at ASC, id ASC`
	}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	query += ` FOR UPDATE`

	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to query candidates")
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, err, "failed to scan candidate")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Fill is the single serializing primitive for matching (spec.md §4.2,
// §4.3.4): it re-reads the row under lock, and either commits delta
// (bounded by qty-filled) or reports skip=true if the order is no longer
// active or has already been fully taken. Callers must already hold the
// row's FOR UPDATE lock from Candidates/GetForUpdate in the same
// transaction; Fill re-validates rather than re-locking.
func (s *Orders) Fill(tx *sql.Tx, id string, delta decimal.Decimal) (updated *models.Order, skip bool, err error) {
	current, err := s.GetForUpdate(tx, id)
	if err != nil {
		return nil, false, err
	}
	if !current.Status.IsActive() {
		return nil, true, nil
	}
	remaining := current.Remaining()
	if delta.GreaterThan(remaining) {
		return nil, true, nil
	}

	current.Filled = current.Filled.Add(delta)
	if current.Filled.Equal(current.Qty) {
		current.Status = models.StatusExecuted
	} else {
		current.Status = models.StatusPartiallyExecuted
	}

	if _, err := tx.Exec(
		`UPDATE `+"`order`"+` SET filled = ?, status = ? WHERE id = ?`,
		current.Filled, current.Status, current.ID,
	); err != nil {
		return nil, false, apperr.Wrap(apperr.KindTransient, err, "failed to apply fill")
	}
	return current, false, nil
}

// ReleaseFill is the compensating decrement used when a later step in the
// same quantum fails after Fill committed (spec.md §4.3.1 step 3): it
// leaves the order PARTIALLY_EXECUTED unless it was already cancelled out
// from under the match.
func (s *Orders) ReleaseFill(tx *sql.Tx, id string, delta decimal.Decimal) error {
	current, err := s.GetForUpdate(tx, id)
	if err != nil {
		return err
	}
	current.Filled = current.Filled.Sub(delta)
	if current.Filled.IsNegative() {
		return apperr.New(apperr.KindInvariantViolation, "release_fill would make order %s filled negative", id)
	}
	status := current.Status
	if status != models.StatusCancelled {
		if current.Filled.IsZero() {
			status = models.StatusNew
		} else {
			status = models.StatusPartiallyExecuted
		}
	}
	if _, err := tx.Exec(
		`UPDATE `+"`order`"+` SET filled = ?, status = ? WHERE id = ?`,
		current.Filled, status, id,
	); err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to release fill")
	}
	return nil
}

// SetCancelled marks an order terminal-cancelled. Caller must already hold
// the row's lock (via GetForUpdate) in the same transaction.
func (s *Orders) SetCancelled(tx *sql.Tx, id string) error {
	if _, err := tx.Exec(`UPDATE `+"`order`"+` SET status = ? WHERE id = ?`, models.StatusCancelled, id); err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to cancel order")
	}
	return nil
}

// ListByUser returns every order a user has placed, newest first.
func (s *Orders) ListByUser(q querier, userID string) ([]*models.Order, error) {
	rows, err := q.Query(`SELECT `+orderColumns+` FROM `+"`order`"+` WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to list orders")
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, err, "failed to scan order")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListActiveByUser returns a user's NEW/PARTIALLY_EXECUTED orders, used by
// the §4.5 cascade-cancel fan-out.
func (s *Orders) ListActiveByUser(q querier, userID string) ([]*models.Order, error) {
	rows, err := q.Query(
		`SELECT `+orderColumns+` FROM `+"`order`"+` WHERE user_id = ? AND status IN ('NEW','PARTIALLY_EXECUTED')`,
		userID,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to list active orders")
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, err, "failed to scan order")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
