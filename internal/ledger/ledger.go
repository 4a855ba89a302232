// Package ledger implements the balance ledger (spec.md §4.1): deposit,
// withdraw, reserve, release and atomic trade settlement over a MySQL-backed
// balance table, with the fixed lock ordering spec.md requires to avoid
// deadlocks between concurrent matches touching the same two users.
//
// Grounded on original_source/app/crud/v1/balance.py (deposit/withdraw,
// block_funds/unblock_funds, commit_buy's "RUB first, then ticker" lock
// order) and the teacher's tx.Stmt transaction style.
package ledger

import (
	"database/sql"
	"sort"

	"github.com/shopspring/decimal"

	"spotx/internal/apperr"
	"spotx/internal/models"
)

// Ledger mutates balance rows under the caller's transaction.
type Ledger struct {
	db *sql.DB
}

// New constructs a Ledger over the given connection pool.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// lockRow takes a FOR UPDATE lock on one balance row, inserting a
// zero-initialised row first if creating is true and the row does not yet
// exist (deposit and trade-credit paths create balances lazily, per
// spec.md §3; reserve/withdraw/release never do).
func lockRow(tx *sql.Tx, userID, ticker string, creating bool) (models.Balance, error) {
	var b models.Balance
	row := tx.QueryRow(
		`SELECT user_id, ticker, total, locked FROM balance WHERE user_id = ? AND ticker = ? FOR UPDATE`,
		userID, ticker,
	)
	err := row.Scan(&b.UserID, &b.Ticker, &b.Total, &b.Locked)
	if err == sql.ErrNoRows {
		if !creating {
			return models.Balance{UserID: userID, Ticker: ticker, Total: decimal.Zero, Locked: decimal.Zero}, nil
		}
		if _, err := tx.Exec(
			`INSERT INTO balance (user_id, ticker, total, locked) VALUES (?, ?, 0, 0)`,
			userID, ticker,
		); err != nil {
			return models.Balance{}, apperr.Wrap(apperr.KindTransient, err, "failed to create balance row")
		}
		return models.Balance{UserID: userID, Ticker: ticker, Total: decimal.Zero, Locked: decimal.Zero}, nil
	}
	if err != nil {
		return models.Balance{}, apperr.Wrap(apperr.KindTransient, err, "failed to lock balance row")
	}
	return b, nil
}

// lockOrdered locks the RUB and ticker rows of the given users in the
// order spec.md §4.1 mandates: first the RUB row of each user in
// ascending user id, then the traded ticker row of each user in ascending
// user id. Returns the locked rows keyed "userID:ticker".
func lockOrdered(tx *sql.Tx, ticker string, userIDs []string, creating map[string]bool) (map[string]models.Balance, error) {
	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)

	locked := make(map[string]models.Balance, len(ids)*2)

	for _, id := range ids {
		b, err := lockRow(tx, id, models.RUB, creating[id+":"+models.RUB])
		if err != nil {
			return nil, err
		}
		locked[id+":"+models.RUB] = b
	}
	if ticker != models.RUB {
		for _, id := range ids {
			b, err := lockRow(tx, id, ticker, creating[id+":"+ticker])
			if err != nil {
				return nil, err
			}
			locked[id+":"+ticker] = b
		}
	}
	return locked, nil
}

func setBalance(tx *sql.Tx, b models.Balance) error {
	_, err := tx.Exec(
		`UPDATE balance SET total = ?, locked = ? WHERE user_id = ? AND ticker = ?`,
		b.Total, b.Locked, b.UserID, b.Ticker,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to update balance row")
	}
	return nil
}

// Deposit credits a user's balance. amount must be a positive integer.
func (l *Ledger) Deposit(tx *sql.Tx, userID, ticker string, amount decimal.Decimal) error {
	amount, err := models.NewAmount(amount)
	if err != nil {
		return err
	}
	b, err := lockRow(tx, userID, ticker, true)
	if err != nil {
		return err
	}
	b.Total = b.Total.Add(amount)
	return setBalance(tx, b)
}

// Withdraw debits a user's available balance. Fails Insufficient if
// available funds are below amount.
func (l *Ledger) Withdraw(tx *sql.Tx, userID, ticker string, amount decimal.Decimal) error {
	amount, err := models.NewAmount(amount)
	if err != nil {
		return err
	}
	b, err := lockRow(tx, userID, ticker, false)
	if err != nil {
		return err
	}
	if b.Available().LessThan(amount) {
		return apperr.New(apperr.KindInsufficient, "insufficient available %s balance for user %s", ticker, userID)
	}
	b.Total = b.Total.Sub(amount)
	return setBalance(tx, b)
}

// Reserve locks amount of a user's available balance against a new order.
// Fails Insufficient if available funds are below amount.
func (l *Ledger) Reserve(tx *sql.Tx, userID, ticker string, amount decimal.Decimal) error {
	amount, err := models.NewAmount(amount)
	if err != nil {
		return err
	}
	b, err := lockRow(tx, userID, ticker, false)
	if err != nil {
		return err
	}
	if b.Available().LessThan(amount) {
		return apperr.New(apperr.KindInsufficient, "insufficient available %s balance for user %s", ticker, userID)
	}
	b.Locked = b.Locked.Add(amount)
	return setBalance(tx, b)
}

// Release frees amount of a user's locked balance, e.g. on cancel or when
// a reservation's surplus is no longer needed. Fails InvariantViolation if
// locked would go negative.
func (l *Ledger) Release(tx *sql.Tx, userID, ticker string, amount decimal.Decimal) error {
	amount, err := models.NewAmount(amount)
	if err != nil {
		return err
	}
	b, err := lockRow(tx, userID, ticker, false)
	if err != nil {
		return err
	}
	if b.Locked.LessThan(amount) {
		return apperr.New(apperr.KindInvariantViolation, "cannot release %s %s: only %s locked", amount, ticker, b.Locked)
	}
	b.Locked = b.Locked.Sub(amount)
	return setBalance(tx, b)
}

// SettleTrade executes one quantum's four-row balance update: the seller's
// ticker total and locked both drop by qty, the buyer's ticker total rises
// by qty, the seller's RUB total rises by qty*price, and the buyer's RUB
// falls by qty*price.
//
// If buyerReserved is true (the buyer is a limit order, resting or
// incoming, whose reservation already covers this quantum, per spec.md
// §4.3.1) the
// buyer's RUB locked is also decremented by qty*price. If false (the
// buyer is an unreserved market order, per spec.md §4.3.2) the buyer's
// live RUB availability is checked inside this transaction instead, and
// the quantum fails Insufficient without mutating anything if it is not
// covered.
func (l *Ledger) SettleTrade(tx *sql.Tx, buyerID, sellerID, ticker string, qty, price decimal.Decimal, buyerReserved bool) error {
	qty, err := models.NewAmount(qty)
	if err != nil {
		return err
	}
	price, err = models.NewAmount(price)
	if err != nil {
		return err
	}
	if ticker == models.RUB {
		return apperr.New(apperr.KindInvariantViolation, "cannot settle a trade in the quote ticker")
	}
	cost := qty.Mul(price)

	tickerRows, err := lockOrdered(tx, ticker, []string{buyerID, sellerID}, map[string]bool{
		buyerID + ":" + ticker:      true,
		sellerID + ":" + models.RUB: true,
	})
	if err != nil {
		return err
	}

	buyerRUB := tickerRows[buyerID+":"+models.RUB]
	sellerRUB := tickerRows[sellerID+":"+models.RUB]
	buyerTicker := tickerRows[buyerID+":"+ticker]
	sellerTicker := tickerRows[sellerID+":"+ticker]

	if sellerTicker.Total.LessThan(qty) || sellerTicker.Locked.LessThan(qty) {
		return apperr.New(apperr.KindInvariantViolation, "seller %s has insufficient %s to settle", sellerID, ticker)
	}
	if buyerReserved {
		if buyerRUB.Locked.LessThan(cost) {
			return apperr.New(apperr.KindInvariantViolation, "buyer %s reservation does not cover quantum", buyerID)
		}
	} else {
		if buyerRUB.Available().LessThan(cost) {
			return apperr.New(apperr.KindInsufficient, "buyer %s has insufficient available RUB to settle", buyerID)
		}
	}

	sellerTicker.Total = sellerTicker.Total.Sub(qty)
	sellerTicker.Locked = sellerTicker.Locked.Sub(qty)
	buyerTicker.Total = buyerTicker.Total.Add(qty)
	sellerRUB.Total = sellerRUB.Total.Add(cost)
	buyerRUB.Total = buyerRUB.Total.Sub(cost)
	if buyerReserved {
		buyerRUB.Locked = buyerRUB.Locked.Sub(cost)
	}

	for _, b := range []models.Balance{sellerTicker, buyerTicker, sellerRUB, buyerRUB} {
		if err := setBalance(tx, b); err != nil {
			return err
		}
	}
	return nil
}

// Balances returns every balance row the user holds, ticker -> total.
func (l *Ledger) Balances(tx *sql.Tx, userID string) (map[string]decimal.Decimal, error) {
	rows, err := tx.Query(`SELECT ticker, total FROM balance WHERE user_id = ?`, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to query balances")
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var ticker string
		var total decimal.Decimal
		if err := rows.Scan(&ticker, &total); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, err, "failed to scan balance row")
		}
		out[ticker] = total
	}
	return out, rows.Err()
}
