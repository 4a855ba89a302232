package store

import (
	"database/sql"

	"spotx/internal/apperr"
	"spotx/internal/models"
)

// Trades is the append-only trade log (spec.md §2.3).
type Trades struct{}

// NewTrades constructs a Trades store.
func NewTrades() *Trades { return &Trades{} }

// Insert appends one executed quantum.
func (s *Trades) Insert(tx *sql.Tx, t *models.Trade) error {
	_, err := tx.Exec(
		`INSERT INTO transaction (id, ticker, buy_order_id, sell_order_id, buyer_id, seller_id, amount, price, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Ticker, t.BuyOrderID, t.SellOrderID, t.BuyerID, t.SellerID, t.Amount, t.Price, t.Timestamp,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to insert trade")
	}
	return nil
}

// ListByTicker returns the most recent trades for a ticker, newest first,
// per spec.md §6's GET /api/v1/public/transactions/{ticker}.
func (s *Trades) ListByTicker(q querier, ticker string, limit int) ([]*models.Trade, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := q.Query(
		`SELECT id, ticker, buy_order_id, sell_order_id, buyer_id, seller_id, amount, price, created_at
		 FROM transaction WHERE ticker = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		ticker, limit,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to list trades")
	}
	defer rows.Close()

	var out []*models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.ID, &t.Ticker, &t.BuyOrderID, &t.SellOrderID, &t.BuyerID, &t.SellerID, &t.Amount, &t.Price, &t.Timestamp); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, err, "failed to scan trade")
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
