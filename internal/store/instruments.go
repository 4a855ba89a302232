package store

import (
	"database/sql"

	"spotx/internal/apperr"
	"spotx/internal/models"
)

// Instruments is the tradable-ticker registry (spec.md §3's instrument
// table). Grounded on original_source/app/crud/v1/instrument.py.
type Instruments struct{}

// NewInstruments constructs an Instruments store.
func NewInstruments() *Instruments { return &Instruments{} }

// Create registers a new tradable ticker. Fails Duplicate if the ticker
// already exists.
func (s *Instruments) Create(tx *sql.Tx, ticker, name string) (*models.Instrument, error) {
	if !models.IsValidTicker(ticker) {
		return nil, apperr.New(apperr.KindInvalidAmount, "invalid ticker %q", ticker)
	}
	if _, err := s.Get(tx, ticker); err == nil {
		return nil, apperr.New(apperr.KindDuplicate, "instrument %s already exists", ticker)
	} else if k, ok := apperr.KindOf(err); !ok || k != apperr.KindUnknownTicker {
		return nil, err
	}
	if _, err := tx.Exec(`INSERT INTO instrument (ticker, name) VALUES (?, ?)`, ticker, name); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to create instrument")
	}
	return &models.Instrument{Ticker: ticker, Name: name}, nil
}

// Get fetches one instrument by ticker.
func (s *Instruments) Get(q querier, ticker string) (*models.Instrument, error) {
	row := q.QueryRow(`SELECT ticker, name FROM instrument WHERE ticker = ?`, ticker)
	var in models.Instrument
	if err := row.Scan(&in.Ticker, &in.Name); err == sql.ErrNoRows {
		return nil, apperr.New(apperr.KindUnknownTicker, "instrument %s not found", ticker)
	} else if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to scan instrument")
	}
	return &in, nil
}

// Delete removes an instrument from the registry. Resting orders and
// balances in that ticker are left untouched; spec.md treats instrument
// delisting as out of scope for cascade effects.
func (s *Instruments) Delete(tx *sql.Tx, ticker string) error {
	res, err := tx.Exec(`DELETE FROM instrument WHERE ticker = ?`, ticker)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to delete instrument")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to confirm instrument deletion")
	}
	if n == 0 {
		return apperr.New(apperr.KindUnknownTicker, "instrument %s not found", ticker)
	}
	return nil
}

// List returns every registered instrument.
func (s *Instruments) List(q querier) ([]*models.Instrument, error) {
	rows, err := q.Query(`SELECT ticker, name FROM instrument ORDER BY ticker ASC`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to list instruments")
	}
	defer rows.Close()

	var out []*models.Instrument
	for rows.Next() {
		var in models.Instrument
		if err := rows.Scan(&in.Ticker, &in.Name); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, err, "failed to scan instrument")
		}
		out = append(out, &in)
	}
	return out, rows.Err()
}
