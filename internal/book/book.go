// Package book builds the aggregated order-book view spec.md §6's public
// GET /api/v1/public/orderbook/{ticker} endpoint serves: price levels with
// the quantity resting at each, bids descending, asks ascending, truncated
// to a requested depth.
//
// Grounded on the teacher's internal/engine/orderbook.go PriceLevel/
// GetTopLevels shape, adapted to aggregate from live database rows (via
// store.Orders.Candidates) instead of an in-memory map, since spec.md §5
// keeps no in-process order book between requests.
package book

import (
	"database/sql"
	"sort"

	"github.com/shopspring/decimal"

	"spotx/internal/apperr"
	"spotx/internal/models"
	"spotx/internal/store"
)

// Level is one aggregated price level: the total remaining quantity resting
// at that price, across every active order at it.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"qty"`
}

// Book is a depth-limited snapshot of one ticker's resting orders.
type Book struct {
	Ticker string  `json:"ticker"`
	Bids   []Level `json:"bid_levels"`
	Asks   []Level `json:"ask_levels"`
}

// Builder reads the live order table to answer order-book queries.
type Builder struct {
	orders *store.Orders
}

// NewBuilder constructs a Builder.
func NewBuilder(orders *store.Orders) *Builder {
	return &Builder{orders: orders}
}

// Snapshot returns the aggregated book for ticker, each side truncated to
// depth price levels. excludeUser, if non-empty, omits that user's own
// resting orders from the view (spec.md §2.4).
func (b *Builder) Snapshot(db *sql.DB, ticker string, depth int, excludeUser string) (*Book, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to begin snapshot transaction")
	}
	defer tx.Rollback()

	bids, err := b.orders.Candidates(tx, ticker, models.Sell, nil, excludeUser, 0)
	if err != nil {
		return nil, err
	}
	asks, err := b.orders.Candidates(tx, ticker, models.Buy, nil, excludeUser, 0)
	if err != nil {
		return nil, err
	}

	out := &Book{
		Ticker: ticker,
		Bids:   aggregate(bids, true, depth),
		Asks:   aggregate(asks, false, depth),
	}
	return out, nil
}

// aggregate groups orders' remaining quantity by price, then sorts bids
// descending (best bid first) or asks ascending (best ask first) and
// truncates to depth. depth <= 0 means unbounded.
func aggregate(orders []*models.Order, descending bool, depth int) []Level {
	totals := make(map[string]decimal.Decimal)
	prices := make(map[string]decimal.Decimal)
	for _, o := range orders {
		if o.Price == nil {
			continue
		}
		key := o.Price.String()
		totals[key] = totals[key].Add(o.Remaining())
		prices[key] = *o.Price
	}

	levels := make([]Level, 0, len(prices))
	for key, p := range prices {
		levels = append(levels, Level{Price: p, Quantity: totals[key]})
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	return levels
}
