package engine

import (
	"database/sql"
	"time"

	"spotx/internal/apperr"
	"spotx/internal/models"
)

// match runs the price-time priority loop (spec.md §4.3.3-§4.3.4): it
// repeatedly pulls the best-priced, oldest counter-order, executes the
// largest quantum both sides can bear, settles it through the ledger and
// records a trade, until the incoming order is exhausted or no eligible
// counter-order remains.
//
// Grounded on the teacher's internal/engine/matcher.go matchBuyOrder/
// matchSellOrder loop shape, replacing its in-memory OrderBook with
// store.Orders.Candidates reads against the live transaction.
func (e *Engine) match(tx *sql.Tx, incoming *models.Order, sub *Submission) ([]*models.Trade, error) {
	var fills []*models.Trade
	reserved := buyerReserved(sub)

	for !incoming.Remaining().IsZero() {
		candidates, err := e.orders.Candidates(tx, incoming.Ticker, incoming.Direction, incoming.Price, incoming.UserID, 1)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return fills, nil
		}
		counter := candidates[0]

		if !canMatch(incoming, counter) {
			return fills, nil
		}

		quantum := incoming.Remaining()
		if counter.Remaining().LessThan(quantum) {
			quantum = counter.Remaining()
		}
		tradePrice := *counter.Price

		buyerID, sellerID := counterparties(incoming, counter)

		buyOrderID, sellOrderID := incoming.ID, counter.ID
		if incoming.Direction == models.Sell {
			buyOrderID, sellOrderID = counter.ID, incoming.ID
		}

		// reserved already accounts for which side is the buyer: a resting
		// order is always a reserved limit order, so it is only an
		// incoming market buy that is ever unreserved.
		if err := e.ledger.SettleTrade(tx, buyerID, sellerID, incoming.Ticker, quantum, tradePrice, reserved); err != nil {
			// An unreserved buyer (incoming market buy) settles against its
			// live RUB balance rather than a lock. Running out of budget
			// mid-match is not a failure of the order: spec.md §4.3.2 says
			// the quantum is simply skipped and the order finishes at
			// whatever has filled so far, keeping every prior quantum's
			// settlement and trade row intact.
			if !reserved {
				if k, ok := apperr.KindOf(err); ok && k == apperr.KindInsufficient {
					return fills, nil
				}
			}
			return nil, err
		}

		if incoming.Direction == models.Buy && reserved && incoming.Price != nil && tradePrice.LessThan(*incoming.Price) {
			savings := quantum.Mul(incoming.Price.Sub(tradePrice))
			if err := e.ledger.Release(tx, incoming.UserID, models.RUB, savings); err != nil {
				return nil, err
			}
		}

		if _, skip, err := e.orders.Fill(tx, counter.ID, quantum); err != nil {
			return nil, err
		} else if skip {
			return nil, apperr.New(apperr.KindInvariantViolation, "counter-order %s changed under lock during match", counter.ID)
		}

		incoming.Filled = incoming.Filled.Add(quantum)

		trade := &models.Trade{
			ID:          models.NewID(),
			Ticker:      incoming.Ticker,
			BuyOrderID:  buyOrderID,
			SellOrderID: sellOrderID,
			BuyerID:     buyerID,
			SellerID:    sellerID,
			Amount:      quantum,
			Price:       tradePrice,
			Timestamp:   time.Now(),
		}
		if err := e.trades.Insert(tx, trade); err != nil {
			return nil, err
		}
		fills = append(fills, trade)
	}
	return fills, nil
}

// canMatch reports whether incoming can execute against counter: a market
// order matches any resting order; a limit order requires price
// compatibility with its own limit.
func canMatch(incoming, counter *models.Order) bool {
	if incoming.Kind == models.KindMarket {
		return true
	}
	if incoming.Direction == models.Buy {
		return incoming.Price.GreaterThanOrEqual(*counter.Price)
	}
	return incoming.Price.LessThanOrEqual(*counter.Price)
}

// counterparties resolves which side of incoming/counter is the buyer and
// which is the seller.
func counterparties(incoming, counter *models.Order) (buyerID, sellerID string) {
	if incoming.Direction == models.Buy {
		return incoming.UserID, counter.UserID
	}
	return counter.UserID, incoming.UserID
}
