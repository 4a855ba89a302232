package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"spotx/internal/models"
)

func price(v int64) *decimal.Decimal {
	p := decimal.NewFromInt(v)
	return &p
}

func TestCanMatch_MarketAlwaysMatches(t *testing.T) {
	incoming := &models.Order{Kind: models.KindMarket, Direction: models.Buy}
	counter := &models.Order{Kind: models.KindLimit, Direction: models.Sell, Price: price(100)}
	assert.True(t, canMatch(incoming, counter))
}

func TestCanMatch_LimitBuyRequiresPriceAtOrBelow(t *testing.T) {
	buy := &models.Order{Kind: models.KindLimit, Direction: models.Buy, Price: price(100)}

	cheaperAsk := &models.Order{Price: price(90)}
	assert.True(t, canMatch(buy, cheaperAsk))

	pricierAsk := &models.Order{Price: price(110)}
	assert.False(t, canMatch(buy, pricierAsk))
}

func TestCanMatch_LimitSellRequiresPriceAtOrAbove(t *testing.T) {
	sell := &models.Order{Kind: models.KindLimit, Direction: models.Sell, Price: price(100)}

	higherBid := &models.Order{Price: price(110)}
	assert.True(t, canMatch(sell, higherBid))

	lowerBid := &models.Order{Price: price(90)}
	assert.False(t, canMatch(sell, lowerBid))
}

func TestCounterparties(t *testing.T) {
	buyer := &models.Order{UserID: "alice", Direction: models.Buy}
	seller := &models.Order{UserID: "bob", Direction: models.Sell}

	buyerID, sellerID := counterparties(buyer, seller)
	assert.Equal(t, "alice", buyerID)
	assert.Equal(t, "bob", sellerID)

	buyerID, sellerID = counterparties(seller, buyer)
	assert.Equal(t, "alice", buyerID)
	assert.Equal(t, "bob", sellerID)
}

func TestBuyerReserved(t *testing.T) {
	assert.False(t, buyerReserved(&Submission{Direction: models.Buy, Kind: models.KindMarket}))
	assert.True(t, buyerReserved(&Submission{Direction: models.Buy, Kind: models.KindLimit}))
	assert.True(t, buyerReserved(&Submission{Direction: models.Sell, Kind: models.KindMarket}))
	assert.True(t, buyerReserved(&Submission{Direction: models.Sell, Kind: models.KindLimit}))
}

func TestFinalizeIncoming_FullyFilledIsExecuted(t *testing.T) {
	o := &models.Order{Kind: models.KindLimit, Qty: decimal.NewFromInt(5), Filled: decimal.NewFromInt(5)}
	finalizeIncoming(o)
	assert.Equal(t, models.StatusExecuted, o.Status)
}

func TestFinalizeIncoming_UnfilledMarketIsCancelled(t *testing.T) {
	o := &models.Order{Kind: models.KindMarket, Qty: decimal.NewFromInt(5), Filled: decimal.Zero}
	finalizeIncoming(o)
	assert.Equal(t, models.StatusCancelled, o.Status)
}

func TestFinalizeIncoming_PartiallyFilledMarketIsPartiallyExecuted(t *testing.T) {
	o := &models.Order{Kind: models.KindMarket, Qty: decimal.NewFromInt(5), Filled: decimal.NewFromInt(2)}
	finalizeIncoming(o)
	assert.Equal(t, models.StatusPartiallyExecuted, o.Status)
}

func TestFinalizeIncoming_PartiallyFilledLimitRests(t *testing.T) {
	o := &models.Order{Kind: models.KindLimit, Qty: decimal.NewFromInt(5), Filled: decimal.NewFromInt(2)}
	finalizeIncoming(o)
	assert.Equal(t, models.StatusPartiallyExecuted, o.Status)
}

func TestFinalizeIncoming_UnmatchedLimitStaysNew(t *testing.T) {
	o := &models.Order{Kind: models.KindLimit, Qty: decimal.NewFromInt(5), Filled: decimal.Zero}
	finalizeIncoming(o)
	assert.Equal(t, models.StatusNew, o.Status)
}
