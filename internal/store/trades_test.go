package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"spotx/internal/models"
)

func TestTrades_InsertAndListByTicker(t *testing.T) {
	database := testDB(t)
	trades := NewTrades()
	buyer := newOrderTestUser(t, database)
	seller := newOrderTestUser(t, database)

	older := &models.Trade{
		ID: models.NewID(), Ticker: "TRDEA", BuyOrderID: models.NewID(), SellOrderID: models.NewID(),
		BuyerID: buyer.ID, SellerID: seller.ID, Amount: decimal.NewFromInt(1), Price: decimal.NewFromInt(10),
		Timestamp: time.Now().Add(-time.Minute),
	}
	newer := &models.Trade{
		ID: models.NewID(), Ticker: "TRDEA", BuyOrderID: models.NewID(), SellOrderID: models.NewID(),
		BuyerID: buyer.ID, SellerID: seller.ID, Amount: decimal.NewFromInt(2), Price: decimal.NewFromInt(20),
		Timestamp: time.Now(),
	}

	tx, err := database.Begin()
	require.NoError(t, err)
	require.NoError(t, trades.Insert(tx, older))
	require.NoError(t, trades.Insert(tx, newer))
	require.NoError(t, tx.Commit())
	t.Cleanup(func() {
		database.Exec("DELETE FROM transaction WHERE ticker = ?", "TRDEA")
	})

	list, err := trades.ListByTicker(database, "TRDEA", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, newer.ID, list[0].ID, "must be ordered newest first")
	require.Equal(t, older.ID, list[1].ID)
}

func TestTrades_ListByTicker_RespectsLimit(t *testing.T) {
	database := testDB(t)
	trades := NewTrades()
	buyer := newOrderTestUser(t, database)
	seller := newOrderTestUser(t, database)

	tx, err := database.Begin()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		tr := &models.Trade{
			ID: models.NewID(), Ticker: "TRDEB", BuyOrderID: models.NewID(), SellOrderID: models.NewID(),
			BuyerID: buyer.ID, SellerID: seller.ID, Amount: decimal.NewFromInt(1), Price: decimal.NewFromInt(10),
			Timestamp: time.Now(),
		}
		require.NoError(t, trades.Insert(tx, tr))
	}
	require.NoError(t, tx.Commit())
	t.Cleanup(func() {
		database.Exec("DELETE FROM transaction WHERE ticker = ?", "TRDEB")
	})

	list, err := trades.ListByTicker(database, "TRDEB", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
}
