package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"spotx/internal/apperr"
	"spotx/internal/models"
)

func newOrderTestUser(t *testing.T, database *sql.DB) *models.User {
	t.Helper()
	users := NewUsers()
	tx, err := database.Begin()
	require.NoError(t, err)
	u, err := users.Create(tx, "order-test-user", models.RoleUser)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	t.Cleanup(func() {
		database.Exec("DELETE FROM `order` WHERE user_id = ?", u.ID)
		database.Exec("DELETE FROM balance WHERE user_id = ?", u.ID)
		database.Exec("DELETE FROM user WHERE id = ?", u.ID)
	})
	return u
}

func newTestOrder(userID, ticker string, dir models.Direction, kind models.Kind, qty, filled decimal.Decimal, price *decimal.Decimal, status models.Status) *models.Order {
	return &models.Order{
		ID: models.NewID(), UserID: userID, Ticker: ticker, Direction: dir, Kind: kind,
		Qty: qty, Price: price, Filled: filled, Status: status, CreatedAt: time.Now(),
	}
}

func orderPrice(v int64) *decimal.Decimal {
	p := decimal.NewFromInt(v)
	return &p
}

func TestOrders_InsertAndGet(t *testing.T) {
	database := testDB(t)
	orders := NewOrders()
	u := newOrderTestUser(t, database)

	o := newTestOrder(u.ID, "ORDRA", models.Buy, models.KindLimit, decimal.NewFromInt(5), decimal.Zero, orderPrice(100), models.StatusNew)

	tx, err := database.Begin()
	require.NoError(t, err)
	require.NoError(t, orders.Insert(tx, o))
	require.NoError(t, tx.Commit())

	fetched, err := orders.Get(database, o.ID)
	require.NoError(t, err)
	require.Equal(t, o.ID, fetched.ID)
	require.NotNil(t, fetched.Price)
	require.True(t, fetched.Price.Equal(decimal.NewFromInt(100)))

	_, err = orders.Get(database, "no-such-order")
	require.Error(t, err)
	k, ok := apperr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindUnknownOrder, k)
}

func TestOrders_Candidates_ExcludesSelfAndRespectsPriceBound(t *testing.T) {
	database := testDB(t)
	orders := NewOrders()
	seller := newOrderTestUser(t, database)
	other := newOrderTestUser(t, database)

	own := newTestOrder(seller.ID, "ORDRB", models.Sell, models.KindLimit, decimal.NewFromInt(5), decimal.Zero, orderPrice(90), models.StatusNew)
	cheap := newTestOrder(other.ID, "ORDRB", models.Sell, models.KindLimit, decimal.NewFromInt(5), decimal.Zero, orderPrice(80), models.StatusNew)
	pricey := newTestOrder(other.ID, "ORDRB", models.Sell, models.KindLimit, decimal.NewFromInt(5), decimal.Zero, orderPrice(120), models.StatusNew)

	tx, err := database.Begin()
	require.NoError(t, err)
	require.NoError(t, orders.Insert(tx, own))
	require.NoError(t, orders.Insert(tx, cheap))
	require.NoError(t, orders.Insert(tx, pricey))
	require.NoError(t, tx.Commit())

	tx, err = database.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	bound := decimal.NewFromInt(100)
	candidates, err := orders.Candidates(tx, "ORDRB", models.Buy, &bound, seller.ID, 0)
	require.NoError(t, err)

	var ids []string
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	require.Contains(t, ids, cheap.ID)
	require.NotContains(t, ids, pricey.ID, "price above bound must be excluded")
	require.NotContains(t, ids, own.ID, "submitter's own resting order must be excluded")
}

// A market order can be persisted PARTIALLY_EXECUTED (terminal, not
// resting) when its budget or the book runs out mid-match; it must never
// surface as a matchable candidate for a later order.
func TestOrders_Candidates_ExcludesMarketOrders(t *testing.T) {
	database := testDB(t)
	orders := NewOrders()
	other := newOrderTestUser(t, database)
	seeker := newOrderTestUser(t, database)

	stale := newTestOrder(other.ID, "ORDRZ", models.Sell, models.KindMarket, decimal.NewFromInt(5), decimal.NewFromInt(2), nil, models.StatusPartiallyExecuted)

	tx, err := database.Begin()
	require.NoError(t, err)
	require.NoError(t, orders.Insert(tx, stale))
	require.NoError(t, tx.Commit())

	tx, err = database.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	candidates, err := orders.Candidates(tx, "ORDRZ", models.Buy, nil, seeker.ID, 0)
	require.NoError(t, err)
	for _, c := range candidates {
		require.NotEqual(t, stale.ID, c.ID, "a market order must never surface as a matchable candidate")
	}
}

func TestOrders_Fill_RejectsOverfillAndInactiveOrders(t *testing.T) {
	database := testDB(t)
	orders := NewOrders()
	u := newOrderTestUser(t, database)

	o := newTestOrder(u.ID, "ORDRC", models.Sell, models.KindLimit, decimal.NewFromInt(3), decimal.Zero, orderPrice(10), models.StatusNew)
	tx, err := database.Begin()
	require.NoError(t, err)
	require.NoError(t, orders.Insert(tx, o))
	require.NoError(t, tx.Commit())

	tx, err = database.Begin()
	require.NoError(t, err)
	updated, skip, err := orders.Fill(tx, o.ID, decimal.NewFromInt(4))
	require.NoError(t, err)
	require.True(t, skip, "filling more than remaining must be reported as a skip, not applied")
	require.Nil(t, updated)
	require.NoError(t, tx.Rollback())

	tx, err = database.Begin()
	require.NoError(t, err)
	updated, skip, err = orders.Fill(tx, o.ID, decimal.NewFromInt(3))
	require.NoError(t, err)
	require.False(t, skip)
	require.Equal(t, models.StatusExecuted, updated.Status)
	require.NoError(t, tx.Commit())

	tx, err = database.Begin()
	require.NoError(t, err)
	_, skip, err = orders.Fill(tx, o.ID, decimal.NewFromInt(1))
	require.NoError(t, err)
	require.True(t, skip, "an executed order is no longer active and must be skipped")
	require.NoError(t, tx.Rollback())
}

func TestOrders_SetCancelled(t *testing.T) {
	database := testDB(t)
	orders := NewOrders()
	u := newOrderTestUser(t, database)

	o := newTestOrder(u.ID, "ORDRD", models.Buy, models.KindLimit, decimal.NewFromInt(2), decimal.Zero, orderPrice(15), models.StatusNew)
	tx, err := database.Begin()
	require.NoError(t, err)
	require.NoError(t, orders.Insert(tx, o))
	require.NoError(t, tx.Commit())

	tx, err = database.Begin()
	require.NoError(t, err)
	require.NoError(t, orders.SetCancelled(tx, o.ID))
	require.NoError(t, tx.Commit())

	fetched, err := orders.Get(database, o.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, fetched.Status)
}

func TestOrders_ListActiveByUser(t *testing.T) {
	database := testDB(t)
	orders := NewOrders()
	u := newOrderTestUser(t, database)

	active := newTestOrder(u.ID, "ORDRE", models.Buy, models.KindLimit, decimal.NewFromInt(2), decimal.Zero, orderPrice(15), models.StatusNew)
	done := newTestOrder(u.ID, "ORDRE", models.Buy, models.KindLimit, decimal.NewFromInt(2), decimal.NewFromInt(2), orderPrice(15), models.StatusExecuted)

	tx, err := database.Begin()
	require.NoError(t, err)
	require.NoError(t, orders.Insert(tx, active))
	require.NoError(t, orders.Insert(tx, done))
	require.NoError(t, tx.Commit())

	list, err := orders.ListActiveByUser(database, u.ID)
	require.NoError(t, err)

	var ids []string
	for _, o := range list {
		ids = append(ids, o.ID)
	}
	require.Contains(t, ids, active.ID)
	require.NotContains(t, ids, done.ID)
}
