// Package models defines the domain types shared by the ledger, order
// store and matching engine: instruments, users, balances, orders and
// trades.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role is a user's authorization role.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Direction is the side of an order.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Kind distinguishes limit orders (have a price, may rest) from market
// orders (no price, never rest). This is a variant distinction, not an
// inheritance one: Order carries a Kind tag and an optional Price rather
// than two separate struct hierarchies.
type Kind string

const (
	KindLimit  Kind = "LIMIT"
	KindMarket Kind = "MARKET"
)

// Status is an order's lifecycle state. NEW and PARTIALLY_EXECUTED are the
// only active states; EXECUTED and CANCELLED are terminal and never
// transition further.
type Status string

const (
	StatusNew               Status = "NEW"
	StatusPartiallyExecuted Status = "PARTIALLY_EXECUTED"
	StatusExecuted          Status = "EXECUTED"
	StatusCancelled         Status = "CANCELLED"
)

// IsActive reports whether an order with this status can still match or be
// cancelled.
func (s Status) IsActive() bool {
	return s == StatusNew || s == StatusPartiallyExecuted
}

// IsTerminal reports whether this status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusExecuted || s == StatusCancelled
}

// RUB is the distinguished quote ticker used for cash balances.
const RUB = "RUB"

// Instrument is a tradable ticker. RUB is the quote asset and is not
// itself a tradable instrument, though every user has an implicit RUB
// balance row.
type Instrument struct {
	Ticker string `json:"ticker" db:"ticker"`
	Name   string `json:"name" db:"name"`
}

// User owns balances, orders and trades.
type User struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Role      Role      `json:"role" db:"role"`
	APIKey    string    `json:"api_key" db:"api_key"`
	Deleted   bool      `json:"-" db:"is_deleted"`
	CreatedAt time.Time `json:"-" db:"created_at"`
}

// Balance is a user's holding of one ticker. Available funds are
// total-locked; locked must never exceed total.
type Balance struct {
	UserID string          `db:"user_id"`
	Ticker string          `db:"ticker"`
	Total  decimal.Decimal `db:"total"`
	Locked decimal.Decimal `db:"locked"`
}

// Available returns the portion of Total not reserved by open orders.
func (b Balance) Available() decimal.Decimal {
	return b.Total.Sub(b.Locked)
}

// Order is a resting or terminal order in the book.
type Order struct {
	ID        string           `json:"id" db:"id"`
	UserID    string           `json:"user_id" db:"user_id"`
	Ticker    string           `json:"ticker" db:"ticker"`
	Direction Direction        `json:"direction" db:"direction"`
	Kind      Kind             `json:"kind" db:"kind"`
	Qty       decimal.Decimal  `json:"qty" db:"qty"`
	Price     *decimal.Decimal `json:"price,omitempty" db:"price"`
	Filled    decimal.Decimal  `json:"filled" db:"filled"`
	Status    Status           `json:"status" db:"status"`
	CreatedAt time.Time        `json:"timestamp" db:"created_at"`
}

// Remaining returns the unexecuted quantity of the order.
func (o *Order) Remaining() decimal.Decimal {
	return o.Qty.Sub(o.Filled)
}

// Trade is an immutable execution record. It stores one symmetric row per
// quantum naming both counter-parties, rather than one row per side.
type Trade struct {
	ID          string          `json:"id" db:"id"`
	Ticker      string          `json:"ticker" db:"ticker"`
	BuyOrderID  string          `json:"buy_order_id" db:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id" db:"sell_order_id"`
	BuyerID     string          `json:"buyer_id" db:"buyer_id"`
	SellerID    string          `json:"seller_id" db:"seller_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Timestamp   time.Time       `json:"timestamp" db:"created_at"`
}

// NewID generates a fresh identifier for a user, order or trade row.
func NewID() string {
	return uuid.NewString()
}

// NewAPIKey generates a fresh bearer credential for a newly registered
// user.
func NewAPIKey() string {
	return uuid.NewString()
}
