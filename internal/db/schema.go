package db

import (
	"database/sql"
	"fmt"
)

// schemaStatements is the persisted layout named in spec.md §6: user,
// instrument, balance, order, transaction. Column sets follow
// original_source/app/models/*.py; CHECK constraints enforce the balance
// invariants from spec.md §3 at the storage layer, per spec.md §1's
// "transactional store supporting row-level pessimistic locking."
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS user (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		role VARCHAR(16) NOT NULL DEFAULT 'USER',
		api_key VARCHAR(36) NOT NULL UNIQUE,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
	)`,
	`CREATE TABLE IF NOT EXISTS instrument (
		ticker VARCHAR(10) PRIMARY KEY,
		name VARCHAR(255) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS balance (
		user_id VARCHAR(36) NOT NULL,
		ticker VARCHAR(10) NOT NULL,
		total DECIMAL(38,0) NOT NULL DEFAULT 0,
		locked DECIMAL(38,0) NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, ticker),
		CONSTRAINT chk_balance_total_nonneg CHECK (total >= 0),
		CONSTRAINT chk_balance_locked_nonneg CHECK (locked >= 0),
		CONSTRAINT chk_balance_locked_le_total CHECK (locked <= total)
	)`,
	`CREATE TABLE IF NOT EXISTS ` + "`order`" + ` (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(36) NOT NULL,
		ticker VARCHAR(10) NOT NULL,
		direction VARCHAR(8) NOT NULL,
		kind VARCHAR(8) NOT NULL,
		qty DECIMAL(38,0) NOT NULL,
		price DECIMAL(38,0) NULL,
		filled DECIMAL(38,0) NOT NULL DEFAULT 0,
		status VARCHAR(24) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		INDEX idx_order_book (ticker, direction, status, price, created_at),
		INDEX idx_order_user (user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS transaction (
		id VARCHAR(36) PRIMARY KEY,
		ticker VARCHAR(10) NOT NULL,
		buy_order_id VARCHAR(36) NOT NULL,
		sell_order_id VARCHAR(36) NOT NULL,
		buyer_id VARCHAR(36) NOT NULL,
		seller_id VARCHAR(36) NOT NULL,
		amount DECIMAL(38,0) NOT NULL,
		price DECIMAL(38,0) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		INDEX idx_transaction_ticker (ticker, created_at)
	)`,
}

// Migrate creates the schema if it does not already exist. Safe to call on
// every startup.
func Migrate(database *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := database.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
