// Package migrations applies the database schema in order.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS crypto_assets (
		id UUID PRIMARY KEY,
		symbol TEXT NOT NULL,
		network TEXT NOT NULL,
		min_confirmations INTEGER NOT NULL DEFAULT 1,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (symbol, network)
	)`,
	`CREATE TABLE IF NOT EXISTS deposit_sessions (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		crypto_asset_id UUID NOT NULL REFERENCES crypto_assets (id),
		network TEXT NOT NULL,
		address TEXT NOT NULL,
		derivation_path TEXT NOT NULL,
		address_index BIGINT NOT NULL,
		amount_expected DOUBLE PRECISION NOT NULL DEFAULT 0,
		detected_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		confirmations INTEGER NOT NULL DEFAULT 0,
		min_confirmations INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL,
		is_late BOOLEAN NOT NULL DEFAULT FALSE,
		tx_hash TEXT,
		credit_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (network, address_index)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_deposit_sessions_open
		ON deposit_sessions (network, lower(address))
		WHERE status IN ('PENDING', 'DETECTED')`,
	`CREATE TABLE IF NOT EXISTS deposit_address_counters (
		network TEXT PRIMARY KEY,
		next_index BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_ledger (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		asset TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_balances (
		user_id TEXT PRIMARY KEY,
		live_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		demo_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		tournament_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

// Apply runs every schema statement in order. Statements are idempotent so
// Apply is safe to call on every boot.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
