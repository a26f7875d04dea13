// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tradeos/walletcore/internal/domain/wallet"
	"github.com/tradeos/walletcore/internal/storage"
)

// Store implements the storage interfaces over a database handle.
type Store struct {
	db *sql.DB
}

var _ storage.AssetStore = (*Store)(nil)
var _ storage.DepositStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- AssetStore -------------------------------------------------------------

func (s *Store) CreateAsset(ctx context.Context, asset wallet.Asset) (wallet.Asset, error) {
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	asset.CreatedAt = now
	asset.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crypto_assets (id, symbol, network, min_confirmations, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, asset.ID, asset.Symbol, asset.Network, asset.MinConfirmations, asset.Active, asset.CreatedAt, asset.UpdatedAt)
	if err != nil {
		return wallet.Asset{}, err
	}
	return asset, nil
}

func (s *Store) GetAsset(ctx context.Context, id string) (wallet.Asset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, network, min_confirmations, active, created_at, updated_at
		FROM crypto_assets
		WHERE id = $1
	`, id)

	var asset wallet.Asset
	if err := row.Scan(&asset.ID, &asset.Symbol, &asset.Network, &asset.MinConfirmations, &asset.Active, &asset.CreatedAt, &asset.UpdatedAt); err != nil {
		return wallet.Asset{}, err
	}
	return asset, nil
}

func (s *Store) ListAssets(ctx context.Context, activeOnly bool) ([]wallet.Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, network, min_confirmations, active, created_at, updated_at
		FROM crypto_assets
		WHERE $1 = false OR active
		ORDER BY symbol
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []wallet.Asset
	for rows.Next() {
		var asset wallet.Asset
		if err := rows.Scan(&asset.ID, &asset.Symbol, &asset.Network, &asset.MinConfirmations, &asset.Active, &asset.CreatedAt, &asset.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, asset)
	}
	return result, rows.Err()
}

// --- DepositStore -----------------------------------------------------------

const sessionColumns = `id, user_id, crypto_asset_id, network, address, derivation_path, address_index,
	amount_expected, detected_amount, confirmations, min_confirmations, status, is_late,
	tx_hash, credit_usd, expires_at, created_at, updated_at`

func (s *Store) CreateDepositSession(ctx context.Context, session wallet.DepositSession) (wallet.DepositSession, error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deposit_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, session.ID, session.UserID, session.CryptoAssetID, session.Network, session.Address,
		session.DerivationPath, session.AddressIndex, session.AmountExpected, session.DetectedAmount,
		session.Confirmations, session.MinConfirmations, session.Status, session.IsLate,
		toNullString(session.TxHash), session.CreditUSD, session.ExpiresAt, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return wallet.DepositSession{}, err
	}
	return session, nil
}

func (s *Store) GetDepositSession(ctx context.Context, id string) (wallet.DepositSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM deposit_sessions
		WHERE id = $1
	`, id)
	return scanSession(row)
}

func (s *Store) ListDepositSessions(ctx context.Context, userID string, limit int) ([]wallet.DepositSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM deposit_sessions
		WHERE $1 = '' OR user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *Store) ListOpenDepositSessions(ctx context.Context) ([]wallet.DepositSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM deposit_sessions
		WHERE status IN ('PENDING', 'DETECTED')
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// FindOpenSessionByAddress matches EVM addresses case-insensitively: sessions
// store the checksum casing while nodes report `to` in all-lowercase hex.
func (s *Store) FindOpenSessionByAddress(ctx context.Context, network wallet.Network, address string) (wallet.DepositSession, error) {
	match := "address = $2"
	if network == wallet.NetworkEthereum || network == wallet.NetworkBSC {
		match = "lower(address) = $2"
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM deposit_sessions
		WHERE network = $1 AND `+match+` AND status IN ('PENDING', 'DETECTED')
		ORDER BY created_at
		LIMIT 1
	`, network, wallet.NormalizeAddress(network, address))
	return scanSession(row)
}

// ReserveAddressIndex hands out derivation indices through an upsert counter
// keyed by network, so concurrent session creation can never collide and two
// assets on one network never derive the same address.
func (s *Store) ReserveAddressIndex(ctx context.Context, network wallet.Network) (uint32, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO deposit_address_counters (network, next_index)
		VALUES ($1, 1)
		ON CONFLICT (network)
		DO UPDATE SET next_index = deposit_address_counters.next_index + 1
		RETURNING next_index - 1
	`, network)

	var index uint32
	if err := row.Scan(&index); err != nil {
		return 0, fmt.Errorf("reserve address index for %s: %w", network, err)
	}
	return index, nil
}

func (s *Store) MarkSessionDetected(ctx context.Context, id string, amount float64, confirmations int, txHash string) (wallet.DepositSession, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE deposit_sessions
		SET status = 'DETECTED', detected_amount = $2, confirmations = $3,
		    tx_hash = COALESCE($4, tx_hash), updated_at = $5
		WHERE id = $1 AND status IN ('PENDING', 'DETECTED')
	`, id, amount, confirmations, toNullString(txHash), time.Now().UTC())
	if err != nil {
		return wallet.DepositSession{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return wallet.DepositSession{}, fmt.Errorf("mark detected %s: %w", id, wallet.ErrSessionTerminal)
	}
	return s.GetDepositSession(ctx, id)
}

func (s *Store) MarkSessionExpired(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE deposit_sessions
		SET status = 'EXPIRED', updated_at = $2
		WHERE id = $1 AND status = 'PENDING'
	`, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("expire %s: %w", id, wallet.ErrSessionTerminal)
	}
	return nil
}

func (s *Store) FailSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE deposit_sessions
		SET status = 'FAILED', updated_at = $2
		WHERE id = $1 AND status IN ('PENDING', 'DETECTED')
	`, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("fail %s: %w", id, wallet.ErrSessionTerminal)
	}
	return nil
}

// CreditDeposit runs the whole credit as one transaction: a conditional
// status transition, one ledger insert and one balance upsert-increment.
func (s *Store) CreditDeposit(ctx context.Context, params storage.CreditParams) (storage.CreditOutcome, error) {
	if !params.Status.Credited() {
		return storage.CreditOutcome{}, fmt.Errorf("credit status must be CONFIRMED or LATE_CONFIRMED, got %s", params.Status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.CreditOutcome{}, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE deposit_sessions
		SET status = $2, detected_amount = $3, confirmations = $4, tx_hash = $5,
		    is_late = $6, credit_usd = $7, updated_at = $8
		WHERE id = $1 AND status IN ('PENDING', 'DETECTED')
	`, params.SessionID, params.Status, params.DetectedAmount, params.Confirmations,
		toNullString(params.TxHash), params.IsLate, params.CreditUSD, now)
	if err != nil {
		return storage.CreditOutcome{}, err
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		// The conditional update did not apply: decide between the
		// idempotent no-op and an integrity violation.
		session, err := s.GetDepositSession(ctx, params.SessionID)
		if err != nil {
			return storage.CreditOutcome{}, err
		}
		if session.Status.Credited() {
			return storage.CreditOutcome{Session: session, AlreadyCredited: true}, nil
		}
		return storage.CreditOutcome{}, fmt.Errorf("credit %s from %s: %w", params.SessionID, session.Status, wallet.ErrSessionTerminal)
	}

	var userID string
	if err := tx.QueryRowContext(ctx, `SELECT user_id FROM deposit_sessions WHERE id = $1`, params.SessionID).Scan(&userID); err != nil {
		return storage.CreditOutcome{}, err
	}

	entry := wallet.LedgerEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      wallet.LedgerDeposit,
		Asset:     "USD",
		Amount:    params.CreditUSD,
		Metadata:  params.Metadata,
		CreatedAt: now,
	}
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return storage.CreditOutcome{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_ledger (id, user_id, entry_type, asset, amount, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.UserID, entry.Type, entry.Asset, entry.Amount, metadataJSON, entry.CreatedAt); err != nil {
		return storage.CreditOutcome{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, live_usd, demo_usd, tournament_usd, updated_at)
		VALUES ($1, $2, 0, 0, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET live_usd = user_balances.live_usd + EXCLUDED.live_usd, updated_at = EXCLUDED.updated_at
	`, entry.UserID, params.CreditUSD, now); err != nil {
		return storage.CreditOutcome{}, err
	}

	if err := tx.Commit(); err != nil {
		return storage.CreditOutcome{}, err
	}

	session, err := s.GetDepositSession(ctx, params.SessionID)
	if err != nil {
		return storage.CreditOutcome{}, err
	}
	return storage.CreditOutcome{Session: session, Entry: entry}, nil
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) CreateLedgerEntry(ctx context.Context, entry wallet.LedgerEntry) (wallet.LedgerEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now().UTC()

	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return wallet.LedgerEntry{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wallet.LedgerEntry{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_ledger (id, user_id, entry_type, asset, amount, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.UserID, entry.Type, entry.Asset, entry.Amount, metadataJSON, entry.CreatedAt); err != nil {
		return wallet.LedgerEntry{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, live_usd, demo_usd, tournament_usd, updated_at)
		VALUES ($1, $2, 0, 0, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET live_usd = user_balances.live_usd + EXCLUDED.live_usd, updated_at = EXCLUDED.updated_at
	`, entry.UserID, entry.Amount, entry.CreatedAt); err != nil {
		return wallet.LedgerEntry{}, err
	}

	if err := tx.Commit(); err != nil {
		return wallet.LedgerEntry{}, err
	}
	return entry, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, userID string, limit int) ([]wallet.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, entry_type, asset, amount, metadata, created_at
		FROM wallet_ledger
		WHERE $1 = '' OR user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []wallet.LedgerEntry
	for rows.Next() {
		var (
			entry       wallet.LedgerEntry
			metadataRaw []byte
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Type, &entry.Asset, &entry.Amount, &metadataRaw, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if len(metadataRaw) > 0 {
			_ = json.Unmarshal(metadataRaw, &entry.Metadata)
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *Store) SumLedger(ctx context.Context, userID, asset string) (float64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM wallet_ledger
		WHERE user_id = $1 AND ($2 = '' OR asset = $2)
	`, userID, asset)

	var sum float64
	if err := row.Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

func (s *Store) GetBalance(ctx context.Context, userID string) (wallet.Balance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, live_usd, demo_usd, tournament_usd, updated_at
		FROM user_balances
		WHERE user_id = $1
	`, userID)

	var balance wallet.Balance
	if err := row.Scan(&balance.UserID, &balance.LiveUSD, &balance.DemoUSD, &balance.TournamentUSD, &balance.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return wallet.Balance{UserID: userID}, nil
		}
		return wallet.Balance{}, err
	}
	return balance, nil
}

// --- helpers ----------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (wallet.DepositSession, error) {
	var (
		session wallet.DepositSession
		txHash  sql.NullString
	)
	if err := row.Scan(&session.ID, &session.UserID, &session.CryptoAssetID, &session.Network,
		&session.Address, &session.DerivationPath, &session.AddressIndex, &session.AmountExpected,
		&session.DetectedAmount, &session.Confirmations, &session.MinConfirmations, &session.Status,
		&session.IsLate, &txHash, &session.CreditUSD, &session.ExpiresAt, &session.CreatedAt, &session.UpdatedAt); err != nil {
		return wallet.DepositSession{}, err
	}
	if txHash.Valid {
		session.TxHash = txHash.String
	}
	return session, nil
}

func scanSessions(rows *sql.Rows) ([]wallet.DepositSession, error) {
	var result []wallet.DepositSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, session)
	}
	return result, rows.Err()
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
