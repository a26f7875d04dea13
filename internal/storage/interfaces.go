// Package storage defines the persistence interfaces for the deposit core.
// Implementations must uphold the session state machine, the append-only
// ledger and the atomic credit transition.
package storage

import (
	"context"

	"github.com/tradeos/walletcore/internal/domain/wallet"
)

// AssetStore persists depositable crypto assets.
type AssetStore interface {
	CreateAsset(ctx context.Context, asset wallet.Asset) (wallet.Asset, error)
	GetAsset(ctx context.Context, id string) (wallet.Asset, error)
	ListAssets(ctx context.Context, activeOnly bool) ([]wallet.Asset, error)
}

// CreditParams carries the atomic credit transition: session confirmation,
// one DEPOSIT ledger entry and one balance increment, all or nothing.
type CreditParams struct {
	SessionID      string
	Status         wallet.SessionStatus // CONFIRMED or LATE_CONFIRMED
	DetectedAmount float64              // native units
	Confirmations  int
	TxHash         string
	IsLate         bool
	CreditUSD      float64
	Metadata       map[string]string
}

// CreditOutcome reports the result of a credit attempt.
type CreditOutcome struct {
	Session wallet.DepositSession
	Entry   wallet.LedgerEntry
	// AlreadyCredited is set when the session was already in a credited
	// terminal state; the call was a no-op.
	AlreadyCredited bool
}

// DepositStore persists deposit sessions.
type DepositStore interface {
	CreateDepositSession(ctx context.Context, session wallet.DepositSession) (wallet.DepositSession, error)
	GetDepositSession(ctx context.Context, id string) (wallet.DepositSession, error)
	ListDepositSessions(ctx context.Context, userID string, limit int) ([]wallet.DepositSession, error)
	// ListOpenDepositSessions returns sessions in PENDING or DETECTED status.
	ListOpenDepositSessions(ctx context.Context) ([]wallet.DepositSession, error)
	// FindOpenSessionByAddress matches the operator inspect path: an open
	// session on the network bound to the given deposit address. Addresses
	// compare in their wallet.NormalizeAddress form.
	FindOpenSessionByAddress(ctx context.Context, network wallet.Network, address string) (wallet.DepositSession, error)

	// ReserveAddressIndex atomically hands out the next derivation index on
	// a network. Indices are network-scoped because derivation is keyed by
	// (network, index); two concurrent reservations must never return the
	// same index.
	ReserveAddressIndex(ctx context.Context, network wallet.Network) (uint32, error)

	// MarkSessionDetected records observed funds below the confirmation
	// threshold. Valid only from PENDING or DETECTED.
	MarkSessionDetected(ctx context.Context, id string, amount float64, confirmations int, txHash string) (wallet.DepositSession, error)
	// MarkSessionExpired transitions PENDING to EXPIRED.
	MarkSessionExpired(ctx context.Context, id string) error
	// FailSession transitions any non-terminal session to FAILED.
	FailSession(ctx context.Context, id string) error

	// CreditDeposit performs the atomic credit. The status transition is
	// conditional on the session still being PENDING or DETECTED; a session
	// already credited yields AlreadyCredited, and any other terminal status
	// is an integrity error.
	CreditDeposit(ctx context.Context, params CreditParams) (CreditOutcome, error)
}

// LedgerStore reads the append-only wallet ledger and cached balances.
// Ledger writes happen only inside CreditDeposit or CreateLedgerEntry; rows
// are never updated or deleted.
type LedgerStore interface {
	CreateLedgerEntry(ctx context.Context, entry wallet.LedgerEntry) (wallet.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, userID string, limit int) ([]wallet.LedgerEntry, error)
	// SumLedger re-derives a user's balance from the ledger for audit/repair.
	SumLedger(ctx context.Context, userID, asset string) (float64, error)
	GetBalance(ctx context.Context, userID string) (wallet.Balance, error)
}
