// Package wallet defines the entities shared by the deposit and settlement
// services: chain networks, crypto assets, deposit sessions, the append-only
// wallet ledger and the cached per-user balances.
package wallet

import (
	"errors"
	"strings"
	"time"
)

// Network identifies a supported chain.
type Network string

const (
	NetworkBitcoin  Network = "bitcoin"
	NetworkEthereum Network = "ethereum"
	NetworkBSC      Network = "bsc"
	NetworkTron     Network = "tron"
)

// Networks lists every supported network.
func Networks() []Network {
	return []Network{NetworkBitcoin, NetworkEthereum, NetworkBSC, NetworkTron}
}

// ParseNetwork validates a raw network name.
func ParseNetwork(raw string) (Network, error) {
	switch Network(raw) {
	case NetworkBitcoin, NetworkEthereum, NetworkBSC, NetworkTron:
		return Network(raw), nil
	}
	return "", errors.New("unknown network: " + raw)
}

// NormalizeAddress canonicalizes an address for matching. EVM addresses are
// hex and case-insensitive (sessions store the checksum casing while nodes
// report all-lowercase), so they compare lowercased. Base58 addresses are
// case-significant and pass through unchanged.
func NormalizeAddress(network Network, address string) string {
	switch network {
	case NetworkEthereum, NetworkBSC:
		return strings.ToLower(address)
	}
	return address
}

// SessionStatus is the deposit session state machine state.
type SessionStatus string

const (
	StatusPending       SessionStatus = "PENDING"
	StatusDetected      SessionStatus = "DETECTED"
	StatusConfirmed     SessionStatus = "CONFIRMED"
	StatusLateConfirmed SessionStatus = "LATE_CONFIRMED"
	StatusExpired       SessionStatus = "EXPIRED"
	StatusFailed        SessionStatus = "FAILED"
)

// Terminal reports whether a session in this status is immutable.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusLateConfirmed, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// Credited reports whether this status carries a ledger credit.
func (s SessionStatus) Credited() bool {
	return s == StatusConfirmed || s == StatusLateConfirmed
}

// Asset is a depositable crypto asset. Maintained by configuration and
// read-only to the deposit core.
type Asset struct {
	ID               string    `json:"id"`
	Symbol           string    `json:"symbol"`
	Network          Network   `json:"network"`
	MinConfirmations int       `json:"min_confirmations"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DepositSession tracks one deposit attempt from address assignment through
// crediting or expiry. SessionTTL past creation the session expires if no
// funds were seen.
type DepositSession struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	CryptoAssetID    string        `json:"crypto_asset_id"`
	Network          Network       `json:"network"`
	Address          string        `json:"address"`
	DerivationPath   string        `json:"derivation_path"`
	AddressIndex     uint32        `json:"address_index"`
	AmountExpected   float64       `json:"amount_expected"`
	DetectedAmount   float64       `json:"detected_amount"`
	Confirmations    int           `json:"confirmations"`
	MinConfirmations int           `json:"min_confirmations"`
	Status           SessionStatus `json:"status"`
	IsLate           bool          `json:"is_late"`
	TxHash           string        `json:"tx_hash,omitempty"`
	CreditUSD        float64       `json:"credit_usd"`
	ExpiresAt        time.Time     `json:"expires_at"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// SessionTTL is the fixed deposit session lifetime.
const SessionTTL = 30 * time.Minute

// Expired reports whether the session expiry has passed at t.
func (s DepositSession) Expired(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

// LedgerEntryType classifies wallet ledger entries.
type LedgerEntryType string

const (
	LedgerDeposit    LedgerEntryType = "DEPOSIT"
	LedgerEscrowHold LedgerEntryType = "ESCROW_HOLD"
	LedgerAdjust     LedgerEntryType = "ADJUST"
)

// LedgerEntry is an immutable audit record. The ledger is the source of
// truth; cached balances must stay re-derivable from its sum.
type LedgerEntry struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Type      LedgerEntryType   `json:"type"`
	Asset     string            `json:"asset"`
	Amount    float64           `json:"amount"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Balance is the cached per-user balance projection. It is mutated only by
// atomic increments paired with a ledger entry in the same transaction.
type Balance struct {
	UserID        string    `json:"user_id"`
	LiveUSD       float64   `json:"live_usd"`
	DemoUSD       float64   `json:"demo_usd"`
	TournamentUSD float64   `json:"tournament_usd"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Sentinel errors shared across stores and services.
var (
	// ErrAssetInactive rejects session creation for a disabled asset.
	ErrAssetInactive = errors.New("asset is not active")
	// ErrSessionTerminal rejects mutations of sessions in a terminal status.
	ErrSessionTerminal = errors.New("deposit session is in a terminal status")
	// ErrAlreadyCredited signals an idempotent no-op credit.
	ErrAlreadyCredited = errors.New("deposit session already credited")
)
