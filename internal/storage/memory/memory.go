// Package memory provides a thread-safe in-memory implementation of the
// storage interfaces, intended for tests and prototyping.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradeos/walletcore/internal/domain/wallet"
	"github.com/tradeos/walletcore/internal/storage"
)

// Memory implements every storage interface behind a single lock. Credit
// transitions happen inside one lock hold, matching the single-transaction
// guarantee of the SQL store.
type Memory struct {
	mu       sync.RWMutex
	assets   map[string]wallet.Asset
	sessions map[string]wallet.DepositSession
	counters map[wallet.Network]uint32
	ledger   []wallet.LedgerEntry
	balances map[string]wallet.Balance
}

var _ storage.AssetStore = (*Memory)(nil)
var _ storage.DepositStore = (*Memory)(nil)
var _ storage.LedgerStore = (*Memory)(nil)

// New creates an empty in-memory store.
func New() *Memory {
	return &Memory{
		assets:   make(map[string]wallet.Asset),
		sessions: make(map[string]wallet.DepositSession),
		counters: make(map[wallet.Network]uint32),
		balances: make(map[string]wallet.Balance),
	}
}

// --- AssetStore -------------------------------------------------------------

func (m *Memory) CreateAsset(_ context.Context, asset wallet.Asset) (wallet.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if asset.ID == "" {
		asset.ID = uuid.NewString()
	} else if _, exists := m.assets[asset.ID]; exists {
		return wallet.Asset{}, fmt.Errorf("asset %s already exists", asset.ID)
	}
	now := time.Now().UTC()
	asset.CreatedAt = now
	asset.UpdatedAt = now

	m.assets[asset.ID] = asset
	return asset, nil
}

func (m *Memory) GetAsset(_ context.Context, id string) (wallet.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	asset, ok := m.assets[id]
	if !ok {
		return wallet.Asset{}, fmt.Errorf("asset %s not found", id)
	}
	return asset, nil
}

func (m *Memory) ListAssets(_ context.Context, activeOnly bool) ([]wallet.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]wallet.Asset, 0, len(m.assets))
	for _, asset := range m.assets {
		if activeOnly && !asset.Active {
			continue
		}
		result = append(result, asset)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

// --- DepositStore -----------------------------------------------------------

func (m *Memory) CreateDepositSession(_ context.Context, session wallet.DepositSession) (wallet.DepositSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session.ID == "" {
		session.ID = uuid.NewString()
	} else if _, exists := m.sessions[session.ID]; exists {
		return wallet.DepositSession{}, fmt.Errorf("deposit session %s already exists", session.ID)
	}
	bound := wallet.NormalizeAddress(session.Network, session.Address)
	for _, existing := range m.sessions {
		if existing.Network == session.Network && wallet.NormalizeAddress(existing.Network, existing.Address) == bound && !existing.Status.Terminal() {
			return wallet.DepositSession{}, fmt.Errorf("address %s already bound to active session %s", session.Address, existing.ID)
		}
	}

	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	m.sessions[session.ID] = session
	return session, nil
}

func (m *Memory) GetDepositSession(_ context.Context, id string) (wallet.DepositSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return wallet.DepositSession{}, fmt.Errorf("deposit session %s not found", id)
	}
	return session, nil
}

func (m *Memory) ListDepositSessions(_ context.Context, userID string, limit int) ([]wallet.DepositSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]wallet.DepositSession, 0)
	for _, session := range m.sessions {
		if userID == "" || session.UserID == userID {
			result = append(result, session)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) ListOpenDepositSessions(_ context.Context) ([]wallet.DepositSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]wallet.DepositSession, 0)
	for _, session := range m.sessions {
		if session.Status == wallet.StatusPending || session.Status == wallet.StatusDetected {
			result = append(result, session)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) FindOpenSessionByAddress(_ context.Context, network wallet.Network, address string) (wallet.DepositSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := wallet.NormalizeAddress(network, address)
	for _, session := range m.sessions {
		if session.Network == network && wallet.NormalizeAddress(network, session.Address) == want && !session.Status.Terminal() {
			return session, nil
		}
	}
	return wallet.DepositSession{}, fmt.Errorf("no open session for address %s on %s", address, network)
}

func (m *Memory) ReserveAddressIndex(_ context.Context, network wallet.Network) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := m.counters[network]
	m.counters[network] = index + 1
	return index, nil
}

func (m *Memory) MarkSessionDetected(_ context.Context, id string, amount float64, confirmations int, txHash string) (wallet.DepositSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return wallet.DepositSession{}, fmt.Errorf("deposit session %s not found", id)
	}
	if session.Status != wallet.StatusPending && session.Status != wallet.StatusDetected {
		return wallet.DepositSession{}, fmt.Errorf("mark detected %s: %w", id, wallet.ErrSessionTerminal)
	}

	session.Status = wallet.StatusDetected
	session.DetectedAmount = amount
	session.Confirmations = confirmations
	if txHash != "" {
		session.TxHash = txHash
	}
	session.UpdatedAt = time.Now().UTC()

	m.sessions[id] = session
	return session, nil
}

func (m *Memory) MarkSessionExpired(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("deposit session %s not found", id)
	}
	if session.Status != wallet.StatusPending {
		return fmt.Errorf("expire %s from %s: %w", id, session.Status, wallet.ErrSessionTerminal)
	}

	session.Status = wallet.StatusExpired
	session.UpdatedAt = time.Now().UTC()
	m.sessions[id] = session
	return nil
}

func (m *Memory) FailSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("deposit session %s not found", id)
	}
	if session.Status.Terminal() {
		return fmt.Errorf("fail %s from %s: %w", id, session.Status, wallet.ErrSessionTerminal)
	}

	session.Status = wallet.StatusFailed
	session.UpdatedAt = time.Now().UTC()
	m.sessions[id] = session
	return nil
}

func (m *Memory) CreditDeposit(_ context.Context, params storage.CreditParams) (storage.CreditOutcome, error) {
	if !params.Status.Credited() {
		return storage.CreditOutcome{}, fmt.Errorf("credit status must be CONFIRMED or LATE_CONFIRMED, got %s", params.Status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[params.SessionID]
	if !ok {
		return storage.CreditOutcome{}, fmt.Errorf("deposit session %s not found", params.SessionID)
	}
	if session.Status.Credited() {
		return storage.CreditOutcome{Session: session, AlreadyCredited: true}, nil
	}
	if session.Status.Terminal() {
		return storage.CreditOutcome{}, fmt.Errorf("credit %s from %s: %w", params.SessionID, session.Status, wallet.ErrSessionTerminal)
	}

	now := time.Now().UTC()
	session.Status = params.Status
	session.DetectedAmount = params.DetectedAmount
	session.Confirmations = params.Confirmations
	session.TxHash = params.TxHash
	session.IsLate = params.IsLate
	session.CreditUSD = params.CreditUSD
	session.UpdatedAt = now
	m.sessions[session.ID] = session

	entry := wallet.LedgerEntry{
		ID:        uuid.NewString(),
		UserID:    session.UserID,
		Type:      wallet.LedgerDeposit,
		Asset:     "USD",
		Amount:    params.CreditUSD,
		Metadata:  copyMap(params.Metadata),
		CreatedAt: now,
	}
	m.ledger = append(m.ledger, entry)

	balance := m.balances[session.UserID]
	balance.UserID = session.UserID
	balance.LiveUSD += params.CreditUSD
	balance.UpdatedAt = now
	m.balances[session.UserID] = balance

	return storage.CreditOutcome{Session: session, Entry: entry}, nil
}

// --- LedgerStore ------------------------------------------------------------

func (m *Memory) CreateLedgerEntry(_ context.Context, entry wallet.LedgerEntry) (wallet.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Metadata = copyMap(entry.Metadata)
	entry.CreatedAt = time.Now().UTC()
	m.ledger = append(m.ledger, entry)

	balance := m.balances[entry.UserID]
	balance.UserID = entry.UserID
	balance.LiveUSD += entry.Amount
	balance.UpdatedAt = entry.CreatedAt
	m.balances[entry.UserID] = balance

	return entry, nil
}

func (m *Memory) ListLedgerEntries(_ context.Context, userID string, limit int) ([]wallet.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]wallet.LedgerEntry, 0)
	for i := len(m.ledger) - 1; i >= 0; i-- {
		if userID == "" || m.ledger[i].UserID == userID {
			result = append(result, m.ledger[i])
		}
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) SumLedger(_ context.Context, userID, asset string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum float64
	for _, entry := range m.ledger {
		if entry.UserID == userID && (asset == "" || entry.Asset == asset) {
			sum += entry.Amount
		}
	}
	return sum, nil
}

func (m *Memory) GetBalance(_ context.Context, userID string) (wallet.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balance, ok := m.balances[userID]
	if !ok {
		return wallet.Balance{UserID: userID}, nil
	}
	return balance, nil
}

func copyMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
