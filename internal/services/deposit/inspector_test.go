package deposit

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/tradeos/walletcore/internal/chain"
	"github.com/tradeos/walletcore/internal/domain/wallet"
	"github.com/tradeos/walletcore/internal/hdkey"
	"github.com/tradeos/walletcore/internal/storage/memory"
)

func TestInspectorCreditsMatchedTransaction(t *testing.T) {
	store := memory.New()
	session := openSession(t, store, wallet.NetworkEthereum, "0xdeposit", 3, time.Now().UTC().Add(wallet.SessionTTL))

	registry := chain.NewRegistry()
	registry.Register(&fakeClient{
		network:  wallet.NetworkEthereum,
		decimals: 18,
		txs: map[string]chain.TransferInfo{
			"0xtx": {TxHash: "0xtx", To: "0xdeposit", Amount: big.NewInt(250000000000000000), Confirmations: 40},
		},
	})

	inspector := NewInspector(store, registry, &fakeOracle{price: 2000}, NewCreditor(store, nil), 0, nil)
	got, err := inspector.Inspect(context.Background(), wallet.NetworkEthereum, "0xtx")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if got.Status != wallet.StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", got.Status)
	}
	if got.CreditUSD != 500 {
		t.Fatalf("expected 500 USD credit, got %f", got.CreditUSD)
	}
	if got.ID != session.ID {
		t.Fatalf("credited wrong session %s", got.ID)
	}

	// Re-inspecting the same hash is a no-op, not a second credit.
	if _, err := inspector.Inspect(context.Background(), wallet.NetworkEthereum, "0xtx"); err == nil {
		t.Fatal("expected error re-inspecting a settled session")
	}
	balance, _ := store.GetBalance(context.Background(), "user-1")
	if balance.LiveUSD != 500 {
		t.Fatalf("double credit via inspect: %f", balance.LiveUSD)
	}
}

func TestInspectorMatchesLowercasedNodeAddress(t *testing.T) {
	store := memory.New()

	// Sessions carry the deriver's checksum-cased address; nodes report the
	// transaction `to` in all-lowercase hex. The match must survive that.
	derivation, err := hdkey.NewDeriver(testSeed).Derive(wallet.NetworkEthereum, 0)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if derivation.Address == strings.ToLower(derivation.Address) {
		t.Fatalf("expected a mixed-case checksum address, got %s", derivation.Address)
	}
	session := openSession(t, store, wallet.NetworkEthereum, derivation.Address, 3, time.Now().UTC().Add(wallet.SessionTTL))

	registry := chain.NewRegistry()
	registry.Register(&fakeClient{
		network:  wallet.NetworkEthereum,
		decimals: 18,
		txs: map[string]chain.TransferInfo{
			"0xtx": {TxHash: "0xtx", To: strings.ToLower(derivation.Address), Amount: big.NewInt(1000000000000000000), Confirmations: 40},
		},
	})

	inspector := NewInspector(store, registry, &fakeOracle{price: 2000}, NewCreditor(store, nil), 0, nil)
	got, err := inspector.Inspect(context.Background(), wallet.NetworkEthereum, "0xtx")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if got.ID != session.ID {
		t.Fatalf("credited wrong session %s", got.ID)
	}
	if got.Status != wallet.StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", got.Status)
	}
	if got.CreditUSD != 2000 {
		t.Fatalf("expected 2000 USD credit, got %f", got.CreditUSD)
	}
}

func TestInspectorRecordsUnconfirmedDetection(t *testing.T) {
	store := memory.New()
	session := openSession(t, store, wallet.NetworkEthereum, "0xdeposit", 12, time.Now().UTC().Add(wallet.SessionTTL))

	registry := chain.NewRegistry()
	registry.Register(&fakeClient{
		network:  wallet.NetworkEthereum,
		decimals: 18,
		txs: map[string]chain.TransferInfo{
			"0xtx": {TxHash: "0xtx", To: "0xdeposit", Amount: big.NewInt(1000000000000000000), Confirmations: 1},
		},
	})

	inspector := NewInspector(store, registry, &fakeOracle{price: 2000}, NewCreditor(store, nil), 0, nil)
	got, err := inspector.Inspect(context.Background(), wallet.NetworkEthereum, "0xtx")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if got.Status != wallet.StatusDetected {
		t.Fatalf("expected DETECTED, got %s", got.Status)
	}
	if got.ID != session.ID {
		t.Fatalf("detected wrong session %s", got.ID)
	}
}

func TestInspectorUnknownTransaction(t *testing.T) {
	store := memory.New()
	registry := chain.NewRegistry()
	registry.Register(&fakeClient{network: wallet.NetworkEthereum, decimals: 18})

	inspector := NewInspector(store, registry, &fakeOracle{price: 2000}, NewCreditor(store, nil), 0, nil)
	if _, err := inspector.Inspect(context.Background(), wallet.NetworkEthereum, "0xmissing"); !errors.Is(err, chain.ErrTxNotFound) {
		t.Fatalf("expected ErrTxNotFound, got %v", err)
	}
}

func TestInspectorUnsupportedNetwork(t *testing.T) {
	inspector := NewInspector(memory.New(), chain.NewRegistry(), &fakeOracle{price: 1}, NewCreditor(memory.New(), nil), 0, nil)
	if _, err := inspector.Inspect(context.Background(), wallet.NetworkBitcoin, "deadbeef"); !errors.Is(err, chain.ErrUnsupportedNetwork) {
		t.Fatalf("expected ErrUnsupportedNetwork, got %v", err)
	}
}
