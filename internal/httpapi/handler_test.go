package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/tradeos/walletcore/internal/chain"
	"github.com/tradeos/walletcore/internal/domain/wallet"
	"github.com/tradeos/walletcore/internal/hdkey"
	"github.com/tradeos/walletcore/internal/services/deposit"
	"github.com/tradeos/walletcore/internal/services/hotwallet"
	"github.com/tradeos/walletcore/internal/storage/memory"
)

type stubClient struct {
	network wallet.Network
	txs     map[string]chain.TransferInfo
}

func (c *stubClient) Network() wallet.Network { return c.network }
func (c *stubClient) Decimals() int           { return 18 }

func (c *stubClient) DetectFunds(ctx context.Context, address string) (chain.Detection, bool, error) {
	return chain.Detection{}, false, nil
}

func (c *stubClient) LookupTransaction(ctx context.Context, txHash string) (chain.TransferInfo, error) {
	info, ok := c.txs[txHash]
	if !ok {
		return chain.TransferInfo{}, chain.ErrTxNotFound
	}
	return info, nil
}

func (c *stubClient) SendNative(ctx context.Context, key *secp256k1.PrivateKey, from, to string, amount *big.Int) (string, error) {
	return "0xbroadcast", nil
}

type stubOracle struct{ price float64 }

func (o *stubOracle) QuoteUSD(ctx context.Context, network wallet.Network) (float64, error) {
	return o.price, nil
}

type fixture struct {
	handler http.Handler
	store   *memory.Memory
	asset   wallet.Asset
	client  *stubClient
}

func newFixture(t *testing.T, hotWalletEnabled bool) *fixture {
	t.Helper()
	store := memory.New()
	asset, err := store.CreateAsset(context.Background(), wallet.Asset{
		Symbol:           "ETH",
		Network:          wallet.NetworkEthereum,
		MinConfirmations: 3,
		Active:           true,
	})
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}

	deriver := hdkey.NewDeriver([]byte("0123456789abcdef0123456789abcdef"))
	client := &stubClient{network: wallet.NetworkEthereum, txs: map[string]chain.TransferInfo{}}
	registry := chain.NewRegistry()
	registry.Register(client)

	creditor := deposit.NewCreditor(store, nil)
	handler := NewHandler(API{
		Deposits:  deposit.NewService(store, store, deriver, nil),
		Inspector: deposit.NewInspector(store, registry, &stubOracle{price: 2000}, creditor, 0, nil),
		HotWallet: hotwallet.New(hotWalletEnabled, deriver, registry, nil),
		Ledger:    store,
	})
	return &fixture{handler: handler, store: store, asset: asset, client: client}
}

func (f *fixture) do(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, body)
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	return resp
}

func TestDepositLifecycle(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPost, "/deposits", map[string]any{
		"user_id":         "user-1",
		"asset_id":        f.asset.ID,
		"amount_expected": 0.5,
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var session wallet.DepositSession
	if err := json.Unmarshal(resp.Body.Bytes(), &session); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if session.Status != wallet.StatusPending {
		t.Fatalf("expected PENDING, got %s", session.Status)
	}

	resp = f.do(t, http.MethodGet, "/deposits/"+session.ID+"?user_id=user-1", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp = f.do(t, http.MethodGet, "/deposits/"+session.ID+"?user_id=user-2", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign user, got %d", resp.Code)
	}

	resp = f.do(t, http.MethodGet, "/users/user-1/deposits?limit=10", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var sessions []wallet.DepositSession
	if err := json.Unmarshal(resp.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("unmarshal sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
}

func TestDepositValidation(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPost, "/deposits", map[string]any{"asset_id": f.asset.ID})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without user, got %d", resp.Code)
	}

	resp = f.do(t, http.MethodPost, "/deposits", map[string]any{"user_id": "u", "asset_id": "missing"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown asset, got %d", resp.Code)
	}

	resp = f.do(t, http.MethodGet, "/deposits", nil)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}

func TestListAssets(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodGet, "/assets", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var assets []wallet.Asset
	if err := json.Unmarshal(resp.Body.Bytes(), &assets); err != nil {
		t.Fatalf("unmarshal assets: %v", err)
	}
	if len(assets) != 1 || assets[0].Symbol != "ETH" {
		t.Fatalf("unexpected assets %+v", assets)
	}
}

func TestAdminInspectCreditsSession(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPost, "/deposits", map[string]any{"user_id": "user-1", "asset_id": f.asset.ID})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	var session wallet.DepositSession
	if err := json.Unmarshal(resp.Body.Bytes(), &session); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}

	f.client.txs["0xtx"] = chain.TransferInfo{
		TxHash:        "0xtx",
		To:            session.Address,
		Amount:        big.NewInt(1000000000000000000),
		Confirmations: 40,
	}

	resp = f.do(t, http.MethodPost, "/admin/inspect", map[string]any{"network": "ethereum", "tx_hash": "0xtx"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var credited wallet.DepositSession
	if err := json.Unmarshal(resp.Body.Bytes(), &credited); err != nil {
		t.Fatalf("unmarshal credited session: %v", err)
	}
	if credited.Status != wallet.StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", credited.Status)
	}
	if credited.CreditUSD != 2000 {
		t.Fatalf("expected 2000 USD, got %f", credited.CreditUSD)
	}

	resp = f.do(t, http.MethodGet, "/users/user-1/balance", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var balance wallet.Balance
	if err := json.Unmarshal(resp.Body.Bytes(), &balance); err != nil {
		t.Fatalf("unmarshal balance: %v", err)
	}
	if balance.LiveUSD != 2000 {
		t.Fatalf("expected balance 2000, got %f", balance.LiveUSD)
	}

	resp = f.do(t, http.MethodGet, "/users/user-1/ledger", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var entries []wallet.LedgerEntry
	if err := json.Unmarshal(resp.Body.Bytes(), &entries); err != nil {
		t.Fatalf("unmarshal ledger: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != wallet.LedgerDeposit {
		t.Fatalf("unexpected ledger entries %+v", entries)
	}
}

func TestAdminInspectValidation(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPost, "/admin/inspect", map[string]any{"network": "dogecoin", "tx_hash": "0x1"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown network, got %d", resp.Code)
	}

	resp = f.do(t, http.MethodPost, "/admin/inspect", map[string]any{"network": "ethereum"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without tx hash, got %d", resp.Code)
	}

	resp = f.do(t, http.MethodPost, "/admin/inspect", map[string]any{"network": "ethereum", "tx_hash": "0xmissing"})
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown tx, got %d", resp.Code)
	}
}

func TestHotWalletSendGated(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPost, "/admin/hotwallet/send", map[string]any{
		"network":    "ethereum",
		"from_index": 0,
		"to_address": "0x1111111111111111111111111111111111111111",
		"amount":     "1000",
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when disabled, got %d", resp.Code)
	}
}

func TestHotWalletSendEnabled(t *testing.T) {
	f := newFixture(t, true)

	resp := f.do(t, http.MethodPost, "/admin/hotwallet/send", map[string]any{
		"network":    "ethereum",
		"from_index": 0,
		"to_address": "0x1111111111111111111111111111111111111111",
		"amount":     "1000",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var out map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if out["tx_hash"] != "0xbroadcast" {
		t.Fatalf("unexpected tx hash %q", out["tx_hash"])
	}

	resp = f.do(t, http.MethodPost, "/admin/hotwallet/send", map[string]any{
		"network":    "ethereum",
		"from_index": 0,
		"to_address": "0x1111111111111111111111111111111111111111",
		"amount":     "not-a-number",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad amount, got %d", resp.Code)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, false)
	resp := f.do(t, http.MethodGet, "/healthz", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}
