package chain

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/tradeos/walletcore/internal/domain/wallet"
)

type rpcCall struct {
	Method string
	Params gjson.Result
}

// rpcServer fakes a JSON-RPC endpoint with canned per-method results.
func rpcServer(t *testing.T, results map[string]interface{}, calls *[]rpcCall) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		method := gjson.GetBytes(body, "method").String()
		if calls != nil {
			*calls = append(*calls, rpcCall{Method: method, Params: gjson.GetBytes(body, "params")})
		}
		result, ok := results[method]
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": 1,
				"error": map[string]interface{}{"code": -32601, "message": "method not found"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": 1, "result": result})
	}))
}

func TestEVMClientDetectFunds(t *testing.T) {
	server := rpcServer(t, map[string]interface{}{
		"eth_getBalance": "0x2386f26fc10000", // 0.01 ether
	}, nil)
	defer server.Close()

	client, err := NewEVMClient(EVMConfig{Network: wallet.NetworkEthereum, Endpoint: server.URL}, nil)
	require.NoError(t, err)

	det, found, err := client.DetectFunds(context.Background(), "0xabc0000000000000000000000000000000000def")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "10000000000000000", det.Amount.String())
	assert.Equal(t, balanceFinality, det.Confirmations)
}

func TestEVMClientDetectFundsEmpty(t *testing.T) {
	server := rpcServer(t, map[string]interface{}{"eth_getBalance": "0x0"}, nil)
	defer server.Close()

	client, err := NewEVMClient(EVMConfig{Network: wallet.NetworkBSC, Endpoint: server.URL}, nil)
	require.NoError(t, err)

	_, found, err := client.DetectFunds(context.Background(), "0xabc0000000000000000000000000000000000def")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEVMClientRPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"backend down"}}`))
	}))
	defer server.Close()

	client, err := NewEVMClient(EVMConfig{Network: wallet.NetworkEthereum, Endpoint: server.URL}, nil)
	require.NoError(t, err)

	_, _, err = client.DetectFunds(context.Background(), "0xabc0000000000000000000000000000000000def")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}

func TestEVMClientMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>gateway error</html>"))
	}))
	defer server.Close()

	client, err := NewEVMClient(EVMConfig{Network: wallet.NetworkEthereum, Endpoint: server.URL}, nil)
	require.NoError(t, err)

	_, _, err = client.DetectFunds(context.Background(), "0xabc0000000000000000000000000000000000def")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

func TestEVMClientLookupTransaction(t *testing.T) {
	server := rpcServer(t, map[string]interface{}{
		"eth_getTransactionByHash": map[string]interface{}{
			"hash":        "0xfeed",
			"to":          "0xabc0000000000000000000000000000000000def",
			"value":       "0x2386f26fc10000",
			"blockNumber": "0x10",
		},
		"eth_blockNumber": "0x1b",
	}, nil)
	defer server.Close()

	client, err := NewEVMClient(EVMConfig{Network: wallet.NetworkEthereum, Endpoint: server.URL}, nil)
	require.NoError(t, err)

	info, err := client.LookupTransaction(context.Background(), "0xfeed")
	require.NoError(t, err)
	assert.Equal(t, "0xabc0000000000000000000000000000000000def", info.To)
	assert.Equal(t, "10000000000000000", info.Amount.String())
	assert.Equal(t, 12, info.Confirmations) // 0x1b - 0x10 + 1
}

func TestEVMClientLookupTransactionNotFound(t *testing.T) {
	server := rpcServer(t, map[string]interface{}{"eth_getTransactionByHash": nil}, nil)
	defer server.Close()

	client, err := NewEVMClient(EVMConfig{Network: wallet.NetworkEthereum, Endpoint: server.URL}, nil)
	require.NoError(t, err)

	_, err = client.LookupTransaction(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, ErrTxNotFound)
}

func TestEVMClientSendNative(t *testing.T) {
	var calls []rpcCall
	server := rpcServer(t, map[string]interface{}{
		"eth_chainId":             "0x1",
		"eth_getTransactionCount": "0x7",
		"eth_gasPrice":            "0x3b9aca00",
		"eth_estimateGas":         "0x5208",
		"eth_sendRawTransaction":  "0xsubmittedhash",
	}, &calls)
	defer server.Close()

	client, err := NewEVMClient(EVMConfig{Network: wallet.NetworkEthereum, Endpoint: server.URL}, nil)
	require.NoError(t, err)

	key := secp256k1.PrivKeyFromBytes([]byte("0123456789abcdef0123456789abcdef"))
	hash, err := client.SendNative(context.Background(), key,
		"0x1110000000000000000000000000000000000111",
		"0x2220000000000000000000000000000000000222",
		big.NewInt(1_000_000_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, "0xsubmittedhash", hash)

	methods := make([]string, 0, len(calls))
	var raw string
	for _, call := range calls {
		methods = append(methods, call.Method)
		if call.Method == "eth_sendRawTransaction" {
			raw = call.Params.Get("0").String()
		}
	}
	assert.Equal(t, []string{"eth_chainId", "eth_getTransactionCount", "eth_gasPrice", "eth_estimateGas", "eth_sendRawTransaction"}, methods)
	require.True(t, strings.HasPrefix(raw, "0x"))
	// Raw payload is an RLP list: first byte must carry the list marker.
	assert.GreaterOrEqual(t, raw[2:4], "c0")
}

func TestEVMClientSendNativeGasEstimateFallback(t *testing.T) {
	var calls []rpcCall
	server := rpcServer(t, map[string]interface{}{
		"eth_chainId":             "0x38",
		"eth_getTransactionCount": "0x0",
		"eth_gasPrice":            "0x3b9aca00",
		// eth_estimateGas intentionally unhandled -> RPC error -> fallback
		"eth_sendRawTransaction": "0xbschash",
	}, &calls)
	defer server.Close()

	client, err := NewEVMClient(EVMConfig{Network: wallet.NetworkBSC, Endpoint: server.URL}, nil)
	require.NoError(t, err)
	client.log.SetOutput(io.Discard)

	key := secp256k1.PrivKeyFromBytes([]byte("0123456789abcdef0123456789abcdef"))
	hash, err := client.SendNative(context.Background(), key,
		"0x1110000000000000000000000000000000000111",
		"0x2220000000000000000000000000000000000222",
		big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, "0xbschash", hash)
}

func TestNewEVMClientValidation(t *testing.T) {
	if _, err := NewEVMClient(EVMConfig{Network: wallet.NetworkEthereum}, nil); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
	if _, err := NewEVMClient(EVMConfig{Network: wallet.NetworkTron, Endpoint: "http://node"}, nil); err == nil {
		t.Fatal("expected error for non-EVM network")
	}
}
