package chain

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func tronServer(t *testing.T, handlers map[string]func(body []byte) interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		handler, ok := handlers[r.URL.Path]
		if !ok {
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(handler(body))
	}))
}

func TestTronClientDetectFunds(t *testing.T) {
	server := tronServer(t, map[string]func([]byte) interface{}{
		"/wallet/getaccount": func(body []byte) interface{} {
			require.Equal(t, "TKjdnbJLZQmPKAfK4UPcqyxhSKPHhjWTC2", gjson.GetBytes(body, "address").String())
			require.True(t, gjson.GetBytes(body, "visible").Bool())
			return map[string]interface{}{"balance": 2_500_000}
		},
	})
	defer server.Close()

	client, err := NewTronClient(TronConfig{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	det, found, err := client.DetectFunds(context.Background(), "TKjdnbJLZQmPKAfK4UPcqyxhSKPHhjWTC2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(2_500_000), det.Amount.Int64())
}

func TestTronClientDetectFundsUnactivatedAccount(t *testing.T) {
	server := tronServer(t, map[string]func([]byte) interface{}{
		"/wallet/getaccount": func([]byte) interface{} { return map[string]interface{}{} },
	})
	defer server.Close()

	client, err := NewTronClient(TronConfig{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	_, found, err := client.DetectFunds(context.Background(), "TKjdnbJLZQmPKAfK4UPcqyxhSKPHhjWTC2")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTronClientLookupTransaction(t *testing.T) {
	server := tronServer(t, map[string]func([]byte) interface{}{
		"/wallet/gettransactionbyid": func([]byte) interface{} {
			return map[string]interface{}{
				"txID": "aa11",
				"raw_data": map[string]interface{}{
					"contract": []interface{}{map[string]interface{}{
						"parameter": map[string]interface{}{
							"value": map[string]interface{}{
								"to_address": "TKjdnbJLZQmPKAfK4UPcqyxhSKPHhjWTC2",
								"amount":     7_000_000,
							},
						},
					}},
				},
			}
		},
		"/wallet/gettransactioninfobyid": func([]byte) interface{} {
			return map[string]interface{}{"blockNumber": 100}
		},
		"/wallet/getnowblock": func([]byte) interface{} {
			return map[string]interface{}{
				"block_header": map[string]interface{}{
					"raw_data": map[string]interface{}{"number": 119},
				},
			}
		},
	})
	defer server.Close()

	client, err := NewTronClient(TronConfig{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	info, err := client.LookupTransaction(context.Background(), "aa11")
	require.NoError(t, err)
	assert.Equal(t, "TKjdnbJLZQmPKAfK4UPcqyxhSKPHhjWTC2", info.To)
	assert.Equal(t, int64(7_000_000), info.Amount.Int64())
	assert.Equal(t, 20, info.Confirmations)
}

func TestTronClientLookupTransactionNotFound(t *testing.T) {
	server := tronServer(t, map[string]func([]byte) interface{}{
		"/wallet/gettransactionbyid": func([]byte) interface{} { return map[string]interface{}{} },
	})
	defer server.Close()

	client, err := NewTronClient(TronConfig{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	_, err = client.LookupTransaction(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, ErrTxNotFound)
}

func TestTronClientSendNative(t *testing.T) {
	const txID = "3c4f3a17cda06b69f3a2e2ef0f6b6f53a9fe29a9b0ed5f7a3de3f6cba2f20d10"

	var broadcastBody []byte
	server := tronServer(t, map[string]func([]byte) interface{}{
		"/wallet/createtransaction": func(body []byte) interface{} {
			require.Equal(t, int64(5_000_000), gjson.GetBytes(body, "amount").Int())
			return map[string]interface{}{
				"txID": txID,
				"raw_data": map[string]interface{}{
					"expiration": 1,
				},
			}
		},
		"/wallet/broadcasttransaction": func(body []byte) interface{} {
			broadcastBody = append([]byte(nil), body...)
			return map[string]interface{}{"result": true}
		},
	})
	defer server.Close()

	client, err := NewTronClient(TronConfig{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	key := secp256k1.PrivKeyFromBytes([]byte("0123456789abcdef0123456789abcdef"))
	hash, err := client.SendNative(context.Background(), key,
		"TVDGpn4hCSzJ5nkHPLetk8KQBtwaTppnkr", "TKjdnbJLZQmPKAfK4UPcqyxhSKPHhjWTC2", big.NewInt(5_000_000))
	require.NoError(t, err)
	assert.Equal(t, txID, hash)

	signature := gjson.GetBytes(broadcastBody, "signature.0").String()
	assert.Len(t, signature, 130) // 65 bytes hex
	assert.Equal(t, txID, gjson.GetBytes(broadcastBody, "txID").String())
}

func TestTronClientBroadcastRejected(t *testing.T) {
	server := tronServer(t, map[string]func([]byte) interface{}{
		"/wallet/createtransaction": func([]byte) interface{} {
			return map[string]interface{}{
				"txID":     "3c4f3a17cda06b69f3a2e2ef0f6b6f53a9fe29a9b0ed5f7a3de3f6cba2f20d10",
				"raw_data": map[string]interface{}{},
			}
		},
		"/wallet/broadcasttransaction": func([]byte) interface{} {
			return map[string]interface{}{"result": false, "code": "BANDWITH_ERROR", "message": "6e6f206261"}
		},
	})
	defer server.Close()

	client, err := NewTronClient(TronConfig{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	key := secp256k1.PrivKeyFromBytes([]byte("0123456789abcdef0123456789abcdef"))
	_, err = client.SendNative(context.Background(), key,
		"TVDGpn4hCSzJ5nkHPLetk8KQBtwaTppnkr", "TKjdnbJLZQmPKAfK4UPcqyxhSKPHhjWTC2", big.NewInt(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BANDWITH_ERROR")
}
