package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/tidwall/gjson"

	"github.com/tradeos/walletcore/internal/domain/wallet"
	"github.com/tradeos/walletcore/pkg/logger"
)

const tronDecimals = 6 // 1 TRX = 1_000_000 sun

// TronClient talks to a Tron full-node compatible REST API.
type TronClient struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

// TronConfig configures a Tron client.
type TronConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewTronClient creates a Tron REST client.
func NewTronClient(cfg TronConfig, log *logger.Logger) (*TronClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("chain: tron API endpoint required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("chain-tron")
	}
	return &TronClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}, nil
}

func (c *TronClient) Network() wallet.Network { return wallet.NetworkTron }
func (c *TronClient) Decimals() int           { return tronDecimals }

// DetectFunds reads the account balance in sun. An unactivated account comes
// back as an empty object, which means no funds have arrived yet.
func (c *TronClient) DetectFunds(ctx context.Context, address string) (Detection, bool, error) {
	body, err := c.post(ctx, "/wallet/getaccount", map[string]interface{}{
		"address": address,
		"visible": true,
	})
	if err != nil {
		return Detection{}, false, err
	}
	balance := gjson.GetBytes(body, "balance").Int()
	if balance <= 0 {
		return Detection{}, false, nil
	}
	return Detection{Amount: big.NewInt(balance), Confirmations: balanceFinality}, true, nil
}

// LookupTransaction resolves a transaction id to its transfer contract
// destination and amount, with a confirmation depth from the solidity info.
func (c *TronClient) LookupTransaction(ctx context.Context, txHash string) (TransferInfo, error) {
	body, err := c.post(ctx, "/wallet/gettransactionbyid", map[string]interface{}{
		"value":   txHash,
		"visible": true,
	})
	if err != nil {
		return TransferInfo{}, err
	}
	if !gjson.GetBytes(body, "raw_data").Exists() {
		return TransferInfo{}, ErrTxNotFound
	}

	contract := gjson.GetBytes(body, "raw_data.contract.0.parameter.value")
	info := TransferInfo{
		TxHash: txHash,
		To:     contract.Get("to_address").String(),
		Amount: big.NewInt(contract.Get("amount").Int()),
	}

	infoBody, err := c.post(ctx, "/wallet/gettransactioninfobyid", map[string]interface{}{
		"value": txHash,
	})
	if err != nil {
		return TransferInfo{}, err
	}
	txBlock := gjson.GetBytes(infoBody, "blockNumber").Int()
	if txBlock == 0 {
		return info, nil // not yet included
	}

	headBody, err := c.post(ctx, "/wallet/getnowblock", map[string]interface{}{})
	if err != nil {
		return TransferInfo{}, err
	}
	head := gjson.GetBytes(headBody, "block_header.raw_data.number").Int()
	if head >= txBlock {
		info.Confirmations = int(head-txBlock) + 1
	}
	return info, nil
}

// SendNative builds a TRX transfer through the node, signs the transaction id
// locally and broadcasts the signed transaction.
func (c *TronClient) SendNative(ctx context.Context, key *secp256k1.PrivateKey, from, to string, amount *big.Int) (string, error) {
	if key == nil {
		return "", fmt.Errorf("chain: signing key required")
	}

	created, err := c.post(ctx, "/wallet/createtransaction", map[string]interface{}{
		"owner_address": from,
		"to_address":    to,
		"amount":        amount.Int64(),
		"visible":       true,
	})
	if err != nil {
		return "", err
	}
	if errMsg := gjson.GetBytes(created, "Error"); errMsg.Exists() {
		return "", fmt.Errorf("chain: create tron transaction: %s", errMsg.String())
	}
	txID := gjson.GetBytes(created, "txID").String()
	if txID == "" {
		return "", fmt.Errorf("chain: create tron transaction: missing txID")
	}

	// The txID is the sha256 of raw_data and doubles as the signing hash.
	digest, err := hex.DecodeString(txID)
	if err != nil || len(digest) != 32 {
		return "", fmt.Errorf("chain: invalid tron txID %q", txID)
	}

	// Tron expects r || s || recovery.
	compact := secpecdsa.SignCompact(key, digest, false)
	signature := make([]byte, 65)
	copy(signature[:64], compact[1:65])
	signature[64] = compact[0] - 27

	var tx map[string]interface{}
	if err := json.Unmarshal(created, &tx); err != nil {
		return "", fmt.Errorf("chain: decode created transaction: %w", err)
	}
	tx["signature"] = []string{hex.EncodeToString(signature)}

	result, err := c.post(ctx, "/wallet/broadcasttransaction", tx)
	if err != nil {
		return "", err
	}
	if !gjson.GetBytes(result, "result").Bool() {
		code := gjson.GetBytes(result, "code").String()
		message := gjson.GetBytes(result, "message").String()
		return "", fmt.Errorf("chain: broadcast tron transaction: %s %s", code, message)
	}
	return txID, nil
}

func (c *TronClient) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chain: tron %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("chain: read tron response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chain: tron %s returned status %d", path, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("chain: tron %s returned malformed JSON", path)
	}
	return body, nil
}
