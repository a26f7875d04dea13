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
	"golang.org/x/crypto/sha3"

	"github.com/tradeos/walletcore/internal/domain/wallet"
	"github.com/tradeos/walletcore/pkg/logger"
)

const (
	evmDecimals = 18

	// defaultGasLimit is the conservative fallback when gas estimation fails.
	defaultGasLimit = 90000

	// balanceFinality is the confirmation depth a positive balance read is
	// treated as. Balance polling does not track the inbound transaction, so
	// a chain reorganisation could in principle invalidate the balance; the
	// depth is reported high so callers treat the observation as final.
	balanceFinality = 64
)

// EVMClient talks raw JSON-RPC to an account-balance chain endpoint.
// Ethereum and BSC differ only in endpoint and chain id, which is fetched
// from the node rather than configured.
type EVMClient struct {
	network    wallet.Network
	endpoint   string
	httpClient *http.Client
	log        *logger.Logger
}

// EVMConfig configures an EVM client.
type EVMConfig struct {
	Network  wallet.Network
	Endpoint string
	Timeout  time.Duration
}

// NewEVMClient creates a client for one EVM network.
func NewEVMClient(cfg EVMConfig, log *logger.Logger) (*EVMClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("chain: %s RPC endpoint required", cfg.Network)
	}
	if cfg.Network != wallet.NetworkEthereum && cfg.Network != wallet.NetworkBSC {
		return nil, fmt.Errorf("chain: %s is not an EVM network", cfg.Network)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("chain-" + string(cfg.Network))
	}
	return &EVMClient{
		network:    cfg.Network,
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}, nil
}

func (c *EVMClient) Network() wallet.Network { return c.network }
func (c *EVMClient) Decimals() int           { return evmDecimals }

// DetectFunds reads the current native balance of the address. A positive
// balance is a one-shot detection with no tracked transaction hash.
func (c *EVMClient) DetectFunds(ctx context.Context, address string) (Detection, bool, error) {
	result, err := c.call(ctx, "eth_getBalance", address, "latest")
	if err != nil {
		return Detection{}, false, err
	}
	balance, err := hexToBig(result.String())
	if err != nil {
		return Detection{}, false, fmt.Errorf("chain: parse %s balance: %w", c.network, err)
	}
	if balance.Sign() <= 0 {
		return Detection{}, false, nil
	}
	return Detection{Amount: balance, Confirmations: balanceFinality}, true, nil
}

// LookupTransaction resolves a transaction hash to destination, value and
// confirmation depth relative to the chain head.
func (c *EVMClient) LookupTransaction(ctx context.Context, txHash string) (TransferInfo, error) {
	result, err := c.call(ctx, "eth_getTransactionByHash", txHash)
	if err != nil {
		return TransferInfo{}, err
	}
	if !result.Exists() || result.Type == gjson.Null {
		return TransferInfo{}, ErrTxNotFound
	}

	amount, err := hexToBig(result.Get("value").String())
	if err != nil {
		return TransferInfo{}, fmt.Errorf("chain: parse tx value: %w", err)
	}
	info := TransferInfo{
		TxHash: txHash,
		To:     result.Get("to").String(),
		Amount: amount,
	}

	blockHex := result.Get("blockNumber").String()
	if blockHex == "" || blockHex == "null" {
		return info, nil // still pending
	}
	txBlock, err := hexToBig(blockHex)
	if err != nil {
		return TransferInfo{}, fmt.Errorf("chain: parse tx block: %w", err)
	}
	headResult, err := c.call(ctx, "eth_blockNumber")
	if err != nil {
		return TransferInfo{}, err
	}
	head, err := hexToBig(headResult.String())
	if err != nil {
		return TransferInfo{}, fmt.Errorf("chain: parse head block: %w", err)
	}
	depth := new(big.Int).Sub(head, txBlock)
	info.Confirmations = int(depth.Int64()) + 1
	return info, nil
}

// SendNative builds, signs and submits a legacy native transfer. The nonce is
// read from the pending pool; callers must serialise sends per key.
func (c *EVMClient) SendNative(ctx context.Context, key *secp256k1.PrivateKey, from, to string, amount *big.Int) (string, error) {
	chainIDHex, err := c.call(ctx, "eth_chainId")
	if err != nil {
		return "", fmt.Errorf("chain: fetch chain id: %w", err)
	}
	chainID, err := hexToBig(chainIDHex.String())
	if err != nil {
		return "", fmt.Errorf("chain: parse chain id: %w", err)
	}

	nonceHex, err := c.call(ctx, "eth_getTransactionCount", from, "pending")
	if err != nil {
		return "", fmt.Errorf("chain: fetch nonce: %w", err)
	}
	nonce, err := hexToBig(nonceHex.String())
	if err != nil {
		return "", fmt.Errorf("chain: parse nonce: %w", err)
	}

	gasPriceHex, err := c.call(ctx, "eth_gasPrice")
	if err != nil {
		return "", fmt.Errorf("chain: fetch gas price: %w", err)
	}
	gasPrice, err := hexToBig(gasPriceHex.String())
	if err != nil {
		return "", fmt.Errorf("chain: parse gas price: %w", err)
	}

	gasLimit := uint64(defaultGasLimit)
	estimate, err := c.call(ctx, "eth_estimateGas", map[string]string{
		"from":  from,
		"to":    to,
		"value": "0x" + amount.Text(16),
	})
	if err != nil {
		c.log.WithError(err).Warnf("gas estimation failed; using default limit %d", defaultGasLimit)
	} else if parsed, perr := hexToBig(estimate.String()); perr == nil && parsed.Sign() > 0 {
		gasLimit = parsed.Uint64()
	}

	toBytes, err := decodeAddress(to)
	if err != nil {
		return "", err
	}

	raw, err := signLegacyTx(key, chainID, nonce.Uint64(), gasPrice, gasLimit, toBytes, amount)
	if err != nil {
		return "", err
	}

	txHash, err := c.call(ctx, "eth_sendRawTransaction", "0x"+hex.EncodeToString(raw))
	if err != nil {
		return "", fmt.Errorf("chain: submit transaction: %w", err)
	}
	return txHash.String(), nil
}

// call performs a single JSON-RPC request and returns the result field.
func (c *EVMClient) call(ctx context.Context, method string, params ...interface{}) (gjson.Result, error) {
	if params == nil {
		params = []interface{}{}
	}
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return gjson.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("chain: %s %s: %w", c.network, method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("chain: read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("chain: %s %s returned status %d", c.network, method, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("chain: %s %s returned malformed JSON", c.network, method)
	}
	if rpcErr := gjson.GetBytes(body, "error"); rpcErr.Exists() {
		return gjson.Result{}, fmt.Errorf("chain: %s %s: %s", c.network, method, rpcErr.Get("message").String())
	}
	return gjson.GetBytes(body, "result"), nil
}

// signLegacyTx signs an EIP-155 legacy transaction and returns the raw
// RLP-encoded bytes ready for eth_sendRawTransaction.
func signLegacyTx(key *secp256k1.PrivateKey, chainID *big.Int, nonce uint64, gasPrice *big.Int, gasLimit uint64, to []byte, value *big.Int) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("chain: signing key required")
	}
	if len(to) != 20 {
		return nil, fmt.Errorf("chain: destination must be 20 bytes, got %d", len(to))
	}

	fields := func(dst []byte) []byte {
		dst = rlpAppendUint64(dst, nonce)
		dst = rlpAppendBig(dst, gasPrice)
		dst = rlpAppendUint64(dst, gasLimit)
		dst = rlpAppendBytes(dst, to)
		dst = rlpAppendBig(dst, value)
		dst = rlpAppendBytes(dst, nil) // no calldata for native transfers
		return dst
	}

	sighashPayload := fields(nil)
	sighashPayload = rlpAppendBig(sighashPayload, chainID)
	sighashPayload = rlpAppendUint64(sighashPayload, 0)
	sighashPayload = rlpAppendUint64(sighashPayload, 0)

	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(rlpWrapList(sighashPayload))
	sighash := hasher.Sum(nil)

	// SignCompact yields [recovery+27][R][S].
	compact := secpecdsa.SignCompact(key, sighash, false)
	recID := int64(compact[0]) - 27
	r := new(big.Int).SetBytes(compact[1:33])
	s := new(big.Int).SetBytes(compact[33:65])
	v := new(big.Int).Add(new(big.Int).Mul(chainID, big.NewInt(2)), big.NewInt(35+recID))

	signedPayload := fields(nil)
	signedPayload = rlpAppendBig(signedPayload, v)
	signedPayload = rlpAppendBig(signedPayload, r)
	signedPayload = rlpAppendBig(signedPayload, s)
	return rlpWrapList(signedPayload), nil
}

func decodeAddress(address string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(address), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("chain: address must be hex: %w", err)
	}
	if len(decoded) != 20 {
		return nil, fmt.Errorf("chain: address must be 20 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

func hexToBig(raw string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", raw)
	}
	return value, nil
}
