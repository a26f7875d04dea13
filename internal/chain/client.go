// Package chain provides per-network clients for inbound deposit detection
// and outbound native transfers. Clients are selected through a static
// registry built at configuration time; nothing is loaded dynamically.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/tradeos/walletcore/internal/domain/wallet"
)

// ErrUnsupportedNetwork is returned when no client is registered for a
// network. Bitcoin deposit detection is a known, documented gap.
var ErrUnsupportedNetwork = errors.New("chain: no client registered for network")

// ErrTxNotFound is returned when a transaction hash cannot be resolved.
var ErrTxNotFound = errors.New("chain: transaction not found")

// Detection describes funds observed at a watched address.
type Detection struct {
	// Amount in the chain's smallest unit (wei, sun).
	Amount *big.Int
	// TxHash of the inbound transfer if the strategy tracks one. Balance
	// polling strategies leave it empty.
	TxHash string
	// Confirmations known for the detection. Balance polling strategies
	// report the depth they were asked to treat as final.
	Confirmations int
}

// TransferInfo describes a looked-up on-chain transfer.
type TransferInfo struct {
	TxHash        string
	To            string
	Amount        *big.Int
	Confirmations int
}

// Client is the per-network chain access interface.
type Client interface {
	Network() wallet.Network
	// Decimals is the exponent converting the smallest unit to one native coin.
	Decimals() int
	// DetectFunds checks a deposit address for incoming funds. found is false
	// when the address has no balance yet.
	DetectFunds(ctx context.Context, address string) (det Detection, found bool, err error)
	// LookupTransaction resolves a transaction hash to its destination and
	// amount, used by the operator inspect path.
	LookupTransaction(ctx context.Context, txHash string) (TransferInfo, error)
	// SendNative signs a native transfer locally with the given key and
	// submits it, returning the transaction hash.
	SendNative(ctx context.Context, key *secp256k1.PrivateKey, from, to string, amount *big.Int) (string, error)
}

// Registry maps networks to their configured clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[wallet.Network]Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[wallet.Network]Client)}
}

// Register adds a client for its network, replacing any previous one.
func (r *Registry) Register(client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.Network()] = client
}

// Client returns the client for a network.
func (r *Registry) Client(network wallet.Network) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, network)
	}
	return client, nil
}

// Networks lists networks with a registered client.
func (r *Registry) Networks() []wallet.Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]wallet.Network, 0, len(r.clients))
	for network := range r.clients {
		out = append(out, network)
	}
	return out
}

// NativeAmount converts a smallest-unit amount to native coin units.
func NativeAmount(amount *big.Int, decimals int) float64 {
	if amount == nil {
		return 0
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), scale).Float64()
	return value
}

// SmallestUnit converts a native coin amount to the chain's smallest unit,
// truncating any sub-unit remainder.
func SmallestUnit(amount float64, decimals int) *big.Int {
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	scaled := new(big.Float).Mul(big.NewFloat(amount), scale)
	out, _ := scaled.Int(nil)
	return out
}
