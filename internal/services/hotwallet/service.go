// Package hotwallet sends native-asset transfers signed with derived keys.
package hotwallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/tradeos/walletcore/internal/chain"
	"github.com/tradeos/walletcore/internal/domain/wallet"
	"github.com/tradeos/walletcore/internal/hdkey"
	"github.com/tradeos/walletcore/internal/metrics"
	"github.com/tradeos/walletcore/pkg/logger"
)

// ErrDisabled is returned when hot wallet sending is not enabled.
var ErrDisabled = errors.New("hot wallet sending is disabled")

// Service signs and broadcasts outbound transfers from deposit addresses.
// It is off unless explicitly enabled; nothing else in the system sends funds.
type Service struct {
	enabled  bool
	deriver  *hdkey.Deriver
	registry *chain.Registry
	log      *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates the hot wallet service.
func New(enabled bool, deriver *hdkey.Deriver, registry *chain.Registry, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("hotwallet")
	}
	return &Service{
		enabled:  enabled,
		deriver:  deriver,
		registry: registry,
		log:      log,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Enabled reports whether sending is allowed.
func (s *Service) Enabled() bool { return s.enabled }

// Send transfers amount (smallest units) from the derived address at
// fromIndex to toAddress. The whole nonce-fetch, sign and submit sequence
// holds a per-(network,index) lock; concurrent sends from one key would
// otherwise race for the same nonce.
func (s *Service) Send(ctx context.Context, network wallet.Network, fromIndex uint32, toAddress string, amount *big.Int) (string, error) {
	if !s.enabled {
		return "", ErrDisabled
	}
	if toAddress == "" {
		return "", errors.New("destination address is required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", errors.New("amount must be positive")
	}

	client, err := s.registry.Client(network)
	if err != nil {
		return "", fmt.Errorf("send on %s: %w", network, err)
	}

	key, _, err := s.deriver.DerivePrivateKey(network, fromIndex)
	if err != nil {
		return "", fmt.Errorf("derive key for %s index %d: %w", network, fromIndex, err)
	}
	derivation, err := s.deriver.Derive(network, fromIndex)
	if err != nil {
		return "", err
	}

	lock := s.keyLock(network, fromIndex)
	lock.Lock()
	defer lock.Unlock()

	txHash, err := client.SendNative(ctx, key, derivation.Address, toAddress, amount)
	metrics.RecordHotWalletSend(string(network), err == nil)
	if err != nil {
		s.log.WithError(err).Warnf("send %s from index %d failed", network, fromIndex)
		return "", err
	}

	s.log.WithField("tx_hash", txHash).Infof("sent %s native transfer from index %d to %s", network, fromIndex, toAddress)
	return txHash, nil
}

func (s *Service) keyLock(network wallet.Network, index uint32) *sync.Mutex {
	key := fmt.Sprintf("%s/%d", network, index)
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}
