// Package deposit implements deposit session management, chain watching and
// ledger crediting.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradeos/walletcore/internal/domain/wallet"
	"github.com/tradeos/walletcore/internal/hdkey"
	"github.com/tradeos/walletcore/internal/metrics"
	"github.com/tradeos/walletcore/internal/storage"
	"github.com/tradeos/walletcore/pkg/logger"
)

// PriceQuoter supplies USD quotes for native network assets.
type PriceQuoter interface {
	QuoteUSD(ctx context.Context, network wallet.Network) (float64, error)
}

// Service manages deposit session lifecycle.
type Service struct {
	assets   storage.AssetStore
	deposits storage.DepositStore
	deriver  *hdkey.Deriver
	log      *logger.Logger
}

// NewService creates a deposit session service.
func NewService(assets storage.AssetStore, deposits storage.DepositStore, deriver *hdkey.Deriver, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("deposit")
	}
	return &Service{assets: assets, deposits: deposits, deriver: deriver, log: log}
}

// CreateSession opens a 30-minute deposit session for the user on the asset's
// network. The address index is reserved atomically through the store, so
// concurrent calls never share an address.
func (s *Service) CreateSession(ctx context.Context, userID, assetID string, amountExpected float64) (wallet.DepositSession, error) {
	if userID == "" {
		return wallet.DepositSession{}, errors.New("user id is required")
	}
	if amountExpected < 0 {
		return wallet.DepositSession{}, errors.New("amount expected cannot be negative")
	}

	asset, err := s.assets.GetAsset(ctx, assetID)
	if err != nil {
		return wallet.DepositSession{}, fmt.Errorf("load asset %s: %w", assetID, err)
	}
	if !asset.Active {
		return wallet.DepositSession{}, wallet.ErrAssetInactive
	}

	index, err := s.deposits.ReserveAddressIndex(ctx, asset.Network)
	if err != nil {
		return wallet.DepositSession{}, err
	}

	derivation, err := s.deriver.Derive(asset.Network, index)
	if err != nil {
		return wallet.DepositSession{}, fmt.Errorf("derive %s address: %w", asset.Network, err)
	}

	now := time.Now().UTC()
	session, err := s.deposits.CreateDepositSession(ctx, wallet.DepositSession{
		UserID:           userID,
		CryptoAssetID:    asset.ID,
		Network:          asset.Network,
		Address:          derivation.Address,
		DerivationPath:   derivation.Path,
		AddressIndex:     index,
		AmountExpected:   amountExpected,
		MinConfirmations: asset.MinConfirmations,
		Status:           wallet.StatusPending,
		ExpiresAt:        now.Add(wallet.SessionTTL),
	})
	if err != nil {
		return wallet.DepositSession{}, err
	}

	metrics.RecordSessionCreated(string(session.Network))
	s.log.WithField("session_id", session.ID).Infof("deposit session opened for %s on %s index %d", userID, session.Network, index)
	return session, nil
}

// GetSession returns a session owned by the given user.
func (s *Service) GetSession(ctx context.Context, sessionID, userID string) (wallet.DepositSession, error) {
	session, err := s.deposits.GetDepositSession(ctx, sessionID)
	if err != nil {
		return wallet.DepositSession{}, err
	}
	if userID != "" && session.UserID != userID {
		return wallet.DepositSession{}, errors.New("session does not belong to user")
	}
	return session, nil
}

// ListRecent returns the user's most recent sessions, newest first.
func (s *Service) ListRecent(ctx context.Context, userID string, limit int) ([]wallet.DepositSession, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	return s.deposits.ListDepositSessions(ctx, userID, limit)
}

// ListAssets returns the assets deposits can currently be opened for.
func (s *Service) ListAssets(ctx context.Context) ([]wallet.Asset, error) {
	return s.assets.ListAssets(ctx, true)
}
