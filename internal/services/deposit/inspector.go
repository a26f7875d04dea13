package deposit

import (
	"context"
	"fmt"
	"time"

	"github.com/tradeos/walletcore/internal/chain"
	"github.com/tradeos/walletcore/internal/domain/wallet"
	"github.com/tradeos/walletcore/internal/metrics"
	"github.com/tradeos/walletcore/internal/storage"
	"github.com/tradeos/walletcore/pkg/logger"
)

// Inspector resolves an operator-supplied transaction hash against open
// deposit sessions. It shares the creditor with the watcher, so a manual
// inspect of an already-settled deposit is a harmless no-op.
type Inspector struct {
	deposits    storage.DepositStore
	registry    *chain.Registry
	oracle      PriceQuoter
	creditor    *Creditor
	callTimeout time.Duration
	fallbackUSD float64
	log         *logger.Logger
}

// NewInspector creates a manual deposit inspector.
func NewInspector(deposits storage.DepositStore, registry *chain.Registry, oracle PriceQuoter, creditor *Creditor, fallbackUSD float64, log *logger.Logger) *Inspector {
	if log == nil {
		log = logger.NewDefault("deposit-inspector")
	}
	return &Inspector{
		deposits:    deposits,
		registry:    registry,
		oracle:      oracle,
		creditor:    creditor,
		callTimeout: 10 * time.Second,
		fallbackUSD: fallbackUSD,
		log:         log,
	}
}

// Inspect looks up the transaction on chain, matches its destination to an
// open session and credits it if confirmed.
func (i *Inspector) Inspect(ctx context.Context, network wallet.Network, txHash string) (wallet.DepositSession, error) {
	client, err := i.registry.Client(network)
	if err != nil {
		return wallet.DepositSession{}, fmt.Errorf("inspect %s: %w", network, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, i.callTimeout)
	info, err := client.LookupTransaction(callCtx, txHash)
	cancel()
	if err != nil {
		return wallet.DepositSession{}, fmt.Errorf("lookup %s tx %s: %w", network, txHash, err)
	}

	session, err := i.deposits.FindOpenSessionByAddress(ctx, network, info.To)
	if err != nil {
		return wallet.DepositSession{}, fmt.Errorf("no open session for %s address %s: %w", network, info.To, err)
	}

	amount := chain.NativeAmount(info.Amount, client.Decimals())
	if amount <= 0 {
		return wallet.DepositSession{}, fmt.Errorf("tx %s carries no value for %s", txHash, info.To)
	}
	metrics.RecordDepositDetected(string(network))

	if info.Confirmations < session.MinConfirmations {
		return i.deposits.MarkSessionDetected(ctx, session.ID, amount, info.Confirmations, txHash)
	}

	price, source := i.resolvePrice(ctx, network)
	result, err := i.creditor.Credit(ctx, CreditRequest{
		Session:       session,
		Amount:        amount,
		Confirmations: info.Confirmations,
		TxHash:        txHash,
		PriceUSD:      price,
		PriceSource:   source,
	})
	if err != nil {
		return wallet.DepositSession{}, err
	}
	return result.Session, nil
}

func (i *Inspector) resolvePrice(ctx context.Context, network wallet.Network) (float64, string) {
	callCtx, cancel := context.WithTimeout(ctx, i.callTimeout)
	defer cancel()

	price, err := i.oracle.QuoteUSD(callCtx, network)
	if err != nil {
		metrics.RecordDegradedCredit(string(network))
		i.log.WithError(err).Warnf("price oracle failed for %s; using fallback %.2f USD per unit", network, i.fallbackUSD)
		return i.fallbackUSD, "fallback"
	}
	return price, "oracle"
}
