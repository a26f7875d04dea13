package deposit

import (
	"context"
	"sync"
	"time"

	"github.com/tradeos/walletcore/internal/chain"
	"github.com/tradeos/walletcore/internal/domain/wallet"
	"github.com/tradeos/walletcore/internal/metrics"
	"github.com/tradeos/walletcore/internal/storage"
	"github.com/tradeos/walletcore/internal/system"
	"github.com/tradeos/walletcore/pkg/logger"
)

// WatcherConfig tunes the chain watcher loop.
type WatcherConfig struct {
	// Interval between scan passes.
	Interval time.Duration
	// CallTimeout bounds each chain or oracle call inside a pass.
	CallTimeout time.Duration
	// ExpiryGrace keeps expired sessions on the poll list for a window past
	// expires_at, so funds that land a few minutes late still credit as
	// LATE_CONFIRMED instead of vanishing into an EXPIRED session.
	ExpiryGrace time.Duration
	// FallbackCreditUSD values a deposit when the price oracle is down.
	// Zero credits nothing but still confirms the session.
	FallbackCreditUSD float64
}

func (c WatcherConfig) withDefaults() WatcherConfig {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.ExpiryGrace <= 0 {
		c.ExpiryGrace = time.Hour
	}
	return c
}

// Watcher polls open deposit sessions against their networks and settles
// detected funds through the creditor.
type Watcher struct {
	deposits storage.DepositStore
	registry *chain.Registry
	oracle   PriceQuoter
	creditor *Creditor
	cfg      WatcherConfig
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Watcher)(nil)

// NewWatcher creates the chain watcher.
func NewWatcher(deposits storage.DepositStore, registry *chain.Registry, oracle PriceQuoter, creditor *Creditor, cfg WatcherConfig, log *logger.Logger) *Watcher {
	if log == nil {
		log = logger.NewDefault("chain-watcher")
	}
	return &Watcher{
		deposits: deposits,
		registry: registry,
		oracle:   oracle,
		creditor: creditor,
		cfg:      cfg.withDefaults(),
		log:      log,
	}
}

func (w *Watcher) Name() string { return "chain-watcher" }

func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				w.tick(runCtx)
			}
		}
	}()

	w.log.Info("chain watcher started")
	return nil
}

func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (w *Watcher) tick(ctx context.Context) {
	sessions, err := w.deposits.ListOpenDepositSessions(ctx)
	if err != nil {
		w.log.WithError(err).Warn("list open sessions failed")
		return
	}

	now := time.Now().UTC()
	for _, session := range sessions {
		if ctx.Err() != nil {
			return
		}
		w.scan(ctx, session, now)
	}
}

// scan inspects one session. A failure on one network must never stall the
// others, so errors only log and count.
func (w *Watcher) scan(ctx context.Context, session wallet.DepositSession, now time.Time) {
	if session.Status == wallet.StatusPending && now.After(session.ExpiresAt.Add(w.cfg.ExpiryGrace)) {
		if err := w.deposits.MarkSessionExpired(ctx, session.ID); err != nil {
			w.log.WithError(err).Warnf("expire session %s failed", session.ID)
			return
		}
		metrics.RecordSessionExpired(string(session.Network))
		w.log.WithField("session_id", session.ID).Info("deposit session expired without funds")
		return
	}

	client, err := w.registry.Client(session.Network)
	if err != nil {
		// No automated detection for this network; admin inspect covers it.
		w.log.WithField("session_id", session.ID).Debugf("no chain client for %s; skipping", session.Network)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
	detection, found, err := client.DetectFunds(callCtx, session.Address)
	cancel()
	if err != nil {
		metrics.RecordScanError(string(session.Network))
		w.log.WithError(err).Warnf("scan %s address %s failed", session.Network, session.Address)
		return
	}
	if !found {
		return
	}

	amount := chain.NativeAmount(detection.Amount, client.Decimals())
	if amount <= 0 {
		return
	}
	metrics.RecordDepositDetected(string(session.Network))

	if detection.Confirmations < session.MinConfirmations {
		if _, err := w.deposits.MarkSessionDetected(ctx, session.ID, amount, detection.Confirmations, detection.TxHash); err != nil {
			w.log.WithError(err).Warnf("mark detected %s failed", session.ID)
		}
		return
	}

	price, source := w.resolvePrice(ctx, session.Network)
	if _, err := w.creditor.Credit(ctx, CreditRequest{
		Session:       session,
		Amount:        amount,
		Confirmations: detection.Confirmations,
		TxHash:        detection.TxHash,
		PriceUSD:      price,
		PriceSource:   source,
	}); err != nil {
		w.log.WithError(err).Warnf("credit session %s failed", session.ID)
	}
}

// resolvePrice quotes the oracle and degrades to the configured fallback
// value on failure. Losing the quote provider must not strand user funds.
func (w *Watcher) resolvePrice(ctx context.Context, network wallet.Network) (float64, string) {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
	defer cancel()

	price, err := w.oracle.QuoteUSD(callCtx, network)
	if err != nil {
		metrics.RecordDegradedCredit(string(network))
		w.log.WithError(err).Warnf("price oracle failed for %s; crediting with fallback %.2f USD per unit", network, w.cfg.FallbackCreditUSD)
		return w.cfg.FallbackCreditUSD, "fallback"
	}
	return price, "oracle"
}
