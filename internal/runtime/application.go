// Package runtime wires the wallet service together and manages its lifecycle.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/tradeos/walletcore/internal/chain"
	"github.com/tradeos/walletcore/internal/config"
	"github.com/tradeos/walletcore/internal/domain/wallet"
	"github.com/tradeos/walletcore/internal/hdkey"
	"github.com/tradeos/walletcore/internal/httpapi"
	"github.com/tradeos/walletcore/internal/platform/migrations"
	"github.com/tradeos/walletcore/internal/pricing"
	"github.com/tradeos/walletcore/internal/services/deposit"
	"github.com/tradeos/walletcore/internal/services/hotwallet"
	"github.com/tradeos/walletcore/internal/storage"
	"github.com/tradeos/walletcore/internal/storage/memory"
	"github.com/tradeos/walletcore/internal/storage/postgres"
	"github.com/tradeos/walletcore/internal/system"
	"github.com/tradeos/walletcore/pkg/logger"
)

// Application owns every long-lived component of the wallet service.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	httpServer *http.Server
	manager    *system.Manager
	db         *sql.DB
}

type stores struct {
	assets   storage.AssetStore
	deposits storage.DepositStore
	ledger   storage.LedgerStore
}

// NewApplication constructs the application with default wiring.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	st, db, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	deriver, err := buildDeriver(cfg.Wallet, log)
	if err != nil {
		return nil, err
	}

	registry, err := buildRegistry(cfg.Chains, log)
	if err != nil {
		return nil, err
	}

	oracle, err := pricing.New(pricing.Config{
		Endpoint: cfg.Pricing.Endpoint,
		APIKey:   cfg.Pricing.APIKey,
		CacheTTL: cfg.Pricing.CacheTTL,
		Timeout:  cfg.Pricing.Timeout,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("configure price oracle: %w", err)
	}

	depositSvc := deposit.NewService(st.assets, st.deposits, deriver, log)
	creditor := deposit.NewCreditor(st.deposits, log)
	watcher := deposit.NewWatcher(st.deposits, registry, oracle, creditor, deposit.WatcherConfig{
		Interval:          cfg.Watcher.Interval,
		CallTimeout:       cfg.Watcher.CallTimeout,
		ExpiryGrace:       cfg.Watcher.ExpiryGrace,
		FallbackCreditUSD: cfg.Watcher.FallbackCreditUSD,
	}, log)
	inspector := deposit.NewInspector(st.deposits, registry, oracle, creditor, cfg.Watcher.FallbackCreditUSD, log)
	hotWallet := hotwallet.New(cfg.HotWallet.Enabled, deriver, registry, log)

	manager := system.NewManager()
	if err := manager.Register(watcher); err != nil {
		return nil, err
	}

	handler := httpapi.WrapWithAuth(httpapi.NewHandler(httpapi.API{
		Deposits:  depositSvc,
		Inspector: inspector,
		HotWallet: hotWallet,
		Ledger:    st.ledger,
	}), cfg.Server.AdminTokens)

	return &Application{
		cfg: cfg,
		log: log,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		manager: manager,
		db:      db,
	}, nil
}

// Run starts background services and the HTTP server, blocking until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.manager.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops background services, the HTTP server and the database.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.manager.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping background services")
	}
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

func buildStores(cfg *config.Config, log *logger.Logger) (stores, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("no database configured; using in-memory storage")
		mem := memory.New()
		return stores{assets: mem, deposits: mem, ledger: mem}, nil, nil
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return stores{}, nil, err
	}

	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrations.Apply(migrateCtx, db); err != nil {
		db.Close()
		return stores{}, nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := postgres.New(db)
	return stores{assets: store, deposits: store, ledger: store}, db, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func buildDeriver(cfg config.WalletConfig, log *logger.Logger) (*hdkey.Deriver, error) {
	switch {
	case cfg.SeedHex != "":
		seed, err := hdkey.SeedFromHex(cfg.SeedHex)
		if err != nil {
			return nil, fmt.Errorf("parse WALLET_SEED_HEX: %w", err)
		}
		return hdkey.NewDeriver(seed), nil
	case cfg.Mnemonic != "":
		return hdkey.NewDeriver(hdkey.SeedFromMnemonic(cfg.Mnemonic, cfg.Passphrase)), nil
	default:
		log.Warn("no wallet seed configured; deposit address derivation is disabled")
		return hdkey.NewDeriver(nil), nil
	}
}

func buildRegistry(cfg config.ChainsConfig, log *logger.Logger) (*chain.Registry, error) {
	registry := chain.NewRegistry()

	if cfg.Simulation {
		log.Warn("simulation mode: chain clients disabled")
		return registry, nil
	}

	if cfg.EthereumRPC != "" {
		client, err := chain.NewEVMClient(chain.EVMConfig{Network: wallet.NetworkEthereum, Endpoint: cfg.EthereumRPC}, log)
		if err != nil {
			return nil, err
		}
		registry.Register(client)
	}
	if cfg.BSCRPC != "" {
		client, err := chain.NewEVMClient(chain.EVMConfig{Network: wallet.NetworkBSC, Endpoint: cfg.BSCRPC}, log)
		if err != nil {
			return nil, err
		}
		registry.Register(client)
	}
	if cfg.TronAPI != "" {
		client, err := chain.NewTronClient(chain.TronConfig{BaseURL: cfg.TronAPI}, log)
		if err != nil {
			return nil, err
		}
		registry.Register(client)
	}

	if len(registry.Networks()) == 0 {
		log.Warn("no chain endpoints configured; automated deposit detection is off")
	}
	return registry, nil
}
