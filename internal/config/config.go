// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Logging   LoggingConfig
	Wallet    WalletConfig
	Chains    ChainsConfig
	Watcher   WatcherConfig
	Pricing   PricingConfig
	HotWallet HotWalletConfig
}

// ServerConfig configures the HTTP listener. AdminTokens are static bearer
// tokens for the /admin routes; with none set the admin surface is closed.
type ServerConfig struct {
	Host        string   `env:"SERVER_HOST,default=0.0.0.0"`
	Port        int      `env:"SERVER_PORT,default=8080"`
	AdminTokens []string `env:"ADMIN_TOKENS"`
}

// DatabaseConfig configures the postgres connection. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN             string `env:"DATABASE_DSN"`
	MaxOpenConns    int    `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int    `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime int    `env:"DATABASE_CONN_MAX_LIFETIME_SECONDS,default=300"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
	Output string `env:"LOG_OUTPUT,default=stdout"`
}

// WalletConfig carries the master seed material. Exactly one of SeedHex or
// Mnemonic should be set; with neither, address derivation is unconfigured
// and deposit session creation fails loudly.
type WalletConfig struct {
	SeedHex    string `env:"WALLET_SEED_HEX"`
	Mnemonic   string `env:"WALLET_MNEMONIC"`
	Passphrase string `env:"WALLET_MNEMONIC_PASSPHRASE"`
}

// ChainsConfig holds per-network node endpoints. Empty endpoints leave the
// network without a chain client. Simulation skips node clients entirely so
// test environments can run the full pipeline against an empty registry.
type ChainsConfig struct {
	EthereumRPC string `env:"ETHEREUM_RPC_URL"`
	BSCRPC      string `env:"BSC_RPC_URL"`
	TronAPI     string `env:"TRON_API_URL"`
	Simulation  bool   `env:"SIMULATION,default=false"`
}

// WatcherConfig tunes the deposit chain watcher.
type WatcherConfig struct {
	Interval          time.Duration `env:"WATCHER_INTERVAL,default=15s"`
	CallTimeout       time.Duration `env:"WATCHER_CALL_TIMEOUT,default=10s"`
	ExpiryGrace       time.Duration `env:"WATCHER_EXPIRY_GRACE,default=1h"`
	FallbackCreditUSD float64       `env:"WATCHER_FALLBACK_CREDIT_USD,default=0"`
}

// PricingConfig configures the USD price oracle.
type PricingConfig struct {
	Endpoint string        `env:"PRICING_ENDPOINT,default=https://api.coingecko.com/api/v3/simple/price"`
	APIKey   string        `env:"PRICING_API_KEY"`
	CacheTTL time.Duration `env:"PRICING_CACHE_TTL,default=30m"`
	Timeout  time.Duration `env:"PRICING_TIMEOUT,default=10s"`
}

// HotWalletConfig gates outbound sending.
type HotWalletConfig struct {
	Enabled bool `env:"HOT_WALLET_ENABLED,default=false"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if cfg.Wallet.SeedHex != "" && cfg.Wallet.Mnemonic != "" {
		return nil, errors.New("WALLET_SEED_HEX and WALLET_MNEMONIC are mutually exclusive")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	return &cfg, nil
}
