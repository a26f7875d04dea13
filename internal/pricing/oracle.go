// Package pricing fetches spot USD rates for native chain assets from an
// external quote source, with a short cache to bound request volume.
package pricing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tradeos/walletcore/internal/domain/wallet"
	"github.com/tradeos/walletcore/pkg/logger"
)

// quoteIDs maps networks to the quote source's asset identifiers.
var quoteIDs = map[wallet.Network]string{
	wallet.NetworkBitcoin:  "bitcoin",
	wallet.NetworkEthereum: "ethereum",
	wallet.NetworkBSC:      "binancecoin",
	wallet.NetworkTron:     "tron",
}

// Config for the price oracle.
type Config struct {
	// Endpoint of a simple-price compatible quote API.
	Endpoint string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// CacheTTL bounds how long a quote is reused. Defaults to 30 minutes.
	CacheTTL time.Duration
	// Timeout per outbound request. Defaults to 10 seconds.
	Timeout time.Duration
}

// Oracle caches USD quotes per network.
type Oracle struct {
	endpoint   string
	apiKey     string
	cacheTTL   time.Duration
	httpClient *http.Client
	log        *logger.Logger

	mu    sync.RWMutex
	cache map[wallet.Network]cachedQuote
}

type cachedQuote struct {
	price     float64
	fetchedAt time.Time
}

// New constructs a price oracle.
func New(cfg Config, log *logger.Logger) (*Oracle, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("pricing: quote endpoint required")
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("pricing")
	}
	return &Oracle{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		cacheTTL:   ttl,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
		cache:      make(map[wallet.Network]cachedQuote),
	}, nil
}

// QuoteUSD returns the USD price of one native coin of the network. Cached
// quotes are served until the TTL passes; a stale fetch failure is an error
// and callers apply their fallback crediting policy.
func (o *Oracle) QuoteUSD(ctx context.Context, network wallet.Network) (float64, error) {
	assetID, ok := quoteIDs[network]
	if !ok {
		return 0, fmt.Errorf("pricing: no quote id for network %q", network)
	}

	o.mu.RLock()
	cached, hit := o.cache[network]
	o.mu.RUnlock()
	if hit && time.Since(cached.fetchedAt) < o.cacheTTL {
		return cached.price, nil
	}

	price, err := o.fetch(ctx, assetID)
	if err != nil {
		return 0, err
	}

	o.mu.Lock()
	o.cache[network] = cachedQuote{price: price, fetchedAt: time.Now()}
	o.mu.Unlock()

	o.log.WithField("network", network).WithField("price_usd", price).Debug("quote refreshed")
	return price, nil
}

func (o *Oracle) fetch(ctx context.Context, assetID string) (float64, error) {
	query := url.Values{}
	query.Set("ids", assetID)
	query.Set("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return 0, err
	}
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("pricing: fetch quote for %s: %w", assetID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("pricing: read quote response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("pricing: quote source returned status %d", resp.StatusCode)
	}

	price := gjson.GetBytes(body, assetID+".usd")
	if !price.Exists() || price.Float() <= 0 {
		return 0, fmt.Errorf("pricing: quote source returned no usable price for %s", assetID)
	}
	return price.Float(), nil
}
