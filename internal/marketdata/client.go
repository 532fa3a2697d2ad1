// Package marketdata proxies quote and symbol-search lookups against a
// Finnhub-style upstream API. The ledger engine never consults this package:
// trade prices are always supplied by the caller.
//
// The upstream is guarded three ways: a token-bucket rate limit, a circuit
// breaker that opens after consecutive failures, and singleflight collapsing
// of concurrent lookups for the same symbol. Quotes are cached in Redis
// with a short TTL when a client is configured.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/stocksim/trading-engine/internal/metrics"
	"github.com/stocksim/trading-engine/internal/symbol"
)

// ErrUpstream reports a failed or unavailable quote API call.
var ErrUpstream = errors.New("marketdata: upstream unavailable")

// Quote is the current price snapshot for one symbol, in the upstream's
// quote shape.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Current       decimal.Decimal `json:"c"`
	High          decimal.Decimal `json:"h"`
	Low           decimal.Decimal `json:"l"`
	Open          decimal.Decimal `json:"o"`
	PreviousClose decimal.Decimal `json:"pc"`
}

// SearchResult is one symbol-search hit.
type SearchResult struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

type searchResponse struct {
	Count  int            `json:"count"`
	Result []SearchResult `json:"result"`
}

// Options configures the market-data client.
type Options struct {
	BaseURL string   // upstream API base, e.g. https://finnhub.io/api/v1
	APIKeys []string // requests rotate across keys
	RPS     float64  // upstream request budget
	Burst   int
	Cache   *redis.Client // optional quote cache
	TTL     time.Duration // quote cache TTL
}

// Client fetches quotes and symbol searches from the upstream API.
type Client struct {
	http    *http.Client
	baseURL string
	keys    []string
	keyIdx  atomic.Uint64

	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	group   singleflight.Group

	cache *redis.Client
	ttl   time.Duration
}

// NewClient creates a market-data client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://finnhub.io/api/v1"
	}
	if opts.RPS <= 0 {
		opts.RPS = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Second
	}

	settings := gobreaker.Settings{Name: "marketdata"}
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 5
	}
	settings.Timeout = 30 * time.Second

	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: opts.BaseURL,
		keys:    opts.APIKeys,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		cache:   opts.Cache,
		ttl:     opts.TTL,
	}
}

// nextKey rotates across configured API keys to spread request budgets.
func (c *Client) nextKey() string {
	if len(c.keys) == 0 {
		return ""
	}
	idx := c.keyIdx.Add(1) - 1
	return c.keys[idx%uint64(len(c.keys))]
}

func quoteCacheKey(sym string) string { return "quote:" + sym }

// GetQuote returns the current quote for a symbol, from cache when fresh.
// Concurrent lookups for the same symbol share one upstream call.
func (c *Client) GetQuote(ctx context.Context, ticker string) (*Quote, error) {
	sym, err := symbol.Normalize(ticker)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if data, err := c.cache.Get(ctx, quoteCacheKey(sym)).Bytes(); err == nil {
			var q Quote
			if json.Unmarshal(data, &q) == nil {
				metrics.QuoteRequests.WithLabelValues("cache", "hit").Inc()
				return &q, nil
			}
		}
	}

	v, err, _ := c.group.Do(sym, func() (any, error) {
		return c.fetchQuote(ctx, sym)
	})
	if err != nil {
		metrics.QuoteRequests.WithLabelValues("upstream", "error").Inc()
		return nil, err
	}
	metrics.QuoteRequests.WithLabelValues("upstream", "ok").Inc()

	q := v.(*Quote)
	if c.cache != nil {
		if data, err := json.Marshal(q); err == nil {
			c.cache.Set(ctx, quoteCacheKey(sym), data, c.ttl)
		}
	}
	return q, nil
}

func (c *Client) fetchQuote(ctx context.Context, sym string) (*Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	v, err := c.breaker.Execute(func() (any, error) {
		var q Quote
		if err := c.getJSON(ctx, "/quote", url.Values{"symbol": {sym}}, &q); err != nil {
			return nil, err
		}
		return &q, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	q := v.(*Quote)
	q.Symbol = sym
	return q, nil
}

// Search looks up symbols matching a free-text query.
func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	v, err := c.breaker.Execute(func() (any, error) {
		var resp searchResponse
		params := url.Values{"q": {query}, "exchange": {"US"}}
		if err := c.getJSON(ctx, "/search", params, &resp); err != nil {
			return nil, err
		}
		return resp.Result, nil
	})
	if err != nil {
		metrics.QuoteRequests.WithLabelValues("upstream", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	metrics.QuoteRequests.WithLabelValues("upstream", "ok").Inc()

	return v.([]SearchResult), nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	if key := c.nextKey(); key != "" {
		params.Set("token", key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// --- HTTP Handlers ---

// HandleQuote handles GET /api/v1/stocks/quote?symbol=AAPL.
func (c *Client) HandleQuote(w http.ResponseWriter, r *http.Request) {
	q, err := c.GetQuote(r.Context(), r.URL.Query().Get("symbol"))
	if errors.Is(err, symbol.ErrInvalidSymbol) {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(q)
}

// HandleSearch handles GET /api/v1/stocks/search?query=apple.
func (c *Client) HandleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, "query is required", http.StatusBadRequest)
		return
	}

	results, err := c.Search(r.Context(), query)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}
	if results == nil {
		results = []SearchResult{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
