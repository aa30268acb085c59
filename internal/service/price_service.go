package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/evetabi/predex/internal/config"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Exchange definitions
// ──────────────────────────────────────────────────────────────────────────────

const (
	exchangeBinance = "binance"
	exchangeBybit   = "bybit"
	exchangeOKX     = "okx"
)

// exchangeDef describes a single price-feed source.
type exchangeDef struct {
	name   string
	weight decimal.Decimal // 0–100
	fetch  func(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PriceSource is one exchange's contribution to a weighted price.
type PriceSource struct {
	Exchange  string          `json:"exchange"`
	Price     decimal.Decimal `json:"price"`
	Weight    decimal.Decimal `json:"weight"`
	FetchedAt time.Time       `json:"fetched_at"`
}

type cachedPrice struct {
	price   decimal.Decimal
	sources []PriceSource
	at      time.Time
}

// ──────────────────────────────────────────────────────────────────────────────
// PriceService
// ──────────────────────────────────────────────────────────────────────────────

// PriceService fetches spot prices from multiple exchanges in parallel,
// computes a weighted average per symbol, and caches the result. It is the
// oracle's PriceFeed.
type PriceService struct {
	client *http.Client
	cfg    *config.PriceConfig

	mu    sync.RWMutex
	cache map[string]cachedPrice

	// per-exchange last-success timestamp (for ExchangeStatus)
	statusMu    sync.RWMutex
	lastSuccess map[string]time.Time
	exchanges   []exchangeDef
}

// NewPriceService constructs a PriceService from the given config.
func NewPriceService(cfg *config.Config) *PriceService {
	ps := &PriceService{
		client: &http.Client{Timeout: cfg.Price.FetchTimeout},
		cfg:    &cfg.Price,
		cache:  make(map[string]cachedPrice),
		lastSuccess: map[string]time.Time{
			exchangeBinance: {},
			exchangeBybit:   {},
			exchangeOKX:     {},
		},
	}

	ps.exchanges = []exchangeDef{
		{name: exchangeBinance, weight: decimal.NewFromInt(int64(cfg.Price.BinanceWeight)), fetch: ps.fetchBinance},
		{name: exchangeBybit, weight: decimal.NewFromInt(int64(cfg.Price.BybitWeight)), fetch: ps.fetchBybit},
		{name: exchangeOKX, weight: decimal.NewFromInt(int64(cfg.Price.OKXWeight)), fetch: ps.fetchOKX},
	}
	return ps
}

// ──────────────────────────────────────────────────────────────────────────────
// Public API
// ──────────────────────────────────────────────────────────────────────────────

// Price implements PriceFeed.
func (ps *PriceService) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p, _, err := ps.GetWeightedPrice(ctx, symbol)
	return p, err
}

// GetWeightedPrice returns the current price of symbol (e.g. "BTCUSDT") as a
// weighted average of all configured exchanges. A cached value younger than
// CacheTTL is returned immediately.
//
// Partial failures re-normalise the weights over the sources that answered;
// at least one source is required.
func (ps *PriceService) GetWeightedPrice(ctx context.Context, symbol string) (decimal.Decimal, []PriceSource, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return decimal.Zero, nil, fmt.Errorf("price_service: empty symbol")
	}

	// ── Cache check ──────────────────────────────────────────────────────────
	ps.mu.RLock()
	c, ok := ps.cache[symbol]
	ps.mu.RUnlock()
	if ok && time.Since(c.at) < ps.cfg.CacheTTL {
		return c.price, c.sources, nil
	}

	// ── Parallel fetch ───────────────────────────────────────────────────────
	type result struct {
		name  string
		price decimal.Decimal
		err   error
	}

	resultCh := make(chan result, len(ps.exchanges))
	for _, ex := range ps.exchanges {
		go func() {
			p, err := ps.fetchWithRetry(ctx, ex, symbol)
			resultCh <- result{name: ex.name, price: p, err: err}
		}()
	}

	rawResults := make(map[string]result, len(ps.exchanges))
	for range ps.exchanges {
		r := <-resultCh
		rawResults[r.name] = r
	}

	// ── Weighted average over the sources that answered ──────────────────────
	var sources []PriceSource
	var sumWeighted, sumWeights decimal.Decimal
	now := time.Now()

	for _, ex := range ps.exchanges {
		r := rawResults[ex.name]
		if r.err != nil || !r.price.IsPositive() || !ex.weight.IsPositive() {
			continue
		}
		sources = append(sources, PriceSource{
			Exchange:  ex.name,
			Price:     r.price,
			Weight:    ex.weight,
			FetchedAt: now,
		})
		sumWeighted = sumWeighted.Add(r.price.Mul(ex.weight))
		sumWeights = sumWeights.Add(ex.weight)

		ps.statusMu.Lock()
		ps.lastSuccess[ex.name] = now
		ps.statusMu.Unlock()
	}

	if len(sources) == 0 {
		return decimal.Zero, nil, fmt.Errorf("price_service: all exchange fetches failed for %s", symbol)
	}

	weightedAvg := sumWeighted.Div(sumWeights)

	ps.mu.Lock()
	ps.cache[symbol] = cachedPrice{price: weightedAvg, sources: sources, at: now}
	ps.mu.Unlock()

	return weightedAvg, sources, nil
}

// GetCachedPrice returns the most recently cached price of symbol and true
// if it is still within its TTL.
func (ps *PriceService) GetCachedPrice(symbol string) (decimal.Decimal, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	c, ok := ps.cache[strings.ToUpper(symbol)]
	if !ok || time.Since(c.at) >= ps.cfg.CacheTTL {
		return decimal.Zero, false
	}
	return c.price, true
}

// ExchangeStatus returns a map of exchange name → whether it answered in the
// last minute. Used by the back-office health dashboard.
func (ps *PriceService) ExchangeStatus() map[string]bool {
	threshold := time.Minute
	ps.statusMu.RLock()
	defer ps.statusMu.RUnlock()

	status := make(map[string]bool, len(ps.lastSuccess))
	for name, t := range ps.lastSuccess {
		status[name] = !t.IsZero() && time.Since(t) < threshold
	}
	return status
}

// fetchWithRetry retries transient failures of one exchange with
// exponential backoff. Client errors (4xx) are not retried.
func (ps *PriceService) fetchWithRetry(ctx context.Context, ex exchangeDef, symbol string) (decimal.Decimal, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, ps.client.Timeout)
	defer cancel()

	var price decimal.Decimal
	op := func() error {
		p, err := ex.fetch(fetchCtx, symbol)
		if err != nil {
			return err
		}
		price = p
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 50 * time.Millisecond
	eb.MaxInterval = 500 * time.Millisecond
	retries := ps.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), fetchCtx)
	if err := backoff.Retry(op, bo); err != nil {
		return decimal.Zero, err
	}
	return price, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Exchange fetchers
// ──────────────────────────────────────────────────────────────────────────────

// fetchBinance fetches a spot price from the Binance REST API.
//
//	GET /api/v3/ticker/price?symbol=BTCUSDT
//	{"symbol":"BTCUSDT","price":"87350.00"}
func (ps *PriceService) fetchBinance(ctx context.Context, symbol string) (decimal.Decimal, error) {
	u := ps.cfg.BinanceURL + "/api/v3/ticker/price?symbol=" + url.QueryEscape(symbol)
	body, err := ps.doGet(ctx, u)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance: %w", err)
	}

	var resp struct {
		Price string `json:"price"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, backoff.Permanent(fmt.Errorf("binance parse: %w", err))
	}
	if resp.Price == "" {
		return decimal.Zero, fmt.Errorf("binance: empty price field")
	}
	return parsePrice("binance", resp.Price)
}

// fetchBybit fetches a spot price from the Bybit REST API.
//
//	GET /v5/market/tickers?category=spot&symbol=BTCUSDT
//	{"result":{"list":[{"lastPrice":"87350.00",...}]}}
func (ps *PriceService) fetchBybit(ctx context.Context, symbol string) (decimal.Decimal, error) {
	u := ps.cfg.BybitURL + "/v5/market/tickers?category=spot&symbol=" + url.QueryEscape(symbol)
	body, err := ps.doGet(ctx, u)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bybit: %w", err)
	}

	var resp struct {
		Result struct {
			List []struct {
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, backoff.Permanent(fmt.Errorf("bybit parse: %w", err))
	}
	if len(resp.Result.List) == 0 || resp.Result.List[0].LastPrice == "" {
		return decimal.Zero, fmt.Errorf("bybit: empty result list")
	}
	return parsePrice("bybit", resp.Result.List[0].LastPrice)
}

// fetchOKX fetches a spot price from the OKX REST API, which names
// instruments with a dash.
//
//	GET /api/v5/market/ticker?instId=BTC-USDT
//	{"data":[{"last":"87350.00",...}]}
func (ps *PriceService) fetchOKX(ctx context.Context, symbol string) (decimal.Decimal, error) {
	u := ps.cfg.OKXURL + "/api/v5/market/ticker?instId=" + url.QueryEscape(okxInstrument(symbol))
	body, err := ps.doGet(ctx, u)
	if err != nil {
		return decimal.Zero, fmt.Errorf("okx: %w", err)
	}

	var resp struct {
		Data []struct {
			Last string `json:"last"`
		} `json:"data"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, backoff.Permanent(fmt.Errorf("okx parse: %w", err))
	}
	if len(resp.Data) == 0 || resp.Data[0].Last == "" {
		return decimal.Zero, fmt.Errorf("okx: empty data field")
	}
	return parsePrice("okx", resp.Data[0].Last)
}

func parsePrice(exchange, s string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, backoff.Permanent(fmt.Errorf("%s decimal: %w", exchange, err))
	}
	return price, nil
}

var quoteAssets = []string{"USDT", "USDC", "BUSD", "USD", "EUR", "BTC", "ETH"}

// okxInstrument turns "BTCUSDT" into "BTC-USDT". Symbols that already
// contain a dash or end in no known quote asset pass through.
func okxInstrument(symbol string) string {
	if strings.Contains(symbol, "-") {
		return symbol
	}
	for _, q := range quoteAssets {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return symbol[:len(symbol)-len(q)] + "-" + q
		}
	}
	return symbol
}

// ──────────────────────────────────────────────────────────────────────────────
// HTTP helper
// ──────────────────────────────────────────────────────────────────────────────

// doGet performs an HTTP GET and returns the body bytes. Non-200 answers are
// errors; 4xx answers are permanent.
func (ps *PriceService) doGet(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", "predex/1.0")

	resp, err := ps.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
