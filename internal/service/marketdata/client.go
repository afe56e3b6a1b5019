package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"StockPulse/internal/domain/models"
	drepo "StockPulse/internal/domain/repository"
	"StockPulse/internal/service/ratelimit"
	"StockPulse/pkg/config"
	xhttp "StockPulse/pkg/http"
)

const limiterKey = "marketdata"

// Client fetches OHLCV history from the upstream market-data service. A
// local token bucket keeps request volume under the provider's quota;
// running out of tokens surfaces as a transient error so callers back off
// instead of burning the remote quota.
type Client struct {
	baseURL  string
	client   *xhttp.Client
	limiter  *ratelimit.Limiter
	rate     float64
	capacity float64
}

// New creates a market-data client from config.
func New(cfg *config.Config) *Client {
	timeout := cfg.Providers.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rate := cfg.Providers.RateLimitPerSec
	if rate <= 0 {
		rate = 5
	}
	capacity := cfg.Providers.RateLimitCapacity
	if capacity <= 0 {
		capacity = 10
	}
	return &Client{
		baseURL:  cfg.Providers.MarketDataURL,
		client:   xhttp.NewClient(xhttp.WithTimeout(timeout)),
		limiter:  ratelimit.New(),
		rate:     rate,
		capacity: capacity,
	}
}

type ohlcvResponse struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Sector   string `json:"sector"`
	Currency string `json:"currency"`
	Candles  []struct {
		Date   string  `json:"date"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume int64   `json:"volume"`
	} `json:"candles"`
}

// FetchOHLCV fetches daily price history for symbol.
func (c *Client) FetchOHLCV(ctx context.Context, symbol string) (*models.OHLCV, *models.SymbolMeta, error) {
	if !c.limiter.Allow(limiterKey, c.capacity, c.rate) {
		return nil, nil, models.Transient(fmt.Errorf("local rate limit exceeded for %s", symbol))
	}

	var resp ohlcvResponse
	err := c.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    fmt.Sprintf("%s/v1/ohlcv/%s", c.baseURL, url.PathEscape(symbol)),
	}, &resp)
	if err != nil {
		return nil, nil, classify(err, symbol)
	}

	data := &models.OHLCV{
		Symbol:    resp.Symbol,
		Candles:   make([]models.Candle, 0, len(resp.Candles)),
		FetchedAt: time.Now().UTC(),
	}
	if data.Symbol == "" {
		data.Symbol = symbol
	}
	for _, raw := range resp.Candles {
		date, perr := time.Parse("2006-01-02", raw.Date)
		if perr != nil {
			return nil, nil, models.Fatal(fmt.Errorf("malformed candle date %q for %s", raw.Date, symbol))
		}
		data.Candles = append(data.Candles, models.Candle{
			Date:   date,
			Open:   raw.Open,
			High:   raw.High,
			Low:    raw.Low,
			Close:  raw.Close,
			Volume: raw.Volume,
		})
	}

	meta := &models.SymbolMeta{
		Symbol:   data.Symbol,
		Name:     resp.Name,
		Sector:   resp.Sector,
		Currency: resp.Currency,
	}
	return data, meta, nil
}

// classify maps HTTP failures onto the retry taxonomy: rate limits and
// server errors are transient, unknown symbols and other client errors are
// fatal, everything else (dial failures, resets) is worth retrying.
func classify(err error, symbol string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			return models.Transient(fmt.Errorf("rate limited fetching %s: %w", symbol, err))
		case se.StatusCode >= 500:
			return models.Transient(fmt.Errorf("upstream error fetching %s: %w", symbol, err))
		case se.StatusCode == http.StatusNotFound:
			return models.Fatal(fmt.Errorf("unknown symbol %s: %w", symbol, err))
		default:
			return models.Fatal(fmt.Errorf("fetch %s rejected: %w", symbol, err))
		}
	}
	return models.Transient(fmt.Errorf("fetch %s: %w", symbol, err))
}

var _ drepo.MarketDataProvider = (*Client)(nil)
