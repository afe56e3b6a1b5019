package analytics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"StockPulse/internal/domain/models"
	"StockPulse/pkg/config"
	xhttp "StockPulse/pkg/http"
)

// HTTPServiceBase centralizes client construction and JSON POST handling for
// the analysis HTTP providers.
type HTTPServiceBase struct {
	baseURL string
	client  *xhttp.Client
}

// NewHTTPServiceBase builds an HTTP client with timeout and base URL from config.
func NewHTTPServiceBase(cfg *config.Config) *HTTPServiceBase {
	timeout := cfg.Providers.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPServiceBase{
		baseURL: cfg.Providers.AnalyticsURL,
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
}

// PostJSON posts the given payload to `path` under baseURL and decodes JSON
// into dest. Failures come back classified for the retry policy.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return models.Fatal(fmt.Errorf("analytics http client not initialized"))
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    b.baseURL + path,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: payload,
	}, dest)
	if err != nil {
		return classify(fmt.Errorf("post %s: %w", path, err))
	}
	return nil
}

// classify maps HTTP failures onto the retry taxonomy.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		if se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500 {
			return models.Transient(err)
		}
		return models.Fatal(err)
	}
	return models.Transient(err)
}

// candlePayload is the price-history shape the analysis service consumes.
type candlePayload struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

func toCandlePayload(data *models.OHLCV) []candlePayload {
	out := make([]candlePayload, len(data.Candles))
	for i, c := range data.Candles {
		out[i] = candlePayload{
			Date:   c.Date.Format("2006-01-02"),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		}
	}
	return out
}
