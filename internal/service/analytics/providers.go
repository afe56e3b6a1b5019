package analytics

import (
	"context"
	"encoding/json"

	"StockPulse/internal/domain/models"
	drepo "StockPulse/internal/domain/repository"
	"StockPulse/pkg/config"
)

// HTTPSentimentProvider scores news sentiment for a symbol.
type HTTPSentimentProvider struct {
	base *HTTPServiceBase
}

func NewHTTPSentimentProvider(cfg *config.Config) *HTTPSentimentProvider {
	return &HTTPSentimentProvider{base: NewHTTPServiceBase(cfg)}
}

func (p *HTTPSentimentProvider) Kind() models.AnalysisKind { return models.KindSentiment }

func (p *HTTPSentimentProvider) Analyze(ctx context.Context, inv *models.Invocation, data *models.OHLCV) ([]byte, error) {
	req := struct {
		Symbol string `json:"symbol"`
	}{Symbol: inv.Symbol}

	var result json.RawMessage
	if err := p.base.PostJSON(ctx, "/sentiment/analyze", req, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// HTTPTechnicalProvider computes technical indicators over price history.
type HTTPTechnicalProvider struct {
	base *HTTPServiceBase
}

func NewHTTPTechnicalProvider(cfg *config.Config) *HTTPTechnicalProvider {
	return &HTTPTechnicalProvider{base: NewHTTPServiceBase(cfg)}
}

func (p *HTTPTechnicalProvider) Kind() models.AnalysisKind { return models.KindTechnical }

func (p *HTTPTechnicalProvider) Analyze(ctx context.Context, inv *models.Invocation, data *models.OHLCV) ([]byte, error) {
	req := struct {
		Symbol  string          `json:"symbol"`
		Candles []candlePayload `json:"candles"`
	}{Symbol: inv.Symbol, Candles: toCandlePayload(data)}

	var result json.RawMessage
	if err := p.base.PostJSON(ctx, "/technical/analyze", req, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// HTTPForecastProvider runs the price forecast model for one timeframe.
type HTTPForecastProvider struct {
	base *HTTPServiceBase
}

func NewHTTPForecastProvider(cfg *config.Config) *HTTPForecastProvider {
	return &HTTPForecastProvider{base: NewHTTPServiceBase(cfg)}
}

func (p *HTTPForecastProvider) Kind() models.AnalysisKind { return models.KindForecast }

func (p *HTTPForecastProvider) Analyze(ctx context.Context, inv *models.Invocation, data *models.OHLCV) ([]byte, error) {
	req := struct {
		Symbol    string          `json:"symbol"`
		Timeframe string          `json:"timeframe"`
		Candles   []candlePayload `json:"candles"`
	}{Symbol: inv.Symbol, Timeframe: string(inv.ForecastTimeframe), Candles: toCandlePayload(data)}

	var result json.RawMessage
	if err := p.base.PostJSON(ctx, "/forecast/predict", req, &result); err != nil {
		return nil, err
	}
	return result, nil
}

var (
	_ drepo.AnalysisProvider = (*HTTPSentimentProvider)(nil)
	_ drepo.AnalysisProvider = (*HTTPTechnicalProvider)(nil)
	_ drepo.AnalysisProvider = (*HTTPForecastProvider)(nil)
)
