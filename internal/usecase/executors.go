package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"StockPulse/internal/domain/models"
	drepo "StockPulse/internal/domain/repository"
	applogger "StockPulse/pkg/logger"
)

// DataFetchExecutor resolves a symbol's price history: cache hit short-cuts
// the upstream call, a miss fetches, caches, and archives. Its success is
// what unblocks the analysis fan-out.
type DataFetchExecutor struct {
	store    drepo.TaskStore
	provider drepo.MarketDataProvider
	archive  drepo.OHLCVArchive
	logger   *applogger.Logger
}

// NewDataFetchExecutor creates the data-fetch executor. archive may be nil
// when durable candle storage is disabled.
func NewDataFetchExecutor(
	store drepo.TaskStore,
	provider drepo.MarketDataProvider,
	archive drepo.OHLCVArchive,
	logger *applogger.Logger,
) *DataFetchExecutor {
	return &DataFetchExecutor{
		store:    store,
		provider: provider,
		archive:  archive,
		logger:   logger,
	}
}

func (e *DataFetchExecutor) Kind() models.AnalysisKind { return models.KindDataFetch }

// fetchSummary is the data-fetch sub-task result payload.
type fetchSummary struct {
	Symbol      string    `json:"symbol"`
	CandleCount int       `json:"candle_count"`
	FirstDate   time.Time `json:"first_date,omitempty"`
	LastDate    time.Time `json:"last_date,omitempty"`
	CacheHit    bool      `json:"cache_hit"`
}

func (e *DataFetchExecutor) Execute(ctx context.Context, inv *models.Invocation) ([]byte, error) {
	// Cached data from an earlier task for the same symbol is reused as-is.
	if data, err := e.store.GetMarketData(ctx, inv.Symbol, models.DataOHLCV); err == nil {
		e.logger.Debug("market data cache hit", applogger.String("symbol", inv.Symbol))
		return json.Marshal(summarize(data, true))
	}

	data, meta, err := e.provider.FetchOHLCV(ctx, inv.Symbol)
	if err != nil {
		return nil, err
	}
	if len(data.Candles) == 0 {
		return nil, models.Fatal(fmt.Errorf("no price history for %s", inv.Symbol))
	}
	if meta != nil && meta.Symbol != "" {
		data.Symbol = meta.Symbol
	}

	if err := e.store.SetMarketData(ctx, inv.Symbol, models.DataOHLCV, data); err != nil {
		return nil, fmt.Errorf("cache market data: %w", err)
	}

	// Archival is best effort; analyses read the cache, not the archive.
	if e.archive != nil {
		if err := e.archive.StoreBatch(ctx, inv.Symbol, data.Candles); err != nil {
			e.logger.Warn("candle archive write failed",
				applogger.String("symbol", inv.Symbol),
				applogger.Error(err),
			)
		}
	}

	return json.Marshal(summarize(data, false))
}

func summarize(data *models.OHLCV, cacheHit bool) fetchSummary {
	s := fetchSummary{
		Symbol:      data.Symbol,
		CandleCount: len(data.Candles),
		CacheHit:    cacheHit,
	}
	if n := len(data.Candles); n > 0 {
		s.FirstDate = data.Candles[0].Date
		s.LastDate = data.Candles[n-1].Date
	}
	return s
}

var _ Executor = (*DataFetchExecutor)(nil)

// AnalysisExecutor adapts one AnalysisProvider: it loads the cached price
// data the data-fetch stage produced and hands it to the provider.
type AnalysisExecutor struct {
	store    drepo.TaskStore
	provider drepo.AnalysisProvider
}

func NewAnalysisExecutor(store drepo.TaskStore, provider drepo.AnalysisProvider) *AnalysisExecutor {
	return &AnalysisExecutor{store: store, provider: provider}
}

func (e *AnalysisExecutor) Kind() models.AnalysisKind { return e.provider.Kind() }

func (e *AnalysisExecutor) Execute(ctx context.Context, inv *models.Invocation) ([]byte, error) {
	data, err := e.store.GetMarketData(ctx, inv.Symbol, models.DataOHLCV)
	if err != nil {
		// The fetch stage cached this before dispatch; a miss means the
		// entry expired in between and refetching is the fetch stage's
		// job, not ours.
		return nil, models.Fatal(fmt.Errorf("market data for %s unavailable: %w", inv.Symbol, err))
	}
	return e.provider.Analyze(ctx, inv, data)
}

var _ Executor = (*AnalysisExecutor)(nil)
