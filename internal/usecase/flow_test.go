package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockPulse/internal/domain/models"
	internalrepo "StockPulse/internal/repository"
	"StockPulse/pkg/cache"
	applogger "StockPulse/pkg/logger"
)

type fakeMarketData struct {
	calls atomic.Int32
	fail  error
}

func (f *fakeMarketData) FetchOHLCV(_ context.Context, symbol string) (*models.OHLCV, *models.SymbolMeta, error) {
	f.calls.Add(1)
	if f.fail != nil {
		return nil, nil, f.fail
	}
	return &models.OHLCV{
		Symbol: symbol,
		Candles: []models.Candle{
			{Date: time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC), Open: 1, High: 2, Low: 1, Close: 1.5, Volume: 100},
			{Date: time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), Open: 1.5, High: 3, Low: 1, Close: 2.5, Volume: 120},
		},
		FetchedAt: time.Now().UTC(),
	}, &models.SymbolMeta{Symbol: symbol}, nil
}

type fakeAnalysis struct {
	kind   models.AnalysisKind
	calls  atomic.Int32
	result []byte
}

func (f *fakeAnalysis) Kind() models.AnalysisKind { return f.kind }

func (f *fakeAnalysis) Analyze(_ context.Context, _ *models.Invocation, data *models.OHLCV) ([]byte, error) {
	f.calls.Add(1)
	if len(data.Candles) == 0 {
		return nil, models.Fatal(errors.New("no data"))
	}
	return f.result, nil
}

type pipeline struct {
	coordinator *Coordinator
	broker      *internalrepo.MemoryBroker
	marketData  *fakeMarketData
	sentiment   *fakeAnalysis
	technical   *fakeAnalysis
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	store := internalrepo.NewCacheTaskStore(mem, nil, time.Hour, time.Hour)
	broker := internalrepo.NewMemoryBroker(2, 1, 32, applogger.Nop())
	coord := NewCoordinator(store, broker, nopMetrics{}, applogger.Nop(), time.Hour)
	harness := NewHarness(store, nopMetrics{}, applogger.Nop())

	md := &fakeMarketData{}
	sentiment := &fakeAnalysis{kind: models.KindSentiment, result: []byte(`{"label":"positive","confidence":0.87}`)}
	technical := &fakeAnalysis{kind: models.KindTechnical, result: []byte(`{"rsi":55.2}`)}

	dataFetch := NewDataFetchExecutor(store, md, nil, applogger.Nop())
	analyses := []Executor{
		NewAnalysisExecutor(store, sentiment),
		NewAnalysisExecutor(store, technical),
	}
	workers := NewWorkers(harness, coord, dataFetch, analyses, fastPolicy(), 0)
	workers.Register(broker)
	require.NoError(t, broker.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = broker.Stop(ctx)
	})

	return &pipeline{coordinator: coord, broker: broker, marketData: md, sentiment: sentiment, technical: technical}
}

func (p *pipeline) waitForStatus(t *testing.T, taskID string, want models.TaskStatus) *models.TaskStatusDoc {
	t.Helper()
	var doc *models.TaskStatusDoc
	require.Eventually(t, func() bool {
		d, err := p.coordinator.Poll(context.Background(), taskID)
		if err != nil {
			return false
		}
		doc = d
		return d.Status == want
	}, 3*time.Second, 10*time.Millisecond, "task never reached %s", want)
	return doc
}

func TestEndToEndComplete(t *testing.T) {
	p := newPipeline(t)

	task, err := p.coordinator.Submit(context.Background(), SubmitRequest{
		Symbol: "AAPL",
		Kinds:  []models.AnalysisKind{models.KindSentiment, models.KindTechnical},
	})
	require.NoError(t, err)

	doc := p.waitForStatus(t, task.ID, models.StatusComplete)

	assert.Equal(t, models.StateSucceeded, doc.Results[models.KindDataFetch].State)
	assert.JSONEq(t, `{"label":"positive","confidence":0.87}`, string(doc.Results[models.KindSentiment].Result))
	assert.JSONEq(t, `{"rsi":55.2}`, string(doc.Results[models.KindTechnical].Result))

	assert.EqualValues(t, 1, p.marketData.calls.Load())
	assert.EqualValues(t, 1, p.sentiment.calls.Load())
	assert.EqualValues(t, 1, p.technical.calls.Load())
}

func TestEndToEndUpstreamFailure(t *testing.T) {
	p := newPipeline(t)
	p.marketData.fail = models.Fatal(errors.New("unknown symbol"))

	task, err := p.coordinator.Submit(context.Background(), SubmitRequest{
		Symbol: "NOPE",
		Kinds:  []models.AnalysisKind{models.KindSentiment, models.KindTechnical},
	})
	require.NoError(t, err)

	doc := p.waitForStatus(t, task.ID, models.StatusFailed)

	for _, k := range task.RequestedKinds {
		assert.Equal(t, models.StateFailed, doc.Results[k].State)
		assert.Equal(t, ReasonUpstreamUnavailable, doc.Results[k].Error)
	}

	// Fatal fetch error: one attempt, no analysis worker ever runs.
	assert.EqualValues(t, 1, p.marketData.calls.Load())
	assert.Zero(t, p.sentiment.calls.Load())
	assert.Zero(t, p.technical.calls.Load())
}

func TestEndToEndMarketDataCachedAcrossTasks(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	first, err := p.coordinator.Submit(ctx, SubmitRequest{Symbol: "AAPL", Kinds: []models.AnalysisKind{models.KindSentiment}})
	require.NoError(t, err)
	p.waitForStatus(t, first.ID, models.StatusComplete)

	second, err := p.coordinator.Submit(ctx, SubmitRequest{Symbol: "AAPL", Kinds: []models.AnalysisKind{models.KindTechnical}})
	require.NoError(t, err)
	p.waitForStatus(t, second.ID, models.StatusComplete)

	// The second task reuses the cached fetch.
	assert.EqualValues(t, 1, p.marketData.calls.Load())
}

func TestEndToEndDuplicateDelivery(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	task, err := p.coordinator.Submit(ctx, SubmitRequest{Symbol: "AAPL", Kinds: []models.AnalysisKind{models.KindSentiment}})
	require.NoError(t, err)
	p.waitForStatus(t, task.ID, models.StatusComplete)

	// Redeliver the data-fetch invocation as an at-least-once broker would.
	require.NoError(t, p.broker.Publish(ctx, &models.Invocation{
		TaskID: task.ID,
		Kind:   models.KindDataFetch,
		Symbol: "AAPL",
	}))

	// The duplicate must not re-run anything or disturb terminal state.
	time.Sleep(100 * time.Millisecond)
	doc, err := p.coordinator.Poll(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, doc.Status)
	assert.EqualValues(t, 1, p.marketData.calls.Load())
	assert.EqualValues(t, 1, p.sentiment.calls.Load())
}
