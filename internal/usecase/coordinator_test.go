package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockPulse/internal/domain/models"
	drepo "StockPulse/internal/domain/repository"
	internalrepo "StockPulse/internal/repository"
	"StockPulse/pkg/cache"
	applogger "StockPulse/pkg/logger"
)

// captureBroker records publishes and lets tests deliver them synchronously.
type captureBroker struct {
	mu        sync.Mutex
	published []*models.Invocation
	handlers  map[models.AnalysisKind]drepo.InvocationHandler
}

func newCaptureBroker() *captureBroker {
	return &captureBroker{handlers: make(map[models.AnalysisKind]drepo.InvocationHandler)}
}

func (b *captureBroker) Publish(_ context.Context, inv *models.Invocation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, inv)
	return nil
}

func (b *captureBroker) Subscribe(kind models.AnalysisKind, h drepo.InvocationHandler) {
	b.handlers[kind] = h
}

func (b *captureBroker) Start() error               { return nil }
func (b *captureBroker) Stop(context.Context) error { return nil }

func (b *captureBroker) publishedKinds() []models.AnalysisKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	kinds := make([]models.AnalysisKind, len(b.published))
	for i, inv := range b.published {
		kinds[i] = inv.Kind
	}
	return kinds
}

type nopMetrics struct{}

func (nopMetrics) RecordTaskSubmitted(string)             {}
func (nopMetrics) RecordInvocationPublished(string)       {}
func (nopMetrics) RecordSubTaskTerminal(string, string)   {}
func (nopMetrics) RecordExecutionLatency(string, float64) {}
func (nopMetrics) RecordError(string)                     {}

func newTestCoordinator(t *testing.T, ttl time.Duration) (*Coordinator, drepo.TaskStore, *captureBroker) {
	t.Helper()
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	store := internalrepo.NewCacheTaskStore(mem, nil, ttl, ttl)
	broker := newCaptureBroker()
	coord := NewCoordinator(store, broker, nopMetrics{}, applogger.Nop(), ttl)
	return coord, store, broker
}

func TestSubmitValidation(t *testing.T) {
	coord, _, broker := newTestCoordinator(t, time.Hour)
	ctx := context.Background()

	cases := []struct {
		name string
		req  SubmitRequest
	}{
		{"empty symbol", SubmitRequest{Kinds: []models.AnalysisKind{models.KindSentiment}}},
		{"no kinds", SubmitRequest{Symbol: "AAPL"}},
		{"unknown kind", SubmitRequest{Symbol: "AAPL", Kinds: []models.AnalysisKind{"volatility"}}},
		{"data_fetch not requestable", SubmitRequest{Symbol: "AAPL", Kinds: []models.AnalysisKind{models.KindDataFetch}}},
		{"forecast without timeframe", SubmitRequest{Symbol: "AAPL", Kinds: []models.AnalysisKind{models.KindForecast}}},
		{"timeframe without forecast", SubmitRequest{
			Symbol: "AAPL", Kinds: []models.AnalysisKind{models.KindSentiment}, ForecastTimeframe: models.Timeframe6M,
		}},
		{"bad timeframe", SubmitRequest{
			Symbol: "AAPL", Kinds: []models.AnalysisKind{models.KindForecast}, ForecastTimeframe: "9m",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := coord.Submit(ctx, tc.req)
			assert.ErrorIs(t, err, models.ErrInvalidRequest)
		})
	}

	// Rejected requests never publish.
	assert.Empty(t, broker.published)
}

func TestSubmitThenPollIsPending(t *testing.T) {
	coord, _, broker := newTestCoordinator(t, time.Hour)
	ctx := context.Background()

	task, err := coord.Submit(ctx, SubmitRequest{
		Symbol: "aapl",
		Kinds:  []models.AnalysisKind{models.KindSentiment, models.KindTechnical},
	})
	require.NoError(t, err)
	assert.Equal(t, "AAPL", task.Symbol)
	assert.NotEmpty(t, task.ID)

	// Exactly one invocation, the data fetch, goes out on submit.
	require.Equal(t, []models.AnalysisKind{models.KindDataFetch}, broker.publishedKinds())

	doc, err := coord.Poll(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, doc.Status)

	// The response exposes the requested kinds plus data_fetch, nothing else.
	assert.Len(t, doc.Results, 3)
	for _, k := range []models.AnalysisKind{models.KindDataFetch, models.KindSentiment, models.KindTechnical} {
		view, ok := doc.Results[k]
		require.True(t, ok, "missing kind %s", k)
		assert.Equal(t, models.StatePending, view.State)
	}
}

func TestSubmitDeduplicatesKinds(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, time.Hour)

	task, err := coord.Submit(context.Background(), SubmitRequest{
		Symbol: "MSFT",
		Kinds:  []models.AnalysisKind{models.KindSentiment, models.KindSentiment},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.AnalysisKind{models.KindSentiment}, task.RequestedKinds)
}

func TestPollUnknownTask(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, time.Hour)

	_, err := coord.Poll(context.Background(), "no-such-task")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPollAfterExpiry(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, 30*time.Millisecond)
	ctx := context.Background()

	task, err := coord.Submit(ctx, SubmitRequest{
		Symbol: "AAPL",
		Kinds:  []models.AnalysisKind{models.KindSentiment},
	})
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	_, err = coord.Poll(ctx, task.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func finish(t *testing.T, store drepo.TaskStore, taskID string, kind models.AnalysisKind, state models.SubTaskState, result []byte, errMsg string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, store.TransitionSubTask(context.Background(), &models.SubTask{
		TaskID:       taskID,
		Kind:         kind,
		State:        state,
		AttemptCount: 1,
		Result:       result,
		Error:        errMsg,
		FinishedAt:   &now,
	}))
}

func TestFanOutAfterDataFetchSuccess(t *testing.T) {
	coord, store, broker := newTestCoordinator(t, time.Hour)
	ctx := context.Background()

	task, err := coord.Submit(ctx, SubmitRequest{
		Symbol:            "AAPL",
		Kinds:             []models.AnalysisKind{models.KindSentiment, models.KindForecast},
		ForecastTimeframe: models.Timeframe12M,
	})
	require.NoError(t, err)

	finish(t, store, task.ID, models.KindDataFetch, models.StateSucceeded, []byte(`{"candle_count":10}`), "")
	require.NoError(t, coord.CompleteDataFetch(ctx, task.ID, true))

	kinds := broker.publishedKinds()
	require.Len(t, kinds, 3)
	assert.ElementsMatch(t, []models.AnalysisKind{models.KindDataFetch, models.KindSentiment, models.KindForecast}, kinds)

	// The forecast invocation carries the timeframe through.
	for _, inv := range broker.published {
		if inv.Kind == models.KindForecast {
			assert.Equal(t, models.Timeframe12M, inv.ForecastTimeframe)
		} else {
			assert.Empty(t, inv.ForecastTimeframe)
		}
	}
}

func TestDataFetchFailureCascades(t *testing.T) {
	coord, store, broker := newTestCoordinator(t, time.Hour)
	ctx := context.Background()

	task, err := coord.Submit(ctx, SubmitRequest{
		Symbol: "AAPL",
		Kinds:  []models.AnalysisKind{models.KindSentiment, models.KindTechnical},
	})
	require.NoError(t, err)

	finish(t, store, task.ID, models.KindDataFetch, models.StateFailed, nil, "unknown symbol")
	require.NoError(t, coord.CompleteDataFetch(ctx, task.ID, false))

	// No analysis invocation is ever published.
	assert.Equal(t, []models.AnalysisKind{models.KindDataFetch}, broker.publishedKinds())

	doc, err := coord.Poll(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, doc.Status)
	for _, k := range task.RequestedKinds {
		view := doc.Results[k]
		assert.Equal(t, models.StateFailed, view.State)
		assert.Equal(t, ReasonUpstreamUnavailable, view.Error)
	}
}

func TestPollPartialWhileAnalysisInFlight(t *testing.T) {
	coord, store, _ := newTestCoordinator(t, time.Hour)
	ctx := context.Background()

	task, err := coord.Submit(ctx, SubmitRequest{
		Symbol: "AAPL",
		Kinds:  []models.AnalysisKind{models.KindSentiment, models.KindTechnical},
	})
	require.NoError(t, err)

	finish(t, store, task.ID, models.KindDataFetch, models.StateSucceeded, []byte(`{}`), "")
	finish(t, store, task.ID, models.KindSentiment, models.StateSucceeded, []byte(`{"label":"positive"}`), "")

	doc, err := coord.Poll(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartial, doc.Status)
	assert.Equal(t, models.StatePending, doc.Results[models.KindTechnical].State)
}

func TestPollComplete(t *testing.T) {
	coord, store, _ := newTestCoordinator(t, time.Hour)
	ctx := context.Background()

	task, err := coord.Submit(ctx, SubmitRequest{
		Symbol: "AAPL",
		Kinds:  []models.AnalysisKind{models.KindSentiment, models.KindTechnical},
	})
	require.NoError(t, err)

	finish(t, store, task.ID, models.KindDataFetch, models.StateSucceeded, []byte(`{}`), "")
	finish(t, store, task.ID, models.KindSentiment, models.StateSucceeded, []byte(`{"label":"positive"}`), "")
	finish(t, store, task.ID, models.KindTechnical, models.StateSucceeded, []byte(`{"rsi":55.2}`), "")

	doc, err := coord.Poll(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, doc.Status)
	for _, k := range task.RequestedKinds {
		assert.NotEmpty(t, doc.Results[k].Result)
		assert.Empty(t, doc.Results[k].Error)
	}
}

// Mirrors the AAPL walkthrough: sentiment succeeds, technical times out, the
// poll shows both outcomes side by side under a partial status.
func TestPollPartialWithMixedTerminalStates(t *testing.T) {
	coord, store, _ := newTestCoordinator(t, time.Hour)
	ctx := context.Background()

	task, err := coord.Submit(ctx, SubmitRequest{
		Symbol: "AAPL",
		Kinds:  []models.AnalysisKind{models.KindSentiment, models.KindTechnical},
	})
	require.NoError(t, err)

	sentiment, _ := json.Marshal(map[string]interface{}{"label": "positive", "confidence": 0.87})
	finish(t, store, task.ID, models.KindDataFetch, models.StateSucceeded, []byte(`{}`), "")
	finish(t, store, task.ID, models.KindSentiment, models.StateSucceeded, sentiment, "")
	finish(t, store, task.ID, models.KindTechnical, models.StateTimedOut, nil, "wall-clock budget of 60s exceeded")

	doc, err := coord.Poll(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartial, doc.Status)

	assert.Equal(t, models.StateSucceeded, doc.Results[models.KindSentiment].State)
	assert.JSONEq(t, string(sentiment), string(doc.Results[models.KindSentiment].Result))

	tech := doc.Results[models.KindTechnical]
	assert.Equal(t, models.StateTimedOut, tech.State)
	assert.NotEmpty(t, tech.Error)
	assert.Empty(t, tech.Result)
}
