package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockPulse/internal/domain/models"
	"StockPulse/pkg/cache"
)

func newStore(t *testing.T, taskTTL time.Duration) *CacheTaskStore {
	t.Helper()
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	return NewCacheTaskStore(mem, nil, taskTTL, taskTTL)
}

func seedTask(t *testing.T, store *CacheTaskStore, ttl time.Duration, kinds ...models.AnalysisKind) *models.Task {
	t.Helper()
	now := time.Now().UTC()
	task := &models.Task{
		ID:             "t1",
		Symbol:         "AAPL",
		RequestedKinds: kinds,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	subTasks := []*models.SubTask{{TaskID: task.ID, Kind: models.KindDataFetch, State: models.StatePending}}
	for _, k := range kinds {
		subTasks = append(subTasks, &models.SubTask{TaskID: task.ID, Kind: k, State: models.StatePending})
	}
	require.NoError(t, store.CreateTask(context.Background(), task, subTasks))
	return task
}

func TestCreateAndGetTask(t *testing.T) {
	store := newStore(t, time.Hour)
	ctx := context.Background()

	task := seedTask(t, store, time.Hour, models.KindSentiment, models.KindTechnical)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Symbol, got.Symbol)
	assert.Equal(t, task.RequestedKinds, got.RequestedKinds)

	// Every sub-task record exists, including the implicit data fetch.
	subTasks, err := store.ListSubTasks(ctx, got)
	require.NoError(t, err)
	require.Len(t, subTasks, 3)
	for _, st := range subTasks {
		assert.Equal(t, models.StatePending, st.State)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	store := newStore(t, time.Hour)

	_, err := store.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTransitionSubTask(t *testing.T) {
	store := newStore(t, time.Hour)
	ctx := context.Background()
	task := seedTask(t, store, time.Hour, models.KindSentiment)

	now := time.Now().UTC()
	require.NoError(t, store.TransitionSubTask(ctx, &models.SubTask{
		TaskID:       task.ID,
		Kind:         models.KindSentiment,
		State:        models.StateRunning,
		AttemptCount: 1,
		StartedAt:    &now,
	}))

	st, err := store.GetSubTask(ctx, task.ID, models.KindSentiment)
	require.NoError(t, err)
	assert.Equal(t, models.StateRunning, st.State)
	assert.Equal(t, 1, st.AttemptCount)
}

func TestTerminalStateNeverOverwritten(t *testing.T) {
	store := newStore(t, time.Hour)
	ctx := context.Background()
	task := seedTask(t, store, time.Hour, models.KindSentiment)

	now := time.Now().UTC()
	require.NoError(t, store.TransitionSubTask(ctx, &models.SubTask{
		TaskID:     task.ID,
		Kind:       models.KindSentiment,
		State:      models.StateFailed,
		Error:      "boom",
		FinishedAt: &now,
	}))

	// Neither a re-run nor a competing success may replace the record.
	err := store.TransitionSubTask(ctx, &models.SubTask{
		TaskID: task.ID,
		Kind:   models.KindSentiment,
		State:  models.StateRunning,
	})
	assert.ErrorIs(t, err, models.ErrTerminalState)

	err = store.TransitionSubTask(ctx, &models.SubTask{
		TaskID: task.ID,
		Kind:   models.KindSentiment,
		State:  models.StateSucceeded,
		Result: []byte(`{}`),
	})
	assert.ErrorIs(t, err, models.ErrTerminalState)

	st, err := store.GetSubTask(ctx, task.ID, models.KindSentiment)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, st.State)
	assert.Equal(t, "boom", st.Error)
}

func TestTaskExpiry(t *testing.T) {
	store := newStore(t, 30*time.Millisecond)
	ctx := context.Background()
	task := seedTask(t, store, 30*time.Millisecond, models.KindSentiment)

	time.Sleep(60 * time.Millisecond)

	_, err := store.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Writes against an expired task are refused too.
	err = store.TransitionSubTask(ctx, &models.SubTask{
		TaskID: task.ID,
		Kind:   models.KindSentiment,
		State:  models.StateRunning,
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMarketDataNamespace(t *testing.T) {
	store := newStore(t, time.Hour)
	ctx := context.Background()

	_, err := store.GetMarketData(ctx, "AAPL", models.DataOHLCV)
	assert.ErrorIs(t, err, models.ErrNotFound)

	data := &models.OHLCV{
		Symbol: "AAPL",
		Candles: []models.Candle{
			{Date: time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), Open: 230.1, High: 233.4, Low: 229.8, Close: 232.9, Volume: 51_000_000},
		},
		FetchedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SetMarketData(ctx, "AAPL", models.DataOHLCV, data))

	got, err := store.GetMarketData(ctx, "AAPL", models.DataOHLCV)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", got.Symbol)
	require.Len(t, got.Candles, 1)
	assert.Equal(t, 232.9, got.Candles[0].Close)

	// Market data lives in its own namespace, not under any task.
	_, err = store.GetTask(ctx, "AAPL")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
