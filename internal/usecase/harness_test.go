package usecase

import (
	"context"
	"errors"
	"fmt"
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

// scriptedExecutor returns the scripted outcome for each successive attempt.
type scriptedExecutor struct {
	kind    models.AnalysisKind
	calls   int
	outcome func(call int, ctx context.Context) ([]byte, error)
}

func (e *scriptedExecutor) Kind() models.AnalysisKind { return e.kind }

func (e *scriptedExecutor) Execute(ctx context.Context, _ *models.Invocation) ([]byte, error) {
	e.calls++
	return e.outcome(e.calls, ctx)
}

func newHarnessFixture(t *testing.T) (*Harness, drepo.TaskStore, *models.Task) {
	t.Helper()
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	store := internalrepo.NewCacheTaskStore(mem, nil, time.Hour, time.Hour)

	now := time.Now().UTC()
	task := &models.Task{
		ID:             "t1",
		Symbol:         "AAPL",
		RequestedKinds: []models.AnalysisKind{models.KindSentiment},
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
	}
	subTasks := []*models.SubTask{
		{TaskID: task.ID, Kind: models.KindDataFetch, State: models.StatePending},
		{TaskID: task.ID, Kind: models.KindSentiment, State: models.StatePending},
	}
	require.NoError(t, store.CreateTask(context.Background(), task, subTasks))

	return NewHarness(store, nopMetrics{}, applogger.Nop()), store, task
}

func fastPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BackoffMin:  time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
		Timeout:     time.Second,
	}
}

func TestHarnessSuccess(t *testing.T) {
	harness, store, task := newHarnessFixture(t)
	ctx := context.Background()

	exec := &scriptedExecutor{
		kind: models.KindSentiment,
		outcome: func(int, context.Context) ([]byte, error) {
			return []byte(`{"label":"positive"}`), nil
		},
	}

	var terminalCalls int
	var terminalOK bool
	handler := harness.Handler(exec, fastPolicy(), func(_ context.Context, taskID string, ok bool) error {
		terminalCalls++
		terminalOK = ok
		assert.Equal(t, task.ID, taskID)
		return nil
	})

	require.NoError(t, handler(ctx, &models.Invocation{TaskID: task.ID, Kind: models.KindSentiment, Symbol: "AAPL"}))

	st, err := store.GetSubTask(ctx, task.ID, models.KindSentiment)
	require.NoError(t, err)
	assert.Equal(t, models.StateSucceeded, st.State)
	assert.Equal(t, 1, st.AttemptCount)
	assert.JSONEq(t, `{"label":"positive"}`, string(st.Result))
	assert.Empty(t, st.Error)
	assert.NotNil(t, st.StartedAt)
	assert.NotNil(t, st.FinishedAt)

	assert.Equal(t, 1, terminalCalls)
	assert.True(t, terminalOK)
}

func TestHarnessRetriesTransientErrors(t *testing.T) {
	harness, store, task := newHarnessFixture(t)
	ctx := context.Background()

	exec := &scriptedExecutor{
		kind: models.KindSentiment,
		outcome: func(call int, _ context.Context) ([]byte, error) {
			if call < 3 {
				return nil, models.Transient(fmt.Errorf("rate limited"))
			}
			return []byte(`{}`), nil
		},
	}

	handler := harness.Handler(exec, fastPolicy(), nil)
	require.NoError(t, handler(ctx, &models.Invocation{TaskID: task.ID, Kind: models.KindSentiment, Symbol: "AAPL"}))

	st, err := store.GetSubTask(ctx, task.ID, models.KindSentiment)
	require.NoError(t, err)
	assert.Equal(t, models.StateSucceeded, st.State)
	assert.Equal(t, 3, st.AttemptCount)
	assert.Equal(t, 3, exec.calls)
}

func TestHarnessExhaustsAttempts(t *testing.T) {
	harness, store, task := newHarnessFixture(t)
	ctx := context.Background()

	exec := &scriptedExecutor{
		kind: models.KindSentiment,
		outcome: func(int, context.Context) ([]byte, error) {
			return nil, models.Transient(errors.New("still rate limited"))
		},
	}

	handler := harness.Handler(exec, fastPolicy(), nil)
	require.NoError(t, handler(ctx, &models.Invocation{TaskID: task.ID, Kind: models.KindSentiment, Symbol: "AAPL"}))

	st, err := store.GetSubTask(ctx, task.ID, models.KindSentiment)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, st.State)
	assert.Equal(t, 3, st.AttemptCount)
	assert.Contains(t, st.Error, "gave up after 3 attempts")
	assert.Contains(t, st.Error, "still rate limited")
	assert.Empty(t, st.Result)
}

func TestHarnessFatalErrorSkipsRetry(t *testing.T) {
	harness, store, task := newHarnessFixture(t)
	ctx := context.Background()

	exec := &scriptedExecutor{
		kind: models.KindSentiment,
		outcome: func(int, context.Context) ([]byte, error) {
			return nil, models.Fatal(errors.New("unknown symbol"))
		},
	}

	handler := harness.Handler(exec, fastPolicy(), nil)
	require.NoError(t, handler(ctx, &models.Invocation{TaskID: task.ID, Kind: models.KindSentiment, Symbol: "AAPL"}))

	st, err := store.GetSubTask(ctx, task.ID, models.KindSentiment)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, st.State)
	assert.Equal(t, 1, exec.calls)
	assert.Contains(t, st.Error, "unknown symbol")
}

func TestHarnessTimeout(t *testing.T) {
	harness, store, task := newHarnessFixture(t)
	ctx := context.Background()

	exec := &scriptedExecutor{
		kind: models.KindSentiment,
		outcome: func(_ int, ctx context.Context) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	policy := fastPolicy()
	policy.Timeout = 20 * time.Millisecond
	handler := harness.Handler(exec, policy, nil)
	require.NoError(t, handler(ctx, &models.Invocation{TaskID: task.ID, Kind: models.KindSentiment, Symbol: "AAPL"}))

	st, err := store.GetSubTask(ctx, task.ID, models.KindSentiment)
	require.NoError(t, err)
	assert.Equal(t, models.StateTimedOut, st.State)
	assert.Equal(t, 1, exec.calls, "no retry after timeout")
	assert.Contains(t, st.Error, "wall-clock budget")
}

func TestHarnessDropsDuplicateDelivery(t *testing.T) {
	harness, store, task := newHarnessFixture(t)
	ctx := context.Background()

	// First delivery completes the sub-task.
	exec := &scriptedExecutor{
		kind: models.KindSentiment,
		outcome: func(int, context.Context) ([]byte, error) {
			return []byte(`{"label":"positive"}`), nil
		},
	}
	var terminalCalls int
	handler := harness.Handler(exec, fastPolicy(), func(context.Context, string, bool) error {
		terminalCalls++
		return nil
	})
	inv := &models.Invocation{TaskID: task.ID, Kind: models.KindSentiment, Symbol: "AAPL"}
	require.NoError(t, handler(ctx, inv))
	require.Equal(t, 1, exec.calls)

	// The redelivered message must not re-execute, rewrite state, or
	// re-fire the completion callback.
	require.NoError(t, handler(ctx, inv))
	assert.Equal(t, 1, exec.calls)
	assert.Equal(t, 1, terminalCalls)

	st, err := store.GetSubTask(ctx, task.ID, models.KindSentiment)
	require.NoError(t, err)
	assert.Equal(t, models.StateSucceeded, st.State)
	assert.Equal(t, 1, st.AttemptCount)
}

func TestHarnessDropsUnknownTask(t *testing.T) {
	harness, _, _ := newHarnessFixture(t)

	exec := &scriptedExecutor{
		kind: models.KindSentiment,
		outcome: func(int, context.Context) ([]byte, error) {
			return []byte(`{}`), nil
		},
	}
	handler := harness.Handler(exec, fastPolicy(), nil)

	require.NoError(t, handler(context.Background(), &models.Invocation{TaskID: "expired", Kind: models.KindSentiment}))
	assert.Zero(t, exec.calls)
}
