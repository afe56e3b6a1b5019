package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockPulse/internal/domain/models"
	drepo "StockPulse/internal/domain/repository"
	internalrepo "StockPulse/internal/repository"
	"StockPulse/internal/usecase"
	"StockPulse/pkg/cache"
	applogger "StockPulse/pkg/logger"
)

type stubBroker struct {
	mu        sync.Mutex
	published []*models.Invocation
}

func (b *stubBroker) Publish(_ context.Context, inv *models.Invocation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, inv)
	return nil
}

func (b *stubBroker) Subscribe(models.AnalysisKind, drepo.InvocationHandler) {}
func (b *stubBroker) Start() error                                          { return nil }
func (b *stubBroker) Stop(context.Context) error                            { return nil }

type stubMetrics struct{}

func (stubMetrics) RecordTaskSubmitted(string)             {}
func (stubMetrics) RecordInvocationPublished(string)       {}
func (stubMetrics) RecordSubTaskTerminal(string, string)   {}
func (stubMetrics) RecordExecutionLatency(string, float64) {}
func (stubMetrics) RecordError(string)                     {}

func newTestServer(t *testing.T) (*echo.Echo, drepo.TaskStore) {
	t.Helper()
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	store := internalrepo.NewCacheTaskStore(mem, nil, time.Hour, time.Hour)
	coord := usecase.NewCoordinator(store, &stubBroker{}, stubMetrics{}, applogger.Nop(), time.Hour)

	e := echo.New()
	NewTasksEchoHandler(applogger.Nop(), coord, nil).RegisterRoutes(e)
	return e, store
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeRejectsBadRequests(t *testing.T) {
	e, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing symbol", `{"analyses":["sentiment"]}`},
		{"empty analyses", `{"symbol":"AAPL","analyses":[]}`},
		{"unknown analysis", `{"symbol":"AAPL","analyses":["astrology"]}`},
		{"forecast without timeframe", `{"symbol":"AAPL","analyses":["forecast"]}`},
		{"bad timeframe", `{"symbol":"AAPL","analyses":["forecast"],"forecast_timeframe":"5y"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(e, http.MethodPost, "/analyze", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAnalyzeAndPoll(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/analyze", `{"symbol":"aapl","analyses":["sentiment","technical"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data struct {
			TaskID string `json:"task_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Data.TaskID)

	rec = doJSON(e, http.MethodGet, "/tasks/"+created.Data.TaskID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var polled struct {
		Data models.TaskStatusDoc `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &polled))
	assert.Equal(t, models.StatusPending, polled.Data.Status)
	assert.Equal(t, "AAPL", polled.Data.Symbol)
	assert.Len(t, polled.Data.Results, 3)
}

func TestPollUnknownTaskReturns404(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodGet, "/tasks/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPollShowsPartialFailure(t *testing.T) {
	e, store := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/analyze", `{"symbol":"AAPL","analyses":["sentiment","technical"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Data struct {
			TaskID string `json:"task_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	taskID := created.Data.TaskID

	ctx := context.Background()
	now := time.Now().UTC()
	for _, st := range []*models.SubTask{
		{TaskID: taskID, Kind: models.KindDataFetch, State: models.StateSucceeded, Result: []byte(`{}`), FinishedAt: &now},
		{TaskID: taskID, Kind: models.KindSentiment, State: models.StateSucceeded, Result: []byte(`{"label":"positive","confidence":0.87}`), FinishedAt: &now},
		{TaskID: taskID, Kind: models.KindTechnical, State: models.StateTimedOut, Error: "wall-clock budget of 60s exceeded", FinishedAt: &now},
	} {
		require.NoError(t, store.TransitionSubTask(ctx, st))
	}

	rec = doJSON(e, http.MethodGet, "/tasks/"+taskID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var polled struct {
		Data models.TaskStatusDoc `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &polled))
	assert.Equal(t, models.StatusPartial, polled.Data.Status)
	assert.Equal(t, models.StateSucceeded, polled.Data.Results[models.KindSentiment].State)
	assert.Equal(t, models.StateTimedOut, polled.Data.Results[models.KindTechnical].State)
	assert.NotEmpty(t, polled.Data.Results[models.KindTechnical].Error)
}

func TestHistoryWithoutArchive(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodGet, "/marketdata/AAPL/history", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
