package repository

import (
	"context"
	"time"

	"StockPulse/internal/domain/models"
)

// TaskStore persists task and sub-task records on the shared cache store.
// It is the single source of truth: no component keeps authoritative
// in-process copies across calls.
type TaskStore interface {
	// CreateTask writes the task record plus one pending sub-task per kind.
	CreateTask(ctx context.Context, task *models.Task, subTasks []*models.SubTask) error

	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	GetSubTask(ctx context.Context, taskID string, kind models.AnalysisKind) (*models.SubTask, error)
	ListSubTasks(ctx context.Context, task *models.Task) (map[models.AnalysisKind]*models.SubTask, error)

	// TransitionSubTask overwrites the sub-task record. It refuses to
	// replace a terminal state with anything, returning ErrTerminalState.
	TransitionSubTask(ctx context.Context, st *models.SubTask) error

	// Market-data cache, distinct key namespace, reused across tasks.
	GetMarketData(ctx context.Context, symbol string, kind models.MarketDataKind) (*models.OHLCV, error)
	SetMarketData(ctx context.Context, symbol string, kind models.MarketDataKind, data *models.OHLCV) error
}

// Broker carries sub-task invocations from the coordinator to workers with
// at-least-once delivery. Ordering across kinds is not guaranteed; the
// coordinator's trigger discipline enforces the dependency chain.
type Broker interface {
	Publish(ctx context.Context, inv *models.Invocation) error
	// Subscribe registers the handler consuming invocations of one kind.
	// All handlers must be registered before Start.
	Subscribe(kind models.AnalysisKind, handler InvocationHandler)
	Start() error
	Stop(ctx context.Context) error
}

// InvocationHandler consumes one delivered invocation. Errors are delivery
// errors only; domain failures are recorded on the sub-task by the harness.
type InvocationHandler func(ctx context.Context, inv *models.Invocation) error

// MarketDataProvider fetches price history from the upstream source.
type MarketDataProvider interface {
	FetchOHLCV(ctx context.Context, symbol string) (*models.OHLCV, *models.SymbolMeta, error)
}

// AnalysisProvider runs one analysis kind against cached price data.
// Returned errors must be classified transient or fatal so the harness's
// retry policy can act on them.
type AnalysisProvider interface {
	Kind() models.AnalysisKind
	Analyze(ctx context.Context, inv *models.Invocation, data *models.OHLCV) ([]byte, error)
}

// OHLCVArchive persists fetched candles to durable columnar storage.
type OHLCVArchive interface {
	Init(ctx context.Context) error
	StoreBatch(ctx context.Context, symbol string, candles []models.Candle) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.Candle, error)
	Health(ctx context.Context) error
	Close() error
}

// Metrics records orchestration events.
type Metrics interface {
	RecordTaskSubmitted(symbol string)
	RecordInvocationPublished(kind string)
	RecordSubTaskTerminal(kind, state string)
	RecordExecutionLatency(kind string, seconds float64)
	RecordError(kind string)
}
