package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"StockPulse/internal/domain/models"
	"StockPulse/internal/domain/repository"
	"StockPulse/pkg/cache"
	applogger "StockPulse/pkg/logger"
)

const (
	taskKeyPrefix       = "task"
	marketDataKeyPrefix = "marketdata"
)

// CacheTaskStore implements TaskStore on the shared cache service. All task
// state lives under TTL'd keys so records for a task and its sub-tasks expire
// together; there is no separate garbage collection.
type CacheTaskStore struct {
	cache         cache.Service
	marketCache   cache.Service
	taskTTL       time.Duration
	marketDataTTL time.Duration
	logger        *applogger.Logger
}

// NewCacheTaskStore creates a task store backed by cache services. Task state
// always reads stateCache (the shared store all replicas agree on); market
// data is written once and never mutated, so marketCache may add a local
// read-through layer. Passing the same service twice is fine.
func NewCacheTaskStore(stateCache, marketCache cache.Service, taskTTL, marketDataTTL time.Duration) *CacheTaskStore {
	if marketCache == nil {
		marketCache = stateCache
	}
	return &CacheTaskStore{
		cache:         stateCache,
		marketCache:   marketCache,
		taskTTL:       taskTTL,
		marketDataTTL: marketDataTTL,
	}
}

// SetLogger attaches a logger for store diagnostics.
func (s *CacheTaskStore) SetLogger(l *applogger.Logger) { s.logger = l }

func taskKey(taskID string) string {
	return cache.GenerateKey(taskKeyPrefix, taskID)
}

func subTaskKey(taskID string, kind models.AnalysisKind) string {
	return cache.GenerateKeyWithParams(taskKeyPrefix, taskID, "subtask", string(kind))
}

func marketDataKey(symbol string, kind models.MarketDataKind) string {
	return cache.GenerateKeyWithParams(marketDataKeyPrefix, symbol, string(kind))
}

// CreateTask writes the task record and all initial sub-task records in one
// multi-set so a reader never observes the task without its sub-tasks.
func (s *CacheTaskStore) CreateTask(ctx context.Context, task *models.Task, subTasks []*models.SubTask) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("%w: missing task id", models.ErrInvalidRequest)
	}

	values := make(map[string]interface{}, len(subTasks)+1)
	values[taskKey(task.ID)] = task
	for _, st := range subTasks {
		values[subTaskKey(st.TaskID, st.Kind)] = st
	}

	if err := s.cache.MSet(ctx, values, s.taskTTL); err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}

	if s.logger != nil {
		s.logger.Debug("task record created",
			applogger.String("task_id", task.ID),
			applogger.String("symbol", task.Symbol),
			applogger.Int("sub_tasks", len(subTasks)),
		)
	}
	return nil
}

func (s *CacheTaskStore) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	if err := s.cache.Get(ctx, taskKey(taskID), &task); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return &task, nil
}

func (s *CacheTaskStore) GetSubTask(ctx context.Context, taskID string, kind models.AnalysisKind) (*models.SubTask, error) {
	var st models.SubTask
	if err := s.cache.Get(ctx, subTaskKey(taskID, kind), &st); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get sub-task %s/%s: %w", taskID, kind, err)
	}
	return &st, nil
}

// ListSubTasks fetches every sub-task of the task in one round trip.
func (s *CacheTaskStore) ListSubTasks(ctx context.Context, task *models.Task) (map[models.AnalysisKind]*models.SubTask, error) {
	kinds := append([]models.AnalysisKind{models.KindDataFetch}, task.RequestedKinds...)
	keys := make([]string, 0, len(kinds))
	for _, k := range kinds {
		keys = append(keys, subTaskKey(task.ID, k))
	}

	typed, err := cache.MGetTyped[models.SubTask](ctx, s.cache, keys...)
	if err != nil {
		return nil, fmt.Errorf("list sub-tasks %s: %w", task.ID, err)
	}

	out := make(map[models.AnalysisKind]*models.SubTask, len(kinds))
	for i, k := range kinds {
		if st, ok := typed[keys[i]]; ok {
			stCopy := st
			out[k] = &stCopy
		}
	}
	return out, nil
}

// TransitionSubTask overwrites the sub-task record after checking the current
// state. A terminal record is never replaced: late duplicate deliveries and
// racing retries hit ErrTerminalState and drop their write.
func (s *CacheTaskStore) TransitionSubTask(ctx context.Context, st *models.SubTask) error {
	task, err := s.GetTask(ctx, st.TaskID)
	if err != nil {
		return err
	}

	current, err := s.GetSubTask(ctx, st.TaskID, st.Kind)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	if current != nil && current.State.Terminal() {
		return models.ErrTerminalState
	}

	// Sub-task keys inherit the task's remaining lifetime so all records
	// of a task expire together.
	ttl := time.Until(task.ExpiresAt)
	if ttl <= 0 {
		return models.ErrNotFound
	}

	if err := s.cache.Set(ctx, subTaskKey(st.TaskID, st.Kind), st, ttl); err != nil {
		return fmt.Errorf("transition sub-task %s/%s: %w", st.TaskID, st.Kind, err)
	}

	if s.logger != nil {
		s.logger.Debug("sub-task transitioned",
			applogger.String("task_id", st.TaskID),
			applogger.String("kind", string(st.Kind)),
			applogger.String("state", string(st.State)),
			applogger.Int("attempt", st.AttemptCount),
		)
	}
	return nil
}

func (s *CacheTaskStore) GetMarketData(ctx context.Context, symbol string, kind models.MarketDataKind) (*models.OHLCV, error) {
	var data models.OHLCV
	if err := s.marketCache.Get(ctx, marketDataKey(symbol, kind), &data); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get market data %s/%s: %w", symbol, kind, err)
	}
	return &data, nil
}

func (s *CacheTaskStore) SetMarketData(ctx context.Context, symbol string, kind models.MarketDataKind, data *models.OHLCV) error {
	if err := s.marketCache.Set(ctx, marketDataKey(symbol, kind), data, s.marketDataTTL); err != nil {
		return fmt.Errorf("set market data %s/%s: %w", symbol, kind, err)
	}
	return nil
}

var _ repository.TaskStore = (*CacheTaskStore)(nil)
