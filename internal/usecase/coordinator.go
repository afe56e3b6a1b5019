package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"StockPulse/internal/domain/models"
	drepo "StockPulse/internal/domain/repository"
	applogger "StockPulse/pkg/logger"
)

// ReasonUpstreamUnavailable is written to analysis sub-tasks cancelled
// because their data-fetch prerequisite failed.
const ReasonUpstreamUnavailable = "upstream data unavailable"

// SubmitRequest is the validated input to Coordinator.Submit.
type SubmitRequest struct {
	Symbol            string
	Kinds             []models.AnalysisKind
	ForecastTimeframe models.ForecastTimeframe
}

// Coordinator owns the task lifecycle: it creates the task aggregate, holds
// the dispatch trigger between the data-fetch stage and the analysis fan-out,
// and merges sub-task states into one poll response. It keeps no state of its
// own; every read and write goes through the store, so replicas are
// interchangeable.
type Coordinator struct {
	store   drepo.TaskStore
	broker  drepo.Broker
	metrics drepo.Metrics
	logger  *applogger.Logger
	taskTTL time.Duration
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(
	store drepo.TaskStore,
	broker drepo.Broker,
	metrics drepo.Metrics,
	logger *applogger.Logger,
	taskTTL time.Duration,
) *Coordinator {
	return &Coordinator{
		store:   store,
		broker:  broker,
		metrics: metrics,
		logger:  logger,
		taskTTL: taskTTL,
	}
}

// Submit validates the request, creates the task with one pending sub-task
// per kind (data_fetch always included), and publishes exactly one data-fetch
// invocation. It never waits on a worker.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*models.Task, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", models.ErrInvalidRequest)
	}
	if len(req.Kinds) == 0 {
		return nil, fmt.Errorf("%w: at least one analysis kind is required", models.ErrInvalidRequest)
	}

	seen := make(map[models.AnalysisKind]bool, len(req.Kinds))
	kinds := make([]models.AnalysisKind, 0, len(req.Kinds))
	for _, k := range req.Kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("%w: unknown analysis kind %q", models.ErrInvalidRequest, k)
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		kinds = append(kinds, k)
	}

	forecastRequested := seen[models.KindForecast]
	if forecastRequested && req.ForecastTimeframe == "" {
		return nil, fmt.Errorf("%w: forecast requires a timeframe", models.ErrInvalidRequest)
	}
	if !forecastRequested && req.ForecastTimeframe != "" {
		return nil, fmt.Errorf("%w: timeframe given without forecast", models.ErrInvalidRequest)
	}
	if forecastRequested && !req.ForecastTimeframe.Valid() {
		return nil, fmt.Errorf("%w: unknown forecast timeframe %q", models.ErrInvalidRequest, req.ForecastTimeframe)
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:                uuid.NewString(),
		Symbol:            symbol,
		RequestedKinds:    kinds,
		ForecastTimeframe: req.ForecastTimeframe,
		CreatedAt:         now,
		ExpiresAt:         now.Add(c.taskTTL),
	}

	subTasks := make([]*models.SubTask, 0, len(kinds)+1)
	for _, k := range append([]models.AnalysisKind{models.KindDataFetch}, kinds...) {
		subTasks = append(subTasks, &models.SubTask{
			TaskID: task.ID,
			Kind:   k,
			State:  models.StatePending,
		})
	}

	if err := c.store.CreateTask(ctx, task, subTasks); err != nil {
		return nil, err
	}

	if err := c.broker.Publish(ctx, &models.Invocation{
		TaskID: task.ID,
		Kind:   models.KindDataFetch,
		Symbol: task.Symbol,
	}); err != nil {
		return nil, fmt.Errorf("dispatch data fetch: %w", err)
	}

	c.metrics.RecordTaskSubmitted(symbol)
	c.metrics.RecordInvocationPublished(string(models.KindDataFetch))
	c.logger.Info("task submitted",
		applogger.String("task_id", task.ID),
		applogger.String("symbol", symbol),
		applogger.Strings("kinds", kindsToStrings(kinds)),
	)

	return task, nil
}

// Poll reads every sub-task of the task and merges them into one status
// document. Degraded results stay visible: each requested kind appears with
// its state and, where terminal, its result or error.
func (c *Coordinator) Poll(ctx context.Context, taskID string) (*models.TaskStatusDoc, error) {
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	subTasks, err := c.store.ListSubTasks(ctx, task)
	if err != nil {
		return nil, err
	}

	doc := &models.TaskStatusDoc{
		TaskID:  task.ID,
		Symbol:  task.Symbol,
		Status:  aggregateStatus(task, subTasks),
		Results: make(map[models.AnalysisKind]models.SubTaskView, len(subTasks)),
	}
	for kind, st := range subTasks {
		doc.Results[kind] = models.SubTaskView{
			State:  st.State,
			Result: st.Result,
			Error:  st.Error,
		}
	}
	return doc, nil
}

// aggregateStatus derives the task-level status from sub-task states.
// failed is reserved for the data-fetch prerequisite failing; a mix of
// analysis successes and failures is partial, never failed.
func aggregateStatus(task *models.Task, subTasks map[models.AnalysisKind]*models.SubTask) models.TaskStatus {
	df := subTasks[models.KindDataFetch]
	if df == nil {
		return models.StatusPending
	}
	if df.State.Terminal() && df.State != models.StateSucceeded {
		return models.StatusFailed
	}
	if df.State != models.StateSucceeded {
		return models.StatusPending
	}

	var anyTerminal, anySucceeded, anyFailed, allTerminal bool
	allTerminal = true
	for _, k := range task.RequestedKinds {
		st := subTasks[k]
		if st == nil || !st.State.Terminal() {
			allTerminal = false
			continue
		}
		anyTerminal = true
		if st.State == models.StateSucceeded {
			anySucceeded = true
		} else {
			anyFailed = true
		}
	}

	switch {
	case allTerminal && anyFailed && anySucceeded:
		return models.StatusPartial
	case allTerminal:
		return models.StatusComplete
	case anyTerminal:
		return models.StatusPartial
	default:
		return models.StatusPending
	}
}

// CompleteDataFetch is the single fan-out trigger. The harness calls it
// exactly once per task, after it performed the data-fetch sub-task's
// terminal transition (the terminal-state guard on the store makes duplicate
// deliveries lose that race, so the fan-out cannot double-dispatch).
//
// On success every requested analysis invocation is published. On failure
// every still-pending analysis sub-task is marked failed without invoking
// its worker.
func (c *Coordinator) CompleteDataFetch(ctx context.Context, taskID string, fetchSucceeded bool) error {
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if !fetchSucceeded {
		return c.cascadeFail(ctx, task)
	}

	for _, kind := range task.RequestedKinds {
		inv := &models.Invocation{
			TaskID: task.ID,
			Kind:   kind,
			Symbol: task.Symbol,
		}
		if kind == models.KindForecast {
			inv.ForecastTimeframe = task.ForecastTimeframe
		}
		if err := c.broker.Publish(ctx, inv); err != nil {
			return fmt.Errorf("dispatch %s: %w", kind, err)
		}
		c.metrics.RecordInvocationPublished(string(kind))
	}

	c.logger.Info("analysis fan-out dispatched",
		applogger.String("task_id", task.ID),
		applogger.String("symbol", task.Symbol),
		applogger.Int("kinds", len(task.RequestedKinds)),
	)
	return nil
}

// cascadeFail marks every non-terminal analysis sub-task failed so dependent
// work never sits pending forever and no analysis worker is ever invoked.
func (c *Coordinator) cascadeFail(ctx context.Context, task *models.Task) error {
	now := time.Now().UTC()
	for _, kind := range task.RequestedKinds {
		st := &models.SubTask{
			TaskID:     task.ID,
			Kind:       kind,
			State:      models.StateFailed,
			Error:      ReasonUpstreamUnavailable,
			FinishedAt: &now,
		}
		if err := c.store.TransitionSubTask(ctx, st); err != nil {
			if err == models.ErrTerminalState {
				continue
			}
			return fmt.Errorf("cascade fail %s/%s: %w", task.ID, kind, err)
		}
		c.metrics.RecordSubTaskTerminal(string(kind), string(models.StateFailed))
	}

	c.logger.Warn("data fetch failed, analyses cancelled",
		applogger.String("task_id", task.ID),
		applogger.String("symbol", task.Symbol),
	)
	return nil
}

func kindsToStrings(kinds []models.AnalysisKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
