package usecase

import (
	"context"
	"time"

	"StockPulse/internal/domain/models"
	drepo "StockPulse/internal/domain/repository"
)

// Workers binds the executors into the broker through the harness. The
// data-fetch handler carries the coordinator's fan-out as its terminal
// callback; analysis handlers carry none.
type Workers struct {
	harness         *Harness
	coordinator     *Coordinator
	dataFetch       Executor
	analyses        []Executor
	base            Policy
	forecastTimeout time.Duration
}

func NewWorkers(
	harness *Harness,
	coordinator *Coordinator,
	dataFetch Executor,
	analyses []Executor,
	base Policy,
	forecastTimeout time.Duration,
) *Workers {
	return &Workers{
		harness:         harness,
		coordinator:     coordinator,
		dataFetch:       dataFetch,
		analyses:        analyses,
		base:            base,
		forecastTimeout: forecastTimeout,
	}
}

// Register subscribes one handler per kind. Must run before broker.Start.
func (w *Workers) Register(broker drepo.Broker) {
	onFetchTerminal := func(ctx context.Context, taskID string, succeeded bool) error {
		return w.coordinator.CompleteDataFetch(ctx, taskID, succeeded)
	}
	broker.Subscribe(models.KindDataFetch, w.harness.Handler(w.dataFetch, w.base, onFetchTerminal))

	for _, exec := range w.analyses {
		policy := w.base
		if exec.Kind() == models.KindForecast && w.forecastTimeout > 0 {
			policy.Timeout = w.forecastTimeout
		}
		broker.Subscribe(exec.Kind(), w.harness.Handler(exec, policy, nil))
	}
}
