package repository

import (
	"context"
	"fmt"
	"sync"

	"StockPulse/internal/domain/models"
	"StockPulse/internal/domain/repository"
	applogger "StockPulse/pkg/logger"
)

// MemoryBroker carries invocations over in-process channels. It is used for
// single-process deployments and tests; semantics match the other adapters
// (unordered across kinds, per-kind worker pools, bounded forecast
// concurrency).
type MemoryBroker struct {
	mu       sync.Mutex
	handlers map[models.AnalysisKind]repository.InvocationHandler
	channels map[models.AnalysisKind]chan *models.Invocation

	workers         int
	forecastWorkers int
	bufferSize      int

	started bool
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *applogger.Logger
}

func NewMemoryBroker(workers, forecastWorkers, bufferSize int, l *applogger.Logger) *MemoryBroker {
	if workers <= 0 {
		workers = 4
	}
	if forecastWorkers <= 0 {
		forecastWorkers = 1
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &MemoryBroker{
		handlers:        make(map[models.AnalysisKind]repository.InvocationHandler),
		channels:        make(map[models.AnalysisKind]chan *models.Invocation),
		workers:         workers,
		forecastWorkers: forecastWorkers,
		bufferSize:      bufferSize,
		done:            make(chan struct{}),
		logger:          l,
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, inv *models.Invocation) error {
	b.mu.Lock()
	ch, ok := b.channels[inv.Kind]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no subscriber for kind %s", inv.Kind)
	}

	select {
	case ch <- inv:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return fmt.Errorf("broker stopped")
	}
}

func (b *MemoryBroker) Subscribe(kind models.AnalysisKind, handler repository.InvocationHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = handler
	b.channels[kind] = make(chan *models.Invocation, b.bufferSize)
}

func (b *MemoryBroker) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	b.started = true

	for kind, ch := range b.channels {
		n := b.workers
		if kind == models.KindForecast {
			n = b.forecastWorkers
		}
		handler := b.handlers[kind]
		for i := 0; i < n; i++ {
			b.wg.Add(1)
			go b.worker(kind, ch, handler)
		}
	}
	return nil
}

func (b *MemoryBroker) worker(kind models.AnalysisKind, ch chan *models.Invocation, handler repository.InvocationHandler) {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case inv := <-ch:
			if err := handler(context.Background(), inv); err != nil && b.logger != nil {
				b.logger.Warn("invocation handler error",
					applogger.String("kind", string(kind)),
					applogger.String("task_id", inv.TaskID),
					applogger.Error(err),
				)
			}
		}
	}
}

func (b *MemoryBroker) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	close(b.done)
	b.mu.Unlock()

	waitCh := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ repository.Broker = (*MemoryBroker)(nil)
