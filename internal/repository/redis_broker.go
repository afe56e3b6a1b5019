package repository

import (
	"context"
	"fmt"

	"StockPulse/internal/domain/models"
	"StockPulse/internal/domain/repository"
	applogger "StockPulse/pkg/logger"
	"StockPulse/pkg/queue"
)

const invocationMsgPrefix = "invocation"

// RedisBroker carries invocations over the Redis-backed job queue. Delivery
// is at-least-once: a worker that dies after BRPOP loses its message to the
// queue but the harness's idempotency guard makes redelivered messages safe.
type RedisBroker struct {
	queue  *queue.RedisQueue
	logger *applogger.Logger
}

func NewRedisBroker(q *queue.RedisQueue, l *applogger.Logger) *RedisBroker {
	return &RedisBroker{queue: q, logger: l}
}

func invocationMsgType(kind models.AnalysisKind) string {
	return fmt.Sprintf("%s.%s", invocationMsgPrefix, kind)
}

func (b *RedisBroker) Publish(ctx context.Context, inv *models.Invocation) error {
	if err := b.queue.Enqueue(ctx, invocationMsgType(inv.Kind), inv); err != nil {
		return fmt.Errorf("enqueue invocation %s/%s: %w", inv.TaskID, inv.Kind, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(kind models.AnalysisKind, handler repository.InvocationHandler) {
	b.queue.RegisterJob(&invocationJob{kind: kind, handler: handler})
}

func (b *RedisBroker) Start() error { return b.queue.Start() }

func (b *RedisBroker) Stop(ctx context.Context) error { return b.queue.Stop(ctx) }

// invocationJob adapts an InvocationHandler to the queue's Job interface.
type invocationJob struct {
	kind    models.AnalysisKind
	handler repository.InvocationHandler
}

func (j *invocationJob) Name() string { return fmt.Sprintf("run-%s", j.kind) }
func (j *invocationJob) Type() string { return invocationMsgType(j.kind) }

func (j *invocationJob) Handle(ctx context.Context, payload interface{}) error {
	inv, err := queue.ParsePayload[models.Invocation](payload)
	if err != nil {
		return fmt.Errorf("parse invocation payload: %w", err)
	}
	return j.handler(ctx, inv)
}

var _ repository.Broker = (*RedisBroker)(nil)
