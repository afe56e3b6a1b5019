package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockPulse/internal/domain/models"
	applogger "StockPulse/pkg/logger"
)

func TestMemoryBrokerDelivers(t *testing.T) {
	broker := NewMemoryBroker(2, 1, 16, applogger.Nop())

	var mu sync.Mutex
	var got []*models.Invocation
	done := make(chan struct{}, 4)

	broker.Subscribe(models.KindSentiment, func(_ context.Context, inv *models.Invocation) error {
		mu.Lock()
		got = append(got, inv)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	require.NoError(t, broker.Start())
	defer broker.Stop(context.Background())

	ctx := context.Background()
	require.NoError(t, broker.Publish(ctx, &models.Invocation{TaskID: "t1", Kind: models.KindSentiment, Symbol: "AAPL"}))
	require.NoError(t, broker.Publish(ctx, &models.Invocation{TaskID: "t2", Kind: models.KindSentiment, Symbol: "MSFT"}))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 2)
}

func TestMemoryBrokerRejectsUnknownKind(t *testing.T) {
	broker := NewMemoryBroker(1, 1, 1, applogger.Nop())
	require.NoError(t, broker.Start())
	defer broker.Stop(context.Background())

	err := broker.Publish(context.Background(), &models.Invocation{TaskID: "t1", Kind: models.KindForecast})
	assert.Error(t, err)
}

func TestMemoryBrokerStopUnblocksPublish(t *testing.T) {
	broker := NewMemoryBroker(1, 1, 1, applogger.Nop())
	block := make(chan struct{})
	broker.Subscribe(models.KindSentiment, func(context.Context, *models.Invocation) error {
		<-block
		return nil
	})
	require.NoError(t, broker.Start())

	ctx := context.Background()
	// Fill the worker plus the buffer.
	require.NoError(t, broker.Publish(ctx, &models.Invocation{TaskID: "t1", Kind: models.KindSentiment}))
	require.NoError(t, broker.Publish(ctx, &models.Invocation{TaskID: "t2", Kind: models.KindSentiment}))

	pubErr := make(chan error, 1)
	go func() {
		pubErr <- broker.Publish(ctx, &models.Invocation{TaskID: "t3", Kind: models.KindSentiment})
	}()

	close(block)
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, broker.Stop(stopCtx))

	select {
	case <-pubErr:
	case <-time.After(time.Second):
		t.Fatal("publish did not unblock on stop")
	}
}
