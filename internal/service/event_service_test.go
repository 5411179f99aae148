package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/abhijithns29/propchain-engine/internal/metrics"
	"github.com/abhijithns29/propchain-engine/internal/model"
	"github.com/abhijithns29/propchain-engine/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestEventService_EmitAndDispatch(t *testing.T) {
	outbox := store.NewInMemoryEventOutbox()

	var published []*model.DomainEvent
	svc := NewEventService(outbox, PublisherFunc(func(ctx context.Context, event *model.DomainEvent) error {
		published = append(published, event)
		return nil
	}), time.Hour, metrics.NewMetricsWith(prometheus.NewRegistry()), zap.NewNop())

	ctx := context.Background()
	record := &model.TransactionRecord{RecordID: "r1", ParcelID: "p1"}

	svc.Emit(ctx, record, model.StatusApproved, model.StatusFinalized)
	svc.dispatchOnce(ctx)

	assert.Len(t, published, 1)
	assert.Equal(t, "r1", published[0].RecordID)
	assert.Equal(t, model.StatusFinalized, published[0].ToStatus)

	// Delivered events are not dispatched again
	svc.dispatchOnce(ctx)
	assert.Len(t, published, 1)
}

func TestEventService_EmitDedupesTerminalTransition(t *testing.T) {
	outbox := store.NewInMemoryEventOutbox()
	svc := NewEventService(outbox, PublisherFunc(func(ctx context.Context, event *model.DomainEvent) error {
		return nil
	}), time.Hour, metrics.NewMetricsWith(prometheus.NewRegistry()), zap.NewNop())

	ctx := context.Background()
	record := &model.TransactionRecord{RecordID: "r1", ParcelID: "p1"}

	// A replayed terminal transition must not produce a second event
	svc.Emit(ctx, record, model.StatusApproved, model.StatusFinalized)
	svc.Emit(ctx, record, model.StatusApproved, model.StatusFinalized)

	pending, err := outbox.ListUndelivered(ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestEventService_RedeliversAfterPublishFailure(t *testing.T) {
	outbox := store.NewInMemoryEventOutbox()

	var attempts int
	svc := NewEventService(outbox, PublisherFunc(func(ctx context.Context, event *model.DomainEvent) error {
		attempts++
		if attempts == 1 {
			return errors.New("broker down")
		}
		return nil
	}), time.Hour, metrics.NewMetricsWith(prometheus.NewRegistry()), zap.NewNop())

	ctx := context.Background()
	record := &model.TransactionRecord{RecordID: "r1", ParcelID: "p1"}
	svc.Emit(ctx, record, model.StatusSubmitted, model.StatusFailed)

	// First dispatch fails and keeps the event pending
	svc.dispatchOnce(ctx)
	pending, _ := outbox.ListUndelivered(ctx, 10)
	assert.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].AttemptCount)

	// Second dispatch succeeds
	svc.dispatchOnce(ctx)
	pending, _ = outbox.ListUndelivered(ctx, 10)
	assert.Empty(t, pending)
	assert.Equal(t, 2, attempts)
}
