package service

import (
	"context"
	"time"

	"github.com/abhijithns29/propchain-engine/internal/metrics"
	"github.com/abhijithns29/propchain-engine/internal/model"
	"github.com/abhijithns29/propchain-engine/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher delivers domain events to the notification subsystems. Delivery
// is at-least-once; consumers dedupe on (record id, to status).
type Publisher interface {
	Publish(ctx context.Context, event *model.DomainEvent) error
}

// PublisherFunc adapts a function to the Publisher interface
type PublisherFunc func(ctx context.Context, event *model.DomainEvent) error

// Publish calls f
func (f PublisherFunc) Publish(ctx context.Context, event *model.DomainEvent) error {
	return f(ctx, event)
}

// EventService emits domain events on terminal transitions and redelivers
// them from the outbox until a publish succeeds
type EventService struct {
	outbox    store.EventOutbox
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger

	batchSize        int
	dispatchInterval time.Duration
	stopCh           chan struct{}
}

// NewEventService creates a new event service
func NewEventService(
	outbox store.EventOutbox,
	publisher Publisher,
	dispatchInterval time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *EventService {
	if dispatchInterval == 0 {
		dispatchInterval = 5 * time.Second
	}

	return &EventService{
		outbox:           outbox,
		publisher:        publisher,
		metrics:          m,
		logger:           logger,
		batchSize:        100,
		dispatchInterval: dispatchInterval,
		stopCh:           make(chan struct{}),
	}
}

// Emit records a terminal transition for delivery. The state change is
// already durable; an outbox failure only delays notification, so it is
// logged rather than surfaced.
func (s *EventService) Emit(ctx context.Context, record *model.TransactionRecord, from, to model.TransactionStatus) {
	event := &model.DomainEvent{
		EventID:    uuid.New().String(),
		RecordID:   record.RecordID,
		ParcelID:   record.ParcelID,
		FromStatus: from,
		ToStatus:   to,
		OccurredAt: time.Now(),
	}

	if err := s.outbox.Append(ctx, event); err != nil {
		s.logger.Error("Failed to append domain event",
			zap.String("record_id", record.RecordID),
			zap.String("to_status", string(to)),
			zap.Error(err))
		return
	}

	s.logger.Debug("Domain event recorded",
		zap.String("record_id", record.RecordID),
		zap.String("from_status", string(from)),
		zap.String("to_status", string(to)))
}

// Start begins the background dispatch loop
func (s *EventService) Start() {
	s.logger.Info("Starting event dispatcher",
		zap.Duration("interval", s.dispatchInterval))

	ticker := time.NewTicker(s.dispatchInterval)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.dispatchOnce(context.Background())
			case <-s.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the dispatch loop
func (s *EventService) Stop() {
	close(s.stopCh)
	s.logger.Info("Event dispatcher stopped")
}

// dispatchOnce delivers a batch of undelivered events
func (s *EventService) dispatchOnce(ctx context.Context) {
	events, err := s.outbox.ListUndelivered(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("Failed to list undelivered events", zap.Error(err))
		return
	}

	for _, event := range events {
		if err := s.outbox.RecordAttempt(ctx, event.EventID); err != nil {
			s.logger.Warn("Failed to record delivery attempt",
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}

		if err := s.publisher.Publish(ctx, event); err != nil {
			s.metrics.EventsDispatched.WithLabelValues("failed").Inc()
			s.logger.Warn("Event delivery failed, will retry",
				zap.String("event_id", event.EventID),
				zap.String("record_id", event.RecordID),
				zap.Int("attempts", event.AttemptCount+1),
				zap.Error(err))
			continue
		}

		if err := s.outbox.MarkDelivered(ctx, event.EventID); err != nil {
			// Redelivery is harmless: consumers dedupe on (record, status)
			s.logger.Warn("Failed to mark event delivered",
				zap.String("event_id", event.EventID),
				zap.Error(err))
			continue
		}

		s.metrics.EventsDispatched.WithLabelValues("delivered").Inc()
	}
}
