package store

import (
	"context"
	"fmt"

	"github.com/abhijithns29/propchain-engine/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresEventOutbox implements EventOutbox using PostgreSQL
type PostgresEventOutbox struct {
	pool *pgxpool.Pool
}

// NewPostgresEventOutbox creates a new PostgreSQL event outbox
func NewPostgresEventOutbox(pool *pgxpool.Pool) *PostgresEventOutbox {
	return &PostgresEventOutbox{
		pool: pool,
	}
}

// Append stores a domain event for later delivery. The unique index on
// (record_id, to_status) makes re-emission after a crash a no-op, which keeps
// consumer-side dedup cheap.
func (s *PostgresEventOutbox) Append(ctx context.Context, event *model.DomainEvent) error {
	query := `
		INSERT INTO domain_events (
			event_id, record_id, parcel_id, from_status, to_status,
			occurred_at, delivered_at, attempt_count
		) VALUES ($1, $2, $3, $4, $5, $6, NULL, 0)
		ON CONFLICT (record_id, to_status) DO NOTHING
	`

	_, err := s.pool.Exec(ctx, query,
		event.EventID,
		event.RecordID,
		event.ParcelID,
		event.FromStatus,
		event.ToStatus,
		event.OccurredAt,
	)

	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// ListUndelivered retrieves events awaiting delivery, oldest first
func (s *PostgresEventOutbox) ListUndelivered(ctx context.Context, limit int) ([]*model.DomainEvent, error) {
	query := `
		SELECT event_id, record_id, parcel_id, from_status, to_status,
		       occurred_at, delivered_at, attempt_count
		FROM domain_events
		WHERE delivered_at IS NULL
		ORDER BY occurred_at ASC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list undelivered events: %w", err)
	}
	defer rows.Close()

	events := make([]*model.DomainEvent, 0)
	for rows.Next() {
		var e model.DomainEvent
		if err := rows.Scan(
			&e.EventID,
			&e.RecordID,
			&e.ParcelID,
			&e.FromStatus,
			&e.ToStatus,
			&e.OccurredAt,
			&e.DeliveredAt,
			&e.AttemptCount,
		); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}

	return events, rows.Err()
}

// MarkDelivered records successful delivery of an event
func (s *PostgresEventOutbox) MarkDelivered(ctx context.Context, eventID string) error {
	query := `
		UPDATE domain_events
		SET delivered_at = NOW()
		WHERE event_id = $1 AND delivered_at IS NULL
	`

	_, err := s.pool.Exec(ctx, query, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event delivered: %w", err)
	}

	return nil
}

// RecordAttempt increments the delivery attempt counter
func (s *PostgresEventOutbox) RecordAttempt(ctx context.Context, eventID string) error {
	query := `
		UPDATE domain_events
		SET attempt_count = attempt_count + 1
		WHERE event_id = $1
	`

	_, err := s.pool.Exec(ctx, query, eventID)
	if err != nil {
		return fmt.Errorf("failed to record delivery attempt: %w", err)
	}

	return nil
}
