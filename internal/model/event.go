package model

import "time"

// DomainEvent is emitted on every terminal transition of a transaction
// record. Delivery is at-least-once; consumers dedupe on (RecordID, ToStatus).
type DomainEvent struct {
	EventID    string            `json:"event_id"`
	RecordID   string            `json:"record_id"`
	ParcelID   string            `json:"parcel_id"`
	FromStatus TransactionStatus `json:"from_status"`
	ToStatus   TransactionStatus `json:"to_status"`
	OccurredAt time.Time         `json:"occurred_at"`

	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	AttemptCount int        `json:"attempt_count"`
}

// Certificate represents a rendered transfer certificate for a finalized
// transaction. The engine stores only the handle; the document body lives in
// the blob store.
type Certificate struct {
	CertificateID string
	RecordID      string
	ParcelID      string
	OwnerID       string
	BlobHandle    string
	IssuedAt      time.Time
}
