package store

import (
	"context"
	"errors"
	"time"

	"github.com/abhijithns29/propchain-engine/internal/model"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// ErrVersionMismatch is returned when a conditional write loses its precondition
var ErrVersionMismatch = errors.New("version mismatch")

// ErrLockHeld is returned when a parcel lock compare-and-set loses the race
var ErrLockHeld = errors.New("parcel lock held")

// ErrDuplicateToken is returned when an idempotency token already names a record
var ErrDuplicateToken = errors.New("duplicate idempotency token")

// RecordStore interface for parcel and transaction record operations.
// Every mutation is a single-row conditional write; there are no multi-row
// transactions, so callers sequence cross-row invariants themselves.
type RecordStore interface {
	// Parcel operations
	GetParcel(ctx context.Context, parcelID string) (*model.Parcel, error)
	CreateParcel(ctx context.Context, parcel *model.Parcel) error
	UpdateParcel(ctx context.Context, parcel *model.Parcel) error

	// AcquireParcelLock atomically sets the parcel's active transaction id
	// from empty to recordID. Returns ErrLockHeld on a lost race.
	AcquireParcelLock(ctx context.Context, parcelID, recordID string) error
	// ReleaseParcelLock atomically clears the active transaction id, but only
	// if recordID still holds it.
	ReleaseParcelLock(ctx context.Context, parcelID, recordID string) error
	// ListLockedParcels returns parcels whose lock predates the cutoff,
	// oldest first. Used to repair locks orphaned by a crash.
	ListLockedParcels(ctx context.Context, cutoff time.Time, limit int) ([]*model.Parcel, error)

	// Transaction record operations
	GetRecord(ctx context.Context, recordID string) (*model.TransactionRecord, error)
	GetRecordByToken(ctx context.Context, token string) (*model.TransactionRecord, error)
	CreateRecord(ctx context.Context, record *model.TransactionRecord) error
	// UpdateRecord persists the record's mutable fields, but only if the row
	// is still in fromStatus. Returns ErrVersionMismatch otherwise.
	UpdateRecord(ctx context.Context, record *model.TransactionRecord, fromStatus model.TransactionStatus) error
	// ListStalledRecords returns records sitting in one of the given statuses
	// since before the cutoff, oldest first.
	ListStalledRecords(ctx context.Context, statuses []model.TransactionStatus, cutoff time.Time, limit int) ([]*model.TransactionRecord, error)

	// Health check
	Ping(ctx context.Context) error
	Close()
}

// EventOutbox interface for at-least-once domain event dispatch
type EventOutbox interface {
	Append(ctx context.Context, event *model.DomainEvent) error
	ListUndelivered(ctx context.Context, limit int) ([]*model.DomainEvent, error)
	MarkDelivered(ctx context.Context, eventID string) error
	RecordAttempt(ctx context.Context, eventID string) error
}

// IdempotencyStore interface for idempotency token operations. Values are
// record ids; the durable authority is the token column on the record row,
// this store is the fast path.
type IdempotencyStore interface {
	Get(ctx context.Context, token string) (string, error)
	Set(ctx context.Context, token, recordID string, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
	Ping(ctx context.Context) error
	Close() error
}

// BlobStore interface for certificate document persistence
type BlobStore interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
	Get(ctx context.Context, handle string) ([]byte, error)
}
