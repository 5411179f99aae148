package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/abhijithns29/propchain-engine/internal/model"
)

// InMemoryRecordStore implements RecordStore using in-memory maps. It keeps
// the same compare-and-set semantics as the PostgreSQL store and backs unit
// tests and local development.
type InMemoryRecordStore struct {
	mu      sync.RWMutex
	parcels map[string]*model.Parcel
	records map[string]*model.TransactionRecord
	byToken map[string]string // idempotency token -> record id
}

// NewInMemoryRecordStore creates a new in-memory record store
func NewInMemoryRecordStore() *InMemoryRecordStore {
	return &InMemoryRecordStore{
		parcels: make(map[string]*model.Parcel),
		records: make(map[string]*model.TransactionRecord),
		byToken: make(map[string]string),
	}
}

func cloneParcel(p *model.Parcel) *model.Parcel {
	c := *p
	c.PreviousOwners = append([]string(nil), p.PreviousOwners...)
	return &c
}

func cloneRecord(r *model.TransactionRecord) *model.TransactionRecord {
	c := *r
	if r.SubmittedAt != nil {
		t := *r.SubmittedAt
		c.SubmittedAt = &t
	}
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}

// GetParcel retrieves a parcel by id
func (s *InMemoryRecordStore) GetParcel(ctx context.Context, parcelID string) (*model.Parcel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.parcels[parcelID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneParcel(p), nil
}

// CreateParcel creates a new parcel
func (s *InMemoryRecordStore) CreateParcel(ctx context.Context, parcel *model.Parcel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.parcels[parcel.ParcelID] = cloneParcel(parcel)
	return nil
}

// UpdateParcel updates a parcel with optimistic locking on version
func (s *InMemoryRecordStore) UpdateParcel(ctx context.Context, parcel *model.Parcel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.parcels[parcel.ParcelID]
	if !ok {
		return ErrNotFound
	}
	if existing.Version != parcel.Version {
		return ErrVersionMismatch
	}

	updated := cloneParcel(parcel)
	updated.ActiveTransactionID = existing.ActiveTransactionID
	updated.UpdatedAt = time.Now()
	updated.Version++
	s.parcels[parcel.ParcelID] = updated
	parcel.Version++
	return nil
}

// AcquireParcelLock atomically claims the parcel for a transaction record
func (s *InMemoryRecordStore) AcquireParcelLock(ctx context.Context, parcelID, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.parcels[parcelID]
	if !ok {
		return ErrNotFound
	}
	if p.ActiveTransactionID != "" {
		return ErrLockHeld
	}

	p.ActiveTransactionID = recordID
	p.UpdatedAt = time.Now()
	p.Version++
	return nil
}

// ReleaseParcelLock clears the parcel lock if recordID still holds it
func (s *InMemoryRecordStore) ReleaseParcelLock(ctx context.Context, parcelID, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.parcels[parcelID]
	if !ok {
		return ErrNotFound
	}
	if p.ActiveTransactionID == recordID {
		p.ActiveTransactionID = ""
		p.UpdatedAt = time.Now()
		p.Version++
	}
	return nil
}

// ListLockedParcels returns parcels whose lock predates the cutoff
func (s *InMemoryRecordStore) ListLockedParcels(ctx context.Context, cutoff time.Time, limit int) ([]*model.Parcel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]*model.Parcel, 0)
	for _, p := range s.parcels {
		if p.ActiveTransactionID != "" && p.UpdatedAt.Before(cutoff) {
			matches = append(matches, cloneParcel(p))
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].UpdatedAt.Before(matches[j].UpdatedAt)
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// GetRecord retrieves a transaction record by id
func (s *InMemoryRecordStore) GetRecord(ctx context.Context, recordID string) (*model.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[recordID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(r), nil
}

// GetRecordByToken retrieves a transaction record by idempotency token
func (s *InMemoryRecordStore) GetRecordByToken(ctx context.Context, token string) (*model.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recordID, ok := s.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(s.records[recordID]), nil
}

// CreateRecord creates a new transaction record, enforcing token uniqueness
func (s *InMemoryRecordStore) CreateRecord(ctx context.Context, record *model.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byToken[record.IdempotencyToken]; ok {
		return ErrDuplicateToken
	}

	s.records[record.RecordID] = cloneRecord(record)
	s.byToken[record.IdempotencyToken] = record.RecordID
	return nil
}

// UpdateRecord persists the record conditioned on the current status
func (s *InMemoryRecordStore) UpdateRecord(ctx context.Context, record *model.TransactionRecord, fromStatus model.TransactionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[record.RecordID]
	if !ok {
		return ErrNotFound
	}
	if existing.Status != fromStatus {
		return ErrVersionMismatch
	}

	updated := cloneRecord(record)
	updated.UpdatedAt = time.Now()
	updated.Version = existing.Version + 1
	s.records[record.RecordID] = updated
	record.Version = updated.Version
	return nil
}

// ListStalledRecords returns records stuck in the given statuses since before
// the cutoff, oldest first
func (s *InMemoryRecordStore) ListStalledRecords(
	ctx context.Context,
	statuses []model.TransactionStatus,
	cutoff time.Time,
	limit int,
) ([]*model.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[model.TransactionStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	matches := make([]*model.TransactionRecord, 0)
	for _, r := range s.records {
		if wanted[r.Status] && r.UpdatedAt.Before(cutoff) {
			matches = append(matches, cloneRecord(r))
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].UpdatedAt.Before(matches[j].UpdatedAt)
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Ping always succeeds for the in-memory store
func (s *InMemoryRecordStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store
func (s *InMemoryRecordStore) Close() {}

// InMemoryEventOutbox implements EventOutbox using an in-memory map
type InMemoryEventOutbox struct {
	mu     sync.Mutex
	events map[string]*model.DomainEvent
	seen   map[string]bool // (record id, to status) dedup
}

// NewInMemoryEventOutbox creates a new in-memory event outbox
func NewInMemoryEventOutbox() *InMemoryEventOutbox {
	return &InMemoryEventOutbox{
		events: make(map[string]*model.DomainEvent),
		seen:   make(map[string]bool),
	}
}

// Append stores an event unless one already exists for (record, to status)
func (o *InMemoryEventOutbox) Append(ctx context.Context, event *model.DomainEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := event.RecordID + ":" + string(event.ToStatus)
	if o.seen[key] {
		return nil
	}
	o.seen[key] = true

	e := *event
	o.events[event.EventID] = &e
	return nil
}

// ListUndelivered retrieves events awaiting delivery, oldest first
func (o *InMemoryEventOutbox) ListUndelivered(ctx context.Context, limit int) ([]*model.DomainEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	pending := make([]*model.DomainEvent, 0)
	for _, e := range o.events {
		if e.DeliveredAt == nil {
			c := *e
			pending = append(pending, &c)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].OccurredAt.Before(pending[j].OccurredAt)
	})

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// MarkDelivered records successful delivery of an event
func (o *InMemoryEventOutbox) MarkDelivered(ctx context.Context, eventID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if e, ok := o.events[eventID]; ok && e.DeliveredAt == nil {
		now := time.Now()
		e.DeliveredAt = &now
	}
	return nil
}

// RecordAttempt increments the delivery attempt counter
func (o *InMemoryEventOutbox) RecordAttempt(ctx context.Context, eventID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if e, ok := o.events[eventID]; ok {
		e.AttemptCount++
	}
	return nil
}

// InMemoryIdempotencyStore implements IdempotencyStore using an in-memory map
type InMemoryIdempotencyStore struct {
	mu   sync.RWMutex
	data map[string]idempotencyItem
}

type idempotencyItem struct {
	recordID  string
	expiresAt time.Time
}

// NewInMemoryIdempotencyStore creates a new in-memory idempotency store
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{
		data: make(map[string]idempotencyItem),
	}
}

// Get retrieves the record id cached for an idempotency token
func (s *InMemoryIdempotencyStore) Get(ctx context.Context, token string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.data[token]
	if !ok || time.Now().After(item.expiresAt) {
		return "", ErrNotFound
	}
	return item.recordID, nil
}

// Set caches the record id for an idempotency token with a TTL
func (s *InMemoryIdempotencyStore) Set(ctx context.Context, token, recordID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[token] = idempotencyItem{
		recordID:  recordID,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Delete removes an idempotency token
func (s *InMemoryIdempotencyStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, token)
	return nil
}

// Ping always succeeds for the in-memory store
func (s *InMemoryIdempotencyStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store
func (s *InMemoryIdempotencyStore) Close() error {
	return nil
}
