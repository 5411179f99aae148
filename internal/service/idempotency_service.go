package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abhijithns29/propchain-engine/internal/model"
	"github.com/abhijithns29/propchain-engine/internal/store"
	"go.uber.org/zap"
)

// IdempotencyService resolves idempotency tokens to transaction records. The
// Redis-backed store is the fast path; the unique token column on the record
// row is the durable authority, so a cache miss falls through to the record
// store before a token is considered fresh.
type IdempotencyService struct {
	idempotencyStore store.IdempotencyStore
	recordStore      store.RecordStore
	ttl              time.Duration
	logger           *zap.Logger
}

// NewIdempotencyService creates a new idempotency service
func NewIdempotencyService(
	idempotencyStore store.IdempotencyStore,
	recordStore store.RecordStore,
	ttl time.Duration,
	logger *zap.Logger,
) *IdempotencyService {
	return &IdempotencyService{
		idempotencyStore: idempotencyStore,
		recordStore:      recordStore,
		ttl:              ttl,
		logger:           logger,
	}
}

// ValidateToken validates an idempotency token's format
func (s *IdempotencyService) ValidateToken(token string) bool {
	if len(token) < 8 || len(token) > 128 {
		return false
	}
	for _, c := range token {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') ||
			(c >= 'A' && c <= 'Z') || c == '-' || c == '_' || c == ':') {
			return false
		}
	}
	return true
}

// Lookup returns the existing record for a token, or nil if the token is
// fresh
func (s *IdempotencyService) Lookup(ctx context.Context, token string) (*model.TransactionRecord, error) {
	recordID, err := s.idempotencyStore.Get(ctx, token)
	if err == nil {
		record, err := s.recordStore.GetRecord(ctx, recordID)
		if err == nil {
			s.logger.Debug("Idempotency token resolved from cache",
				zap.String("token", token),
				zap.String("record_id", recordID))
			return record, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to load record for token: %w", err)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		// Cache unavailable; the durable lookup below still protects us
		s.logger.Warn("Idempotency cache lookup failed",
			zap.String("token", token),
			zap.Error(err))
	}

	record, err := s.recordStore.GetRecordByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	return record, nil
}

// Remember caches the token -> record mapping. Failures are logged, not
// surfaced: the durable column already holds the mapping.
func (s *IdempotencyService) Remember(ctx context.Context, token, recordID string) {
	if err := s.idempotencyStore.Set(ctx, token, recordID, s.ttl); err != nil {
		s.logger.Warn("Failed to cache idempotency token",
			zap.String("token", token),
			zap.String("record_id", recordID),
			zap.Error(err))
	}
}
