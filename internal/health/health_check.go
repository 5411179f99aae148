package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/abhijithns29/propchain-engine/internal/ledger"
	"github.com/abhijithns29/propchain-engine/internal/store"
	"go.uber.org/zap"
)

// HealthChecker provides health check endpoints
type HealthChecker struct {
	recordStore      store.RecordStore
	idempotencyStore store.IdempotencyStore
	ledger           ledger.Adapter
	logger           *zap.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(
	recordStore store.RecordStore,
	idempotencyStore store.IdempotencyStore,
	ledgerAdapter ledger.Adapter,
	logger *zap.Logger,
) *HealthChecker {
	return &HealthChecker{
		recordStore:      recordStore,
		idempotencyStore: idempotencyStore,
		ledger:           ledgerAdapter,
		logger:           logger,
	}
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

// ReadinessHandler handles readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	// Check record store (PostgreSQL)
	if err := h.checkRecordStore(ctx); err != nil {
		h.logger.Error("Record store health check failed", zap.Error(err))
		checks["record_store"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["record_store"] = "healthy"
	}

	// Check idempotency store (Redis)
	if err := h.checkIdempotencyStore(ctx); err != nil {
		h.logger.Error("Idempotency store health check failed", zap.Error(err))
		checks["idempotency_store"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["idempotency_store"] = "healthy"
	}

	// Check chain gateway. A down gateway degrades but does not block
	// reads, so it is reported without failing readiness.
	if err := h.checkLedger(ctx); err != nil {
		h.logger.Warn("Ledger health check failed", zap.Error(err))
		checks["ledger"] = "degraded: " + err.Error()
	} else {
		checks["ledger"] = "healthy"
	}

	status := HealthStatus{
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}

	w.Header().Set("Content-Type", "application/json")

	if allHealthy {
		status.Status = "ready"
		w.WriteHeader(http.StatusOK)
	} else {
		status.Status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(status)
}

// checkRecordStore checks if the record store is healthy
func (h *HealthChecker) checkRecordStore(ctx context.Context) error {
	if h.recordStore == nil {
		return nil // Skip if not initialized
	}
	return h.recordStore.Ping(ctx)
}

// checkIdempotencyStore checks if the idempotency store is healthy
func (h *HealthChecker) checkIdempotencyStore(ctx context.Context) error {
	if h.idempotencyStore == nil {
		return nil // Skip if not initialized
	}
	return h.idempotencyStore.Ping(ctx)
}

// checkLedger checks if the chain gateway is reachable
func (h *HealthChecker) checkLedger(ctx context.Context) error {
	if h.ledger == nil {
		return nil // Skip if not initialized
	}
	return h.ledger.Ping(ctx)
}
