package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/abhijithns29/propchain-engine/internal/model"
	"github.com/abhijithns29/propchain-engine/internal/service"
	"github.com/abhijithns29/propchain-engine/internal/store"
	"go.uber.org/zap"
)

// TransactionHandler handles transaction lifecycle requests
type TransactionHandler struct {
	coordinator *service.CoordinatorService
	logger      *zap.Logger
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(coordinator *service.CoordinatorService, logger *zap.Logger) *TransactionHandler {
	return &TransactionHandler{
		coordinator: coordinator,
		logger:      logger,
	}
}

type initiateRequest struct {
	ParcelID            string `json:"parcel_id"`
	InitiatorID         string `json:"initiator_id"`
	InitiatorRole       string `json:"initiator_role"`
	CounterpartyID      string `json:"counterparty_id,omitempty"`
	Type                string `json:"type"`
	Amount              int64  `json:"amount"`
	IdempotencyToken    string `json:"idempotency_token"`
	WaitForConfirmation bool   `json:"wait_for_confirmation,omitempty"`
}

type decideRequest struct {
	ApproverID string `json:"approver_id"`
	Decision   string `json:"decision"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Initiate handles POST /v1/transactions
func (h *TransactionHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.logger.Info("Received initiate request",
		zap.String("parcel_id", req.ParcelID),
		zap.String("type", req.Type),
		zap.String("initiator_id", req.InitiatorID))

	record, err := h.coordinator.Initiate(r.Context(), &service.InitiateRequest{
		ParcelID:            req.ParcelID,
		InitiatorID:         req.InitiatorID,
		InitiatorRole:       model.Role(req.InitiatorRole),
		CounterpartyID:      req.CounterpartyID,
		Type:                model.TransactionType(req.Type),
		Amount:              req.Amount,
		IdempotencyToken:    req.IdempotencyToken,
		WaitForConfirmation: req.WaitForConfirmation,
	})
	if err != nil {
		h.logger.Warn("Initiate failed",
			zap.String("parcel_id", req.ParcelID),
			zap.Error(err))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, record)
}

// Decide handles POST /v1/transactions/{id}/decision
func (h *TransactionHandler) Decide(w http.ResponseWriter, r *http.Request) {
	recordID := r.PathValue("id")

	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	decision := model.Decision(req.Decision)
	if decision != model.DecisionApprove && decision != model.DecisionReject {
		writeError(w, http.StatusBadRequest, "decision must be APPROVE or REJECT")
		return
	}

	h.logger.Info("Received decision",
		zap.String("record_id", recordID),
		zap.String("decision", req.Decision),
		zap.String("approver_id", req.ApproverID))

	record, err := h.coordinator.Decide(r.Context(), recordID, req.ApproverID, decision)
	if err != nil {
		h.logger.Warn("Decision failed",
			zap.String("record_id", recordID),
			zap.Error(err))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// Status handles GET /v1/transactions/{id}
func (h *TransactionHandler) Status(w http.ResponseWriter, r *http.Request) {
	recordID := r.PathValue("id")

	record, err := h.coordinator.Status(r.Context(), recordID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// writeDomainError maps service errors to HTTP status codes
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrParcelNotFound),
		errors.Is(err, service.ErrRecordNotFound),
		errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrParcelBusy),
		errors.Is(err, service.ErrStaleDecision),
		errors.Is(err, service.ErrConflictingDecision),
		errors.Is(err, service.ErrParcelDisputed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidRole):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrMalformedAmount),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrNotAwaitingDecision):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
