package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/abhijithns29/propchain-engine/internal/ledger"
	"github.com/abhijithns29/propchain-engine/internal/metrics"
	"github.com/abhijithns29/propchain-engine/internal/model"
	"github.com/abhijithns29/propchain-engine/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CoordinatorService orchestrates a transaction's lifecycle: validate,
// persist intent, submit to the ledger, await confirmation, update the
// record, issue the certificate and notify. Multiple instances may run
// concurrently; all cross-instance coordination happens through conditional
// writes in the record store.
type CoordinatorService struct {
	workflow     *Workflow
	recordStore  store.RecordStore
	ledger       ledger.Adapter
	idempotency  *IdempotencyService
	certificates *CertificateService
	events       *EventService
	valuation    *ValuationService // optional
	metrics      *metrics.Metrics
	logger       *zap.Logger

	submitAttempts    int
	submitBackoffBase time.Duration
	confirmTimeout    time.Duration

	wg sync.WaitGroup
}

// NewCoordinatorService creates a new transaction coordinator
func NewCoordinatorService(
	workflow *Workflow,
	recordStore store.RecordStore,
	ledgerAdapter ledger.Adapter,
	idempotency *IdempotencyService,
	certificates *CertificateService,
	events *EventService,
	valuation *ValuationService,
	submitAttempts int,
	submitBackoffBase time.Duration,
	confirmTimeout time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *CoordinatorService {
	if submitAttempts <= 0 {
		submitAttempts = 5
	}
	if submitBackoffBase == 0 {
		submitBackoffBase = 2 * time.Second
	}
	if confirmTimeout == 0 {
		confirmTimeout = 2 * time.Minute
	}

	return &CoordinatorService{
		workflow:          workflow,
		recordStore:       recordStore,
		ledger:            ledgerAdapter,
		idempotency:       idempotency,
		certificates:      certificates,
		events:            events,
		valuation:         valuation,
		metrics:           m,
		logger:            logger,
		submitAttempts:    submitAttempts,
		submitBackoffBase: submitBackoffBase,
		confirmTimeout:    confirmTimeout,
	}
}

// Wait blocks until all background confirmation waits have finished. Used
// during shutdown and by tests.
func (s *CoordinatorService) Wait() {
	s.wg.Wait()
}

// CreateParcel registers a parcel in the off-chain store only. The parcel is
// not on the ledger until a REGISTRATION transaction finalizes.
func (s *CoordinatorService) CreateParcel(ctx context.Context, parcel *model.Parcel) (*model.Parcel, error) {
	if parcel.SurveyNumber == "" || parcel.CurrentOwner == "" || !parcel.Classification.Valid() {
		return nil, ErrInvalidRequest
	}

	if parcel.ParcelID == "" {
		parcel.ParcelID = uuid.New().String()
	}
	parcel.Status = model.ParcelAvailable
	parcel.CreatedAt = time.Now()
	parcel.UpdatedAt = parcel.CreatedAt
	parcel.Version = 1

	if err := s.recordStore.CreateParcel(ctx, parcel); err != nil {
		return nil, fmt.Errorf("failed to create parcel: %w", err)
	}

	s.logger.Info("Parcel created",
		zap.String("parcel_id", parcel.ParcelID),
		zap.String("survey_number", parcel.SurveyNumber),
		zap.String("owner", parcel.CurrentOwner))

	return parcel, nil
}

// Initiate accepts a registration or ownership-change request. It drives the
// record through CREATED, VALIDATED and SUBMITTED, then returns; the
// confirmation wait continues in the background unless the request asks to
// block. Re-invoking with an already-used idempotency token returns the
// existing record.
func (s *CoordinatorService) Initiate(ctx context.Context, req *InitiateRequest) (*model.TransactionRecord, error) {
	if !s.idempotency.ValidateToken(req.IdempotencyToken) {
		return nil, fmt.Errorf("%w: bad idempotency token", ErrInvalidRequest)
	}

	// Idempotent replay: a used token returns the original record and causes
	// no second submission
	if existing, err := s.idempotency.Lookup(ctx, req.IdempotencyToken); err != nil {
		return nil, err
	} else if existing != nil {
		s.metrics.IdempotentReplays.Inc()
		s.logger.Info("Initiate replayed from existing record",
			zap.String("token", req.IdempotencyToken),
			zap.String("record_id", existing.RecordID))
		return existing, nil
	}

	if err := s.workflow.ValidateRequest(req); err != nil {
		s.metrics.TransactionsInitiated.WithLabelValues(string(req.Type), "validation_failed").Inc()
		return nil, err
	}

	parcel, err := s.recordStore.GetParcel(ctx, req.ParcelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrParcelNotFound
		}
		return nil, err
	}

	if parcel.Status == model.ParcelDisputed {
		return nil, ErrParcelDisputed
	}
	if req.Type == model.TypeRegistration && parcel.Registered() {
		return nil, fmt.Errorf("%w: parcel already registered", ErrInvalidRequest)
	}
	if req.Type != model.TypeRegistration && !parcel.Registered() {
		return nil, fmt.Errorf("%w: parcel not registered", ErrInvalidRequest)
	}

	if err := s.workflow.Authorize(req, parcel); err != nil {
		s.metrics.TransactionsInitiated.WithLabelValues(string(req.Type), "unauthorized").Inc()
		return nil, err
	}

	if s.valuation != nil && req.Type == model.TypeSale {
		s.valuation.CheckAmount(ctx, parcel, req.Amount)
	}

	// Claim the parcel before persisting the record so a lost race burns
	// neither the token nor a record row
	recordID := uuid.New().String()
	if err := s.recordStore.AcquireParcelLock(ctx, req.ParcelID, recordID); err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			s.metrics.ParcelLockConflicts.Inc()
			return nil, ErrParcelBusy
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrParcelNotFound
		}
		return nil, err
	}

	now := time.Now()
	record := &model.TransactionRecord{
		RecordID:         recordID,
		ParcelID:         req.ParcelID,
		Type:             req.Type,
		Status:           model.StatusCreated,
		InitiatorID:      req.InitiatorID,
		CounterpartyID:   req.CounterpartyID,
		Amount:           req.Amount,
		IdempotencyToken: req.IdempotencyToken,
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}

	if err := s.recordStore.CreateRecord(ctx, record); err != nil {
		if releaseErr := s.recordStore.ReleaseParcelLock(ctx, req.ParcelID, recordID); releaseErr != nil {
			s.logger.Error("Failed to release parcel lock after create failure",
				zap.String("parcel_id", req.ParcelID),
				zap.Error(releaseErr))
		}
		if errors.Is(err, store.ErrDuplicateToken) {
			// Two requests with the same token raced; defer to the winner
			existing, lookupErr := s.recordStore.GetRecordByToken(ctx, req.IdempotencyToken)
			if lookupErr != nil {
				return nil, lookupErr
			}
			s.metrics.IdempotentReplays.Inc()
			return existing, nil
		}
		return nil, err
	}

	s.idempotency.Remember(ctx, req.IdempotencyToken, recordID)

	s.logger.Info("Transaction record created",
		zap.String("record_id", recordID),
		zap.String("parcel_id", req.ParcelID),
		zap.String("type", string(req.Type)),
		zap.Int64("amount", req.Amount))

	if err := s.transition(ctx, record, model.StatusValidated); err != nil {
		return record, err
	}

	if req.Type != model.TypeRegistration {
		s.markParcelListed(ctx, req.ParcelID)
	}

	if err := s.submitToLedger(ctx, record, parcel); err != nil {
		return record, err
	}
	if record.Status != model.StatusSubmitted {
		// Submission ended terminal (rejected or retries exhausted)
		return s.recordStore.GetRecord(ctx, record.RecordID)
	}

	s.metrics.TransactionsInitiated.WithLabelValues(string(req.Type), "submitted").Inc()

	handle := &ledger.PendingHandle{Token: record.IdempotencyToken, TxHash: record.Anchor.TxHash}
	if req.WaitForConfirmation {
		s.awaitAndApply(ctx, record.RecordID, handle)
	} else {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.awaitAndApply(context.Background(), record.RecordID, handle)
		}()
	}

	return s.recordStore.GetRecord(ctx, record.RecordID)
}

// Decide applies an admin decision to a record awaiting sign-off. Exactly
// one of two concurrent decisions wins; the loser sees ErrStaleDecision.
func (s *CoordinatorService) Decide(ctx context.Context, recordID, approverID string, decision model.Decision) (*model.TransactionRecord, error) {
	record, err := s.recordStore.GetRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	target, err := s.workflow.DecideTarget(record, decision)
	if err != nil {
		s.metrics.TransactionsDecided.WithLabelValues(string(decision), "refused").Inc()
		return nil, err
	}

	fromStatus := record.Status
	now := time.Now()
	record.Status = target
	record.ApproverID = approverID
	record.DecidedAt = &now

	if err := s.recordStore.UpdateRecord(ctx, record, fromStatus); err != nil {
		if errors.Is(err, store.ErrVersionMismatch) {
			s.metrics.TransactionsDecided.WithLabelValues(string(decision), "stale").Inc()
			return nil, ErrStaleDecision
		}
		return nil, err
	}

	s.metrics.Transitions.WithLabelValues(string(fromStatus), string(target)).Inc()
	s.logger.Info("Admin decision applied",
		zap.String("record_id", recordID),
		zap.String("approver_id", approverID),
		zap.String("decision", string(decision)),
		zap.String("status", string(target)))

	switch target {
	case model.StatusAdminRejected:
		s.releaseParcelAfterFailure(ctx, record)
		s.events.Emit(ctx, record, fromStatus, target)

	case model.StatusApproved:
		if err := s.executeTransfer(ctx, record); err != nil {
			return record, err
		}
	}

	s.metrics.TransactionsDecided.WithLabelValues(string(decision), "applied").Inc()
	return s.recordStore.GetRecord(ctx, recordID)
}

// Status returns the current state of a transaction record
func (s *CoordinatorService) Status(ctx context.Context, recordID string) (*model.TransactionRecord, error) {
	record, err := s.recordStore.GetRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return record, nil
}

// GetParcel returns the current off-chain state of a parcel
func (s *CoordinatorService) GetParcel(ctx context.Context, parcelID string) (*model.Parcel, error) {
	parcel, err := s.recordStore.GetParcel(ctx, parcelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrParcelNotFound
		}
		return nil, err
	}
	return parcel, nil
}

// transition applies a conditional status update and records the transition
func (s *CoordinatorService) transition(ctx context.Context, record *model.TransactionRecord, to model.TransactionStatus) error {
	from := record.Status
	if !s.workflow.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	record.Status = to
	if err := s.recordStore.UpdateRecord(ctx, record, from); err != nil {
		record.Status = from
		s.metrics.TransitionErrors.WithLabelValues(string(from), "store").Inc()
		return err
	}

	s.metrics.Transitions.WithLabelValues(string(from), string(to)).Inc()
	s.logger.Debug("Status transition",
		zap.String("record_id", record.RecordID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	if to.Terminal() {
		s.events.Emit(ctx, record, from, to)
	}
	return nil
}

// submitToLedger submits the initial ledger call with bounded exponential
// backoff. LedgerUnavailable is retried; LedgerRejected is terminal.
func (s *CoordinatorService) submitToLedger(ctx context.Context, record *model.TransactionRecord, parcel *model.Parcel) error {
	call := &ledger.Call{
		IdempotencyToken: record.IdempotencyToken,
		OnChainID:        parcel.OnChainID,
		SurveyNumber:     parcel.SurveyNumber,
		FromOwner:        parcel.CurrentOwner,
		ToOwner:          record.CounterpartyID,
		Amount:           record.Amount,
	}
	if record.Type == model.TypeRegistration {
		call.Kind = ledger.CallRegisterParcel
		call.ToOwner = parcel.CurrentOwner
	} else {
		call.Kind = ledger.CallInitiateTransfer
	}

	handle, err := s.submitWithBackoff(ctx, call)
	if err != nil {
		if errors.Is(err, ledger.ErrRejected) {
			s.metrics.LedgerSubmits.WithLabelValues(string(call.Kind), "rejected").Inc()
			record.ErrorMessage = err.Error()
			if trErr := s.transition(ctx, record, model.StatusChainRejected); trErr != nil {
				return trErr
			}
			s.releaseParcelAfterFailure(ctx, record)
			return nil
		}

		s.metrics.LedgerSubmits.WithLabelValues(string(call.Kind), "unavailable").Inc()
		record.FailureReason = model.FailureLedgerUnavailable
		record.ErrorMessage = err.Error()
		if trErr := s.transition(ctx, record, model.StatusFailed); trErr != nil {
			return trErr
		}
		s.releaseParcelAfterFailure(ctx, record)
		return nil
	}

	s.metrics.LedgerSubmits.WithLabelValues(string(call.Kind), "accepted").Inc()

	now := time.Now()
	record.Anchor.TxHash = handle.TxHash
	record.SubmittedAt = &now
	return s.transition(ctx, record, model.StatusSubmitted)
}

// submitWithBackoff retries Submit through transient unavailability.
// Rejections are returned immediately: resubmitting a rejected call risks
// double effects.
func (s *CoordinatorService) submitWithBackoff(ctx context.Context, call *ledger.Call) (*ledger.PendingHandle, error) {
	var lastErr error
	backoff := s.submitBackoffBase

	for attempt := 1; attempt <= s.submitAttempts; attempt++ {
		handle, err := s.ledger.Submit(ctx, call)
		if err == nil {
			return handle, nil
		}
		if !errors.Is(err, ledger.ErrUnavailable) {
			return nil, err
		}

		lastErr = err
		if attempt == s.submitAttempts {
			break
		}

		s.metrics.LedgerSubmitRetries.Inc()
		s.logger.Warn("Ledger unavailable, retrying submission",
			zap.String("token", call.IdempotencyToken),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, fmt.Errorf("submission attempts exhausted: %w", lastErr)
}

// awaitAndApply waits for ledger confirmation of the initial call and applies
// it. On timeout or cancellation the record stays SUBMITTED for the
// reconciliation worker: the chain call may still land.
func (s *CoordinatorService) awaitAndApply(ctx context.Context, recordID string, handle *ledger.PendingHandle) {
	started := time.Now()
	conf, err := s.ledger.AwaitConfirmation(ctx, handle, s.confirmTimeout)
	s.metrics.ConfirmationWait.Observe(time.Since(started).Seconds())

	if err != nil {
		s.logger.Warn("Confirmation wait ended without receipt, deferring to reconciliation",
			zap.String("record_id", recordID),
			zap.Error(err))
		return
	}

	record, loadErr := s.recordStore.GetRecord(ctx, recordID)
	if loadErr != nil {
		s.logger.Error("Failed to reload record after confirmation",
			zap.String("record_id", recordID),
			zap.Error(loadErr))
		return
	}
	if record.Status != model.StatusSubmitted {
		// Another actor (reconciler, admin reject) already moved it
		return
	}

	if err := s.ApplyConfirmation(ctx, record, conf); err != nil {
		s.logger.Error("Failed to apply confirmation",
			zap.String("record_id", recordID),
			zap.Error(err))
	}
}

// ApplyConfirmation moves a SUBMITTED record forward once the initial ledger
// call is confirmed. Registrations finalize immediately; everything else
// parks in CHAIN_CONFIRMED awaiting an admin decision. Also invoked by the
// reconciliation worker when it discovers a confirmation after a crash.
func (s *CoordinatorService) ApplyConfirmation(ctx context.Context, record *model.TransactionRecord, conf *ledger.Confirmation) error {
	record.Anchor = model.LedgerAnchor{
		TxHash:        conf.TxHash,
		BlockHeight:   conf.BlockHeight,
		Confirmations: conf.Confirmations,
	}
	record.GasUsed = conf.GasUsed

	if err := s.transition(ctx, record, model.StatusChainConfirmed); err != nil {
		return err
	}

	if record.Type.RequiresApproval() {
		s.logger.Info("Transaction awaiting admin decision",
			zap.String("record_id", record.RecordID),
			zap.String("tx_hash", conf.TxHash))
		return nil
	}

	return s.finalizeRegistration(ctx, record, conf)
}

// finalizeRegistration anchors the parcel and finalizes a chain-confirmed
// registration. No admin decision is involved.
func (s *CoordinatorService) finalizeRegistration(ctx context.Context, record *model.TransactionRecord, conf *ledger.Confirmation) error {
	parcel, err := s.recordStore.GetParcel(ctx, record.ParcelID)
	if err != nil {
		return fmt.Errorf("failed to load parcel for finalization: %w", err)
	}

	parcel.OnChainID = conf.OnChainID
	parcel.Anchor = model.LedgerAnchor{
		TxHash:        conf.TxHash,
		BlockHeight:   conf.BlockHeight,
		Confirmations: conf.Confirmations,
	}
	parcel.Status = model.ParcelAvailable
	if err := s.recordStore.UpdateParcel(ctx, parcel); err != nil {
		return fmt.Errorf("failed to anchor parcel: %w", err)
	}

	if err := s.transition(ctx, record, model.StatusFinalized); err != nil {
		return err
	}

	s.attachCertificate(ctx, record)
	s.releaseLock(ctx, record)

	s.logger.Info("Registration finalized",
		zap.String("record_id", record.RecordID),
		zap.String("parcel_id", record.ParcelID),
		zap.Int64("on_chain_id", conf.OnChainID))
	return nil
}

// executeTransfer performs the second on-chain call for an approved
// transaction and hands the confirmation wait to the background. The derived
// execute token keeps the call idempotent across crashes and retries.
func (s *CoordinatorService) executeTransfer(ctx context.Context, record *model.TransactionRecord) error {
	parcel, err := s.recordStore.GetParcel(ctx, record.ParcelID)
	if err != nil {
		return fmt.Errorf("failed to load parcel for execution: %w", err)
	}

	call := &ledger.Call{
		Kind:             ledger.CallExecuteTransfer,
		IdempotencyToken: record.ExecuteToken(),
		OnChainID:        parcel.OnChainID,
		FromOwner:        parcel.CurrentOwner,
		ToOwner:          record.CounterpartyID,
		Amount:           record.Amount,
	}

	handle, err := s.submitWithBackoff(ctx, call)
	if err != nil {
		if errors.Is(err, ledger.ErrRejected) {
			// The intent already confirmed on chain but execution was
			// refused. Freeze for operators instead of guessing.
			s.metrics.LedgerSubmits.WithLabelValues(string(call.Kind), "rejected").Inc()
			record.FailureReason = model.FailureExecuteRejected
			record.ErrorMessage = err.Error()
			if trErr := s.transition(ctx, record, model.StatusFailed); trErr != nil {
				return trErr
			}
			s.MarkParcelDisputed(ctx, record.ParcelID)
			return nil
		}

		// Leave the record APPROVED; the reconciliation worker picks it up
		s.metrics.LedgerSubmits.WithLabelValues(string(call.Kind), "unavailable").Inc()
		s.logger.Warn("Execution submit failed, deferring to reconciliation",
			zap.String("record_id", record.RecordID),
			zap.Error(err))
		return nil
	}

	s.metrics.LedgerSubmits.WithLabelValues(string(call.Kind), "accepted").Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.awaitAndFinalize(context.Background(), record.RecordID, handle)
	}()

	return nil
}

// awaitAndFinalize waits for confirmation of the execution call and
// finalizes the transfer
func (s *CoordinatorService) awaitAndFinalize(ctx context.Context, recordID string, handle *ledger.PendingHandle) {
	started := time.Now()
	conf, err := s.ledger.AwaitConfirmation(ctx, handle, s.confirmTimeout)
	s.metrics.ConfirmationWait.Observe(time.Since(started).Seconds())

	if err != nil {
		s.logger.Warn("Execution confirmation wait ended without receipt, deferring to reconciliation",
			zap.String("record_id", recordID),
			zap.Error(err))
		return
	}

	record, loadErr := s.recordStore.GetRecord(ctx, recordID)
	if loadErr != nil {
		s.logger.Error("Failed to reload record after execution confirmation",
			zap.String("record_id", recordID),
			zap.Error(loadErr))
		return
	}
	if record.Status != model.StatusApproved {
		return
	}

	if err := s.FinalizeTransfer(ctx, record, conf); err != nil {
		s.logger.Error("Failed to finalize transfer",
			zap.String("record_id", recordID),
			zap.Error(err))
	}
}

// FinalizeTransfer records a confirmed ownership transfer: owner history is
// appended, the parcel re-anchored, the record finalized and the certificate
// issued. Also invoked by the reconciliation worker. Certificate issuance is
// sequenced strictly after FINALIZED.
func (s *CoordinatorService) FinalizeTransfer(ctx context.Context, record *model.TransactionRecord, conf *ledger.Confirmation) error {
	parcel, err := s.recordStore.GetParcel(ctx, record.ParcelID)
	if err != nil {
		return fmt.Errorf("failed to load parcel for finalization: %w", err)
	}

	ownershipChanged := record.Type == model.TypeSale || record.Type == model.TypeTransfer
	if ownershipChanged {
		parcel.PreviousOwners = append(parcel.PreviousOwners, parcel.CurrentOwner)
		parcel.CurrentOwner = record.CounterpartyID
		parcel.Status = model.ParcelSold
	} else {
		parcel.Status = model.ParcelAvailable
	}
	parcel.Anchor = model.LedgerAnchor{
		TxHash:        conf.TxHash,
		BlockHeight:   conf.BlockHeight,
		Confirmations: conf.Confirmations,
	}

	if err := s.recordStore.UpdateParcel(ctx, parcel); err != nil {
		return fmt.Errorf("failed to update parcel ownership: %w", err)
	}

	record.Anchor = model.LedgerAnchor{
		TxHash:        conf.TxHash,
		BlockHeight:   conf.BlockHeight,
		Confirmations: conf.Confirmations,
	}
	record.GasUsed += conf.GasUsed

	if err := s.transition(ctx, record, model.StatusFinalized); err != nil {
		return err
	}

	s.attachCertificate(ctx, record)
	s.releaseLock(ctx, record)

	s.logger.Info("Transfer finalized",
		zap.String("record_id", record.RecordID),
		zap.String("parcel_id", record.ParcelID),
		zap.String("new_owner", parcel.CurrentOwner),
		zap.String("tx_hash", conf.TxHash))
	return nil
}

// attachCertificate issues the certificate for a finalized record and stores
// its handle. Failures are logged; the record is already terminal and an
// operator can re-issue from the finalized data.
func (s *CoordinatorService) attachCertificate(ctx context.Context, record *model.TransactionRecord) {
	cert, err := s.certificates.Issue(ctx, record)
	if err != nil {
		s.logger.Error("Certificate issuance failed",
			zap.String("record_id", record.RecordID),
			zap.Error(err))
		return
	}

	record.CertificateID = cert.BlobHandle
	if err := s.recordStore.UpdateRecord(ctx, record, model.StatusFinalized); err != nil {
		s.logger.Error("Failed to attach certificate handle",
			zap.String("record_id", record.RecordID),
			zap.Error(err))
	}
}

// releaseLock releases the parcel lock held by a record
func (s *CoordinatorService) releaseLock(ctx context.Context, record *model.TransactionRecord) {
	if err := s.recordStore.ReleaseParcelLock(ctx, record.ParcelID, record.RecordID); err != nil {
		s.logger.Error("Failed to release parcel lock",
			zap.String("parcel_id", record.ParcelID),
			zap.String("record_id", record.RecordID),
			zap.Error(err))
	}
}

// releaseParcelAfterFailure releases the lock and, if the parcel was listed
// for this transaction, returns it to AVAILABLE
func (s *CoordinatorService) releaseParcelAfterFailure(ctx context.Context, record *model.TransactionRecord) {
	s.releaseLock(ctx, record)

	parcel, err := s.recordStore.GetParcel(ctx, record.ParcelID)
	if err != nil {
		s.logger.Error("Failed to load parcel after failure",
			zap.String("parcel_id", record.ParcelID),
			zap.Error(err))
		return
	}

	if parcel.Status == model.ParcelListed {
		parcel.Status = model.ParcelAvailable
		if err := s.recordStore.UpdateParcel(ctx, parcel); err != nil {
			s.logger.Error("Failed to restore parcel status",
				zap.String("parcel_id", record.ParcelID),
				zap.Error(err))
		}
	}
}

// markParcelListed flags a parcel as having a transfer in flight
func (s *CoordinatorService) markParcelListed(ctx context.Context, parcelID string) {
	parcel, err := s.recordStore.GetParcel(ctx, parcelID)
	if err != nil {
		s.logger.Error("Failed to load parcel for listing",
			zap.String("parcel_id", parcelID),
			zap.Error(err))
		return
	}

	parcel.Status = model.ParcelListed
	if err := s.recordStore.UpdateParcel(ctx, parcel); err != nil {
		s.logger.Error("Failed to mark parcel listed",
			zap.String("parcel_id", parcelID),
			zap.Error(err))
	}
}

// MarkParcelDisputed freezes a parcel for operator intervention. Also used
// by the reconciliation worker's divergence handling.
func (s *CoordinatorService) MarkParcelDisputed(ctx context.Context, parcelID string) {
	parcel, err := s.recordStore.GetParcel(ctx, parcelID)
	if err != nil {
		s.logger.Error("Failed to load parcel for dispute",
			zap.String("parcel_id", parcelID),
			zap.Error(err))
		return
	}

	parcel.Status = model.ParcelDisputed
	if err := s.recordStore.UpdateParcel(ctx, parcel); err != nil {
		s.logger.Error("Failed to mark parcel disputed",
			zap.String("parcel_id", parcelID),
			zap.Error(err))
		return
	}

	s.logger.Warn("Parcel marked disputed",
		zap.String("parcel_id", parcelID))
}
