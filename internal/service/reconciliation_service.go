package service

import (
	"context"
	"errors"
	"time"

	"github.com/abhijithns29/propchain-engine/internal/ledger"
	"github.com/abhijithns29/propchain-engine/internal/metrics"
	"github.com/abhijithns29/propchain-engine/internal/model"
	"github.com/abhijithns29/propchain-engine/internal/store"
	"go.uber.org/zap"
)

// ReconciliationService repairs records whose off-chain status disagrees
// with ledger-observed state. It is never required for the correctness of a
// single request, but it is what makes the system eventually consistent
// after crashes and timeouts.
type ReconciliationService struct {
	recordStore store.RecordStore
	ledger      ledger.Adapter
	coordinator *CoordinatorService
	metrics     *metrics.Metrics
	logger      *zap.Logger

	interval time.Duration // scan interval
	grace    time.Duration // leave fresh records to their coordinator
	deadline time.Duration // after this, a traceless call is declared dead

	batchSize int
	stopCh    chan struct{}
}

// NewReconciliationService creates a new reconciliation worker
func NewReconciliationService(
	recordStore store.RecordStore,
	ledgerAdapter ledger.Adapter,
	coordinator *CoordinatorService,
	interval, grace, deadline time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ReconciliationService {
	if interval == 0 {
		interval = 45 * time.Second
	}
	if grace == 0 {
		grace = 2 * time.Minute
	}
	if deadline == 0 {
		deadline = 30 * time.Minute
	}

	return &ReconciliationService{
		recordStore: recordStore,
		ledger:      ledgerAdapter,
		coordinator: coordinator,
		metrics:     m,
		logger:      logger,
		interval:    interval,
		grace:       grace,
		deadline:    deadline,
		batchSize:   100,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the background reconciliation loop
func (s *ReconciliationService) Start() {
	s.logger.Info("Starting reconciliation worker",
		zap.Duration("interval", s.interval),
		zap.Duration("grace", s.grace),
		zap.Duration("deadline", s.deadline))

	ticker := time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := s.RunOnce(context.Background()); err != nil {
					s.logger.Error("Reconciliation scan failed", zap.Error(err))
				}
			case <-s.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the reconciliation loop
func (s *ReconciliationService) Stop() {
	close(s.stopCh)
	s.logger.Info("Reconciliation worker stopped")
}

// RunOnce performs a single reconciliation scan. Exposed for on-demand runs
// and tests.
func (s *ReconciliationService) RunOnce(ctx context.Context) error {
	s.metrics.ReconciliationRuns.Inc()

	cutoff := time.Now().Add(-s.grace)
	stalled, err := s.recordStore.ListStalledRecords(ctx,
		[]model.TransactionStatus{
			model.StatusCreated, model.StatusValidated,
			model.StatusSubmitted, model.StatusApproved,
			model.StatusFailed,
		},
		cutoff, s.batchSize)
	if err != nil {
		return err
	}

	s.metrics.StalledRecords.Set(float64(len(stalled)))

	for _, record := range stalled {
		var err error
		switch record.Status {
		case model.StatusCreated, model.StatusValidated:
			err = s.reconcileUnsubmitted(ctx, record)
		case model.StatusFailed:
			err = s.reconcileFailed(ctx, record)
		default:
			err = s.reconcileRecord(ctx, record)
		}
		if err != nil {
			s.logger.Warn("Failed to reconcile record",
				zap.String("record_id", record.RecordID),
				zap.String("status", string(record.Status)),
				zap.Error(err))
		}
	}

	s.repairOrphanedLocks(ctx, cutoff)
	return nil
}

// reconcileRecord resolves one stalled record against ledger truth. Three
// outcomes: the call landed (advance), the call left no trace past the
// deadline (fail, retryable), or the ledger shows a conflicting effect
// (fail frozen, never overwritten).
func (s *ReconciliationService) reconcileRecord(ctx context.Context, record *model.TransactionRecord) error {
	token := record.IdempotencyToken
	if record.Status == model.StatusApproved {
		token = record.ExecuteToken()
	}

	conf, err := s.ledger.ReadByToken(ctx, token)
	if err == nil {
		return s.advance(ctx, record, conf)
	}
	if !errors.Is(err, ledger.ErrReceiptNotFound) {
		// Ledger unreachable; try again next scan
		return err
	}

	diverged, err := s.checkDivergence(ctx, record)
	if err != nil {
		return err
	}
	if diverged {
		return s.failDiverged(ctx, record)
	}

	if time.Since(record.UpdatedAt) < s.deadline {
		// The call may still land; keep waiting
		return nil
	}

	return s.failSilent(ctx, record)
}

// reconcileUnsubmitted fails a record abandoned before its ledger call was
// tracked, releasing the parcel it holds. A VALIDATED record may have had a
// submission in flight when the process died, so its token is checked first
// and a landed call is advanced instead.
func (s *ReconciliationService) reconcileUnsubmitted(ctx context.Context, record *model.TransactionRecord) error {
	if record.Status == model.StatusValidated {
		conf, err := s.ledger.ReadByToken(ctx, record.IdempotencyToken)
		if err == nil {
			prev := record.Status
			record.Status = model.StatusSubmitted
			if uerr := s.recordStore.UpdateRecord(ctx, record, prev); uerr != nil {
				if errors.Is(uerr, store.ErrVersionMismatch) {
					return nil
				}
				return uerr
			}
			s.metrics.Transitions.WithLabelValues(string(prev), string(model.StatusSubmitted)).Inc()

			if aerr := s.coordinator.ApplyConfirmation(ctx, record, conf); aerr != nil {
				return aerr
			}
			s.metrics.ReconciliationRepairs.WithLabelValues("advanced").Inc()
			return nil
		}
		if !errors.Is(err, ledger.ErrReceiptNotFound) {
			return err
		}
	}

	fromStatus := record.Status
	record.FailureReason = model.FailureLedgerNeverReached
	record.ErrorMessage = "abandoned before ledger submission"

	if err := s.transitionToFailed(ctx, record, fromStatus); err != nil {
		return err
	}

	s.coordinator.releaseParcelAfterFailure(ctx, record)
	s.metrics.ReconciliationRepairs.WithLabelValues("abandoned").Inc()

	s.logger.Warn("Failed abandoned record and released its parcel",
		zap.String("record_id", record.RecordID),
		zap.String("parcel_id", record.ParcelID),
		zap.String("last_status", string(fromStatus)))
	return nil
}

// reconcileFailed resurrects a FAILED record whose ledger call is later
// found confirmed, so off-chain state never permanently contradicts the
// chain. Divergence and execution-rejection freezes belong to operators and
// are never touched.
func (s *ReconciliationService) reconcileFailed(ctx context.Context, record *model.TransactionRecord) error {
	switch record.FailureReason {
	case model.FailureLedgerUnavailable, model.FailureLedgerSilent, model.FailureLedgerNeverReached:
	default:
		return nil
	}

	token := record.IdempotencyToken
	if record.DecidedAt != nil {
		// The failure happened at or after approval; the initial call had
		// already confirmed, only the execution call is in doubt
		token = record.ExecuteToken()
	}

	conf, err := s.ledger.ReadByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ledger.ErrReceiptNotFound) {
			// Genuinely failed; nothing landed
			return nil
		}
		return err
	}

	if err := s.reclaimParcel(ctx, record); err != nil {
		return err
	}

	record.FailureReason = ""
	record.ErrorMessage = ""
	if record.DecidedAt != nil {
		err = s.coordinator.FinalizeTransfer(ctx, record, conf)
	} else {
		err = s.coordinator.ApplyConfirmation(ctx, record, conf)
	}
	if err != nil {
		if errors.Is(err, store.ErrVersionMismatch) {
			return nil
		}
		return err
	}

	s.metrics.ReconciliationRepairs.WithLabelValues("advanced").Inc()
	s.logger.Info("Repaired failed record whose ledger call had landed",
		zap.String("record_id", record.RecordID),
		zap.String("token", token),
		zap.String("tx_hash", conf.TxHash))
	return nil
}

// reclaimParcel re-establishes the parcel lock for a record being repaired.
// The lock was released when the record failed, so another transaction may
// hold it now; repair then waits for a later scan.
func (s *ReconciliationService) reclaimParcel(ctx context.Context, record *model.TransactionRecord) error {
	parcel, err := s.recordStore.GetParcel(ctx, record.ParcelID)
	if err != nil {
		return err
	}
	if parcel.ActiveTransactionID == record.RecordID {
		return nil
	}

	if err := s.recordStore.AcquireParcelLock(ctx, record.ParcelID, record.RecordID); err != nil {
		return err
	}
	if record.Type != model.TypeRegistration {
		s.coordinator.markParcelListed(ctx, record.ParcelID)
	}
	return nil
}

// advance applies a ledger-confirmed effect discovered after the
// coordinator lost track of it. The stored receipt dedupes on the token, so
// no duplicate on-chain call is ever issued.
func (s *ReconciliationService) advance(ctx context.Context, record *model.TransactionRecord, conf *ledger.Confirmation) error {
	s.logger.Info("Reconciliation found confirmed ledger call, advancing record",
		zap.String("record_id", record.RecordID),
		zap.String("status", string(record.Status)),
		zap.String("tx_hash", conf.TxHash))

	var err error
	switch record.Status {
	case model.StatusSubmitted:
		err = s.coordinator.ApplyConfirmation(ctx, record, conf)
	case model.StatusApproved:
		err = s.coordinator.FinalizeTransfer(ctx, record, conf)
	}

	if err != nil {
		if errors.Is(err, store.ErrVersionMismatch) {
			// Another coordinator advanced it first; nothing to repair
			return nil
		}
		return err
	}

	s.metrics.ReconciliationRepairs.WithLabelValues("advanced").Inc()
	return nil
}

// checkDivergence reports whether the ledger shows an owner conflicting
// with the local view of the parcel
func (s *ReconciliationService) checkDivergence(ctx context.Context, record *model.TransactionRecord) (bool, error) {
	parcel, err := s.recordStore.GetParcel(ctx, record.ParcelID)
	if err != nil {
		return false, err
	}
	if !parcel.Registered() {
		// Nothing on chain to diverge from
		return false, nil
	}

	view, err := s.ledger.ReadParcelState(ctx, parcel.OnChainID)
	if err != nil {
		if errors.Is(err, ledger.ErrReceiptNotFound) {
			return false, nil
		}
		return false, err
	}

	return view.Owner != parcel.CurrentOwner, nil
}

// failDiverged freezes a record whose parcel the ledger assigns to someone
// else. Never auto-corrected; an operator resolves it.
func (s *ReconciliationService) failDiverged(ctx context.Context, record *model.TransactionRecord) error {
	fromStatus := record.Status
	record.FailureReason = model.FailureLedgerDivergence
	record.ErrorMessage = "ledger shows conflicting confirmed owner"

	if err := s.transitionToFailed(ctx, record, fromStatus); err != nil {
		return err
	}

	s.coordinator.MarkParcelDisputed(ctx, record.ParcelID)
	s.metrics.ReconciliationRepairs.WithLabelValues("diverged").Inc()

	s.logger.Error("Ledger divergence detected",
		zap.String("record_id", record.RecordID),
		zap.String("parcel_id", record.ParcelID))
	return nil
}

// failSilent fails a record whose ledger call left no trace within the
// extended deadline. Safe to retry from scratch; the parcel is released.
func (s *ReconciliationService) failSilent(ctx context.Context, record *model.TransactionRecord) error {
	fromStatus := record.Status
	record.FailureReason = model.FailureLedgerSilent
	record.ErrorMessage = "no ledger trace within deadline"

	if err := s.transitionToFailed(ctx, record, fromStatus); err != nil {
		return err
	}

	s.coordinator.releaseParcelAfterFailure(ctx, record)
	s.metrics.ReconciliationRepairs.WithLabelValues("failed").Inc()

	s.logger.Warn("Record failed after extended deadline with no ledger trace",
		zap.String("record_id", record.RecordID),
		zap.String("parcel_id", record.ParcelID),
		zap.String("last_status", string(fromStatus)))
	return nil
}

func (s *ReconciliationService) transitionToFailed(ctx context.Context, record *model.TransactionRecord, fromStatus model.TransactionStatus) error {
	record.Status = model.StatusFailed
	if err := s.recordStore.UpdateRecord(ctx, record, fromStatus); err != nil {
		if errors.Is(err, store.ErrVersionMismatch) {
			return nil
		}
		return err
	}

	s.metrics.Transitions.WithLabelValues(string(fromStatus), string(model.StatusFailed)).Inc()
	s.coordinator.events.Emit(ctx, record, fromStatus, model.StatusFailed)
	return nil
}

// repairOrphanedLocks releases parcel locks whose holding record is gone or
// already terminal, which can happen when a process dies between claiming
// the parcel and persisting the record. Disputed parcels stay frozen.
func (s *ReconciliationService) repairOrphanedLocks(ctx context.Context, cutoff time.Time) {
	parcels, err := s.recordStore.ListLockedParcels(ctx, cutoff, s.batchSize)
	if err != nil {
		s.logger.Error("Failed to list locked parcels", zap.Error(err))
		return
	}

	for _, parcel := range parcels {
		if parcel.Status == model.ParcelDisputed {
			continue
		}

		record, err := s.recordStore.GetRecord(ctx, parcel.ActiveTransactionID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			continue
		}
		if record != nil && !record.Status.Terminal() {
			continue
		}

		if err := s.recordStore.ReleaseParcelLock(ctx, parcel.ParcelID, parcel.ActiveTransactionID); err != nil {
			s.logger.Warn("Failed to release orphaned parcel lock",
				zap.String("parcel_id", parcel.ParcelID),
				zap.Error(err))
			continue
		}

		s.metrics.ReconciliationRepairs.WithLabelValues("lock_released").Inc()
		s.logger.Info("Released orphaned parcel lock",
			zap.String("parcel_id", parcel.ParcelID),
			zap.String("record_id", parcel.ActiveTransactionID))
	}
}
