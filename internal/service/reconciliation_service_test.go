package service

import (
	"context"
	"testing"
	"time"

	"github.com/abhijithns29/propchain-engine/internal/ledger"
	"github.com/abhijithns29/propchain-engine/internal/metrics"
	"github.com/abhijithns29/propchain-engine/internal/model"
	"github.com/abhijithns29/propchain-engine/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type reconcilerFixture struct {
	recordStore *store.InMemoryRecordStore
	ledger      *MockLedgerAdapter
	coordinator *CoordinatorService
	reconciler  *ReconciliationService
}

// newReconcilerFixture builds a reconciler whose grace period is already
// expired for anything written before the test sleeps past it
func newReconcilerFixture(t *testing.T, deadline time.Duration) *reconcilerFixture {
	t.Helper()

	logger := zap.NewNop()
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	recordStore := store.NewInMemoryRecordStore()

	blobStore, err := store.NewFilesystemBlobStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}

	mockLedger := new(MockLedgerAdapter)
	idempotency := NewIdempotencyService(store.NewInMemoryIdempotencyStore(), recordStore, time.Hour, logger)
	certificates := NewCertificateService(recordStore, blobStore, logger)
	events := NewEventService(store.NewInMemoryEventOutbox(), PublisherFunc(func(ctx context.Context, event *model.DomainEvent) error {
		return nil
	}), time.Hour, m, logger)

	coordinator := NewCoordinatorService(
		NewWorkflow(logger), recordStore, mockLedger, idempotency,
		certificates, events, nil, 2, time.Millisecond, time.Second, m, logger,
	)

	reconciler := NewReconciliationService(
		recordStore, mockLedger, coordinator,
		time.Hour, time.Millisecond, deadline, m, logger,
	)

	return &reconcilerFixture{
		recordStore: recordStore,
		ledger:      mockLedger,
		coordinator: coordinator,
		reconciler:  reconciler,
	}
}

// seedStalled creates a registered, locked parcel and a record stuck in the
// given status
func (f *reconcilerFixture) seedStalled(t *testing.T, status model.TransactionStatus) *model.TransactionRecord {
	t.Helper()
	ctx := context.Background()

	now := time.Now()
	parcel := &model.Parcel{
		ParcelID:       "parcel-1",
		SurveyNumber:   "SN-1042",
		Classification: model.ClassificationResidential,
		AreaSqft:       1200,
		District:       "Pune",
		State:          "Maharashtra",
		Status:         model.ParcelListed,
		CurrentOwner:   "owner-1",
		OnChainID:      7,
		Anchor:         model.LedgerAnchor{TxHash: "0xreg", BlockHeight: 10, Confirmations: 30},
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	assert.NoError(t, f.recordStore.CreateParcel(ctx, parcel))
	assert.NoError(t, f.recordStore.AcquireParcelLock(ctx, "parcel-1", "record-1"))

	record := &model.TransactionRecord{
		RecordID:         "record-1",
		ParcelID:         "parcel-1",
		Type:             model.TypeSale,
		Status:           status,
		InitiatorID:      "owner-1",
		CounterpartyID:   "buyer-1",
		Amount:           7_500_000,
		IdempotencyToken: "sale-token-001",
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}
	assert.NoError(t, f.recordStore.CreateRecord(ctx, record))

	// Let the grace period lapse
	time.Sleep(5 * time.Millisecond)
	return record
}

func TestReconciler_AdvancesSubmittedRecord(t *testing.T) {
	f := newReconcilerFixture(t, time.Hour)
	f.seedStalled(t, model.StatusSubmitted)

	f.ledger.On("ReadByToken", mock.Anything, "sale-token-001").
		Return(&ledger.Confirmation{
			TxHash: "0xaaa", BlockHeight: 55, Confirmations: 12,
		}, nil)

	assert.NoError(t, f.reconciler.RunOnce(context.Background()))

	record, err := f.recordStore.GetRecord(context.Background(), "record-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusChainConfirmed, record.Status)
	assert.Equal(t, "0xaaa", record.Anchor.TxHash)

	// No resubmission: the receipt already existed
	f.ledger.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestReconciler_FinalizesApprovedRecord(t *testing.T) {
	f := newReconcilerFixture(t, time.Hour)
	f.seedStalled(t, model.StatusApproved)

	// The execution receipt is looked up under the derived token
	f.ledger.On("ReadByToken", mock.Anything, "sale-token-001:execute").
		Return(&ledger.Confirmation{
			TxHash: "0xbbb", BlockHeight: 77, Confirmations: 12, Owner: "buyer-1",
		}, nil)

	assert.NoError(t, f.reconciler.RunOnce(context.Background()))

	record, err := f.recordStore.GetRecord(context.Background(), "record-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusFinalized, record.Status)
	assert.NotEmpty(t, record.CertificateID)

	parcel, err := f.recordStore.GetParcel(context.Background(), "parcel-1")
	assert.NoError(t, err)
	assert.Equal(t, "buyer-1", parcel.CurrentOwner)
	assert.Equal(t, model.ParcelSold, parcel.Status)
	assert.False(t, parcel.Locked())
}

func TestReconciler_FailsSilentRecordAfterDeadline(t *testing.T) {
	f := newReconcilerFixture(t, time.Millisecond)
	f.seedStalled(t, model.StatusSubmitted)

	f.ledger.On("ReadByToken", mock.Anything, "sale-token-001").
		Return(nil, ledger.ErrReceiptNotFound)
	f.ledger.On("ReadParcelState", mock.Anything, int64(7)).
		Return(&ledger.ParcelView{OnChainID: 7, Owner: "owner-1"}, nil)

	assert.NoError(t, f.reconciler.RunOnce(context.Background()))

	record, err := f.recordStore.GetRecord(context.Background(), "record-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusFailed, record.Status)
	assert.Equal(t, model.FailureLedgerSilent, record.FailureReason)

	parcel, err := f.recordStore.GetParcel(context.Background(), "parcel-1")
	assert.NoError(t, err)
	assert.False(t, parcel.Locked())
	assert.Equal(t, model.ParcelAvailable, parcel.Status)
}

func TestReconciler_LeavesFreshSilentRecordAlone(t *testing.T) {
	f := newReconcilerFixture(t, time.Hour)
	f.seedStalled(t, model.StatusSubmitted)

	f.ledger.On("ReadByToken", mock.Anything, "sale-token-001").
		Return(nil, ledger.ErrReceiptNotFound)
	f.ledger.On("ReadParcelState", mock.Anything, int64(7)).
		Return(&ledger.ParcelView{OnChainID: 7, Owner: "owner-1"}, nil)

	assert.NoError(t, f.reconciler.RunOnce(context.Background()))

	record, err := f.recordStore.GetRecord(context.Background(), "record-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, record.Status)
}

func TestReconciler_DetectsDivergence(t *testing.T) {
	f := newReconcilerFixture(t, time.Hour)
	f.seedStalled(t, model.StatusSubmitted)

	f.ledger.On("ReadByToken", mock.Anything, "sale-token-001").
		Return(nil, ledger.ErrReceiptNotFound)
	// The ledger already shows a different confirmed owner
	f.ledger.On("ReadParcelState", mock.Anything, int64(7)).
		Return(&ledger.ParcelView{OnChainID: 7, Owner: "someone-else"}, nil)

	assert.NoError(t, f.reconciler.RunOnce(context.Background()))

	record, err := f.recordStore.GetRecord(context.Background(), "record-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusFailed, record.Status)
	assert.Equal(t, model.FailureLedgerDivergence, record.FailureReason)

	parcel, err := f.recordStore.GetParcel(context.Background(), "parcel-1")
	assert.NoError(t, err)
	assert.Equal(t, model.ParcelDisputed, parcel.Status)
}

func TestReconciler_SkipsWhenLedgerUnreachable(t *testing.T) {
	f := newReconcilerFixture(t, time.Millisecond)
	f.seedStalled(t, model.StatusSubmitted)

	f.ledger.On("ReadByToken", mock.Anything, "sale-token-001").
		Return(nil, ledger.ErrUnavailable)

	assert.NoError(t, f.reconciler.RunOnce(context.Background()))

	// No verdict without ledger evidence, even past the deadline
	record, err := f.recordStore.GetRecord(context.Background(), "record-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, record.Status)
}

func TestReconciler_ReleasesOrphanedLock(t *testing.T) {
	f := newReconcilerFixture(t, time.Hour)
	ctx := context.Background()

	now := time.Now()
	parcel := &model.Parcel{
		ParcelID:       "parcel-2",
		SurveyNumber:   "SN-2042",
		Classification: model.ClassificationAgricultural,
		AreaSqft:       5000,
		District:       "Nashik",
		State:          "Maharashtra",
		Status:         model.ParcelAvailable,
		CurrentOwner:   "owner-2",
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	assert.NoError(t, f.recordStore.CreateParcel(ctx, parcel))
	// Lock held by a record that was never persisted (crash window)
	assert.NoError(t, f.recordStore.AcquireParcelLock(ctx, "parcel-2", "ghost-record"))

	time.Sleep(5 * time.Millisecond)

	assert.NoError(t, f.reconciler.RunOnce(ctx))

	got, err := f.recordStore.GetParcel(ctx, "parcel-2")
	assert.NoError(t, err)
	assert.False(t, got.Locked())
}

func TestReconciler_KeepsDisputedParcelLocked(t *testing.T) {
	f := newReconcilerFixture(t, time.Hour)
	ctx := context.Background()

	now := time.Now()
	parcel := &model.Parcel{
		ParcelID:     "parcel-3",
		SurveyNumber: "SN-3042",
		Status:       model.ParcelDisputed,
		CurrentOwner: "owner-3",
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}
	assert.NoError(t, f.recordStore.CreateParcel(ctx, parcel))
	assert.NoError(t, f.recordStore.AcquireParcelLock(ctx, "parcel-3", "ghost-record"))

	time.Sleep(5 * time.Millisecond)

	assert.NoError(t, f.reconciler.RunOnce(ctx))

	got, err := f.recordStore.GetParcel(ctx, "parcel-3")
	assert.NoError(t, err)
	assert.True(t, got.Locked())
}

// seedFailed creates a registered parcel and a FAILED record whose lock was
// already released, exactly as the failure paths leave them
func (f *reconcilerFixture) seedFailed(t *testing.T, reason model.FailureReason, decided bool) *model.TransactionRecord {
	t.Helper()
	ctx := context.Background()

	now := time.Now()
	parcel := &model.Parcel{
		ParcelID:       "parcel-1",
		SurveyNumber:   "SN-1042",
		Classification: model.ClassificationResidential,
		AreaSqft:       1200,
		District:       "Pune",
		State:          "Maharashtra",
		Status:         model.ParcelAvailable,
		CurrentOwner:   "owner-1",
		OnChainID:      7,
		Anchor:         model.LedgerAnchor{TxHash: "0xreg", BlockHeight: 10, Confirmations: 30},
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	assert.NoError(t, f.recordStore.CreateParcel(ctx, parcel))

	record := &model.TransactionRecord{
		RecordID:         "record-1",
		ParcelID:         "parcel-1",
		Type:             model.TypeSale,
		Status:           model.StatusFailed,
		FailureReason:    reason,
		InitiatorID:      "owner-1",
		CounterpartyID:   "buyer-1",
		Amount:           7_500_000,
		IdempotencyToken: "sale-token-001",
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}
	if decided {
		decidedAt := now
		record.ApproverID = "registrar-1"
		record.DecidedAt = &decidedAt
	}
	assert.NoError(t, f.recordStore.CreateRecord(ctx, record))

	time.Sleep(5 * time.Millisecond)
	return record
}

func TestReconciler_RepairsFailedRecordWithLandedCall(t *testing.T) {
	f := newReconcilerFixture(t, time.Hour)
	f.seedFailed(t, model.FailureLedgerUnavailable, false)

	// The submission was accepted even though its response never came back
	f.ledger.On("ReadByToken", mock.Anything, "sale-token-001").
		Return(&ledger.Confirmation{
			TxHash: "0xccc", BlockHeight: 60, Confirmations: 12,
		}, nil)

	assert.NoError(t, f.reconciler.RunOnce(context.Background()))

	record, err := f.recordStore.GetRecord(context.Background(), "record-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusChainConfirmed, record.Status)
	assert.Empty(t, record.FailureReason)
	assert.Equal(t, "0xccc", record.Anchor.TxHash)

	// The record holds its parcel again while awaiting the admin decision
	parcel, err := f.recordStore.GetParcel(context.Background(), "parcel-1")
	assert.NoError(t, err)
	assert.Equal(t, "record-1", parcel.ActiveTransactionID)
	assert.Equal(t, model.ParcelListed, parcel.Status)

	f.ledger.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestReconciler_RepairsFailedApprovedRecordToFinalized(t *testing.T) {
	f := newReconcilerFixture(t, time.Hour)
	f.seedFailed(t, model.FailureLedgerSilent, true)

	// The failure came after approval, so the execution receipt is checked
	f.ledger.On("ReadByToken", mock.Anything, "sale-token-001:execute").
		Return(&ledger.Confirmation{
			TxHash: "0xddd", BlockHeight: 90, Confirmations: 12, Owner: "buyer-1",
		}, nil)

	assert.NoError(t, f.reconciler.RunOnce(context.Background()))

	record, err := f.recordStore.GetRecord(context.Background(), "record-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusFinalized, record.Status)
	assert.Empty(t, record.FailureReason)
	assert.NotEmpty(t, record.CertificateID)

	parcel, err := f.recordStore.GetParcel(context.Background(), "parcel-1")
	assert.NoError(t, err)
	assert.Equal(t, "buyer-1", parcel.CurrentOwner)
	assert.Equal(t, model.ParcelSold, parcel.Status)
	assert.False(t, parcel.Locked())

	f.ledger.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestReconciler_LeavesFrozenFailuresAlone(t *testing.T) {
	f := newReconcilerFixture(t, time.Hour)
	f.seedFailed(t, model.FailureExecuteRejected, true)

	assert.NoError(t, f.reconciler.RunOnce(context.Background()))

	record, err := f.recordStore.GetRecord(context.Background(), "record-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusFailed, record.Status)
	assert.Equal(t, model.FailureExecuteRejected, record.FailureReason)

	// Operator territory; the ledger is not even consulted
	f.ledger.AssertNotCalled(t, "ReadByToken", mock.Anything, mock.Anything)
}

func TestReconciler_FailsAbandonedRecord(t *testing.T) {
	f := newReconcilerFixture(t, time.Hour)
	f.seedStalled(t, model.StatusCreated)

	assert.NoError(t, f.reconciler.RunOnce(context.Background()))

	record, err := f.recordStore.GetRecord(context.Background(), "record-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusFailed, record.Status)
	assert.Equal(t, model.FailureLedgerNeverReached, record.FailureReason)

	parcel, err := f.recordStore.GetParcel(context.Background(), "parcel-1")
	assert.NoError(t, err)
	assert.False(t, parcel.Locked())
	assert.Equal(t, model.ParcelAvailable, parcel.Status)

	// Nothing was ever submitted for a CREATED record, so nothing is looked up
	f.ledger.AssertNotCalled(t, "ReadByToken", mock.Anything, mock.Anything)
}

func TestReconciler_AdvancesValidatedRecordWithLandedCall(t *testing.T) {
	f := newReconcilerFixture(t, time.Hour)
	f.seedStalled(t, model.StatusValidated)

	// The process died after the gateway accepted the call but before the
	// record reached SUBMITTED
	f.ledger.On("ReadByToken", mock.Anything, "sale-token-001").
		Return(&ledger.Confirmation{
			TxHash: "0xeee", BlockHeight: 44, Confirmations: 12,
		}, nil)

	assert.NoError(t, f.reconciler.RunOnce(context.Background()))

	record, err := f.recordStore.GetRecord(context.Background(), "record-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusChainConfirmed, record.Status)

	parcel, err := f.recordStore.GetParcel(context.Background(), "parcel-1")
	assert.NoError(t, err)
	assert.Equal(t, "record-1", parcel.ActiveTransactionID)
}
