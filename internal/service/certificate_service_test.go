package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/abhijithns29/propchain-engine/internal/model"
	"github.com/abhijithns29/propchain-engine/internal/store"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestCertificateService_Issue(t *testing.T) {
	logger := zap.NewNop()
	recordStore := store.NewInMemoryRecordStore()
	blobStore, err := store.NewFilesystemBlobStore(t.TempDir(), logger)
	assert.NoError(t, err)

	now := time.Now()
	parcel := &model.Parcel{
		ParcelID:     "parcel-1",
		SurveyNumber: "SN-1042",
		CurrentOwner: "buyer-1",
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}
	assert.NoError(t, recordStore.CreateParcel(context.Background(), parcel))

	svc := NewCertificateService(recordStore, blobStore, logger)

	record := &model.TransactionRecord{
		RecordID:    "record-1",
		ParcelID:    "parcel-1",
		Type:        model.TypeSale,
		Status:      model.StatusFinalized,
		InitiatorID: "owner-1",
		Amount:      7_500_000,
		Anchor:      model.LedgerAnchor{TxHash: "0xbbb", BlockHeight: 77},
	}

	cert, err := svc.Issue(context.Background(), record)
	assert.NoError(t, err)
	assert.NotEmpty(t, cert.CertificateID)
	assert.NotEmpty(t, cert.BlobHandle)
	assert.Equal(t, "buyer-1", cert.OwnerID)

	// The stored document reflects the finalized transfer
	data, err := blobStore.Get(context.Background(), cert.BlobHandle)
	assert.NoError(t, err)

	var doc map[string]any
	assert.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "record-1", doc["recordId"])
	assert.Equal(t, "SN-1042", doc["surveyNumber"])
	assert.Equal(t, "owner-1", doc["previousOwner"])
	assert.Equal(t, "buyer-1", doc["newOwner"])
	assert.Equal(t, "0xbbb", doc["txHash"])
}

func TestCertificateService_IssueRegistrationHasNoPreviousOwner(t *testing.T) {
	logger := zap.NewNop()
	recordStore := store.NewInMemoryRecordStore()
	blobStore, err := store.NewFilesystemBlobStore(t.TempDir(), logger)
	assert.NoError(t, err)

	parcel := &model.Parcel{
		ParcelID:     "parcel-1",
		SurveyNumber: "SN-2001",
		CurrentOwner: "owner-1",
		Version:      1,
	}
	assert.NoError(t, recordStore.CreateParcel(context.Background(), parcel))

	svc := NewCertificateService(recordStore, blobStore, logger)

	record := &model.TransactionRecord{
		RecordID:    "record-1",
		ParcelID:    "parcel-1",
		Type:        model.TypeRegistration,
		Status:      model.StatusFinalized,
		InitiatorID: "registrar-1",
	}

	cert, err := svc.Issue(context.Background(), record)
	assert.NoError(t, err)

	data, err := blobStore.Get(context.Background(), cert.BlobHandle)
	assert.NoError(t, err)

	var doc map[string]any
	assert.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "", doc["previousOwner"])
	assert.Equal(t, "owner-1", doc["newOwner"])
}

func TestCertificateService_IssueFailsWithoutParcel(t *testing.T) {
	logger := zap.NewNop()
	recordStore := store.NewInMemoryRecordStore()
	blobStore, err := store.NewFilesystemBlobStore(t.TempDir(), logger)
	assert.NoError(t, err)

	svc := NewCertificateService(recordStore, blobStore, logger)

	_, err = svc.Issue(context.Background(), &model.TransactionRecord{
		RecordID: "record-1",
		ParcelID: "missing",
	})
	assert.Error(t, err)
}
