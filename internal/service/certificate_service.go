package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/abhijithns29/propchain-engine/internal/model"
	"github.com/abhijithns29/propchain-engine/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CertificateService produces transfer certificates for finalized
// transactions. The rendered document lands in the blob store; the engine
// keeps only the handle.
type CertificateService struct {
	recordStore store.RecordStore
	blobStore   store.BlobStore
	logger      *zap.Logger
}

// NewCertificateService creates a new certificate service
func NewCertificateService(
	recordStore store.RecordStore,
	blobStore store.BlobStore,
	logger *zap.Logger,
) *CertificateService {
	return &CertificateService{
		recordStore: recordStore,
		blobStore:   blobStore,
		logger:      logger,
	}
}

// certificateDocument is the rendered certificate body
type certificateDocument struct {
	CertificateID string    `json:"certificateId"`
	RecordID      string    `json:"recordId"`
	ParcelID      string    `json:"parcelId"`
	SurveyNumber  string    `json:"surveyNumber"`
	Type          string    `json:"type"`
	PreviousOwner string    `json:"previousOwner"`
	NewOwner      string    `json:"newOwner"`
	Amount        int64     `json:"amount"`
	TxHash        string    `json:"txHash"`
	BlockHeight   int64     `json:"blockHeight"`
	IssuedAt      time.Time `json:"issuedAt"`
}

// Issue renders and persists the certificate for a finalized transaction,
// returning the certificate handle
func (s *CertificateService) Issue(ctx context.Context, record *model.TransactionRecord) (*model.Certificate, error) {
	parcel, err := s.recordStore.GetParcel(ctx, record.ParcelID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parcel for certificate: %w", err)
	}

	cert := &model.Certificate{
		CertificateID: uuid.New().String(),
		RecordID:      record.RecordID,
		ParcelID:      record.ParcelID,
		OwnerID:       parcel.CurrentOwner,
		IssuedAt:      time.Now(),
	}

	previousOwner := record.InitiatorID
	newOwner := parcel.CurrentOwner
	if record.Type == model.TypeRegistration {
		previousOwner = ""
	}

	doc := certificateDocument{
		CertificateID: cert.CertificateID,
		RecordID:      record.RecordID,
		ParcelID:      parcel.ParcelID,
		SurveyNumber:  parcel.SurveyNumber,
		Type:          string(record.Type),
		PreviousOwner: previousOwner,
		NewOwner:      newOwner,
		Amount:        record.Amount,
		TxHash:        record.Anchor.TxHash,
		BlockHeight:   record.Anchor.BlockHeight,
		IssuedAt:      cert.IssuedAt,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render certificate: %w", err)
	}

	handle, err := s.blobStore.Put(ctx, "certificate-"+cert.CertificateID+".json", data)
	if err != nil {
		return nil, fmt.Errorf("failed to store certificate: %w", err)
	}
	cert.BlobHandle = handle

	s.logger.Info("Certificate issued",
		zap.String("certificate_id", cert.CertificateID),
		zap.String("record_id", record.RecordID),
		zap.String("parcel_id", record.ParcelID))

	return cert, nil
}
