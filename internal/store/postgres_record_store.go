package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abhijithns29/propchain-engine/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresRecordStore implements RecordStore for PostgreSQL
type PostgresRecordStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresRecordStore creates a new PostgreSQL record store
func NewPostgresRecordStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresRecordStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRecordStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// GetPool exposes the connection pool for stores sharing the database
func (s *PostgresRecordStore) GetPool() *pgxpool.Pool {
	return s.pool
}

// GetParcel retrieves a parcel by id
func (s *PostgresRecordStore) GetParcel(ctx context.Context, parcelID string) (*model.Parcel, error) {
	query := `
		SELECT parcel_id, survey_number, classification, area_sqft, district,
		       state, status, current_owner, previous_owners, on_chain_id,
		       tx_hash, block_height, confirmations, active_transaction_id,
		       created_at, updated_at, version
		FROM parcels
		WHERE parcel_id = $1
	`

	var p model.Parcel
	err := s.pool.QueryRow(ctx, query, parcelID).Scan(
		&p.ParcelID,
		&p.SurveyNumber,
		&p.Classification,
		&p.AreaSqft,
		&p.District,
		&p.State,
		&p.Status,
		&p.CurrentOwner,
		&p.PreviousOwners,
		&p.OnChainID,
		&p.Anchor.TxHash,
		&p.Anchor.BlockHeight,
		&p.Anchor.Confirmations,
		&p.ActiveTransactionID,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.Version,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get parcel: %w", err)
	}

	return &p, nil
}

// CreateParcel creates a new parcel
func (s *PostgresRecordStore) CreateParcel(ctx context.Context, parcel *model.Parcel) error {
	query := `
		INSERT INTO parcels (
			parcel_id, survey_number, classification, area_sqft, district, state,
			status, current_owner, previous_owners, on_chain_id, tx_hash,
			block_height, confirmations, active_transaction_id, created_at,
			updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		          $15, $16, $17)
	`

	_, err := s.pool.Exec(ctx, query,
		parcel.ParcelID,
		parcel.SurveyNumber,
		parcel.Classification,
		parcel.AreaSqft,
		parcel.District,
		parcel.State,
		parcel.Status,
		parcel.CurrentOwner,
		parcel.PreviousOwners,
		parcel.OnChainID,
		parcel.Anchor.TxHash,
		parcel.Anchor.BlockHeight,
		parcel.Anchor.Confirmations,
		parcel.ActiveTransactionID,
		parcel.CreatedAt,
		parcel.UpdatedAt,
		parcel.Version,
	)

	if err != nil {
		return fmt.Errorf("failed to create parcel: %w", err)
	}

	return nil
}

// UpdateParcel updates a parcel with optimistic locking on version
func (s *PostgresRecordStore) UpdateParcel(ctx context.Context, parcel *model.Parcel) error {
	query := `
		UPDATE parcels
		SET status = $2, current_owner = $3, previous_owners = $4, on_chain_id = $5,
		    tx_hash = $6, block_height = $7, confirmations = $8, updated_at = $9,
		    version = $10
		WHERE parcel_id = $1 AND version = $11
	`

	result, err := s.pool.Exec(ctx, query,
		parcel.ParcelID,
		parcel.Status,
		parcel.CurrentOwner,
		parcel.PreviousOwners,
		parcel.OnChainID,
		parcel.Anchor.TxHash,
		parcel.Anchor.BlockHeight,
		parcel.Anchor.Confirmations,
		time.Now(),
		parcel.Version+1,
		parcel.Version, // Optimistic locking
	)

	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrVersionMismatch
	}

	parcel.Version++
	return nil
}

// AcquireParcelLock atomically claims the parcel for a transaction record
func (s *PostgresRecordStore) AcquireParcelLock(ctx context.Context, parcelID, recordID string) error {
	query := `
		UPDATE parcels
		SET active_transaction_id = $2, updated_at = NOW(), version = version + 1
		WHERE parcel_id = $1 AND active_transaction_id = ''
	`

	result, err := s.pool.Exec(ctx, query, parcelID, recordID)
	if err != nil {
		return fmt.Errorf("failed to acquire parcel lock: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Either the parcel does not exist or another record holds it
		if _, err := s.GetParcel(ctx, parcelID); err != nil {
			return err
		}
		return ErrLockHeld
	}

	return nil
}

// ReleaseParcelLock clears the parcel lock if recordID still holds it
func (s *PostgresRecordStore) ReleaseParcelLock(ctx context.Context, parcelID, recordID string) error {
	query := `
		UPDATE parcels
		SET active_transaction_id = '', updated_at = NOW(), version = version + 1
		WHERE parcel_id = $1 AND active_transaction_id = $2
	`

	result, err := s.pool.Exec(ctx, query, parcelID, recordID)
	if err != nil {
		return fmt.Errorf("failed to release parcel lock: %w", err)
	}

	if result.RowsAffected() == 0 {
		s.logger.Warn("Parcel lock already released or held elsewhere",
			zap.String("parcel_id", parcelID),
			zap.String("record_id", recordID))
	}

	return nil
}

// ListLockedParcels returns parcels whose lock predates the cutoff
func (s *PostgresRecordStore) ListLockedParcels(ctx context.Context, cutoff time.Time, limit int) ([]*model.Parcel, error) {
	query := `
		SELECT parcel_id, survey_number, classification, area_sqft, district,
		       state, status, current_owner, previous_owners, on_chain_id,
		       tx_hash, block_height, confirmations, active_transaction_id,
		       created_at, updated_at, version
		FROM parcels
		WHERE active_transaction_id != '' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list locked parcels: %w", err)
	}
	defer rows.Close()

	parcels := make([]*model.Parcel, 0)
	for rows.Next() {
		var p model.Parcel
		if err := rows.Scan(
			&p.ParcelID,
			&p.SurveyNumber,
			&p.Classification,
			&p.AreaSqft,
			&p.District,
			&p.State,
			&p.Status,
			&p.CurrentOwner,
			&p.PreviousOwners,
			&p.OnChainID,
			&p.Anchor.TxHash,
			&p.Anchor.BlockHeight,
			&p.Anchor.Confirmations,
			&p.ActiveTransactionID,
			&p.CreatedAt,
			&p.UpdatedAt,
			&p.Version,
		); err != nil {
			return nil, err
		}
		parcels = append(parcels, &p)
	}

	return parcels, rows.Err()
}

// GetRecord retrieves a transaction record by id
func (s *PostgresRecordStore) GetRecord(ctx context.Context, recordID string) (*model.TransactionRecord, error) {
	return s.getRecordWhere(ctx, "record_id = $1", recordID)
}

// GetRecordByToken retrieves a transaction record by idempotency token
func (s *PostgresRecordStore) GetRecordByToken(ctx context.Context, token string) (*model.TransactionRecord, error) {
	return s.getRecordWhere(ctx, "idempotency_token = $1", token)
}

const recordColumns = `
	record_id, parcel_id, type, status, initiator_id, counterparty_id, amount,
	idempotency_token, approver_id, tx_hash, block_height, confirmations,
	gas_used, certificate_id, failure_reason, error_message,
	created_at, updated_at, submitted_at, decided_at, version
`

func (s *PostgresRecordStore) getRecordWhere(ctx context.Context, where string, arg any) (*model.TransactionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM transaction_records WHERE ` + where

	row := s.pool.QueryRow(ctx, query, arg)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return record, nil
}

func scanRecord(row pgx.Row) (*model.TransactionRecord, error) {
	var r model.TransactionRecord
	err := row.Scan(
		&r.RecordID,
		&r.ParcelID,
		&r.Type,
		&r.Status,
		&r.InitiatorID,
		&r.CounterpartyID,
		&r.Amount,
		&r.IdempotencyToken,
		&r.ApproverID,
		&r.Anchor.TxHash,
		&r.Anchor.BlockHeight,
		&r.Anchor.Confirmations,
		&r.GasUsed,
		&r.CertificateID,
		&r.FailureReason,
		&r.ErrorMessage,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.SubmittedAt,
		&r.DecidedAt,
		&r.Version,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRecord creates a new transaction record. The unique index on
// idempotency_token is the durable idempotency guarantee.
func (s *PostgresRecordStore) CreateRecord(ctx context.Context, record *model.TransactionRecord) error {
	query := `
		INSERT INTO transaction_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21)
	`

	_, err := s.pool.Exec(ctx, query,
		record.RecordID,
		record.ParcelID,
		record.Type,
		record.Status,
		record.InitiatorID,
		record.CounterpartyID,
		record.Amount,
		record.IdempotencyToken,
		record.ApproverID,
		record.Anchor.TxHash,
		record.Anchor.BlockHeight,
		record.Anchor.Confirmations,
		record.GasUsed,
		record.CertificateID,
		record.FailureReason,
		record.ErrorMessage,
		record.CreatedAt,
		record.UpdatedAt,
		record.SubmittedAt,
		record.DecidedAt,
		record.Version,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateToken
		}
		return fmt.Errorf("failed to create record: %w", err)
	}

	return nil
}

// UpdateRecord persists the record's mutable fields conditioned on the row
// still being in fromStatus. The losing writer of a race sees
// ErrVersionMismatch, never a silent overwrite.
func (s *PostgresRecordStore) UpdateRecord(ctx context.Context, record *model.TransactionRecord, fromStatus model.TransactionStatus) error {
	query := `
		UPDATE transaction_records
		SET status = $2, approver_id = $3, tx_hash = $4, block_height = $5,
		    confirmations = $6, gas_used = $7, certificate_id = $8,
		    failure_reason = $9, error_message = $10, updated_at = $11,
		    submitted_at = $12, decided_at = $13, version = $14
		WHERE record_id = $1 AND status = $15
	`

	result, err := s.pool.Exec(ctx, query,
		record.RecordID,
		record.Status,
		record.ApproverID,
		record.Anchor.TxHash,
		record.Anchor.BlockHeight,
		record.Anchor.Confirmations,
		record.GasUsed,
		record.CertificateID,
		record.FailureReason,
		record.ErrorMessage,
		time.Now(),
		record.SubmittedAt,
		record.DecidedAt,
		record.Version+1,
		fromStatus,
	)

	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrVersionMismatch
	}

	record.Version++
	return nil
}

// ListStalledRecords returns records stuck in the given statuses since before
// the cutoff, oldest first
func (s *PostgresRecordStore) ListStalledRecords(
	ctx context.Context,
	statuses []model.TransactionStatus,
	cutoff time.Time,
	limit int,
) ([]*model.TransactionRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM transaction_records
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	statusStrings := make([]string, len(statuses))
	for i, st := range statuses {
		statusStrings[i] = string(st)
	}

	rows, err := s.pool.Query(ctx, query, statusStrings, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled records: %w", err)
	}
	defer rows.Close()

	records := make([]*model.TransactionRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// Ping checks the database connection
func (s *PostgresRecordStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresRecordStore) Close() {
	s.pool.Close()
}
