package model

import "time"

// TransactionType represents the kind of ownership change requested
type TransactionType string

const (
	// TypeRegistration represents first registration of a parcel on the ledger
	TypeRegistration TransactionType = "REGISTRATION"
	// TypeSale represents a sale of a parcel to a counterparty
	TypeSale TransactionType = "SALE"
	// TypeTransfer represents a non-monetary ownership transfer
	TypeTransfer TransactionType = "TRANSFER"
	// TypeRent represents a rental agreement recorded against a parcel
	TypeRent TransactionType = "RENT"
)

// Valid reports whether the transaction type is a known value
func (t TransactionType) Valid() bool {
	switch t {
	case TypeRegistration, TypeSale, TypeTransfer, TypeRent:
		return true
	default:
		return false
	}
}

// RequiresCounterparty reports whether the type needs a counterparty
func (t TransactionType) RequiresCounterparty() bool {
	return t != TypeRegistration
}

// RequiresApproval reports whether the type needs human sign-off after
// chain confirmation. Registrations finalize as soon as the chain confirms.
func (t TransactionType) RequiresApproval() bool {
	return t != TypeRegistration
}

// TransactionStatus represents the workflow state of a transaction record
type TransactionStatus string

const (
	// StatusCreated indicates the record exists but has not been validated
	StatusCreated TransactionStatus = "CREATED"
	// StatusValidated indicates validation passed and submission may begin
	StatusValidated TransactionStatus = "VALIDATED"
	// StatusSubmitted indicates the call was accepted by the ledger, awaiting confirmation
	StatusSubmitted TransactionStatus = "SUBMITTED"
	// StatusChainConfirmed indicates the ledger confirmed the call
	StatusChainConfirmed TransactionStatus = "CHAIN_CONFIRMED"
	// StatusApproved indicates an admin approved the transaction
	StatusApproved TransactionStatus = "APPROVED"
	// StatusFinalized indicates the transaction completed, ownership recorded
	StatusFinalized TransactionStatus = "FINALIZED"
	// StatusValidationFailed indicates validation rejected the request
	StatusValidationFailed TransactionStatus = "VALIDATION_FAILED"
	// StatusChainRejected indicates the ledger rejected the call before any state change
	StatusChainRejected TransactionStatus = "CHAIN_REJECTED"
	// StatusAdminRejected indicates an admin rejected the transaction
	StatusAdminRejected TransactionStatus = "ADMIN_REJECTED"
	// StatusFailed indicates a terminal failure, possibly repairable by reconciliation
	StatusFailed TransactionStatus = "FAILED"
)

// Terminal reports whether the status is a terminal state
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusFinalized, StatusValidationFailed, StatusChainRejected,
		StatusAdminRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// Decision represents an admin decision on a transaction
type Decision string

const (
	// DecisionApprove approves the transaction
	DecisionApprove Decision = "APPROVE"
	// DecisionReject rejects the transaction
	DecisionReject Decision = "REJECT"
)

// FailureReason classifies why a record ended FAILED
type FailureReason string

const (
	// FailureLedgerSilent indicates the ledger showed no trace after the extended deadline
	FailureLedgerSilent FailureReason = "ledger_silent"
	// FailureLedgerDivergence indicates the ledger shows a conflicting confirmed effect
	FailureLedgerDivergence FailureReason = "ledger_divergence"
	// FailureLedgerUnavailable indicates submission retries were exhausted.
	// A lost response still counts here, so the call may have landed;
	// reconciliation re-checks the ledger by token before trusting it
	FailureLedgerUnavailable FailureReason = "ledger_unavailable"
	// FailureExecuteRejected indicates the post-approval execution call was
	// rejected after the initial intent had confirmed
	FailureExecuteRejected FailureReason = "execute_rejected"
	// FailureLedgerNeverReached indicates the record was abandoned before
	// submission, usually by a crash between creation and the ledger call
	FailureLedgerNeverReached FailureReason = "ledger_never_reached"
)

// TransactionRecord represents a single ownership-change or registration
// request and its lifecycle
type TransactionRecord struct {
	RecordID         string            `json:"record_id"`
	ParcelID         string            `json:"parcel_id"`
	Type             TransactionType   `json:"type"`
	Status           TransactionStatus `json:"status"`
	InitiatorID      string            `json:"initiator_id"`
	CounterpartyID   string            `json:"counterparty_id,omitempty"` // empty for registrations
	Amount           int64             `json:"amount"`                    // smallest currency unit
	IdempotencyToken string            `json:"idempotency_token"`
	ApproverID       string            `json:"approver_id,omitempty"` // empty until decided
	Anchor           LedgerAnchor      `json:"anchor"`
	GasUsed          int64             `json:"gas_used,omitempty"`
	CertificateID    string            `json:"certificate_id,omitempty"` // empty until issued
	FailureReason    FailureReason     `json:"failure_reason,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	Version     int64      `json:"version"` // For optimistic locking
}

// ExecuteToken derives the idempotency token for the post-approval execution
// call. Keeping it derived from the initiate token means retries after a crash
// dedupe against the same on-chain nonce.
func (r *TransactionRecord) ExecuteToken() string {
	return r.IdempotencyToken + ":execute"
}
