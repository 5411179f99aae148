package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the ledger node cannot accept a call.
// Callers may retry; no on-chain state was changed.
var ErrUnavailable = errors.New("ledger unavailable")

// ErrRejected is returned when the ledger rejects a call before any state
// change. Resubmission risks double effects and must not be retried.
var ErrRejected = errors.New("ledger rejected call")

// ErrConfirmationTimeout is returned when a confirmation wait expires. The
// call may still land after the timeout.
var ErrConfirmationTimeout = errors.New("confirmation timed out")

// ErrReceiptNotFound is returned when no receipt exists for a token
var ErrReceiptNotFound = errors.New("receipt not found")

// CallKind identifies a state-changing ledger call
type CallKind string

const (
	// CallRegisterParcel registers a new parcel on the ledger
	CallRegisterParcel CallKind = "register_parcel"
	// CallInitiateTransfer records intent to transfer ownership
	CallInitiateTransfer CallKind = "initiate_transfer"
	// CallExecuteTransfer executes an approved ownership transfer
	CallExecuteTransfer CallKind = "execute_transfer"
)

// Call represents a state-changing ledger call. The idempotency token maps
// to an on-chain nonce at the gateway, so resubmitting the same token can
// never produce two conflicting effects.
type Call struct {
	Kind             CallKind
	IdempotencyToken string
	OnChainID        int64 // zero for registrations
	SurveyNumber     string
	FromOwner        string
	ToOwner          string
	Amount           int64
}

// PendingHandle identifies a submitted but unconfirmed call
type PendingHandle struct {
	Token  string
	TxHash string
	Nonce  uint64
}

// Confirmation represents a ledger-confirmed call
type Confirmation struct {
	Token         string
	Kind          CallKind
	TxHash        string
	BlockHeight   int64
	Confirmations int64
	OnChainID     int64 // assigned parcel id for registrations
	GasUsed       int64
	Owner         string // owner after the call took effect
}

// ParcelView is the ledger-observed state of a parcel
type ParcelView struct {
	OnChainID   int64
	Owner       string
	TxHash      string
	BlockHeight int64
}

// Adapter wraps submission of state-changing calls to the distributed ledger
// and read-back of confirmed on-chain state. Confirmed effects are
// irreversible; there is no undo, only explicit counter-transactions.
type Adapter interface {
	// Submit sends a call to the ledger. Idempotent per token: a duplicate
	// submission returns the original handle.
	Submit(ctx context.Context, call *Call) (*PendingHandle, error)
	// AwaitConfirmation blocks until the call confirms, the timeout expires
	// (ErrConfirmationTimeout) or ctx is cancelled. On timeout the call may
	// still land later.
	AwaitConfirmation(ctx context.Context, handle *PendingHandle, timeout time.Duration) (*Confirmation, error)
	// ReadParcelState returns the ledger-observed state of a parcel
	ReadParcelState(ctx context.Context, onChainID int64) (*ParcelView, error)
	// ReadByToken looks up a confirmed receipt by idempotency token.
	// Returns ErrReceiptNotFound when the ledger shows no trace of the call.
	ReadByToken(ctx context.Context, token string) (*Confirmation, error)
	// Ping checks connectivity to the ledger node
	Ping(ctx context.Context) error
}
