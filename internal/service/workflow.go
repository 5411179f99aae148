package service

import (
	"go.uber.org/zap"

	"github.com/abhijithns29/propchain-engine/internal/model"
)

// legalTransitions is the approval workflow state machine. Terminal states
// have no outgoing edges; FAILED->VALIDATED covers reconciliation repair of
// records whose ledger call never landed.
var legalTransitions = map[model.TransactionStatus][]model.TransactionStatus{
	model.StatusCreated: {
		model.StatusValidated,
		model.StatusValidationFailed,
		model.StatusAdminRejected,
		model.StatusFailed, // abandoned before validation completed
	},
	model.StatusValidated: {
		model.StatusSubmitted,
		model.StatusChainRejected,
		model.StatusAdminRejected,
		model.StatusFailed,
	},
	model.StatusSubmitted: {
		model.StatusChainConfirmed,
		model.StatusAdminRejected,
		model.StatusFailed,
	},
	model.StatusChainConfirmed: {
		model.StatusApproved,
		model.StatusFinalized, // registrations skip approval
		model.StatusAdminRejected,
		model.StatusFailed,
	},
	model.StatusApproved: {
		model.StatusFinalized,
		model.StatusFailed,
	},
	model.StatusFailed: {
		model.StatusValidated, // retry after reconciliation confirmed no trace
		model.StatusChainConfirmed,
		model.StatusFinalized, // repair when the ledger effect actually landed
	},
}

// Workflow is the state machine governing a transaction's lifecycle from
// creation to a terminal state
type Workflow struct {
	logger *zap.Logger
}

// NewWorkflow creates a new approval workflow
func NewWorkflow(logger *zap.Logger) *Workflow {
	return &Workflow{logger: logger}
}

// CanTransition reports whether from -> to is a legal transition
func (w *Workflow) CanTransition(from, to model.TransactionStatus) bool {
	for _, legal := range legalTransitions[from] {
		if legal == to {
			return true
		}
	}
	return false
}

// InitiateRequest is a request to register a parcel or change its ownership
type InitiateRequest struct {
	ParcelID         string
	InitiatorID      string
	InitiatorRole    model.Role
	CounterpartyID   string
	Type             model.TransactionType
	Amount           int64
	IdempotencyToken string

	// WaitForConfirmation blocks Initiate until the ledger confirms instead
	// of returning right after submission
	WaitForConfirmation bool
}

// ValidateRequest checks structural validity of an initiate request.
// Violations are non-retryable; the caller must correct the input.
func (w *Workflow) ValidateRequest(req *InitiateRequest) error {
	if req.ParcelID == "" || req.InitiatorID == "" || req.IdempotencyToken == "" {
		return ErrInvalidRequest
	}
	if !req.Type.Valid() {
		return ErrInvalidRequest
	}
	if req.Type.RequiresCounterparty() && req.CounterpartyID == "" {
		return ErrInvalidRequest
	}
	if req.CounterpartyID == req.InitiatorID {
		return ErrInvalidRequest
	}

	switch req.Type {
	case model.TypeSale, model.TypeRent:
		if req.Amount <= 0 {
			return ErrMalformedAmount
		}
	case model.TypeRegistration, model.TypeTransfer:
		if req.Amount != 0 {
			return ErrMalformedAmount
		}
	}

	return nil
}

// Authorize checks that the initiator holds the right role for the
// transaction type. Registration requires an elevated role; sale, transfer
// and rent require current ownership of the parcel.
func (w *Workflow) Authorize(req *InitiateRequest, parcel *model.Parcel) error {
	if req.Type == model.TypeRegistration {
		if !req.InitiatorRole.Elevated() {
			return ErrInvalidRole
		}
		return nil
	}

	if parcel.CurrentOwner != req.InitiatorID {
		return ErrInvalidRole
	}
	return nil
}

// DecideTarget resolves the target status for an admin decision on a record.
// APPROVE is only legal from CHAIN_CONFIRMED. REJECT is legal from any state
// before APPROVED, except that a chain-confirmed registration can no longer
// be rejected: the on-chain effect is irreversible, so the decision surfaces
// as a conflict instead of being silently ignored.
func (w *Workflow) DecideTarget(record *model.TransactionRecord, decision model.Decision) (model.TransactionStatus, error) {
	switch decision {
	case model.DecisionApprove:
		if record.Status != model.StatusChainConfirmed || !record.Type.RequiresApproval() {
			return "", ErrNotAwaitingDecision
		}
		return model.StatusApproved, nil

	case model.DecisionReject:
		switch record.Status {
		case model.StatusCreated, model.StatusValidated, model.StatusSubmitted:
			return model.StatusAdminRejected, nil
		case model.StatusChainConfirmed:
			if !record.Type.RequiresApproval() {
				return "", ErrConflictingDecision
			}
			return model.StatusAdminRejected, nil
		default:
			return "", ErrNotAwaitingDecision
		}

	default:
		return "", ErrInvalidRequest
	}
}
