package service

import "errors"

// Validation errors: non-retryable, the caller must correct the input.

// ErrParcelNotFound is returned when the referenced parcel does not exist
var ErrParcelNotFound = errors.New("parcel not found")

// ErrInvalidRole is returned when the initiator lacks the role required for
// the transaction type
var ErrInvalidRole = errors.New("invalid role for transaction type")

// ErrMalformedAmount is returned when the amount/type combination is not
// well-formed
var ErrMalformedAmount = errors.New("malformed amount")

// ErrInvalidRequest is returned for structurally invalid requests
var ErrInvalidRequest = errors.New("invalid request")

// ErrParcelDisputed is returned when the parcel is frozen for operator
// intervention and accepts no new transactions
var ErrParcelDisputed = errors.New("parcel disputed")

// Contention errors: retryable by the caller after observing current status.

// ErrParcelBusy is returned when another transaction already holds the parcel
var ErrParcelBusy = errors.New("parcel busy")

// ErrStaleDecision is returned to the loser of concurrent admin decisions
var ErrStaleDecision = errors.New("stale decision")

// Consistency errors: surfaced to the admin actor, never auto-resolved.

// ErrNotAwaitingDecision is returned when a record is not in a state that
// accepts the given decision
var ErrNotAwaitingDecision = errors.New("record not awaiting decision")

// ErrConflictingDecision is returned when a rejection would contradict an
// irreversible on-chain effect
var ErrConflictingDecision = errors.New("conflicting decision")

// ErrRecordNotFound is returned when the transaction record does not exist
var ErrRecordNotFound = errors.New("transaction record not found")

// ErrIllegalTransition is returned when a workflow transition is not legal
var ErrIllegalTransition = errors.New("illegal status transition")
