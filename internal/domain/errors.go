package domain

import "errors"

var (
	// ErrInvalidTransition means the operation is not legal from the record's
	// current status. Permanent; retrying the same call cannot succeed.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrTurnViolation means the alternation invariant was broken: the actor
	// tried to act on their own pending offer. The caller should refetch the
	// negotiation and act against the current state.
	ErrTurnViolation = errors.New("turn violation")

	// ErrUnauthorizedSender means the actor is not a party to the negotiation.
	ErrUnauthorizedSender = errors.New("sender is not a party to the negotiation")

	// ErrAlreadyMaterialized signals that an order already exists for the
	// negotiation. It is an idempotent no-op, not a true failure.
	ErrAlreadyMaterialized = errors.New("negotiation already materialized")

	ErrNotFound = errors.New("not found")
)
