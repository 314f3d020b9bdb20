package model

import "errors"

// Domain error taxonomy. Handlers and callers match these with errors.Is;
// layers in between only wrap them.
var (
	// ErrNotFound signals the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput signals a malformed request. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyExists signals the provisioning idempotency guard triggered:
	// a wallet for the user is already present and not in a retryable state.
	ErrAlreadyExists = errors.New("wallet already exists")

	// ErrConflict signals a competing in-flight operation, e.g. an active
	// recovery request already open for the wallet.
	ErrConflict = errors.New("conflicting operation in progress")

	// ErrProviderUnavailable signals the Lightning provider stayed
	// unreachable past the retry budget.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrThresholdViolation signals degenerate secret-sharing parameters.
	// Rejected before any cryptographic work begins.
	ErrThresholdViolation = errors.New("invalid sharing threshold")

	// ErrExpired signals the recovery deadline passed before quorum.
	ErrExpired = errors.New("recovery request expired")

	// ErrUnprocessableEvent signals a recorded but unparseable provider event.
	ErrUnprocessableEvent = errors.New("unprocessable event")

	// ErrOrphanEvent signals a provider event with no matching wallet or
	// transaction. Recorded for operator review, never applied.
	ErrOrphanEvent = errors.New("orphan event")

	// ErrOutOfOrderEvent signals a provider event whose predecessor state has
	// not been reached yet. Left unprocessed so redelivery can retry it.
	ErrOutOfOrderEvent = errors.New("out of order event")

	// ErrStaleTransition signals a conditional state update lost a race:
	// the row was no longer in the expected source state.
	ErrStaleTransition = errors.New("stale state transition")

	// ErrClaimConsumed signals the reconstructed-share bundle was already
	// released once.
	ErrClaimConsumed = errors.New("recovery bundle already claimed")
)
