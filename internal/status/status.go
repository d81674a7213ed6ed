package status

import "errors"

var (
	// ErrCapacityExhausted is returned when an event has fewer seats
	// available than requested. Retryable only if capacity frees up.
	ErrCapacityExhausted = errors.New("capacity: not enough seats available")

	// ErrLockTimeout is returned when the per-event capacity lock could not
	// be acquired before the deadline. The request is retryable.
	ErrLockTimeout = errors.New("lock: acquisition timed out")

	// ErrEventNotFound is returned for capacity operations on an unknown event.
	ErrEventNotFound = errors.New("event: not found")

	// ErrOrderNotFound is returned for operations on an unknown order.
	ErrOrderNotFound = errors.New("order: not found")

	// ErrWebhookSignature marks a webhook whose signature did not verify.
	// The event is dropped without state change.
	ErrWebhookSignature = errors.New("webhook: invalid signature")

	// ErrAttendeeCountMismatch is fatal at issuance time: the attendee
	// snapshot does not match the summed line-item quantity. The order stays
	// completed and is left for manual remediation.
	ErrAttendeeCountMismatch = errors.New("issuance: attendee count does not match line item quantity")

	// ErrOrderTerminal is returned when a transition is requested on an
	// order already in a final state.
	ErrOrderTerminal = errors.New("order: already in a terminal state")
)
