package billing

import "errors"

var (
	// ErrNotFound is returned when a subscription does not exist.
	ErrNotFound = errors.New("billing: subscription not found")
	// ErrConflict is returned when a concurrent writer changed the subscription
	// version since it was read.
	ErrConflict = errors.New("billing: subscription version conflict")
	// ErrExternalRefTaken is returned when a processor reference is already
	// linked to another tenant.
	ErrExternalRefTaken = errors.New("billing: external reference linked to another tenant")
	// ErrInvalidTransition is returned to operators when an admin action is
	// not allowed from the current status. Processor events never surface it.
	ErrInvalidTransition = errors.New("billing: transition not allowed from current status")
	// ErrInvalidSignature rejects webhook deliveries that fail verification.
	ErrInvalidSignature = errors.New("billing: invalid webhook signature")
	// ErrMalformedEvent rejects signed payloads that cannot be parsed.
	ErrMalformedEvent = errors.New("billing: malformed webhook event")
	// ErrAlreadySubscribed is returned by checkout while a subscription still
	// entitles the tenant.
	ErrAlreadySubscribed = errors.New("billing: tenant already has a live subscription")
	// ErrNoBoostCredits is returned when a boost is requested with an empty balance.
	ErrNoBoostCredits = errors.New("billing: no boost credits left")
	// ErrProcessorUnavailable is returned when no payment processor is configured.
	ErrProcessorUnavailable = errors.New("billing: payment processor not configured")
)
