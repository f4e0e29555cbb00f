package schedule

import "errors"

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrPatientNotFound  = errors.New("patient not found")
	ErrSlotNotFound     = errors.New("slot not found")
	ErrRequestNotFound  = errors.New("booking request not found")

	// ErrUnconfigured means the provider has no active working-hours
	// rules at all, so generation cannot produce anything. Callers must
	// be able to tell this apart from a legitimately empty window.
	ErrUnconfigured = errors.New("no working hours configured for provider")

	// ErrSlotUnavailable is the ordinary race-loss outcome: the slot was
	// claimed, blocked, or swept between the caller's read and its write.
	ErrSlotUnavailable = errors.New("slot is no longer available")

	ErrRequestNotPending  = errors.New("booking request is no longer pending")
	ErrRequestExpired     = errors.New("booking request has expired")
	ErrWrongOwner         = errors.New("caller does not own this resource")
	ErrWrongState         = errors.New("slot is not in a state that permits this transition")
	ErrConflictDetected   = errors.New("slot overlaps an existing slot")
	ErrExceptionLocked    = errors.New("exceptions for past dates are immutable")
	ErrDuplicateException = errors.New("an exception already exists for this date")
	ErrInvalidRule        = errors.New("invalid working hours rule")
)
