package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service.
//
// Every conditional transition returns the number of rows it touched;
// zero means the precondition no longer held and the caller lost the
// race. Success is decided by that count, never by the absence of an
// error.
type Repository interface {
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Working-hours rules
	SaveRule(ctx context.Context, rule *WorkingHoursRule) error
	ListActiveRules(ctx context.Context, providerID uuid.UUID) ([]WorkingHoursRule, error)

	// Exceptions
	CreateException(ctx context.Context, exc *AvailabilityException) error
	ListExceptions(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]AvailabilityException, error)

	// Slots
	CreateSlots(ctx context.Context, slots []Slot) error
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListAvailableSlots(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Slot, error)
	HasOverlap(ctx context.Context, providerID uuid.UUID, start, end time.Time) (bool, error)

	// Slot transitions (conditional updates)
	BlockSlot(ctx context.Context, slotID, blockedBy uuid.UUID, reason string) (int64, error)
	UnblockSlot(ctx context.Context, slotID uuid.UUID) (int64, error)
	MarkPastSlots(ctx context.Context, now time.Time) (int64, error)

	// Booking workflow. Each method runs the request transition and its
	// slot side effect in one transaction, so a storage failure rolls
	// everything back and the request is still pending for a retry or
	// the sweep. The row count is that of the request's conditional
	// update.
	ReserveSlotAndCreateRequest(ctx context.Context, req *BookingRequest) (int64, error)
	GetBookingRequestByID(ctx context.Context, id uuid.UUID) (*BookingRequest, error)
	ConfirmRequest(ctx context.Context, requestID, slotID uuid.UUID, appt *Appointment, confirmedBy uuid.UUID, at time.Time) (int64, error)
	RejectRequest(ctx context.Context, requestID, slotID, rejectedBy uuid.UUID, reason *string, suggested []uuid.UUID, at time.Time) (int64, error)
	CancelRequest(ctx context.Context, requestID, slotID uuid.UUID, at time.Time) (int64, error)
	ExpireRequest(ctx context.Context, requestID, slotID uuid.UUID) (int64, error)
	FindExpiredPending(ctx context.Context, now time.Time) ([]BookingRequest, error)

	// Audit
	CreateGenerationRun(ctx context.Context, run *GenerationRun) error
	InsertEvent(ctx context.Context, ev EventLog) error
}
