package schedule

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotBlocked   SlotStatus = "blocked"
	SlotPast      SlotStatus = "past"
	SlotCancelled SlotStatus = "cancelled"
	SlotCompleted SlotStatus = "completed"
	SlotNoShow    SlotStatus = "no_show"
)

type SlotType string

const (
	SlotTypeRegular   SlotType = "regular"
	SlotTypeEmergency SlotType = "emergency"
	SlotTypeFollowUp  SlotType = "follow_up"
	SlotTypeBreak     SlotType = "break"
	SlotTypePersonal  SlotType = "personal"
)

type ExceptionType string

const (
	ExceptionUnavailable ExceptionType = "unavailable"
	ExceptionCustomHours ExceptionType = "custom_hours"
	ExceptionHoliday     ExceptionType = "holiday"
	ExceptionVacation    ExceptionType = "vacation"
	ExceptionConference  ExceptionType = "conference"
	ExceptionEmergency   ExceptionType = "emergency"
)

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestConfirmed RequestStatus = "confirmed"
	RequestRejected  RequestStatus = "rejected"
	RequestCancelled RequestStatus = "cancelled"
	RequestExpired   RequestStatus = "expired"
)

type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

type GenerationType string

const (
	GenerationManual    GenerationType = "manual"
	GenerationAutomatic GenerationType = "automatic"
	GenerationBulk      GenerationType = "bulk"
	GenerationRecurring GenerationType = "recurring"
)

type Provider struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	Timezone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkingHoursRule is a recurring weekly availability template.
// StartTime and EndTime are provider-local wall clock in "15:04" form.
// Rules are deactivated, never deleted.
type WorkingHoursRule struct {
	ID            uuid.UUID
	ProviderID    uuid.UUID
	DayOfWeek     int // 0 = Sunday .. 6 = Saturday
	StartTime     string
	EndTime       string
	SlotMinutes   int
	BufferMinutes int
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AvailabilityException overrides the weekly rules for one calendar day.
// At most one exception per (provider, date).
type AvailabilityException struct {
	ID            uuid.UUID
	ProviderID    uuid.UUID
	ExceptionDate time.Time // date only, midnight UTC
	Type          ExceptionType
	CustomStart   *string // "15:04", custom_hours only
	CustomEnd     *string
	Reason        *string
	CreatedAt     time.Time
}

// Slot is one bookable unit of a provider's calendar. SlotStart/SlotEnd
// are absolute instants; the interval is half-open [SlotStart, SlotEnd).
type Slot struct {
	ID                  uuid.UUID
	ProviderID          uuid.UUID
	SlotDate            time.Time
	SlotStart           time.Time
	SlotEnd             time.Time
	Status              SlotStatus
	SlotType            SlotType
	GeneratedFromRuleID *uuid.UUID
	IsManual            bool
	PatientID           *uuid.UUID
	AppointmentID       *uuid.UUID
	BlockedBy           *uuid.UUID
	BlockReason         *string
	Notes               *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// BookingRequest is a patient's pending claim on a slot. It leaves
// pending exactly once, into one of the four terminal statuses.
type BookingRequest struct {
	ID               uuid.UUID
	PatientID        uuid.UUID
	ProviderID       uuid.UUID
	SlotID           uuid.UUID
	ChiefComplaint   *string
	Symptoms         *string
	UrgencyLevel     *string
	Status           RequestStatus
	ExpiresAt        time.Time
	ConfirmedBy      *uuid.UUID
	ConfirmedAt      *time.Time
	AppointmentID    *uuid.UUID
	RejectedBy       *uuid.UUID
	RejectedAt       *time.Time
	RejectionReason  *string
	SuggestedSlotIDs []uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Appointment is the confirmed record handed to the rest of the
// platform. This engine only creates it, never mutates it.
type Appointment struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	ProviderID     uuid.UUID
	SlotID         uuid.UUID
	SlotStart      time.Time
	SlotEnd        time.Time
	ChiefComplaint *string
	CreatedAt      time.Time
}

// GenerationRun is the append-only audit row for one generation call.
type GenerationRun struct {
	ID             uuid.UUID
	ProviderID     uuid.UUID
	StartDate      time.Time
	EndDate        time.Time
	SlotsGenerated int
	GenerationType GenerationType
	TriggeredBy    uuid.UUID
	Status         RunStatus
	ErrorMessage   *string
	CreatedAt      time.Time
}

type EventLog struct {
	ID        int64
	EventType string
	RequestID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
