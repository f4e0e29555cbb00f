package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/provider-scheduling/internal/schedule"
)

type SetWorkingHoursRequest struct {
	RuleID        string `json:"rule_id,omitempty"`
	DayOfWeek     int    `json:"day_of_week"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	SlotMinutes   int    `json:"slot_minutes"`
	BufferMinutes int    `json:"buffer_minutes"`
	Active        *bool  `json:"active,omitempty"`
}

type CreateExceptionRequest struct {
	Date        string  `json:"date"`
	Type        string  `json:"type"`
	CustomStart *string `json:"custom_start,omitempty"`
	CustomEnd   *string `json:"custom_end,omitempty"`
	Reason      *string `json:"reason,omitempty"`
}

type GenerateSlotsRequest struct {
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	// Days is a shorthand: generate from today for this many days.
	Days           int    `json:"days,omitempty"`
	GenerationType string `json:"generation_type,omitempty"`
}

type ManualSlotRequest struct {
	SlotStart time.Time `json:"slot_start"`
	SlotEnd   time.Time `json:"slot_end"`
	SlotType  string    `json:"slot_type,omitempty"`
	Notes     *string   `json:"notes,omitempty"`
}

type BlockSlotRequest struct {
	Reason string `json:"reason"`
}

type CreateBookingRequestBody struct {
	SlotID         string  `json:"slot_id"`
	ChiefComplaint *string `json:"chief_complaint,omitempty"`
	Symptoms       *string `json:"symptoms,omitempty"`
	UrgencyLevel   *string `json:"urgency_level,omitempty"`
}

type RejectBookingRequestBody struct {
	Reason           *string  `json:"reason,omitempty"`
	SuggestedSlotIDs []string `json:"suggested_slot_ids,omitempty"`
}

type SlotResponse struct {
	ID         uuid.UUID `json:"id"`
	ProviderID uuid.UUID `json:"provider_id"`
	SlotStart  time.Time `json:"slot_start"`
	SlotEnd    time.Time `json:"slot_end"`
	Status     string    `json:"status"`
	SlotType   string    `json:"slot_type"`
}

func toSlotResponse(s *schedule.Slot) SlotResponse {
	return SlotResponse{
		ID:         s.ID,
		ProviderID: s.ProviderID,
		SlotStart:  s.SlotStart,
		SlotEnd:    s.SlotEnd,
		Status:     string(s.Status),
		SlotType:   string(s.SlotType),
	}
}

type BookingRequestResponse struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	ProviderID    uuid.UUID  `json:"provider_id"`
	SlotID        uuid.UUID  `json:"slot_id"`
	Status        string     `json:"status"`
	ExpiresAt     time.Time  `json:"expires_at"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

func toRequestResponse(r *schedule.BookingRequest) BookingRequestResponse {
	return BookingRequestResponse{
		ID:            r.ID,
		PatientID:     r.PatientID,
		ProviderID:    r.ProviderID,
		SlotID:        r.SlotID,
		Status:        string(r.Status),
		ExpiresAt:     r.ExpiresAt,
		AppointmentID: r.AppointmentID,
	}
}

type GenerationResponse struct {
	RunID        uuid.UUID `json:"run_id"`
	Status       string    `json:"status"`
	SlotsCreated int       `json:"slots_created"`
	FailedDays   []string  `json:"failed_days,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
