package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/provider-scheduling/internal/config"
	redisclient "github.com/clinicore/provider-scheduling/internal/redis"
)

const (
	EventRequestCreated   = "BOOKING_REQUEST_CREATED"
	EventRequestConfirmed = "BOOKING_REQUEST_CONFIRMED"
	EventRequestRejected  = "BOOKING_REQUEST_REJECTED"
	EventRequestCancelled = "BOOKING_REQUEST_CANCELLED"
	EventRequestExpired   = "BOOKING_REQUEST_EXPIRED"
)

// RequestMetadata is the chief-complaint payload a patient attaches to
// a booking request. Supplied by external triage, stored verbatim.
type RequestMetadata struct {
	ChiefComplaint *string
	Symptoms       *string
	UrgencyLevel   *string
}

// GenerationResult reports one generation invocation. FailedDays lists
// the calendar days whose candidates could not be persisted.
type GenerationResult struct {
	SlotsCreated int
	FailedDays   []string
	Run          *GenerationRun
}

// Service orchestrates slot generation and the booking-request
// workflow. Each operation is atomic at single-slot granularity; the
// conditional updates in the repository resolve every race.
type Service struct {
	repo     Repository
	locker   redisclient.Locker
	gen      *Generator
	detector *ConflictDetector
	cfg      config.Config
	log      zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		gen:      NewGenerator(cfg.DefaultSlotMinutes),
		detector: NewConflictDetector(repo),
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// -- Availability templates --

// SetWorkingHours persists a weekly rule for a provider. Rules are only
// ever deactivated via Active=false, never deleted.
func (s *Service) SetWorkingHours(ctx context.Context, rule *WorkingHoursRule) error {
	if rule.DayOfWeek < 0 || rule.DayOfWeek > 6 {
		return fmt.Errorf("%w: day_of_week %d out of range", ErrInvalidRule, rule.DayOfWeek)
	}
	if rule.SlotMinutes <= 0 {
		return fmt.Errorf("%w: slot_minutes must be positive", ErrInvalidRule)
	}
	if rule.BufferMinutes < 0 {
		return fmt.Errorf("%w: buffer_minutes must not be negative", ErrInvalidRule)
	}
	start, err := time.Parse("15:04", rule.StartTime)
	if err != nil {
		return fmt.Errorf("%w: bad start_time %q", ErrInvalidRule, rule.StartTime)
	}
	end, err := time.Parse("15:04", rule.EndTime)
	if err != nil {
		return fmt.Errorf("%w: bad end_time %q", ErrInvalidRule, rule.EndTime)
	}
	if !end.After(start) {
		return fmt.Errorf("%w: end_time must be after start_time", ErrInvalidRule)
	}

	if _, err := s.repo.GetProviderByID(ctx, rule.ProviderID); err != nil {
		return err
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	return s.repo.SaveRule(ctx, rule)
}

// CreateException records a date-specific override. Exceptions for days
// that have already passed are refused so the audit trail stays intact.
func (s *Service) CreateException(ctx context.Context, exc *AvailabilityException) error {
	switch exc.Type {
	case ExceptionUnavailable, ExceptionHoliday, ExceptionVacation, ExceptionConference, ExceptionEmergency:
	case ExceptionCustomHours:
		if exc.CustomStart == nil || exc.CustomEnd == nil {
			return fmt.Errorf("%w: custom_hours needs custom_start and custom_end", ErrInvalidRule)
		}
		cs, err := time.Parse("15:04", *exc.CustomStart)
		if err != nil {
			return fmt.Errorf("%w: bad custom_start %q", ErrInvalidRule, *exc.CustomStart)
		}
		ce, err := time.Parse("15:04", *exc.CustomEnd)
		if err != nil {
			return fmt.Errorf("%w: bad custom_end %q", ErrInvalidRule, *exc.CustomEnd)
		}
		if !ce.After(cs) {
			return fmt.Errorf("%w: custom_end must be after custom_start", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown exception type %q", ErrInvalidRule, exc.Type)
	}

	provider, err := s.repo.GetProviderByID(ctx, exc.ProviderID)
	if err != nil {
		return err
	}
	loc, err := s.providerLocation(provider)
	if err != nil {
		return err
	}
	today := s.now().In(loc)
	todayStart := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)
	excDay := time.Date(exc.ExceptionDate.Year(), exc.ExceptionDate.Month(), exc.ExceptionDate.Day(), 0, 0, 0, 0, loc)
	if excDay.Before(todayStart) {
		return ErrExceptionLocked
	}

	if exc.ID == uuid.Nil {
		exc.ID = uuid.New()
	}
	return s.repo.CreateException(ctx, exc)
}

// -- Generation --

// Generate expands the provider's weekly rules over [from, to], one
// calendar day at a time, and persists the surviving candidates per
// day. Failed days do not abort the remaining days; the run is audited
// as success, partial, or failed accordingly.
func (s *Service) Generate(ctx context.Context, providerID uuid.UUID, from, to time.Time, genType GenerationType, triggeredBy uuid.UUID) (*GenerationResult, error) {
	provider, err := s.repo.GetProviderByID(ctx, providerID)
	if err != nil {
		return nil, err
	}
	loc, err := s.providerLocation(provider)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: end date before start date", ErrInvalidRule)
	}

	run := &GenerationRun{
		ID:             uuid.New(),
		ProviderID:     providerID,
		StartDate:      dateOnly(from),
		EndDate:        dateOnly(to),
		GenerationType: genType,
		TriggeredBy:    triggeredBy,
	}

	rules, err := s.repo.ListActiveRules(ctx, providerID)
	if err != nil {
		return nil, s.recordFailedRun(ctx, run, err)
	}
	if len(rules) == 0 {
		return nil, s.recordFailedRun(ctx, run, ErrUnconfigured)
	}

	exceptions, err := s.repo.ListExceptions(ctx, providerID, dateOnly(from), dateOnly(to))
	if err != nil {
		return nil, s.recordFailedRun(ctx, run, err)
	}
	excByDay := make(map[string]*AvailabilityException, len(exceptions))
	for i := range exceptions {
		excByDay[exceptions[i].ExceptionDate.Format("2006-01-02")] = &exceptions[i]
	}

	now := s.now()
	result := &GenerationResult{Run: run}
	attemptedDays := 0

	for _, day := range DaysBetween(from, to, loc) {
		dayKey := day.Format("2006-01-02")
		attemptedDays++

		candidates, dayErr := s.gen.ExpandDay(day, loc, rules, excByDay[dayKey], now)
		if dayErr == nil {
			candidates, dayErr = s.filterConflicts(ctx, providerID, candidates)
		}
		if dayErr == nil && len(candidates) > 0 {
			dayErr = s.repo.CreateSlots(ctx, candidates)
		}
		if dayErr != nil {
			s.log.Error().Err(dayErr).Str("provider_id", providerID.String()).Str("day", dayKey).Msg("slot generation failed for day")
			result.FailedDays = append(result.FailedDays, fmt.Sprintf("%s: %v", dayKey, dayErr))
			continue
		}
		result.SlotsCreated += len(candidates)
	}

	run.SlotsGenerated = result.SlotsCreated
	switch {
	case len(result.FailedDays) == 0:
		run.Status = RunSuccess
	case len(result.FailedDays) < attemptedDays:
		run.Status = RunPartial
		msg := strings.Join(result.FailedDays, "; ")
		run.ErrorMessage = &msg
	default:
		run.Status = RunFailed
		msg := strings.Join(result.FailedDays, "; ")
		run.ErrorMessage = &msg
	}

	if err := s.repo.CreateGenerationRun(ctx, run); err != nil {
		return result, fmt.Errorf("record generation run: %w", err)
	}
	return result, nil
}

func (s *Service) filterConflicts(ctx context.Context, providerID uuid.UUID, candidates []Slot) ([]Slot, error) {
	kept := candidates[:0]
	var lastEnd time.Time
	for i := range candidates {
		c := &candidates[i]
		c.ProviderID = providerID
		// Candidates within one day are time-ordered, so a candidate
		// starting before the previous keeper's end overlaps it.
		if !lastEnd.IsZero() && c.SlotStart.Before(lastEnd) {
			continue
		}
		conflict, err := s.detector.HasConflict(ctx, providerID, c.SlotStart, c.SlotEnd)
		if err != nil {
			return nil, fmt.Errorf("conflict check: %w", err)
		}
		if conflict {
			continue
		}
		kept = append(kept, *c)
		lastEnd = c.SlotEnd
	}
	return kept, nil
}

func (s *Service) recordFailedRun(ctx context.Context, run *GenerationRun, cause error) error {
	msg := cause.Error()
	run.Status = RunFailed
	run.ErrorMessage = &msg
	if err := s.repo.CreateGenerationRun(ctx, run); err != nil {
		s.log.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to record generation run")
	}
	return cause
}

// -- Slot queries and manual management --

func (s *Service) ListAvailableSlots(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Slot, error) {
	return s.repo.ListAvailableSlots(ctx, providerID, from, to)
}

// CreateManualSlot inserts a provider-authored slot after an explicit
// conflict check, unlike bulk generation where the generator has
// already filtered candidates.
func (s *Service) CreateManualSlot(ctx context.Context, slot *Slot) (*Slot, error) {
	if !slot.SlotEnd.After(slot.SlotStart) {
		return nil, fmt.Errorf("%w: slot end must be after start", ErrInvalidRule)
	}
	if _, err := s.repo.GetProviderByID(ctx, slot.ProviderID); err != nil {
		return nil, err
	}
	conflict, err := s.detector.HasConflict(ctx, slot.ProviderID, slot.SlotStart, slot.SlotEnd)
	if err != nil {
		return nil, err
	}
	if conflict {
		return nil, ErrConflictDetected
	}

	slot.ID = uuid.New()
	slot.SlotDate = dateOnly(slot.SlotStart)
	slot.Status = SlotAvailable
	slot.IsManual = true
	if slot.SlotType == "" {
		slot.SlotType = SlotTypeRegular
	}
	if err := s.repo.CreateSlots(ctx, []Slot{*slot}); err != nil {
		return nil, err
	}
	return slot, nil
}

// BlockSlot takes a slot out of circulation. Only permitted from
// available; blocking a booked slot is a caller error.
func (s *Service) BlockSlot(ctx context.Context, slotID, providerID uuid.UUID, reason string) error {
	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return err
	}
	if slot.ProviderID != providerID {
		return ErrWrongOwner
	}
	rows, err := s.repo.BlockSlot(ctx, slotID, providerID, reason)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrWrongState
	}
	return nil
}

func (s *Service) UnblockSlot(ctx context.Context, slotID, providerID uuid.UUID) error {
	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return err
	}
	if slot.ProviderID != providerID {
		return ErrWrongOwner
	}
	rows, err := s.repo.UnblockSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrWrongState
	}
	return nil
}

// -- Booking workflow --

// CreateRequest reserves a slot for a patient and opens a pending
// booking request against it. The conditional reserve is the
// authoritative arbiter: zero rows updated means another actor claimed
// the slot first and the caller gets ErrSlotUnavailable with nothing
// inserted. The reserve and the insert commit together, so a failed
// insert never leaves a slot held without a request.
func (s *Service) CreateRequest(ctx context.Context, patientID, slotID uuid.UUID, meta RequestMetadata) (*BookingRequest, error) {
	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		return nil, err
	}
	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.Status != SlotAvailable {
		return nil, ErrSlotUnavailable
	}

	var created *BookingRequest

	err = s.locker.WithSlotLock(ctx, slotID, func(lockCtx context.Context) error {
		now := s.now()
		req := &BookingRequest{
			ID:             uuid.New(),
			PatientID:      patientID,
			ProviderID:     slot.ProviderID,
			SlotID:         slotID,
			ChiefComplaint: meta.ChiefComplaint,
			Symptoms:       meta.Symptoms,
			UrgencyLevel:   meta.UrgencyLevel,
			Status:         RequestPending,
			ExpiresAt:      now.Add(s.cfg.RequestTTL),
		}
		rows, err := s.repo.ReserveSlotAndCreateRequest(lockCtx, req)
		if err != nil {
			return fmt.Errorf("reserve slot: %w", err)
		}
		if rows == 0 {
			return ErrSlotUnavailable
		}

		created = req
		s.logEvent(lockCtx, req.ID, EventRequestCreated, map[string]any{
			"slot_id":    slotID.String(),
			"patient_id": patientID.String(),
			"expires_at": req.ExpiresAt,
		})
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}
	return created, nil
}

// Confirm finalizes a pending request: an appointment is created, the
// slot is stamped with it, and the request records who confirmed and
// when. The pending-to-confirmed conditional update decides any race
// with cancel or the expiry sweep, and all three writes share one
// transaction, so a storage failure leaves the request pending and the
// call retryable.
func (s *Service) Confirm(ctx context.Context, requestID, providerID uuid.UUID) (*BookingRequest, *Appointment, error) {
	req, err := s.repo.GetBookingRequestByID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if req.ProviderID != providerID {
		return nil, nil, ErrWrongOwner
	}
	if req.Status != RequestPending {
		return nil, nil, ErrRequestNotPending
	}

	now := s.now()
	if req.ExpiresAt.Before(now) {
		s.expireOne(ctx, req, "confirm_after_expiry")
		return nil, nil, ErrRequestExpired
	}

	slot, err := s.repo.GetSlotByID(ctx, req.SlotID)
	if err != nil {
		return nil, nil, err
	}

	appointmentID := uuid.New()
	appt := &Appointment{
		ID:             appointmentID,
		PatientID:      req.PatientID,
		ProviderID:     req.ProviderID,
		SlotID:         req.SlotID,
		SlotStart:      slot.SlotStart,
		SlotEnd:        slot.SlotEnd,
		ChiefComplaint: req.ChiefComplaint,
	}
	rows, err := s.repo.ConfirmRequest(ctx, req.ID, req.SlotID, appt, providerID, now)
	if err != nil {
		if errors.Is(err, ErrWrongState) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("confirm request: %w", err)
	}
	if rows == 0 {
		return nil, nil, ErrRequestNotPending
	}

	req.Status = RequestConfirmed
	req.ConfirmedBy = &providerID
	req.ConfirmedAt = &now
	req.AppointmentID = &appointmentID

	s.logEvent(ctx, req.ID, EventRequestConfirmed, map[string]any{
		"appointment_id": appointmentID.String(),
		"confirmed_by":   providerID.String(),
	})
	return req, appt, nil
}

// Reject closes a pending request and releases its slot back to
// available, optionally suggesting alternative slots to the patient.
func (s *Service) Reject(ctx context.Context, requestID, providerID uuid.UUID, reason *string, suggested []uuid.UUID) (*BookingRequest, error) {
	req, err := s.repo.GetBookingRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.ProviderID != providerID {
		return nil, ErrWrongOwner
	}
	if req.Status != RequestPending {
		return nil, ErrRequestNotPending
	}

	now := s.now()
	rows, err := s.repo.RejectRequest(ctx, req.ID, req.SlotID, providerID, reason, suggested, now)
	if err != nil {
		return nil, fmt.Errorf("reject request: %w", err)
	}
	if rows == 0 {
		return nil, ErrRequestNotPending
	}

	req.Status = RequestRejected
	req.RejectedBy = &providerID
	req.RejectedAt = &now
	req.RejectionReason = reason
	req.SuggestedSlotIDs = suggested

	s.logEvent(ctx, req.ID, EventRequestRejected, map[string]any{
		"rejected_by": providerID.String(),
	})
	return req, nil
}

// Cancel lets the requesting patient withdraw a pending request.
func (s *Service) Cancel(ctx context.Context, requestID, patientID uuid.UUID) (*BookingRequest, error) {
	req, err := s.repo.GetBookingRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.PatientID != patientID {
		return nil, ErrWrongOwner
	}
	if req.Status != RequestPending {
		return nil, ErrRequestNotPending
	}

	rows, err := s.repo.CancelRequest(ctx, req.ID, req.SlotID, s.now())
	if err != nil {
		return nil, fmt.Errorf("cancel request: %w", err)
	}
	if rows == 0 {
		return nil, ErrRequestNotPending
	}

	req.Status = RequestCancelled

	s.logEvent(ctx, req.ID, EventRequestCancelled, map[string]any{
		"cancelled_by": patientID.String(),
	})
	return req, nil
}

// -- Sweeps --

// ExpireStale moves every pending request past its deadline to expired
// and releases the held slots. Runs periodically from the sweep worker;
// without it, abandoned requests would hold slots forever.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	stale, err := s.repo.FindExpiredPending(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("find expired pending requests: %w", err)
	}

	expired := 0
	for i := range stale {
		if s.expireOne(ctx, &stale[i], "sweep") {
			expired++
		}
	}
	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, req *BookingRequest, reason string) bool {
	rows, err := s.repo.ExpireRequest(ctx, req.ID, req.SlotID)
	if err != nil {
		// The transition rolled back whole, so the request is still
		// pending and the next sweep retries it.
		s.log.Error().Err(err).Str("request_id", req.ID.String()).Msg("failed to expire booking request")
		return false
	}
	if rows == 0 {
		// Lost to a concurrent confirm/reject/cancel; their transition
		// already settled the slot.
		return false
	}
	s.logEvent(ctx, req.ID, EventRequestExpired, map[string]any{"reason": reason})
	return true
}

// MarkPastSlots sweeps still-available slots whose end time has passed
// into the past state. Housekeeping, not a booking transition.
func (s *Service) MarkPastSlots(ctx context.Context) (int64, error) {
	return s.repo.MarkPastSlots(ctx, s.now())
}

// -- helpers --

func (s *Service) providerLocation(p *Provider) (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("provider %s has invalid timezone %q: %w", p.ID, p.Timezone, err)
	}
	return loc, nil
}

func (s *Service) logEvent(ctx context.Context, requestID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	reqID := requestID
	ev := EventLog{
		EventType: eventType,
		RequestID: &reqID,
		Payload:   data,
		CreatedAt: s.now(),
	}
	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event", eventType).Str("request_id", requestID.String()).Msg("failed to insert event log")
	}
}
