package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// mockRepo is an in-memory Repository. Each transition takes the mutex
// for its whole check-and-set and mutates nothing on failure, mirroring
// the transactional Postgres implementation. The hooks inject storage
// failures before any mutation happens.
type mockRepo struct {
	mu           sync.Mutex
	providers    map[uuid.UUID]*Provider
	patients     map[uuid.UUID]*Patient
	rules        map[uuid.UUID]*WorkingHoursRule
	exceptions   []AvailabilityException
	slots        map[uuid.UUID]*Slot
	requests     map[uuid.UUID]*BookingRequest
	appointments map[uuid.UUID]*Appointment
	runs         []GenerationRun
	events       []EventLog

	createSlotsHook func([]Slot) error
	confirmHook     func() error
	rejectHook      func() error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		providers:    make(map[uuid.UUID]*Provider),
		patients:     make(map[uuid.UUID]*Patient),
		rules:        make(map[uuid.UUID]*WorkingHoursRule),
		slots:        make(map[uuid.UUID]*Slot),
		requests:     make(map[uuid.UUID]*BookingRequest),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (m *mockRepo) addProvider(tz string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.providers[id] = &Provider{ID: id, Name: "Dr. Test", Timezone: tz}
	return id
}

func (m *mockRepo) addPatient() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.patients[id] = &Patient{ID: id, Name: "Pat Test"}
	return id
}

func (m *mockRepo) GetProviderByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) SaveRule(_ context.Context, rule *WorkingHoursRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rule
	m.rules[rule.ID] = &cp
	return nil
}

func (m *mockRepo) ListActiveRules(_ context.Context, providerID uuid.UUID) ([]WorkingHoursRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []WorkingHoursRule
	for _, r := range m.rules {
		if r.ProviderID == providerID && r.Active {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockRepo) CreateException(_ context.Context, exc *AvailabilityException) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.exceptions {
		if e.ProviderID == exc.ProviderID && e.ExceptionDate.Equal(exc.ExceptionDate) {
			return ErrDuplicateException
		}
	}
	m.exceptions = append(m.exceptions, *exc)
	return nil
}

func (m *mockRepo) ListExceptions(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]AvailabilityException, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AvailabilityException
	for _, e := range m.exceptions {
		if e.ProviderID == providerID && !e.ExceptionDate.Before(from) && !e.ExceptionDate.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockRepo) CreateSlots(_ context.Context, slots []Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createSlotsHook != nil {
		if err := m.createSlotsHook(slots); err != nil {
			return err
		}
	}
	for i := range slots {
		cp := slots[i]
		m.slots[cp.ID] = &cp
	}
	return nil
}

func (m *mockRepo) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockRepo) ListAvailableSlots(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Slot
	for _, s := range m.slots {
		if s.ProviderID == providerID && s.Status == SlotAvailable &&
			!s.SlotStart.Before(from) && s.SlotStart.Before(to) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *mockRepo) HasOverlap(_ context.Context, providerID uuid.UUID, start, end time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.ProviderID != providerID || s.Status == SlotCancelled || s.Status == SlotPast {
			continue
		}
		if Overlaps(start, end, s.SlotStart, s.SlotEnd) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) BlockSlot(_ context.Context, slotID, blockedBy uuid.UUID, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[slotID]
	if !ok || s.Status != SlotAvailable {
		return 0, nil
	}
	s.Status = SlotBlocked
	by := blockedBy
	s.BlockedBy = &by
	s.BlockReason = &reason
	return 1, nil
}

func (m *mockRepo) UnblockSlot(_ context.Context, slotID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[slotID]
	if !ok || s.Status != SlotBlocked {
		return 0, nil
	}
	s.Status = SlotAvailable
	s.BlockedBy = nil
	s.BlockReason = nil
	return 1, nil
}

func (m *mockRepo) MarkPastSlots(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.slots {
		if s.Status == SlotAvailable && !s.SlotEnd.After(now) {
			s.Status = SlotPast
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) ReserveSlotAndCreateRequest(_ context.Context, req *BookingRequest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[req.SlotID]
	if !ok || s.Status != SlotAvailable {
		return 0, nil
	}
	s.Status = SlotBooked
	pid := req.PatientID
	s.PatientID = &pid
	cp := *req
	m.requests[req.ID] = &cp
	return 1, nil
}

func (m *mockRepo) GetBookingRequestByID(_ context.Context, id uuid.UUID) (*BookingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) ConfirmRequest(_ context.Context, requestID, slotID uuid.UUID, appt *Appointment, confirmedBy uuid.UUID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirmHook != nil {
		if err := m.confirmHook(); err != nil {
			return 0, err
		}
	}
	r, ok := m.requests[requestID]
	if !ok || r.Status != RequestPending {
		return 0, nil
	}
	s, ok := m.slots[slotID]
	if !ok || s.Status != SlotBooked || s.AppointmentID != nil {
		return 0, ErrWrongState
	}
	r.Status = RequestConfirmed
	by, aid, ts := confirmedBy, appt.ID, at
	r.ConfirmedBy = &by
	r.AppointmentID = &aid
	r.ConfirmedAt = &ts
	ac := *appt
	m.appointments[appt.ID] = &ac
	s.AppointmentID = &aid
	return 1, nil
}

func (m *mockRepo) RejectRequest(_ context.Context, requestID, slotID, rejectedBy uuid.UUID, reason *string, suggested []uuid.UUID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejectHook != nil {
		if err := m.rejectHook(); err != nil {
			return 0, err
		}
	}
	r, ok := m.requests[requestID]
	if !ok || r.Status != RequestPending {
		return 0, nil
	}
	r.Status = RequestRejected
	by, ts := rejectedBy, at
	r.RejectedBy = &by
	r.RejectedAt = &ts
	r.RejectionReason = reason
	r.SuggestedSlotIDs = suggested
	m.releaseSlotLocked(slotID)
	return 1, nil
}

func (m *mockRepo) CancelRequest(_ context.Context, requestID, slotID uuid.UUID, _ time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok || r.Status != RequestPending {
		return 0, nil
	}
	r.Status = RequestCancelled
	m.releaseSlotLocked(slotID)
	return 1, nil
}

func (m *mockRepo) ExpireRequest(_ context.Context, requestID, slotID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok || r.Status != RequestPending {
		return 0, nil
	}
	r.Status = RequestExpired
	m.releaseSlotLocked(slotID)
	return 1, nil
}

func (m *mockRepo) releaseSlotLocked(slotID uuid.UUID) {
	if s, ok := m.slots[slotID]; ok {
		s.Status = SlotAvailable
		s.PatientID = nil
		s.AppointmentID = nil
	}
}

func (m *mockRepo) FindExpiredPending(_ context.Context, now time.Time) ([]BookingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []BookingRequest
	for _, r := range m.requests {
		if r.Status == RequestPending && r.ExpiresAt.Before(now) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockRepo) CreateGenerationRun(_ context.Context, run *GenerationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *run)
	return nil
}

func (m *mockRepo) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockRepo) slotByID(id uuid.UUID) Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.slots[id]
}

func (m *mockRepo) allSlots() []Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Slot
	for _, s := range m.slots {
		out = append(out, *s)
	}
	return out
}

func (m *mockRepo) lastRun() GenerationRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[len(m.runs)-1]
}
