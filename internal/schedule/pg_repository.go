package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(&p.ID, &p.Name, &p.Specialty, &p.Timezone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanRule(row pgx.Row) (*WorkingHoursRule, error) {
	var r WorkingHoursRule
	err := row.Scan(
		&r.ID,
		&r.ProviderID,
		&r.DayOfWeek,
		&r.StartTime,
		&r.EndTime,
		&r.SlotMinutes,
		&r.BufferMinutes,
		&r.Active,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanException(row pgx.Row) (*AvailabilityException, error) {
	var e AvailabilityException
	err := row.Scan(
		&e.ID,
		&e.ProviderID,
		&e.ExceptionDate,
		&e.Type,
		&e.CustomStart,
		&e.CustomEnd,
		&e.Reason,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

const slotColumns = `id, provider_id, slot_date, slot_start, slot_end, status, slot_type,
	generated_from_rule_id, is_manual, patient_id, appointment_id, blocked_by, block_reason, notes,
	created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&s.SlotDate,
		&s.SlotStart,
		&s.SlotEnd,
		&s.Status,
		&s.SlotType,
		&s.GeneratedFromRuleID,
		&s.IsManual,
		&s.PatientID,
		&s.AppointmentID,
		&s.BlockedBy,
		&s.BlockReason,
		&s.Notes,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

const requestColumns = `id, patient_id, provider_id, slot_id, chief_complaint, symptoms, urgency_level,
	status, expires_at, confirmed_by, confirmed_at, appointment_id, rejected_by, rejected_at,
	rejection_reason, suggested_slot_ids, created_at, updated_at`

func scanRequest(row pgx.Row) (*BookingRequest, error) {
	var r BookingRequest
	err := row.Scan(
		&r.ID,
		&r.PatientID,
		&r.ProviderID,
		&r.SlotID,
		&r.ChiefComplaint,
		&r.Symptoms,
		&r.UrgencyLevel,
		&r.Status,
		&r.ExpiresAt,
		&r.ConfirmedBy,
		&r.ConfirmedAt,
		&r.AppointmentID,
		&r.RejectedBy,
		&r.RejectedAt,
		&r.RejectionReason,
		&r.SuggestedSlotIDs,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return &r, nil
}

// Interface methods

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, timezone, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) SaveRule(ctx context.Context, rule *WorkingHoursRule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO working_hours_rules
			(id, provider_id, day_of_week, start_time, end_time, slot_minutes, buffer_minutes, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			day_of_week = EXCLUDED.day_of_week,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			slot_minutes = EXCLUDED.slot_minutes,
			buffer_minutes = EXCLUDED.buffer_minutes,
			active = EXCLUDED.active,
			updated_at = now()
	`, rule.ID, rule.ProviderID, rule.DayOfWeek, rule.StartTime, rule.EndTime,
		rule.SlotMinutes, rule.BufferMinutes, rule.Active)
	if err != nil {
		return fmt.Errorf("save working hours rule: %w", err)
	}
	return nil
}

func (r *PgRepository) ListActiveRules(ctx context.Context, providerID uuid.UUID) ([]WorkingHoursRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, day_of_week, start_time, end_time, slot_minutes, buffer_minutes, active, created_at, updated_at
		FROM working_hours_rules
		WHERE provider_id = $1 AND active
		ORDER BY day_of_week, start_time
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WorkingHoursRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateException(ctx context.Context, exc *AvailabilityException) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability_exceptions
			(id, provider_id, exception_date, exception_type, custom_start, custom_end, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, exc.ID, exc.ProviderID, exc.ExceptionDate, exc.Type, exc.CustomStart, exc.CustomEnd, exc.Reason)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateException
		}
		return fmt.Errorf("create availability exception: %w", err)
	}
	return nil
}

func (r *PgRepository) ListExceptions(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]AvailabilityException, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, exception_date, exception_type, custom_start, custom_end, reason, created_at
		FROM availability_exceptions
		WHERE provider_id = $1 AND exception_date BETWEEN $2 AND $3
		ORDER BY exception_date
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilityException
	for rows.Next() {
		exc, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *exc)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateSlots(ctx context.Context, slots []Slot) error {
	if len(slots) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range slots {
		s := &slots[i]
		batch.Queue(`
			INSERT INTO slots
				(id, provider_id, slot_date, slot_start, slot_end, status, slot_type,
				 generated_from_rule_id, is_manual, patient_id, appointment_id, blocked_by, block_reason, notes,
				 created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now())
		`, s.ID, s.ProviderID, s.SlotDate, s.SlotStart, s.SlotEnd, s.Status, s.SlotType,
			s.GeneratedFromRuleID, s.IsManual, s.PatientID, s.AppointmentID, s.BlockedBy, s.BlockReason, s.Notes)
	}

	// One implicit transaction for the whole batch, so a day's slots
	// become visible all at once or not at all.
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin slot batch: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for range slots {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert slot: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close slot batch: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListAvailableSlots(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE provider_id = $1
		  AND status = 'available'
		  AND slot_start >= $2
		  AND slot_start < $3
		  AND slot_start > now()
		ORDER BY slot_start
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) HasOverlap(ctx context.Context, providerID uuid.UUID, start, end time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM slots
			WHERE provider_id = $1
			  AND status NOT IN ('cancelled', 'past')
			  AND slot_start < $3
			  AND slot_end > $2
		)
	`, providerID, start, end).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("overlap check: %w", err)
	}
	return exists, nil
}

// Slot transitions. Each is a single conditional update; the returned
// row count tells the caller whether the precondition still held.

func (r *PgRepository) BlockSlot(ctx context.Context, slotID, blockedBy uuid.UUID, reason string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET status = 'blocked', blocked_by = $2, block_reason = $3, updated_at = now()
		WHERE id = $1 AND status = 'available'
	`, slotID, blockedBy, reason)
	if err != nil {
		return 0, fmt.Errorf("block slot: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) UnblockSlot(ctx context.Context, slotID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET status = 'available', blocked_by = NULL, block_reason = NULL, updated_at = now()
		WHERE id = $1 AND status = 'blocked'
	`, slotID)
	if err != nil {
		return 0, fmt.Errorf("unblock slot: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) MarkPastSlots(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET status = 'past', updated_at = now()
		WHERE status = 'available' AND slot_end <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("mark past slots: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Booking workflow. Each transition pairs the request's conditional
// update with its slot side effect inside one transaction: a storage
// failure anywhere rolls the whole transition back, so a request can
// never reach a terminal status while its slot is stranded.

func (r *PgRepository) ReserveSlotAndCreateRequest(ctx context.Context, req *BookingRequest) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin reserve: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE slots
		SET status = 'booked', patient_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'available'
	`, req.SlotID, req.PatientID)
	if err != nil {
		return 0, fmt.Errorf("reserve slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_requests
			(id, patient_id, provider_id, slot_id, chief_complaint, symptoms, urgency_level,
			 status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
	`, req.ID, req.PatientID, req.ProviderID, req.SlotID, req.ChiefComplaint, req.Symptoms,
		req.UrgencyLevel, req.Status, req.ExpiresAt)
	if err != nil {
		return 0, fmt.Errorf("create booking request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit reserve: %w", err)
	}
	return 1, nil
}

func (r *PgRepository) GetBookingRequestByID(ctx context.Context, id uuid.UUID) (*BookingRequest, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM booking_requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (r *PgRepository) ConfirmRequest(ctx context.Context, requestID, slotID uuid.UUID, appt *Appointment, confirmedBy uuid.UUID, at time.Time) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin confirm: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE booking_requests
		SET status = 'confirmed', confirmed_by = $2, confirmed_at = $4, appointment_id = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, requestID, confirmedBy, appt.ID, at)
	if err != nil {
		return 0, fmt.Errorf("mark request confirmed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments
			(id, patient_id, provider_id, slot_id, slot_start, slot_end, chief_complaint, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, appt.ID, appt.PatientID, appt.ProviderID, appt.SlotID, appt.SlotStart, appt.SlotEnd, appt.ChiefComplaint)
	if err != nil {
		return 0, fmt.Errorf("create appointment: %w", err)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE slots
		SET appointment_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'booked' AND appointment_id IS NULL
	`, slotID, appt.ID)
	if err != nil {
		return 0, fmt.Errorf("finalize slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// The request won the CAS but its slot is not in the booked,
		// unfinalized state it must be in. Roll everything back.
		return 0, ErrWrongState
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit confirm: %w", err)
	}
	return 1, nil
}

func (r *PgRepository) RejectRequest(ctx context.Context, requestID, slotID, rejectedBy uuid.UUID, reason *string, suggested []uuid.UUID, at time.Time) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin reject: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE booking_requests
		SET status = 'rejected', rejected_by = $2, rejected_at = $5, rejection_reason = $3,
		    suggested_slot_ids = $4, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, requestID, rejectedBy, reason, suggested, at)
	if err != nil {
		return 0, fmt.Errorf("mark request rejected: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, nil
	}

	if err := releaseSlotTx(ctx, tx, slotID); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit reject: %w", err)
	}
	return 1, nil
}

func (r *PgRepository) CancelRequest(ctx context.Context, requestID, slotID uuid.UUID, at time.Time) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin cancel: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE booking_requests
		SET status = 'cancelled', updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`, requestID, at)
	if err != nil {
		return 0, fmt.Errorf("mark request cancelled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, nil
	}

	if err := releaseSlotTx(ctx, tx, slotID); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit cancel: %w", err)
	}
	return 1, nil
}

func (r *PgRepository) ExpireRequest(ctx context.Context, requestID, slotID uuid.UUID) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin expire: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE booking_requests
		SET status = 'expired', updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, requestID)
	if err != nil {
		return 0, fmt.Errorf("mark request expired: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, nil
	}

	if err := releaseSlotTx(ctx, tx, slotID); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit expire: %w", err)
	}
	return 1, nil
}

func releaseSlotTx(ctx context.Context, tx pgx.Tx, slotID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE slots
		SET status = 'available', patient_id = NULL, appointment_id = NULL, updated_at = now()
		WHERE id = $1
	`, slotID)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

func (r *PgRepository) FindExpiredPending(ctx context.Context, now time.Time) ([]BookingRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+`
		FROM booking_requests
		WHERE status = 'pending' AND expires_at < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BookingRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *req)
	}
	return result, rows.Err()
}

// Audit

func (r *PgRepository) CreateGenerationRun(ctx context.Context, run *GenerationRun) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO generation_runs
			(id, provider_id, start_date, end_date, slots_generated, generation_type, triggered_by, status, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	`, run.ID, run.ProviderID, run.StartDate, run.EndDate, run.SlotsGenerated,
		run.GenerationType, run.TriggeredBy, run.Status, run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("create generation run: %w", err)
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, request_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.RequestID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
