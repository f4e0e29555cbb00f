package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicore/provider-scheduling/internal/schedule"
)

// Caller identity arrives in X-Provider-ID / X-Patient-ID headers,
// already authenticated and authorized upstream. The engine only
// enforces which state transitions are legal for that identity.

func setWorkingHoursHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "id", "provider_id")
		if !ok {
			return
		}

		var req SetWorkingHoursRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		rule := schedule.WorkingHoursRule{
			ProviderID:    providerID,
			DayOfWeek:     req.DayOfWeek,
			StartTime:     req.StartTime,
			EndTime:       req.EndTime,
			SlotMinutes:   req.SlotMinutes,
			BufferMinutes: req.BufferMinutes,
			Active:        true,
		}
		if req.Active != nil {
			rule.Active = *req.Active
		}
		if req.RuleID != "" {
			id, err := uuid.Parse(req.RuleID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_rule_id", "rule_id must be a valid UUID")
				return
			}
			rule.ID = id
		}

		if err := svc.SetWorkingHours(r.Context(), &rule); err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"rule_id": rule.ID.String()})
	}
}

func createExceptionHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "id", "provider_id")
		if !ok {
			return
		}

		var req CreateExceptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		exc := schedule.AvailabilityException{
			ProviderID:    providerID,
			ExceptionDate: date,
			Type:          schedule.ExceptionType(req.Type),
			CustomStart:   req.CustomStart,
			CustomEnd:     req.CustomEnd,
			Reason:        req.Reason,
		}
		if err := svc.CreateException(r.Context(), &exc); err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"exception_id": exc.ID.String()})
	}
}

func generateSlotsHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "id", "provider_id")
		if !ok {
			return
		}

		var req GenerateSlotsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		var from, to time.Time
		switch {
		case req.Days > 0:
			from = time.Now()
			to = from.AddDate(0, 0, req.Days-1)
		case req.StartDate != "" && req.EndDate != "":
			var err error
			from, err = time.Parse("2006-01-02", req.StartDate)
			if err == nil {
				to, err = time.Parse("2006-01-02", req.EndDate)
			}
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "dates must be YYYY-MM-DD")
				return
			}
		default:
			writeError(w, http.StatusBadRequest, "invalid_range", "provide days or start_date and end_date")
			return
		}

		genType := schedule.GenerationManual
		if req.GenerationType != "" {
			genType = schedule.GenerationType(req.GenerationType)
		}
		triggeredBy := providerID
		if caller := headerUUID(r, "X-Provider-ID"); caller != uuid.Nil {
			triggeredBy = caller
		}

		result, err := svc.Generate(r.Context(), providerID, from, to, genType, triggeredBy)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, GenerationResponse{
			RunID:        result.Run.ID,
			Status:       string(result.Run.Status),
			SlotsCreated: result.SlotsCreated,
			FailedDays:   result.FailedDays,
		})
	}
}

func listAvailableSlotsHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "id", "provider_id")
		if !ok {
			return
		}

		from := time.Now()
		to := from.AddDate(0, 0, 7)
		if v := r.URL.Query().Get("from"); v != "" {
			d, err := time.Parse("2006-01-02", v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "from must be YYYY-MM-DD")
				return
			}
			from = d
		}
		if v := r.URL.Query().Get("to"); v != "" {
			d, err := time.Parse("2006-01-02", v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "to must be YYYY-MM-DD")
				return
			}
			to = d.AddDate(0, 0, 1) // inclusive end date
		}

		slots, err := svc.ListAvailableSlots(r.Context(), providerID, from, to)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for i := range slots {
			resp = append(resp, toSlotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createManualSlotHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "id", "provider_id")
		if !ok {
			return
		}

		var req ManualSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slot := schedule.Slot{
			ProviderID: providerID,
			SlotStart:  req.SlotStart,
			SlotEnd:    req.SlotEnd,
			SlotType:   schedule.SlotType(req.SlotType),
			Notes:      req.Notes,
		}
		created, err := svc.CreateManualSlot(r.Context(), &slot)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toSlotResponse(created))
	}
}

func blockSlotHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID, ok := pathUUID(w, r, "id", "slot_id")
		if !ok {
			return
		}
		providerID := headerUUID(r, "X-Provider-ID")
		if providerID == uuid.Nil {
			writeError(w, http.StatusBadRequest, "missing_provider", "X-Provider-ID header is required")
			return
		}

		var req BlockSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if err := svc.BlockSlot(r.Context(), slotID, providerID, req.Reason); err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "blocked"})
	}
}

func unblockSlotHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID, ok := pathUUID(w, r, "id", "slot_id")
		if !ok {
			return
		}
		providerID := headerUUID(r, "X-Provider-ID")
		if providerID == uuid.Nil {
			writeError(w, http.StatusBadRequest, "missing_provider", "X-Provider-ID header is required")
			return
		}

		if err := svc.UnblockSlot(r.Context(), slotID, providerID); err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "available"})
	}
}

func createBookingRequestHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID := headerUUID(r, "X-Patient-ID")
		if patientID == uuid.Nil {
			writeError(w, http.StatusBadRequest, "missing_patient", "X-Patient-ID header is required")
			return
		}

		var req CreateBookingRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		created, err := svc.CreateRequest(r.Context(), patientID, slotID, schedule.RequestMetadata{
			ChiefComplaint: req.ChiefComplaint,
			Symptoms:       req.Symptoms,
			UrgencyLevel:   req.UrgencyLevel,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRequestResponse(created))
	}
}

func confirmBookingRequestHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, ok := pathUUID(w, r, "id", "request_id")
		if !ok {
			return
		}
		providerID := headerUUID(r, "X-Provider-ID")
		if providerID == uuid.Nil {
			writeError(w, http.StatusBadRequest, "missing_provider", "X-Provider-ID header is required")
			return
		}

		req, _, err := svc.Confirm(r.Context(), requestID, providerID)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequestResponse(req))
	}
}

func rejectBookingRequestHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, ok := pathUUID(w, r, "id", "request_id")
		if !ok {
			return
		}
		providerID := headerUUID(r, "X-Provider-ID")
		if providerID == uuid.Nil {
			writeError(w, http.StatusBadRequest, "missing_provider", "X-Provider-ID header is required")
			return
		}

		var body RejectBookingRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		var suggested []uuid.UUID
		for _, raw := range body.SuggestedSlotIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_suggested_slot", "suggested_slot_ids must be valid UUIDs")
				return
			}
			suggested = append(suggested, id)
		}

		req, err := svc.Reject(r.Context(), requestID, providerID, body.Reason, suggested)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequestResponse(req))
	}
}

func cancelBookingRequestHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, ok := pathUUID(w, r, "id", "request_id")
		if !ok {
			return
		}
		patientID := headerUUID(r, "X-Patient-ID")
		if patientID == uuid.Nil {
			writeError(w, http.StatusBadRequest, "missing_patient", "X-Patient-ID header is required")
			return
		}

		req, err := svc.Cancel(r.Context(), requestID, patientID)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequestResponse(req))
	}
}

func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schedule.ErrProviderNotFound),
		errors.Is(err, schedule.ErrPatientNotFound),
		errors.Is(err, schedule.ErrSlotNotFound),
		errors.Is(err, schedule.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, schedule.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", "slot is no longer available, please re-query available slots")
	case errors.Is(err, schedule.ErrRequestExpired):
		writeError(w, http.StatusConflict, "request_expired", err.Error())
	case errors.Is(err, schedule.ErrRequestNotPending):
		writeError(w, http.StatusConflict, "request_not_pending", "request is no longer pending")
	case errors.Is(err, schedule.ErrWrongOwner):
		writeError(w, http.StatusForbidden, "wrong_owner", err.Error())
	case errors.Is(err, schedule.ErrWrongState):
		writeError(w, http.StatusConflict, "wrong_state", err.Error())
	case errors.Is(err, schedule.ErrConflictDetected):
		writeError(w, http.StatusConflict, "conflict_detected", err.Error())
	case errors.Is(err, schedule.ErrExceptionLocked),
		errors.Is(err, schedule.ErrDuplicateException):
		writeError(w, http.StatusConflict, "exception_rejected", err.Error())
	case errors.Is(err, schedule.ErrUnconfigured):
		writeError(w, http.StatusUnprocessableEntity, "provider_unconfigured", err.Error())
	case errors.Is(err, schedule.ErrInvalidRule):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, param, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func headerUUID(r *http.Request, header string) uuid.UUID {
	id, err := uuid.Parse(r.Header.Get(header))
	if err != nil {
		return uuid.Nil
	}
	return id
}
