package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/tenant-resource-scheduling/internal/scheduling"
)

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// Appointments

func createAppointmentHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := decodeRequest(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), scheduling.CreateAppointmentInput{
			OrganizationID: uuid.MustParse(req.OrganizationID),
			DepartmentID:   optionalUUID(req.DepartmentID),
			ProviderID:     uuid.MustParse(req.ProviderID),
			PatientID:      uuid.MustParse(req.PatientID),
			StatusID:       uuid.MustParse(req.StatusID),
			RoomID:         optionalUUID(req.RoomID),
			EquipmentID:    optionalUUID(req.EquipmentID),
			Type:           req.Type,
			Title:          req.Title,
			Description:    req.Description,
			RecurrenceRule: req.RecurrenceRule,
			StartTime:      parseTime(req.StartTime),
			EndTime:        parseTime(req.EndTime),
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		if err := svc.CancelAppointment(r.Context(), id); err != nil {
			writeServiceError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func changeAppointmentStatusHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var req ChangeStatusRequest
		if err := decodeRequest(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		appt, err := svc.ChangeAppointmentStatus(r.Context(), id, uuid.MustParse(req.StatusID))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// Reservations share one set of handlers parameterized by kind.

func createReservationHandler(svc SchedulingService, kind scheduling.ResourceKind, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resourceID, ok := pathUUID(w, r, param)
		if !ok {
			return
		}

		var req CreateReservationRequest
		if err := decodeRequest(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		res, err := svc.CreateReservation(r.Context(), kind, scheduling.CreateReservationInput{
			OrganizationID: uuid.MustParse(req.OrganizationID),
			ResourceID:     resourceID,
			AppointmentID:  optionalUUID(req.AppointmentID),
			Type:           req.Type,
			StartTime:      parseTime(req.StartTime),
			EndTime:        parseTime(req.EndTime),
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toReservationResponse(res))
	}
}

func getReservationHandler(svc SchedulingService, kind scheduling.ResourceKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		res, err := svc.GetReservation(r.Context(), kind, id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toReservationResponse(res))
	}
}

func cancelReservationHandler(svc SchedulingService, kind scheduling.ResourceKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		if err := svc.CancelReservation(r.Context(), kind, id); err != nil {
			writeServiceError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// Waitlist

func joinWaitlistHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointmentID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var req JoinWaitlistRequest
		if err := decodeRequest(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		in := scheduling.JoinWaitlistInput{
			AppointmentID: appointmentID,
			PatientID:     uuid.MustParse(req.PatientID),
		}
		if req.JoinTime != nil {
			joined := parseTime(*req.JoinTime)
			in.JoinTime = &joined
		}
		if req.Status != nil {
			status := scheduling.WaitlistStatus(*req.Status)
			in.Status = &status
		}

		entry, err := svc.JoinWaitlist(r.Context(), in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toWaitlistEntryResponse(entry))
	}
}

func getWaitlistEntryHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		entry, err := svc.GetWaitlistEntry(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toWaitlistEntryResponse(entry))
	}
}

func removeWaitlistEntryHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		if err := svc.RemoveWaitlistEntry(r.Context(), id); err != nil {
			writeServiceError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
