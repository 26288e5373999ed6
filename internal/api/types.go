package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/tenant-resource-scheduling/internal/scheduling"
)

// Requests. Ids and timestamps arrive as strings and are checked by the
// validate tags before they are parsed.

type CreateAppointmentRequest struct {
	OrganizationID string  `json:"organization_id" validate:"required,uuid"`
	DepartmentID   *string `json:"department_id" validate:"omitempty,uuid"`
	ProviderID     string  `json:"provider_id" validate:"required,uuid"`
	PatientID      string  `json:"patient_id" validate:"required,uuid"`
	StatusID       string  `json:"status_id" validate:"required,uuid"`
	RoomID         *string `json:"room_id" validate:"omitempty,uuid"`
	EquipmentID    *string `json:"equipment_id" validate:"omitempty,uuid"`
	Type           string  `json:"appointment_type" validate:"required,max=64"`
	Title          *string `json:"title" validate:"omitempty,max=255"`
	Description    *string `json:"description"`
	RecurrenceRule *string `json:"recurrence_rule" validate:"omitempty,max=512"`
	StartTime      string  `json:"start_time" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	EndTime        string  `json:"end_time" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

type ChangeStatusRequest struct {
	StatusID string `json:"status_id" validate:"required,uuid"`
}

type CreateReservationRequest struct {
	OrganizationID string  `json:"organization_id" validate:"required,uuid"`
	AppointmentID  *string `json:"appointment_id" validate:"omitempty,uuid"`
	Type           string  `json:"reservation_type" validate:"required,max=64"`
	StartTime      string  `json:"start_time" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	EndTime        string  `json:"end_time" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

type JoinWaitlistRequest struct {
	PatientID string  `json:"patient_id" validate:"required,uuid"`
	JoinTime  *string `json:"join_time" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Status    *string `json:"status" validate:"omitempty,oneof=active notified promoted"`
}

// Responses

type AppointmentResponse struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	DepartmentID   *uuid.UUID `json:"department_id,omitempty"`
	ProviderID     uuid.UUID  `json:"provider_id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	StatusID       uuid.UUID  `json:"status_id"`
	RoomID         *uuid.UUID `json:"room_id,omitempty"`
	EquipmentID    *uuid.UUID `json:"equipment_id,omitempty"`
	Type           string     `json:"appointment_type"`
	Title          *string    `json:"title,omitempty"`
	Description    *string    `json:"description,omitempty"`
	RecurrenceRule *string    `json:"recurrence_rule,omitempty"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

type ReservationResponse struct {
	ID             uuid.UUID  `json:"id"`
	Kind           string     `json:"kind"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	RoomID         *uuid.UUID `json:"room_id,omitempty"`
	EquipmentID    *uuid.UUID `json:"equipment_id,omitempty"`
	AppointmentID  *uuid.UUID `json:"appointment_id,omitempty"`
	Type           string     `json:"reservation_type"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

type WaitlistEntryResponse struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	JoinTime      time.Time `json:"join_time"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ErrorResponse struct {
	Error         string `json:"error"`
	Details       string `json:"details,omitempty"`
	Subject       string `json:"subject,omitempty"`
	ConflictingID string `json:"conflicting_id,omitempty"`
	Retryable     bool   `json:"retryable,omitempty"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:             a.ID,
		OrganizationID: a.OrganizationID,
		DepartmentID:   a.DepartmentID,
		ProviderID:     a.ProviderID,
		PatientID:      a.PatientID,
		StatusID:       a.StatusID,
		RoomID:         a.RoomID,
		EquipmentID:    a.EquipmentID,
		Type:           a.Type,
		Title:          a.Title,
		Description:    a.Description,
		RecurrenceRule: a.RecurrenceRule,
		StartTime:      a.StartTime,
		EndTime:        a.EndTime,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
		DeletedAt:      a.DeletedAt,
	}
}

func toReservationResponse(r *scheduling.Reservation) ReservationResponse {
	resp := ReservationResponse{
		ID:             r.ID,
		Kind:           string(r.Kind),
		OrganizationID: r.OrganizationID,
		AppointmentID:  r.AppointmentID,
		Type:           r.Type,
		StartTime:      r.StartTime,
		EndTime:        r.EndTime,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		DeletedAt:      r.DeletedAt,
	}
	resourceID := r.ResourceID
	if r.Kind == scheduling.ResourceRoom {
		resp.RoomID = &resourceID
	} else {
		resp.EquipmentID = &resourceID
	}
	return resp
}

func toWaitlistEntryResponse(e *scheduling.WaitlistEntry) WaitlistEntryResponse {
	return WaitlistEntryResponse{
		ID:            e.ID,
		AppointmentID: e.AppointmentID,
		PatientID:     e.PatientID,
		JoinTime:      e.JoinTime,
		Status:        string(e.Status),
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}
