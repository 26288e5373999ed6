package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// SubjectKind names the class of thing that can be double-booked.
type SubjectKind string

const (
	SubjectProvider  SubjectKind = "provider"
	SubjectPatient   SubjectKind = "patient"
	SubjectRoom      SubjectKind = "room"
	SubjectEquipment SubjectKind = "equipment"
)

// ResourceKind is the subset of subjects that are reserved independently of
// appointments.
type ResourceKind string

const (
	ResourceRoom      ResourceKind = "room"
	ResourceEquipment ResourceKind = "equipment"
)

func (k ResourceKind) Subject() SubjectKind {
	return SubjectKind(k)
}

func (k ResourceKind) Valid() bool {
	return k == ResourceRoom || k == ResourceEquipment
}

type WaitlistStatus string

const (
	WaitlistActive   WaitlistStatus = "active"
	WaitlistNotified WaitlistStatus = "notified"
	WaitlistPromoted WaitlistStatus = "promoted"
	WaitlistRemoved  WaitlistStatus = "removed"
)

func (s WaitlistStatus) Valid() bool {
	switch s {
	case WaitlistActive, WaitlistNotified, WaitlistPromoted, WaitlistRemoved:
		return true
	}
	return false
}

// Reference directory. Owned elsewhere; read here only.

type Organization struct {
	ID        uuid.UUID
	Name      string
	DeletedAt *time.Time
}

type Department struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	DeletedAt      *time.Time
}

// Provider is a user-organization assignment that can be booked.
type Provider struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	DisplayName    string
	DeletedAt      *time.Time
}

type Patient struct {
	ID        uuid.UUID
	FullName  string
	DeletedAt *time.Time
}

type AppointmentStatus struct {
	ID             uuid.UUID
	Code           string
	Label          string
	BusinessStatus *string
	SortOrder      int
}

// Resource is a room or a piece of equipment registered to an organization.
type Resource struct {
	ID             uuid.UUID
	Kind           ResourceKind
	OrganizationID uuid.UUID
	Name           string
	DeletedAt      *time.Time
}

// Bookings

type Appointment struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	DepartmentID   *uuid.UUID
	ProviderID     uuid.UUID
	PatientID      uuid.UUID
	StatusID       uuid.UUID
	RoomID         *uuid.UUID
	EquipmentID    *uuid.UUID
	Type           string
	Title          *string
	Description    *string
	RecurrenceRule *string
	StartTime      time.Time
	EndTime        time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

func (a *Appointment) Interval() Interval {
	return Interval{Start: a.StartTime, End: a.EndTime}
}

// Reservation holds a room or equipment for an interval. The two resource
// kinds share this shape and differ only in Kind.
type Reservation struct {
	ID             uuid.UUID
	Kind           ResourceKind
	OrganizationID uuid.UUID
	ResourceID     uuid.UUID
	AppointmentID  *uuid.UUID
	Type           string
	StartTime      time.Time
	EndTime        time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

func (r *Reservation) Interval() Interval {
	return Interval{Start: r.StartTime, End: r.EndTime}
}

type WaitlistEntry struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	JoinTime      time.Time
	Status        WaitlistStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Soft delete: active iff DeletedAt is nil.

func (o *Organization) Active() bool { return o.DeletedAt == nil }
func (d *Department) Active() bool   { return d.DeletedAt == nil }
func (p *Provider) Active() bool     { return p.DeletedAt == nil }
func (p *Patient) Active() bool      { return p.DeletedAt == nil }
func (r *Resource) Active() bool     { return r.DeletedAt == nil }
func (a *Appointment) Active() bool  { return a.DeletedAt == nil }
func (r *Reservation) Active() bool  { return r.DeletedAt == nil }

// Inputs

type CreateAppointmentInput struct {
	OrganizationID uuid.UUID
	DepartmentID   *uuid.UUID
	ProviderID     uuid.UUID
	PatientID      uuid.UUID
	StatusID       uuid.UUID
	RoomID         *uuid.UUID
	EquipmentID    *uuid.UUID
	Type           string
	Title          *string
	Description    *string
	RecurrenceRule *string
	StartTime      time.Time
	EndTime        time.Time
}

type CreateReservationInput struct {
	OrganizationID uuid.UUID
	ResourceID     uuid.UUID
	AppointmentID  *uuid.UUID
	Type           string
	StartTime      time.Time
	EndTime        time.Time
}

type JoinWaitlistInput struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	JoinTime      *time.Time
	Status        *WaitlistStatus
}
