package scheduling

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrReferenceNotFound      = errors.New("reference not found")
	ErrInvalidInterval        = errors.New("invalid interval")
	ErrSchedulingConflict     = errors.New("scheduling conflict")
	ErrDuplicateWaitlistEntry = errors.New("duplicate waitlist entry")
	ErrConcurrency            = errors.New("concurrent modification, retry the operation")

	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrReservationNotFound     = errors.New("reservation not found")
	ErrWaitlistEntryNotFound   = errors.New("waitlist entry not found")
	ErrAppointmentCancelled    = errors.New("appointment is cancelled")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidInput            = errors.New("invalid input")

	// Repository level. ErrNotFound is returned by Directory lookups,
	// ErrConcurrentWrite when the store rejected a write because another
	// transaction got there first.
	ErrNotFound        = errors.New("not found")
	ErrConcurrentWrite = errors.New("concurrent write rejected by store")
)

type ReferenceKind string

const (
	RefOrganization ReferenceKind = "organization"
	RefDepartment   ReferenceKind = "department"
	RefProvider     ReferenceKind = "provider"
	RefPatient      ReferenceKind = "patient"
	RefStatus       ReferenceKind = "status"
	RefRoom         ReferenceKind = "room"
	RefEquipment    ReferenceKind = "equipment"
	RefAppointment  ReferenceKind = "appointment"
)

const (
	reasonMissing     = "does not exist"
	reasonInactive    = "is inactive"
	reasonForeignOrg  = "belongs to another organization"
	reasonRequired    = "is required"
	reasonNotReserved = "has no active reservation covering the interval"
)

// ReferenceNotFoundError reports which referenced entity failed validation.
type ReferenceNotFoundError struct {
	Kind   ReferenceKind
	ID     uuid.UUID
	Reason string
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("%s %s %s", e.Kind, e.ID, e.Reason)
}

func (e *ReferenceNotFoundError) Is(target error) bool {
	return target == ErrReferenceNotFound
}

type InvalidIntervalError struct {
	Start  time.Time
	End    time.Time
	Reason string
}

func (e *InvalidIntervalError) Error() string {
	return fmt.Sprintf("invalid interval [%s, %s): %s",
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.Reason)
}

func (e *InvalidIntervalError) Is(target error) bool {
	return target == ErrInvalidInterval
}

// SchedulingConflictError names the double-booked subject and the existing
// booking it collides with.
type SchedulingConflictError struct {
	Subject       SubjectKind
	SubjectID     uuid.UUID
	ConflictingID uuid.UUID
}

func (e *SchedulingConflictError) Error() string {
	return fmt.Sprintf("%s %s is already booked by %s", e.Subject, e.SubjectID, e.ConflictingID)
}

func (e *SchedulingConflictError) Is(target error) bool {
	return target == ErrSchedulingConflict
}

type DuplicateWaitlistEntryError struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	ExistingID    uuid.UUID
}

func (e *DuplicateWaitlistEntryError) Error() string {
	return fmt.Sprintf("patient %s already waitlisted for appointment %s (entry %s)",
		e.PatientID, e.AppointmentID, e.ExistingID)
}

func (e *DuplicateWaitlistEntryError) Is(target error) bool {
	return target == ErrDuplicateWaitlistEntry
}

// ConcurrencyError means the atomic check-and-write lost a race. The whole
// operation can be retried.
type ConcurrencyError struct {
	Op  string
	Err error
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrConcurrency, e.Err)
}

func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrency
}

func (e *ConcurrencyError) Unwrap() error {
	return e.Err
}
