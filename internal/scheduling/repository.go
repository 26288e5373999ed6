package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	Directory
	BookingReader

	// RunInTx runs fn atomically; repository calls made with the ctx passed
	// to fn join the transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Appointments. Get returns soft-deleted rows too.
	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	SoftDeleteAppointment(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	UpdateAppointmentStatus(ctx context.Context, id, statusID uuid.UUID) (*Appointment, error)

	// Room and equipment reservations.
	InsertReservation(ctx context.Context, r Reservation) (*Reservation, error)
	GetReservation(ctx context.Context, kind ResourceKind, id uuid.UUID) (*Reservation, error)
	SoftDeleteReservation(ctx context.Context, kind ResourceKind, id uuid.UUID, at time.Time) (bool, error)
	FindCoveringReservation(ctx context.Context, kind ResourceKind, organizationID, resourceID uuid.UUID, iv Interval) (*Reservation, error)

	// Waitlist. FindOpenWaitlistEntry ignores removed entries.
	InsertWaitlistEntry(ctx context.Context, e WaitlistEntry) (*WaitlistEntry, error)
	GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error)
	FindOpenWaitlistEntry(ctx context.Context, appointmentID, patientID uuid.UUID) (*WaitlistEntry, error)
	UpdateWaitlistStatus(ctx context.Context, id uuid.UUID, status WaitlistStatus) (*WaitlistEntry, error)
}
