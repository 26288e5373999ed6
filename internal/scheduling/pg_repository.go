package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/tenant-resource-scheduling/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Table layout per kind. Values are constants, never user input.

type bookingTable struct {
	table  string
	column string
}

var bookingTables = map[SubjectKind]bookingTable{
	SubjectProvider:  {table: "appointments", column: "provider_id"},
	SubjectPatient:   {table: "appointments", column: "patient_id"},
	SubjectRoom:      {table: "room_reservations", column: "room_id"},
	SubjectEquipment: {table: "equipment_reservations", column: "equipment_id"},
}

var resourceTables = map[ResourceKind]string{
	ResourceRoom:      "rooms",
	ResourceEquipment: "equipment",
}

func reservationTable(kind ResourceKind) (bookingTable, error) {
	t, ok := bookingTables[kind.Subject()]
	if !ok || !kind.Valid() {
		return bookingTable{}, fmt.Errorf("%w: unknown resource kind %q", ErrInvalidInput, kind)
	}
	return t, nil
}

const appointmentColumns = `id, organization_id, department_id, provider_id, patient_id, status_id,
	room_id, equipment_id, appointment_type, title, description, recurrence_rule,
	start_time, end_time, created_at, updated_at, deleted_at`

const waitlistColumns = `id, appointment_id, patient_id, join_time, status, created_at, updated_at`

func reservationColumns(t bookingTable) string {
	return "id, organization_id, " + t.column + ", appointment_id, reservation_type, start_time, end_time, created_at, updated_at, deleted_at"
}

// Helpers

// mapPgError turns serialization failures, deadlocks and constraint
// violations raised by a concurrent writer into ErrConcurrentWrite.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01", "23P01", "23505":
		return fmt.Errorf("%w: %s (%s)", ErrConcurrentWrite, pgErr.Message, pgErr.ConstraintName)
	}
	return err
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.OrganizationID,
		&a.DepartmentID,
		&a.ProviderID,
		&a.PatientID,
		&a.StatusID,
		&a.RoomID,
		&a.EquipmentID,
		&a.Type,
		&a.Title,
		&a.Description,
		&a.RecurrenceRule,
		&a.StartTime,
		&a.EndTime,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, mapPgError(err)
	}
	return &a, nil
}

func scanReservation(row pgx.Row, kind ResourceKind) (*Reservation, error) {
	r := Reservation{Kind: kind}
	err := row.Scan(
		&r.ID,
		&r.OrganizationID,
		&r.ResourceID,
		&r.AppointmentID,
		&r.Type,
		&r.StartTime,
		&r.EndTime,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, mapPgError(err)
	}
	return &r, nil
}

func scanWaitlistEntry(row pgx.Row) (*WaitlistEntry, error) {
	var e WaitlistEntry
	err := row.Scan(
		&e.ID,
		&e.AppointmentID,
		&e.PatientID,
		&e.JoinTime,
		&e.Status,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWaitlistEntryNotFound
		}
		return nil, mapPgError(err)
	}
	return &e, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Transactions

func (r *PgRepository) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return mapPgError(db.WithTx(ctx, r.pool, pgx.Serializable, fn))
}

// Directory

func (r *PgRepository) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	var o Organization
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, name, deleted_at
		FROM organizations
		WHERE id = $1
	`, id).Scan(&o.ID, &o.Name, &o.DeletedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (r *PgRepository) GetDepartment(ctx context.Context, id uuid.UUID) (*Department, error) {
	var d Department
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, organization_id, name, deleted_at
		FROM departments
		WHERE id = $1
	`, id).Scan(&d.ID, &d.OrganizationID, &d.Name, &d.DeletedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *PgRepository) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	var p Provider
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, user_id, organization_id, display_name, deleted_at
		FROM user_organizations
		WHERE id = $1
	`, id).Scan(&p.ID, &p.UserID, &p.OrganizationID, &p.DisplayName, &p.DeletedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *PgRepository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, full_name, deleted_at
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.FullName, &p.DeletedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *PgRepository) GetAppointmentStatus(ctx context.Context, id uuid.UUID) (*AppointmentStatus, error) {
	var s AppointmentStatus
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, code, label, business_status, sort_order
		FROM appointment_statuses
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Code, &s.Label, &s.BusinessStatus, &s.SortOrder)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *PgRepository) GetResource(ctx context.Context, kind ResourceKind, id uuid.UUID) (*Resource, error) {
	table, ok := resourceTables[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown resource kind %q", ErrInvalidInput, kind)
	}
	res := Resource{Kind: kind}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, organization_id, name, deleted_at
		FROM `+table+`
		WHERE id = $1
	`, id).Scan(&res.ID, &res.OrganizationID, &res.Name, &res.DeletedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &res, nil
}

// Conflict detection

func (r *PgRepository) ActiveBookings(ctx context.Context, kind SubjectKind, organizationID, subjectID uuid.UUID, window Interval) ([]Booking, error) {
	t, ok := bookingTables[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown subject kind %q", ErrInvalidInput, kind)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, start_time, end_time
		FROM `+t.table+`
		WHERE organization_id = $1
		  AND `+t.column+` = $2
		  AND deleted_at IS NULL
		  AND start_time < $4
		  AND end_time > $3
		ORDER BY start_time
	`, organizationID, subjectID, window.Start, window.End)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ID, &b.Interval.Start, &b.Interval.End); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	return result, nil
}

// Appointments

func (r *PgRepository) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (
			id, organization_id, department_id, provider_id, patient_id, status_id,
			room_id, equipment_id, appointment_type, title, description, recurrence_rule,
			start_time, end_time, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.OrganizationID, a.DepartmentID, a.ProviderID, a.PatientID, a.StatusID,
		a.RoomID, a.EquipmentID, a.Type, a.Title, a.Description, a.RecurrenceRule,
		a.StartTime, a.EndTime)

	return scanAppointment(row)
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) SoftDeleteAppointment(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointments
		SET deleted_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return false, mapPgError(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id, statusID uuid.UUID) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments
		SET status_id = $2,
		    updated_at = now()
		WHERE id = $1
		  AND deleted_at IS NULL
		RETURNING `+appointmentColumns,
		id, statusID)
	return scanAppointment(row)
}

// Reservations

func (r *PgRepository) InsertReservation(ctx context.Context, res Reservation) (*Reservation, error) {
	t, err := reservationTable(res.Kind)
	if err != nil {
		return nil, err
	}
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}

	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO `+t.table+` (
			id, organization_id, `+t.column+`, appointment_id, reservation_type,
			start_time, end_time, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+reservationColumns(t),
		res.ID, res.OrganizationID, res.ResourceID, res.AppointmentID, res.Type,
		res.StartTime, res.EndTime)

	return scanReservation(row, res.Kind)
}

func (r *PgRepository) GetReservation(ctx context.Context, kind ResourceKind, id uuid.UUID) (*Reservation, error) {
	t, err := reservationTable(kind)
	if err != nil {
		return nil, err
	}
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+reservationColumns(t)+`
		FROM `+t.table+`
		WHERE id = $1
	`, id)
	return scanReservation(row, kind)
}

func (r *PgRepository) SoftDeleteReservation(ctx context.Context, kind ResourceKind, id uuid.UUID, at time.Time) (bool, error) {
	t, err := reservationTable(kind)
	if err != nil {
		return false, err
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE `+t.table+`
		SET deleted_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return false, mapPgError(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) FindCoveringReservation(ctx context.Context, kind ResourceKind, organizationID, resourceID uuid.UUID, iv Interval) (*Reservation, error) {
	t, err := reservationTable(kind)
	if err != nil {
		return nil, err
	}
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+reservationColumns(t)+`
		FROM `+t.table+`
		WHERE organization_id = $1
		  AND `+t.column+` = $2
		  AND deleted_at IS NULL
		  AND start_time <= $3
		  AND end_time >= $4
		ORDER BY start_time
		LIMIT 1
	`, organizationID, resourceID, iv.Start, iv.End)
	return scanReservation(row, kind)
}

// Waitlist

func (r *PgRepository) InsertWaitlistEntry(ctx context.Context, e WaitlistEntry) (*WaitlistEntry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO waitlist_entries (id, appointment_id, patient_id, join_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING `+waitlistColumns,
		e.ID, e.AppointmentID, e.PatientID, e.JoinTime, e.Status)
	return scanWaitlistEntry(row)
}

func (r *PgRepository) GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+waitlistColumns+`
		FROM waitlist_entries
		WHERE id = $1
	`, id)
	return scanWaitlistEntry(row)
}

func (r *PgRepository) FindOpenWaitlistEntry(ctx context.Context, appointmentID, patientID uuid.UUID) (*WaitlistEntry, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+waitlistColumns+`
		FROM waitlist_entries
		WHERE appointment_id = $1
		  AND patient_id = $2
		  AND status <> 'removed'
		LIMIT 1
	`, appointmentID, patientID)
	return scanWaitlistEntry(row)
}

func (r *PgRepository) UpdateWaitlistStatus(ctx context.Context, id uuid.UUID, status WaitlistStatus) (*WaitlistEntry, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE waitlist_entries
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+waitlistColumns,
		id, status)
	return scanWaitlistEntry(row)
}
