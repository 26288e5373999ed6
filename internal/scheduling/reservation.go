package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/tenant-resource-scheduling/internal/audit"
	redisclient "github.com/hackgods/tenant-resource-scheduling/internal/redis"
)

var reservationActions = map[ResourceKind]struct{ created, cancelled string }{
	ResourceRoom:      {audit.ActionRoomReservationCreated, audit.ActionRoomReservationCancelled},
	ResourceEquipment: {audit.ActionEquipmentReservationCreated, audit.ActionEquipmentReservationCancelled},
}

func reservationTarget(kind ResourceKind) string {
	return string(kind) + "_reservation"
}

func (s *Service) CreateRoomReservation(ctx context.Context, in CreateReservationInput) (*Reservation, error) {
	return s.CreateReservation(ctx, ResourceRoom, in)
}

func (s *Service) CreateEquipmentReservation(ctx context.Context, in CreateReservationInput) (*Reservation, error) {
	return s.CreateReservation(ctx, ResourceEquipment, in)
}

// CreateReservation holds one room or piece of equipment for an interval.
// Reservations for the same resource never overlap.
func (s *Service) CreateReservation(ctx context.Context, kind ResourceKind, in CreateReservationInput) (*Reservation, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown resource kind %q", ErrInvalidInput, kind)
	}
	iv, err := s.checkInterval(in.StartTime, in.EndTime)
	if err != nil {
		return nil, err
	}
	if err := requireType(in.Type); err != nil {
		return nil, err
	}

	refs := References{OrganizationID: in.OrganizationID}
	resourceID := in.ResourceID
	if kind == ResourceRoom {
		refs.RoomID = &resourceID
	} else {
		refs.EquipmentID = &resourceID
	}

	keys := []string{redisclient.SubjectKey(in.OrganizationID, string(kind), in.ResourceID)}

	var created *Reservation
	err = s.atomically(ctx, "create "+reservationTarget(kind), keys, func(ctx context.Context) error {
		if err := s.validator.Validate(ctx, refs); err != nil {
			return err
		}
		if in.AppointmentID != nil {
			if err := s.requireLinkedAppointment(ctx, in.OrganizationID, *in.AppointmentID); err != nil {
				return err
			}
		}

		if err := s.detector.Check(ctx, ConflictQuery{
			Kind:           kind.Subject(),
			OrganizationID: in.OrganizationID,
			SubjectID:      in.ResourceID,
			Interval:       iv,
		}); err != nil {
			return err
		}

		res, err := s.repo.InsertReservation(ctx, Reservation{
			Kind:           kind,
			OrganizationID: in.OrganizationID,
			ResourceID:     in.ResourceID,
			AppointmentID:  in.AppointmentID,
			Type:           in.Type,
			StartTime:      iv.Start,
			EndTime:        iv.End,
		})
		if err != nil {
			return fmt.Errorf("insert %s reservation: %w", kind, err)
		}
		created = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"organization_id":    created.OrganizationID.String(),
		string(kind) + "_id": created.ResourceID.String(),
		"start_time":         formatTime(created.StartTime),
		"end_time":           formatTime(created.EndTime),
	}
	if created.AppointmentID != nil {
		payload["appointment_id"] = created.AppointmentID.String()
	}
	s.emit(ctx, reservationActions[kind].created, reservationTarget(kind), created.ID, payload)
	s.log.Info().
		Str("reservation_id", created.ID.String()).
		Str("kind", string(kind)).
		Msg("reservation created")

	return created, nil
}

// requireLinkedAppointment reports a missing, cancelled or foreign
// appointment as a reference error.
func (s *Service) requireLinkedAppointment(ctx context.Context, orgID, id uuid.UUID) error {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return refErr(RefAppointment, id, reasonMissing)
		}
		return fmt.Errorf("load appointment: %w", err)
	}
	if appt.OrganizationID != orgID {
		return refErr(RefAppointment, id, reasonForeignOrg)
	}
	if !appt.Active() {
		return refErr(RefAppointment, id, reasonInactive)
	}
	return nil
}

func (s *Service) GetReservation(ctx context.Context, kind ResourceKind, id uuid.UUID) (*Reservation, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown resource kind %q", ErrInvalidInput, kind)
	}
	res, err := s.repo.GetReservation(ctx, kind, id)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get %s reservation: %w", kind, err)
	}
	return res, nil
}

func (s *Service) CancelRoomReservation(ctx context.Context, id uuid.UUID) error {
	return s.CancelReservation(ctx, ResourceRoom, id)
}

func (s *Service) CancelEquipmentReservation(ctx context.Context, id uuid.UUID) error {
	return s.CancelReservation(ctx, ResourceEquipment, id)
}

// CancelReservation soft-deletes a reservation; repeating it is a no-op.
// Appointments that referenced the resource are left as they are.
func (s *Service) CancelReservation(ctx context.Context, kind ResourceKind, id uuid.UUID) error {
	res, err := s.GetReservation(ctx, kind, id)
	if err != nil {
		return err
	}
	if !res.Active() {
		return nil
	}

	deleted, err := s.repo.SoftDeleteReservation(ctx, kind, id, s.now().UTC())
	if err != nil {
		return fmt.Errorf("cancel %s reservation: %w", kind, err)
	}
	if !deleted {
		return nil
	}

	s.emit(ctx, reservationActions[kind].cancelled, reservationTarget(kind), id, map[string]any{
		"organization_id":    res.OrganizationID.String(),
		string(kind) + "_id": res.ResourceID.String(),
	})
	s.log.Info().
		Str("reservation_id", id.String()).
		Str("kind", string(kind)).
		Msg("reservation cancelled")

	return nil
}
