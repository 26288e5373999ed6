package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/tenant-resource-scheduling/internal/audit"
	redisclient "github.com/hackgods/tenant-resource-scheduling/internal/redis"
)

// CreateAppointment books a provider and a patient for an interval. A room or
// equipment on the request must already be reserved over the whole interval.
func (s *Service) CreateAppointment(ctx context.Context, in CreateAppointmentInput) (*Appointment, error) {
	iv, err := s.checkInterval(in.StartTime, in.EndTime)
	if err != nil {
		return nil, err
	}
	if err := requireType(in.Type); err != nil {
		return nil, err
	}

	keys := []string{
		redisclient.SubjectKey(in.OrganizationID, string(SubjectProvider), in.ProviderID),
		redisclient.SubjectKey(in.OrganizationID, string(SubjectPatient), in.PatientID),
	}

	var created *Appointment
	err = s.atomically(ctx, "create appointment", keys, func(ctx context.Context) error {
		if err := s.validator.Validate(ctx, References{
			OrganizationID: in.OrganizationID,
			DepartmentID:   in.DepartmentID,
			ProviderID:     &in.ProviderID,
			PatientID:      &in.PatientID,
			StatusID:       &in.StatusID,
			RoomID:         in.RoomID,
			EquipmentID:    in.EquipmentID,
		}); err != nil {
			return err
		}

		// Provider first so a double conflict reports the provider.
		for _, q := range []ConflictQuery{
			{Kind: SubjectProvider, OrganizationID: in.OrganizationID, SubjectID: in.ProviderID, Interval: iv},
			{Kind: SubjectPatient, OrganizationID: in.OrganizationID, SubjectID: in.PatientID, Interval: iv},
		} {
			if err := s.detector.Check(ctx, q); err != nil {
				return err
			}
		}

		if in.RoomID != nil {
			if err := s.requireCoverage(ctx, ResourceRoom, in.OrganizationID, *in.RoomID, iv); err != nil {
				return err
			}
		}
		if in.EquipmentID != nil {
			if err := s.requireCoverage(ctx, ResourceEquipment, in.OrganizationID, *in.EquipmentID, iv); err != nil {
				return err
			}
		}

		appt, err := s.repo.InsertAppointment(ctx, Appointment{
			OrganizationID: in.OrganizationID,
			DepartmentID:   in.DepartmentID,
			ProviderID:     in.ProviderID,
			PatientID:      in.PatientID,
			StatusID:       in.StatusID,
			RoomID:         in.RoomID,
			EquipmentID:    in.EquipmentID,
			Type:           in.Type,
			Title:          in.Title,
			Description:    in.Description,
			RecurrenceRule: in.RecurrenceRule,
			StartTime:      iv.Start,
			EndTime:        iv.End,
		})
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, audit.ActionAppointmentCreated, targetAppointment, created.ID, map[string]any{
		"organization_id": created.OrganizationID.String(),
		"provider_id":     created.ProviderID.String(),
		"patient_id":      created.PatientID.String(),
		"status_id":       created.StatusID.String(),
		"start_time":      formatTime(created.StartTime),
		"end_time":        formatTime(created.EndTime),
	})
	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("provider_id", created.ProviderID.String()).
		Msg("appointment created")

	return created, nil
}

func (s *Service) requireCoverage(ctx context.Context, kind ResourceKind, orgID, resourceID uuid.UUID, iv Interval) error {
	_, err := s.repo.FindCoveringReservation(ctx, kind, orgID, resourceID, iv)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrReservationNotFound) {
		return refErr(ReferenceKind(kind), resourceID, reasonNotReserved)
	}
	return fmt.Errorf("find %s reservation: %w", kind, err)
}

// GetAppointment returns the appointment whether or not it is cancelled.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// CancelAppointment soft-deletes the appointment. Cancelling an already
// cancelled appointment succeeds and changes nothing.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) error {
	appt, err := s.GetAppointment(ctx, id)
	if err != nil {
		return err
	}
	if !appt.Active() {
		return nil
	}

	deleted, err := s.repo.SoftDeleteAppointment(ctx, id, s.now().UTC())
	if err != nil {
		return fmt.Errorf("cancel appointment: %w", err)
	}
	if !deleted {
		// Someone else cancelled it first.
		return nil
	}

	s.emit(ctx, audit.ActionAppointmentCancelled, targetAppointment, id, map[string]any{
		"organization_id": appt.OrganizationID.String(),
		"provider_id":     appt.ProviderID.String(),
		"patient_id":      appt.PatientID.String(),
	})
	s.log.Info().Str("appointment_id", id.String()).Msg("appointment cancelled")

	return nil
}

// ChangeAppointmentStatus moves an active appointment to another catalog
// status, subject to the configured TransitionPolicy.
func (s *Service) ChangeAppointmentStatus(ctx context.Context, id, statusID uuid.UUID) (*Appointment, error) {
	appt, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.Active() {
		return nil, ErrAppointmentCancelled
	}

	keys := []string{redisclient.SubjectKey(appt.OrganizationID, targetAppointment, id)}

	var (
		updated  *Appointment
		from, to *AppointmentStatus
	)
	err = s.atomically(ctx, "change appointment status", keys, func(ctx context.Context) error {
		current, err := s.repo.GetAppointment(ctx, id)
		if err != nil {
			return fmt.Errorf("reload appointment: %w", err)
		}
		if !current.Active() {
			return ErrAppointmentCancelled
		}

		to, err = s.validator.Status(ctx, statusID)
		if err != nil {
			return err
		}
		from, err = s.repo.GetAppointmentStatus(ctx, current.StatusID)
		if err != nil {
			return fmt.Errorf("load current status: %w", err)
		}
		if err := s.transitions.Allow(from, to); err != nil {
			return err
		}

		updated, err = s.repo.UpdateAppointmentStatus(ctx, id, statusID)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return ErrAppointmentCancelled
			}
			return fmt.Errorf("update appointment status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, audit.ActionAppointmentStatusChanged, targetAppointment, id, map[string]any{
		"from": from.Code,
		"to":   to.Code,
	})
	return updated, nil
}
