package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/tenant-resource-scheduling/internal/audit"
	redisclient "github.com/hackgods/tenant-resource-scheduling/internal/redis"
)

func waitlistKey(appointmentID, patientID uuid.UUID) string {
	return redisclient.SubjectKey(appointmentID, "waitlist", patientID)
}

// JoinWaitlist queues a patient for an active appointment. A patient holds at
// most one entry per appointment that is not removed.
func (s *Service) JoinWaitlist(ctx context.Context, in JoinWaitlistInput) (*WaitlistEntry, error) {
	status := WaitlistActive
	if in.Status != nil {
		status = *in.Status
	}
	if !status.Valid() || status == WaitlistRemoved {
		return nil, fmt.Errorf("%w: waitlist status %q", ErrInvalidInput, status)
	}
	joinTime := s.now().UTC()
	if in.JoinTime != nil && !in.JoinTime.IsZero() {
		joinTime = in.JoinTime.UTC()
	}

	var created *WaitlistEntry
	err := s.atomically(ctx, "join waitlist", []string{waitlistKey(in.AppointmentID, in.PatientID)}, func(ctx context.Context) error {
		appt, err := s.repo.GetAppointment(ctx, in.AppointmentID)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return refErr(RefAppointment, in.AppointmentID, reasonMissing)
			}
			return fmt.Errorf("load appointment: %w", err)
		}
		if !appt.Active() {
			return refErr(RefAppointment, in.AppointmentID, reasonInactive)
		}
		if err := s.validator.Validate(ctx, References{
			OrganizationID: appt.OrganizationID,
			PatientID:      &in.PatientID,
		}); err != nil {
			return err
		}

		existing, err := s.repo.FindOpenWaitlistEntry(ctx, in.AppointmentID, in.PatientID)
		switch {
		case err == nil:
			return &DuplicateWaitlistEntryError{
				AppointmentID: in.AppointmentID,
				PatientID:     in.PatientID,
				ExistingID:    existing.ID,
			}
		case !errors.Is(err, ErrWaitlistEntryNotFound):
			return fmt.Errorf("find waitlist entry: %w", err)
		}

		entry, err := s.repo.InsertWaitlistEntry(ctx, WaitlistEntry{
			AppointmentID: in.AppointmentID,
			PatientID:     in.PatientID,
			JoinTime:      joinTime,
			Status:        status,
		})
		if err != nil {
			return fmt.Errorf("insert waitlist entry: %w", err)
		}
		created = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, audit.ActionWaitlistJoined, targetWaitlist, created.ID, map[string]any{
		"appointment_id": created.AppointmentID.String(),
		"patient_id":     created.PatientID.String(),
		"status":         string(created.Status),
		"join_time":      formatTime(created.JoinTime),
	})
	return created, nil
}

func (s *Service) GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	entry, err := s.repo.GetWaitlistEntry(ctx, id)
	if err != nil {
		if errors.Is(err, ErrWaitlistEntryNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get waitlist entry: %w", err)
	}
	return entry, nil
}

// RemoveWaitlistEntry marks the entry removed, freeing the pair for a new
// join. Removing twice is a no-op.
func (s *Service) RemoveWaitlistEntry(ctx context.Context, id uuid.UUID) error {
	entry, err := s.GetWaitlistEntry(ctx, id)
	if err != nil {
		return err
	}
	if entry.Status == WaitlistRemoved {
		return nil
	}

	var changed bool
	err = s.atomically(ctx, "remove waitlist entry", []string{waitlistKey(entry.AppointmentID, entry.PatientID)}, func(ctx context.Context) error {
		current, err := s.repo.GetWaitlistEntry(ctx, id)
		if err != nil {
			return fmt.Errorf("reload waitlist entry: %w", err)
		}
		if current.Status == WaitlistRemoved {
			return nil
		}
		if _, err := s.repo.UpdateWaitlistStatus(ctx, id, WaitlistRemoved); err != nil {
			return fmt.Errorf("remove waitlist entry: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	s.emit(ctx, audit.ActionWaitlistRemoved, targetWaitlist, id, map[string]any{
		"appointment_id": entry.AppointmentID.String(),
		"patient_id":     entry.PatientID.String(),
	})
	return nil
}
