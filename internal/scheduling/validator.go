package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Directory is the read-only reference data the validator checks against.
// Lookups return ErrNotFound for unknown ids.
type Directory interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error)
	GetDepartment(ctx context.Context, id uuid.UUID) (*Department, error)
	GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetAppointmentStatus(ctx context.Context, id uuid.UUID) (*AppointmentStatus, error)
	GetResource(ctx context.Context, kind ResourceKind, id uuid.UUID) (*Resource, error)
}

// References lists what a booking points at. The organization is always
// checked; every other reference is checked only when non-nil.
type References struct {
	OrganizationID uuid.UUID
	DepartmentID   *uuid.UUID
	ProviderID     *uuid.UUID
	PatientID      *uuid.UUID
	StatusID       *uuid.UUID
	RoomID         *uuid.UUID
	EquipmentID    *uuid.UUID
}

type Validator struct {
	dir Directory
}

func NewValidator(dir Directory) *Validator {
	return &Validator{dir: dir}
}

// Validate checks references in a fixed order and stops at the first
// failure.
func (v *Validator) Validate(ctx context.Context, refs References) error {
	if err := v.organization(ctx, refs.OrganizationID); err != nil {
		return err
	}
	if refs.DepartmentID != nil {
		if err := v.department(ctx, refs.OrganizationID, *refs.DepartmentID); err != nil {
			return err
		}
	}
	if refs.ProviderID != nil {
		if err := v.provider(ctx, refs.OrganizationID, *refs.ProviderID); err != nil {
			return err
		}
	}
	if refs.PatientID != nil {
		if err := v.patient(ctx, *refs.PatientID); err != nil {
			return err
		}
	}
	if refs.StatusID != nil {
		if _, err := v.Status(ctx, *refs.StatusID); err != nil {
			return err
		}
	}
	if refs.RoomID != nil {
		if err := v.resource(ctx, refs.OrganizationID, ResourceRoom, *refs.RoomID); err != nil {
			return err
		}
	}
	if refs.EquipmentID != nil {
		if err := v.resource(ctx, refs.OrganizationID, ResourceEquipment, *refs.EquipmentID); err != nil {
			return err
		}
	}
	return nil
}

// Status loads a catalog entry, reporting a missing one as a reference error.
func (v *Validator) Status(ctx context.Context, id uuid.UUID) (*AppointmentStatus, error) {
	if id == uuid.Nil {
		return nil, refErr(RefStatus, id, reasonRequired)
	}
	st, err := v.dir.GetAppointmentStatus(ctx, id)
	if err != nil {
		return nil, lookupErr(RefStatus, id, err)
	}
	return st, nil
}

func (v *Validator) organization(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return refErr(RefOrganization, id, reasonRequired)
	}
	org, err := v.dir.GetOrganization(ctx, id)
	if err != nil {
		return lookupErr(RefOrganization, id, err)
	}
	if !org.Active() {
		return refErr(RefOrganization, id, reasonInactive)
	}
	return nil
}

func (v *Validator) department(ctx context.Context, orgID, id uuid.UUID) error {
	dep, err := v.dir.GetDepartment(ctx, id)
	if err != nil {
		return lookupErr(RefDepartment, id, err)
	}
	if dep.OrganizationID != orgID {
		return refErr(RefDepartment, id, reasonForeignOrg)
	}
	if !dep.Active() {
		return refErr(RefDepartment, id, reasonInactive)
	}
	return nil
}

func (v *Validator) provider(ctx context.Context, orgID, id uuid.UUID) error {
	if id == uuid.Nil {
		return refErr(RefProvider, id, reasonRequired)
	}
	p, err := v.dir.GetProvider(ctx, id)
	if err != nil {
		return lookupErr(RefProvider, id, err)
	}
	if p.OrganizationID != orgID {
		return refErr(RefProvider, id, reasonForeignOrg)
	}
	if !p.Active() {
		return refErr(RefProvider, id, reasonInactive)
	}
	return nil
}

func (v *Validator) patient(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return refErr(RefPatient, id, reasonRequired)
	}
	p, err := v.dir.GetPatient(ctx, id)
	if err != nil {
		return lookupErr(RefPatient, id, err)
	}
	if !p.Active() {
		return refErr(RefPatient, id, reasonInactive)
	}
	return nil
}

func (v *Validator) resource(ctx context.Context, orgID uuid.UUID, kind ResourceKind, id uuid.UUID) error {
	ref := ReferenceKind(kind)
	if id == uuid.Nil {
		return refErr(ref, id, reasonRequired)
	}
	res, err := v.dir.GetResource(ctx, kind, id)
	if err != nil {
		return lookupErr(ref, id, err)
	}
	if res.OrganizationID != orgID {
		return refErr(ref, id, reasonForeignOrg)
	}
	if !res.Active() {
		return refErr(ref, id, reasonInactive)
	}
	return nil
}

func refErr(kind ReferenceKind, id uuid.UUID, reason string) error {
	return &ReferenceNotFoundError{Kind: kind, ID: id, Reason: reason}
}

func lookupErr(kind ReferenceKind, id uuid.UUID, err error) error {
	if errors.Is(err, ErrNotFound) {
		return refErr(kind, id, reasonMissing)
	}
	return fmt.Errorf("load %s %s: %w", kind, id, err)
}
