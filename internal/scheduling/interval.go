package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Interval is half-open: [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval rejects zero, empty and inverted intervals.
func NewInterval(start, end time.Time) (Interval, error) {
	if start.IsZero() || end.IsZero() {
		return Interval{}, &InvalidIntervalError{Start: start, End: end, Reason: "start_time and end_time are required"}
	}
	if !start.Before(end) {
		return Interval{}, &InvalidIntervalError{Start: start, End: end, Reason: "start_time must be before end_time"}
	}
	return Interval{Start: start.UTC(), End: end.UTC()}, nil
}

// Overlaps reports whether two half-open intervals share any instant.
// Touching endpoints do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Covers reports whether o lies entirely inside i.
func (i Interval) Covers(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// IntervalPolicy carries the business limits on top of start < end.
type IntervalPolicy struct {
	RejectPast  bool
	MaxDuration time.Duration // 0 = unlimited
}

func (p IntervalPolicy) Check(iv Interval, now time.Time) error {
	if p.RejectPast && iv.Start.Before(now) {
		return &InvalidIntervalError{Start: iv.Start, End: iv.End, Reason: "interval starts in the past"}
	}
	if p.MaxDuration > 0 && iv.Duration() > p.MaxDuration {
		return &InvalidIntervalError{Start: iv.Start, End: iv.End,
			Reason: fmt.Sprintf("interval exceeds maximum duration %s", p.MaxDuration)}
	}
	return nil
}

// Booking is the slice of an existing appointment or reservation the
// detector needs.
type Booking struct {
	ID       uuid.UUID
	Interval Interval
}

// FirstConflict returns the first booking overlapping candidate, skipping
// excludeID.
func FirstConflict(candidate Interval, existing []Booking, excludeID *uuid.UUID) (Booking, bool) {
	for _, b := range existing {
		if excludeID != nil && b.ID == *excludeID {
			continue
		}
		if candidate.Overlaps(b.Interval) {
			return b, true
		}
	}
	return Booking{}, false
}

// BookingReader returns the active (non-deleted) bookings of one subject in
// one organization that intersect window.
type BookingReader interface {
	ActiveBookings(ctx context.Context, kind SubjectKind, organizationID, subjectID uuid.UUID, window Interval) ([]Booking, error)
}

// ConflictDetector answers hasConflict for any subject kind.
type ConflictDetector struct {
	bookings BookingReader
}

func NewConflictDetector(bookings BookingReader) *ConflictDetector {
	return &ConflictDetector{bookings: bookings}
}

type ConflictQuery struct {
	Kind           SubjectKind
	OrganizationID uuid.UUID
	SubjectID      uuid.UUID
	Interval       Interval
	ExcludeID      *uuid.UUID
}

func (d *ConflictDetector) HasConflict(ctx context.Context, q ConflictQuery) (bool, error) {
	_, found, err := d.find(ctx, q)
	return found, err
}

// Check returns a *SchedulingConflictError when q collides with an existing
// booking.
func (d *ConflictDetector) Check(ctx context.Context, q ConflictQuery) error {
	b, found, err := d.find(ctx, q)
	if err != nil {
		return err
	}
	if found {
		return &SchedulingConflictError{Subject: q.Kind, SubjectID: q.SubjectID, ConflictingID: b.ID}
	}
	return nil
}

func (d *ConflictDetector) find(ctx context.Context, q ConflictQuery) (Booking, bool, error) {
	existing, err := d.bookings.ActiveBookings(ctx, q.Kind, q.OrganizationID, q.SubjectID, q.Interval)
	if err != nil {
		return Booking{}, false, fmt.Errorf("load %s bookings: %w", q.Kind, err)
	}
	b, found := FirstConflict(q.Interval, existing, q.ExcludeID)
	return b, found, nil
}
