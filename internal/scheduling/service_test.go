package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/tenant-resource-scheduling/internal/audit"
	redisclient "github.com/hackgods/tenant-resource-scheduling/internal/redis"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingEmitter) Emit(_ context.Context, ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Action)
	}
	return out
}

type fixture struct {
	repo   *memRepo
	svc    *Service
	events *recordingEmitter
	mr     *miniredis.Miniredis
	locker redisclient.Locker

	org        uuid.UUID
	provider1  uuid.UUID
	provider2  uuid.UUID
	patient1   uuid.UUID
	patient2   uuid.UUID
	scheduled  uuid.UUID
	checkedIn  uuid.UUID
	room       uuid.UUID
	equipment  uuid.UUID
	otherOrg   uuid.UUID
	otherStaff uuid.UUID
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemRepo()
	f := &fixture{repo: repo, events: &recordingEmitter{}, mr: mr}
	f.org = repo.addOrg()
	f.provider1 = repo.addProvider(f.org)
	f.provider2 = repo.addProvider(f.org)
	f.patient1 = repo.addPatient()
	f.patient2 = repo.addPatient()
	f.scheduled = repo.addStatus("scheduled")
	f.checkedIn = repo.addStatus("checked_in")
	f.room = repo.addResource(ResourceRoom, f.org)
	f.equipment = repo.addResource(ResourceEquipment, f.org)
	f.otherOrg = repo.addOrg()
	f.otherStaff = repo.addProvider(f.otherOrg)

	f.locker = redisclient.NewRedisSubjectLocker(client, 5*time.Second)
	f.svc = NewService(repo, f.locker, f.events, zerolog.Nop(), opts...)
	return f
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 6, 1, hour, minute, 0, 0, time.UTC)
}

func (f *fixture) appointment(provider, patient uuid.UUID, start, end time.Time) CreateAppointmentInput {
	return CreateAppointmentInput{
		OrganizationID: f.org,
		ProviderID:     provider,
		PatientID:      patient,
		StatusID:       f.scheduled,
		Type:           "consultation",
		StartTime:      start,
		EndTime:        end,
	}
}

func TestCreateAppointment_ProviderAndPatientScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateAppointment(ctx, f.appointment(f.provider1, f.patient1, at(9, 0), at(9, 30)))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	_, err = f.svc.CreateAppointment(ctx, f.appointment(f.provider1, f.patient2, at(9, 15), at(9, 45)))
	var conflict *SchedulingConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, SubjectProvider, conflict.Subject)
	assert.Equal(t, first.ID, conflict.ConflictingID)

	_, err = f.svc.CreateAppointment(ctx, f.appointment(f.provider2, f.patient1, at(9, 15), at(9, 45)))
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, SubjectPatient, conflict.Subject)
	assert.Equal(t, f.patient1, conflict.SubjectID)

	_, err = f.svc.CreateAppointment(ctx, f.appointment(f.provider2, f.patient2, at(9, 15), at(9, 45)))
	require.NoError(t, err)

	assert.Equal(t, []string{audit.ActionAppointmentCreated, audit.ActionAppointmentCreated}, f.events.actions())
}

func TestCreateAppointment_TouchingIntervals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAppointment(ctx, f.appointment(f.provider1, f.patient1, at(9, 0), at(10, 0)))
	require.NoError(t, err)
	_, err = f.svc.CreateAppointment(ctx, f.appointment(f.provider1, f.patient1, at(10, 0), at(11, 0)))
	require.NoError(t, err)
}

func TestCreateAppointment_EmptyIntervalAlwaysInvalid(t *testing.T) {
	f := newFixture(t)

	// Every other field is broken too; the interval error wins.
	in := CreateAppointmentInput{StartTime: at(9, 0), EndTime: at(9, 0)}
	_, err := f.svc.CreateAppointment(context.Background(), in)
	require.ErrorIs(t, err, ErrInvalidInterval)

	var ive *InvalidIntervalError
	require.ErrorAs(t, err, &ive)

	_, err = f.svc.CreateAppointment(context.Background(), f.appointment(f.provider1, f.patient1, at(10, 0), at(9, 0)))
	require.ErrorIs(t, err, ErrInvalidInterval)
	assert.Empty(t, f.events.actions())
}

func TestCreateAppointment_IntervalPolicy(t *testing.T) {
	now := at(12, 0)
	f := newFixture(t,
		WithIntervalPolicy(IntervalPolicy{RejectPast: true, MaxDuration: 2 * time.Hour}),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	_, err := f.svc.CreateAppointment(ctx, f.appointment(f.provider1, f.patient1, at(9, 0), at(9, 30)))
	require.ErrorIs(t, err, ErrInvalidInterval)

	_, err = f.svc.CreateAppointment(ctx, f.appointment(f.provider1, f.patient1, at(13, 0), at(16, 0)))
	require.ErrorIs(t, err, ErrInvalidInterval)

	_, err = f.svc.CreateAppointment(ctx, f.appointment(f.provider1, f.patient1, at(13, 0), at(14, 0)))
	require.NoError(t, err)
}

func TestCreateAppointment_ReferenceFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	foreignDept := f.repo.addDepartment(f.otherOrg)
	deletedPatient := f.repo.addPatient()
	f.repo.patients[deletedPatient].DeletedAt = deletedNow()

	tests := []struct {
		name   string
		mutate func(in *CreateAppointmentInput)
		kind   ReferenceKind
		reason string
	}{
		{"unknown organization", func(in *CreateAppointmentInput) { in.OrganizationID = uuid.New() }, RefOrganization, reasonMissing},
		{"department of another org", func(in *CreateAppointmentInput) { in.DepartmentID = &foreignDept }, RefDepartment, reasonForeignOrg},
		{"provider of another org", func(in *CreateAppointmentInput) { in.ProviderID = f.otherStaff }, RefProvider, reasonForeignOrg},
		{"deleted patient", func(in *CreateAppointmentInput) { in.PatientID = deletedPatient }, RefPatient, reasonInactive},
		{"unknown status", func(in *CreateAppointmentInput) { in.StatusID = uuid.New() }, RefStatus, reasonMissing},
		{"room without reservation", func(in *CreateAppointmentInput) { in.RoomID = &f.room }, RefRoom, reasonNotReserved},
		{"unknown equipment", func(in *CreateAppointmentInput) { id := uuid.New(); in.EquipmentID = &id }, RefEquipment, reasonMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := f.appointment(f.provider1, f.patient1, at(9, 0), at(9, 30))
			tt.mutate(&in)

			_, err := f.svc.CreateAppointment(ctx, in)
			require.ErrorIs(t, err, ErrReferenceNotFound)

			var ref *ReferenceNotFoundError
			require.ErrorAs(t, err, &ref)
			assert.Equal(t, tt.kind, ref.Kind)
			assert.Equal(t, tt.reason, ref.Reason)
		})
	}
	assert.Empty(t, f.repo.appointments)
}

func TestCreateAppointment_RequiresCoveringReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateRoomReservation(ctx, CreateReservationInput{
		OrganizationID: f.org,
		ResourceID:     f.room,
		Type:           "exam",
		StartTime:      at(9, 0),
		EndTime:        at(10, 0),
	})
	require.NoError(t, err)

	in := f.appointment(f.provider1, f.patient1, at(9, 0), at(9, 30))
	in.RoomID = &f.room
	_, err = f.svc.CreateAppointment(ctx, in)
	require.NoError(t, err)

	// Runs past the reservation.
	in = f.appointment(f.provider2, f.patient2, at(9, 30), at(10, 30))
	in.RoomID = &f.room
	_, err = f.svc.CreateAppointment(ctx, in)
	require.ErrorIs(t, err, ErrReferenceNotFound)
}

func TestCancelAppointment_IdempotentAndFreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.CreateAppointment(ctx, f.appointment(f.provider1, f.patient1, at(9, 0), at(9, 30)))
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelAppointment(ctx, appt.ID))
	first, err := f.svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	require.NotNil(t, first.DeletedAt)

	require.NoError(t, f.svc.CancelAppointment(ctx, appt.ID))
	second, err := f.svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, first.DeletedAt, second.DeletedAt)

	_, err = f.svc.CreateAppointment(ctx, f.appointment(f.provider1, f.patient1, at(9, 0), at(9, 30)))
	require.NoError(t, err)

	assert.Equal(t, []string{
		audit.ActionAppointmentCreated,
		audit.ActionAppointmentCancelled,
		audit.ActionAppointmentCreated,
	}, f.events.actions())
}

func TestCancelAppointment_Unknown(t *testing.T) {
	f := newFixture(t)
	err := f.svc.CancelAppointment(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrAppointmentNotFound)
}

// bookOverlapping fires n concurrent bookings for provider1, each for its
// own patient, with every interval overlapping all the others.
func (f *fixture) bookOverlapping(t *testing.T, svc *Service, n int) (int, []error) {
	t.Helper()

	patients := make([]uuid.UUID, n)
	for i := range patients {
		patients[i] = f.repo.addPatient()
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		failures []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := at(9, i)
			_, err := svc.CreateAppointment(context.Background(), f.appointment(f.provider1, patients[i], start, start.Add(30*time.Minute)))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
				return
			}
			failures = append(failures, err)
		}(i)
	}
	wg.Wait()
	return success, failures
}

func (f *fixture) activeProviderAppointments() int {
	f.repo.mu.RLock()
	defer f.repo.mu.RUnlock()
	n := 0
	for _, a := range f.repo.appointments {
		if a.ProviderID == f.provider1 && a.Active() {
			n++
		}
	}
	return n
}

func TestCreateAppointment_ConcurrentOverlapOneWins(t *testing.T) {
	f := newFixture(t)
	const workers = 8
	repo := newGatedRepo(f.repo, workers, 200*time.Millisecond)
	svc := NewService(repo, f.locker, f.events, zerolog.Nop())

	success, failures := f.bookOverlapping(t, svc, workers)

	assert.Equal(t, 1, success)
	assert.Equal(t, 1, f.activeProviderAppointments())
	for _, err := range failures {
		assert.True(t, errors.Is(err, ErrSchedulingConflict) || errors.Is(err, ErrConcurrency), "unexpected error: %v", err)
	}
}

func TestCreateAppointment_WithoutSubjectLocksDoubleBooks(t *testing.T) {
	f := newFixture(t)
	repo := newGatedRepo(f.repo, 2, 2*time.Second)
	svc := NewService(repo, unlockedLocker{}, nil, zerolog.Nop())

	success, failures := f.bookOverlapping(t, svc, 2)

	// Both check before either inserts, so both go through.
	assert.Empty(t, failures)
	assert.Equal(t, 2, success)
	assert.Equal(t, 2, f.activeProviderAppointments())
}

func TestCreateAppointment_SubjectLocksCloseTheRace(t *testing.T) {
	f := newFixture(t)
	repo := newGatedRepo(f.repo, 2, 200*time.Millisecond)
	svc := NewService(repo, f.locker, nil, zerolog.Nop())

	success, failures := f.bookOverlapping(t, svc, 2)

	assert.Equal(t, 1, success)
	require.Len(t, failures, 1)
	assert.True(t, errors.Is(failures[0], ErrSchedulingConflict) || errors.Is(failures[0], ErrConcurrency), "unexpected error: %v", failures[0])
	assert.Equal(t, 1, f.activeProviderAppointments())
}

func TestCreateAppointment_LockContentionIsConcurrencyError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mr.Set(redisclient.SubjectKey(f.org, string(SubjectProvider), f.provider1), "someone-else"))

	_, err := f.svc.CreateAppointment(context.Background(), f.appointment(f.provider1, f.patient1, at(9, 0), at(9, 30)))
	var ce *ConcurrencyError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, redisclient.ErrLockNotAcquired)
	assert.Equal(t, "create appointment", ce.Op)
}

func TestCreateAppointment_StoreRejectionIsConcurrencyError(t *testing.T) {
	f := newFixture(t)
	f.repo.failNext = fmt.Errorf("%w: could not serialize access", ErrConcurrentWrite)

	_, err := f.svc.CreateAppointment(context.Background(), f.appointment(f.provider1, f.patient1, at(9, 0), at(9, 30)))
	require.ErrorIs(t, err, ErrConcurrency)
	assert.Empty(t, f.events.actions())
}

func TestChangeAppointmentStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.CreateAppointment(ctx, f.appointment(f.provider1, f.patient1, at(9, 0), at(9, 30)))
	require.NoError(t, err)

	updated, err := f.svc.ChangeAppointmentStatus(ctx, appt.ID, f.checkedIn)
	require.NoError(t, err)
	assert.Equal(t, f.checkedIn, updated.StatusID)

	_, err = f.svc.ChangeAppointmentStatus(ctx, appt.ID, uuid.New())
	require.ErrorIs(t, err, ErrReferenceNotFound)

	require.NoError(t, f.svc.CancelAppointment(ctx, appt.ID))
	_, err = f.svc.ChangeAppointmentStatus(ctx, appt.ID, f.scheduled)
	require.ErrorIs(t, err, ErrAppointmentCancelled)
}

func TestChangeAppointmentStatus_TransitionTable(t *testing.T) {
	f := newFixture(t, WithTransitionPolicy(TransitionTable{"scheduled": {"checked_in"}}))
	ctx := context.Background()

	appt, err := f.svc.CreateAppointment(ctx, f.appointment(f.provider1, f.patient1, at(9, 0), at(9, 30)))
	require.NoError(t, err)

	_, err = f.svc.ChangeAppointmentStatus(ctx, appt.ID, f.checkedIn)
	require.NoError(t, err)

	_, err = f.svc.ChangeAppointmentStatus(ctx, appt.ID, f.scheduled)
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestReservations_ConflictPerResource(t *testing.T) {
	for _, kind := range []ResourceKind{ResourceRoom, ResourceEquipment} {
		t.Run(string(kind), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			resource := f.room
			if kind == ResourceEquipment {
				resource = f.equipment
			}
			in := CreateReservationInput{
				OrganizationID: f.org,
				ResourceID:     resource,
				Type:           "block",
				StartTime:      at(9, 0),
				EndTime:        at(10, 0),
			}

			first, err := f.svc.CreateReservation(ctx, kind, in)
			require.NoError(t, err)
			assert.Equal(t, kind, first.Kind)

			in.StartTime, in.EndTime = at(9, 30), at(10, 30)
			_, err = f.svc.CreateReservation(ctx, kind, in)
			var conflict *SchedulingConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, kind.Subject(), conflict.Subject)
			assert.Equal(t, first.ID, conflict.ConflictingID)

			in.StartTime, in.EndTime = at(10, 0), at(11, 0)
			_, err = f.svc.CreateReservation(ctx, kind, in)
			require.NoError(t, err)

			require.NoError(t, f.svc.CancelReservation(ctx, kind, first.ID))
			require.NoError(t, f.svc.CancelReservation(ctx, kind, first.ID))

			in.StartTime, in.EndTime = at(9, 0), at(10, 0)
			_, err = f.svc.CreateReservation(ctx, kind, in)
			require.NoError(t, err)
		})
	}
}

func TestReservations_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	foreignRoom := f.repo.addResource(ResourceRoom, f.otherOrg)
	_, err := f.svc.CreateRoomReservation(ctx, CreateReservationInput{
		OrganizationID: f.org, ResourceID: foreignRoom, Type: "exam", StartTime: at(9, 0), EndTime: at(10, 0),
	})
	var ref *ReferenceNotFoundError
	require.ErrorAs(t, err, &ref)
	assert.Equal(t, RefRoom, ref.Kind)
	assert.Equal(t, reasonForeignOrg, ref.Reason)

	// Equipment id used as a room.
	_, err = f.svc.CreateRoomReservation(ctx, CreateReservationInput{
		OrganizationID: f.org, ResourceID: f.equipment, Type: "exam", StartTime: at(9, 0), EndTime: at(10, 0),
	})
	require.ErrorIs(t, err, ErrReferenceNotFound)

	missing := uuid.New()
	_, err = f.svc.CreateEquipmentReservation(ctx, CreateReservationInput{
		OrganizationID: f.org, ResourceID: f.equipment, AppointmentID: &missing, Type: "scan",
		StartTime: at(9, 0), EndTime: at(10, 0),
	})
	require.ErrorAs(t, err, &ref)
	assert.Equal(t, RefAppointment, ref.Kind)

	_, err = f.svc.CreateEquipmentReservation(ctx, CreateReservationInput{
		OrganizationID: f.org, ResourceID: f.equipment, Type: "", StartTime: at(9, 0), EndTime: at(10, 0),
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.CreateReservation(ctx, ResourceKind("parking"), CreateReservationInput{})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestReservations_LinkedAppointmentAndAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.CreateAppointment(ctx, f.appointment(f.provider1, f.patient1, at(9, 0), at(9, 30)))
	require.NoError(t, err)

	res, err := f.svc.CreateEquipmentReservation(ctx, CreateReservationInput{
		OrganizationID: f.org, ResourceID: f.equipment, AppointmentID: &appt.ID, Type: "scan",
		StartTime: at(9, 0), EndTime: at(9, 30),
	})
	require.NoError(t, err)
	require.NotNil(t, res.AppointmentID)
	assert.Equal(t, appt.ID, *res.AppointmentID)

	got, err := f.svc.GetReservation(ctx, ResourceEquipment, res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.ID, got.ID)

	_, err = f.svc.GetReservation(ctx, ResourceRoom, res.ID)
	require.ErrorIs(t, err, ErrReservationNotFound)

	require.NoError(t, f.svc.CancelEquipmentReservation(ctx, res.ID))

	assert.Equal(t, []string{
		audit.ActionAppointmentCreated,
		audit.ActionEquipmentReservationCreated,
		audit.ActionEquipmentReservationCancelled,
	}, f.events.actions())
}

func TestWaitlist_UniquenessExcludesRemoved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.CreateAppointment(ctx, f.appointment(f.provider1, f.patient1, at(9, 0), at(9, 30)))
	require.NoError(t, err)

	entry, err := f.svc.JoinWaitlist(ctx, JoinWaitlistInput{AppointmentID: appt.ID, PatientID: f.patient2})
	require.NoError(t, err)
	assert.Equal(t, WaitlistActive, entry.Status)
	assert.False(t, entry.JoinTime.IsZero())

	_, err = f.svc.JoinWaitlist(ctx, JoinWaitlistInput{AppointmentID: appt.ID, PatientID: f.patient2})
	var dup *DuplicateWaitlistEntryError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, entry.ID, dup.ExistingID)

	require.NoError(t, f.svc.RemoveWaitlistEntry(ctx, entry.ID))
	require.NoError(t, f.svc.RemoveWaitlistEntry(ctx, entry.ID))

	again, err := f.svc.JoinWaitlist(ctx, JoinWaitlistInput{AppointmentID: appt.ID, PatientID: f.patient2})
	require.NoError(t, err)
	assert.NotEqual(t, entry.ID, again.ID)

	assert.Equal(t, []string{
		audit.ActionAppointmentCreated,
		audit.ActionWaitlistJoined,
		audit.ActionWaitlistRemoved,
		audit.ActionWaitlistJoined,
	}, f.events.actions())
}

func TestWaitlist_JoinValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.CreateAppointment(ctx, f.appointment(f.provider1, f.patient1, at(9, 0), at(9, 30)))
	require.NoError(t, err)

	joined := at(8, 0)
	notified := WaitlistNotified
	entry, err := f.svc.JoinWaitlist(ctx, JoinWaitlistInput{
		AppointmentID: appt.ID, PatientID: f.patient2, JoinTime: &joined, Status: &notified,
	})
	require.NoError(t, err)
	assert.Equal(t, joined, entry.JoinTime)
	assert.Equal(t, WaitlistNotified, entry.Status)

	bogus := WaitlistStatus("pending")
	_, err = f.svc.JoinWaitlist(ctx, JoinWaitlistInput{AppointmentID: appt.ID, PatientID: f.patient1, Status: &bogus})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.JoinWaitlist(ctx, JoinWaitlistInput{AppointmentID: uuid.New(), PatientID: f.patient1})
	require.ErrorIs(t, err, ErrReferenceNotFound)

	_, err = f.svc.JoinWaitlist(ctx, JoinWaitlistInput{AppointmentID: appt.ID, PatientID: uuid.New()})
	require.ErrorIs(t, err, ErrReferenceNotFound)

	require.NoError(t, f.svc.CancelAppointment(ctx, appt.ID))
	_, err = f.svc.JoinWaitlist(ctx, JoinWaitlistInput{AppointmentID: appt.ID, PatientID: f.patient1})
	var ref *ReferenceNotFoundError
	require.ErrorAs(t, err, &ref)
	assert.Equal(t, RefAppointment, ref.Kind)
	assert.Equal(t, reasonInactive, ref.Reason)

	err = f.svc.RemoveWaitlistEntry(ctx, uuid.New())
	require.ErrorIs(t, err, ErrWaitlistEntryNotFound)
}
