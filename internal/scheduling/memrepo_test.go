package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

// memRepo is an in-memory Repository. RunInTx gives no isolation: reads and
// writes from concurrent transactions interleave freely and nothing is rolled
// back, so only the subject locks keep check-then-insert atomic.
type memRepo struct {
	mu sync.RWMutex

	orgs         map[uuid.UUID]*Organization
	departments  map[uuid.UUID]*Department
	providers    map[uuid.UUID]*Provider
	patients     map[uuid.UUID]*Patient
	statuses     map[uuid.UUID]*AppointmentStatus
	resources    map[uuid.UUID]*Resource
	appointments map[uuid.UUID]*Appointment
	reservations map[uuid.UUID]*Reservation
	waitlist     map[uuid.UUID]*WaitlistEntry

	// failNext, when set, is returned by the next RunInTx.
	failNext error
}

func newMemRepo() *memRepo {
	return &memRepo{
		orgs:         map[uuid.UUID]*Organization{},
		departments:  map[uuid.UUID]*Department{},
		providers:    map[uuid.UUID]*Provider{},
		patients:     map[uuid.UUID]*Patient{},
		statuses:     map[uuid.UUID]*AppointmentStatus{},
		resources:    map[uuid.UUID]*Resource{},
		appointments: map[uuid.UUID]*Appointment{},
		reservations: map[uuid.UUID]*Reservation{},
		waitlist:     map[uuid.UUID]*WaitlistEntry{},
	}
}

func (m *memRepo) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	err := m.failNext
	m.failNext = nil
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(ctx)
}

// Directory

func (m *memRepo) GetOrganization(_ context.Context, id uuid.UUID) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if o, ok := m.orgs[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *memRepo) GetDepartment(_ context.Context, id uuid.UUID) (*Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.departments[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *memRepo) GetProvider(_ context.Context, id uuid.UUID) (*Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.providers[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *memRepo) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.patients[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *memRepo) GetAppointmentStatus(_ context.Context, id uuid.UUID) (*AppointmentStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.statuses[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *memRepo) GetResource(_ context.Context, kind ResourceKind, id uuid.UUID) (*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.resources[id]; ok && r.Kind == kind {
		cp := *r
		return &cp, nil
	}
	return nil, ErrNotFound
}

// Bookings

func (m *memRepo) ActiveBookings(_ context.Context, kind SubjectKind, orgID, subjectID uuid.UUID, window Interval) ([]Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Booking
	switch kind {
	case SubjectProvider, SubjectPatient:
		for _, a := range m.appointments {
			subject := a.ProviderID
			if kind == SubjectPatient {
				subject = a.PatientID
			}
			if a.OrganizationID == orgID && subject == subjectID && a.Active() && a.Interval().Overlaps(window) {
				out = append(out, Booking{ID: a.ID, Interval: a.Interval()})
			}
		}
	case SubjectRoom, SubjectEquipment:
		for _, r := range m.reservations {
			if r.Kind.Subject() == kind && r.OrganizationID == orgID && r.ResourceID == subjectID &&
				r.Active() && r.Interval().Overlaps(window) {
				out = append(out, Booking{ID: r.ID, Interval: r.Interval()})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Interval.Start.Before(out[j].Interval.Start) })
	return out, nil
}

func (m *memRepo) InsertAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	a.ID = uuid.New()
	a.CreatedAt, a.UpdatedAt = now, now
	m.appointments[a.ID] = &a
	cp := a
	return &cp, nil
}

func (m *memRepo) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.appointments[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, ErrAppointmentNotFound
}

func (m *memRepo) SoftDeleteAppointment(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok || !a.Active() {
		return false, nil
	}
	a.DeletedAt = &at
	return true, nil
}

func (m *memRepo) UpdateAppointmentStatus(_ context.Context, id, statusID uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok || !a.Active() {
		return nil, ErrAppointmentNotFound
	}
	a.StatusID = statusID
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	return &cp, nil
}

func (m *memRepo) InsertReservation(_ context.Context, r Reservation) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	r.ID = uuid.New()
	r.CreatedAt, r.UpdatedAt = now, now
	m.reservations[r.ID] = &r
	cp := r
	return &cp, nil
}

func (m *memRepo) GetReservation(_ context.Context, kind ResourceKind, id uuid.UUID) (*Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.reservations[id]; ok && r.Kind == kind {
		cp := *r
		return &cp, nil
	}
	return nil, ErrReservationNotFound
}

func (m *memRepo) SoftDeleteReservation(_ context.Context, kind ResourceKind, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok || r.Kind != kind || !r.Active() {
		return false, nil
	}
	r.DeletedAt = &at
	return true, nil
}

func (m *memRepo) FindCoveringReservation(_ context.Context, kind ResourceKind, orgID, resourceID uuid.UUID, iv Interval) (*Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.reservations {
		if r.Kind == kind && r.OrganizationID == orgID && r.ResourceID == resourceID &&
			r.Active() && r.Interval().Covers(iv) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrReservationNotFound
}

func (m *memRepo) InsertWaitlistEntry(_ context.Context, e WaitlistEntry) (*WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	e.ID = uuid.New()
	e.CreatedAt, e.UpdatedAt = now, now
	m.waitlist[e.ID] = &e
	cp := e
	return &cp, nil
}

func (m *memRepo) GetWaitlistEntry(_ context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.waitlist[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, ErrWaitlistEntryNotFound
}

func (m *memRepo) FindOpenWaitlistEntry(_ context.Context, appointmentID, patientID uuid.UUID) (*WaitlistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.waitlist {
		if e.AppointmentID == appointmentID && e.PatientID == patientID && e.Status != WaitlistRemoved {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrWaitlistEntryNotFound
}

func (m *memRepo) UpdateWaitlistStatus(_ context.Context, id uuid.UUID, status WaitlistStatus) (*WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.waitlist[id]
	if !ok {
		return nil, ErrWaitlistEntryNotFound
	}
	e.Status = status
	e.UpdatedAt = time.Now().UTC()
	cp := *e
	return &cp, nil
}

// Fixture helpers

func (m *memRepo) addOrg() uuid.UUID {
	id := uuid.New()
	m.orgs[id] = &Organization{ID: id, Name: gofakeit.Company()}
	return id
}

func (m *memRepo) addDepartment(orgID uuid.UUID) uuid.UUID {
	id := uuid.New()
	m.departments[id] = &Department{ID: id, OrganizationID: orgID, Name: gofakeit.JobDescriptor()}
	return id
}

func (m *memRepo) addProvider(orgID uuid.UUID) uuid.UUID {
	id := uuid.New()
	m.providers[id] = &Provider{ID: id, UserID: uuid.New(), OrganizationID: orgID, DisplayName: "Dr. " + gofakeit.LastName()}
	return id
}

func (m *memRepo) addPatient() uuid.UUID {
	id := uuid.New()
	m.patients[id] = &Patient{ID: id, FullName: gofakeit.Name()}
	return id
}

func (m *memRepo) addStatus(code string) uuid.UUID {
	id := uuid.New()
	m.statuses[id] = &AppointmentStatus{ID: id, Code: code, Label: code}
	return id
}

func (m *memRepo) addResource(kind ResourceKind, orgID uuid.UUID) uuid.UUID {
	id := uuid.New()
	m.resources[id] = &Resource{ID: id, Kind: kind, OrganizationID: orgID, Name: string(kind)}
	return id
}

func deletedNow() *time.Time {
	t := time.Now().UTC()
	return &t
}

// gatedRepo parks every provider conflict read until parties callers have
// read or wait elapses, so concurrent bookings all check before any inserts.
type gatedRepo struct {
	Repository
	parties int
	wait    time.Duration

	mu      sync.Mutex
	arrived int
	open    chan struct{}
}

func newGatedRepo(repo Repository, parties int, wait time.Duration) *gatedRepo {
	return &gatedRepo{Repository: repo, parties: parties, wait: wait, open: make(chan struct{})}
}

func (g *gatedRepo) ActiveBookings(ctx context.Context, kind SubjectKind, orgID, subjectID uuid.UUID, window Interval) ([]Booking, error) {
	out, err := g.Repository.ActiveBookings(ctx, kind, orgID, subjectID, window)
	if kind != SubjectProvider {
		return out, err
	}

	g.mu.Lock()
	g.arrived++
	if g.arrived == g.parties {
		close(g.open)
	}
	g.mu.Unlock()

	timer := time.NewTimer(g.wait)
	defer timer.Stop()
	select {
	case <-g.open:
	case <-timer.C:
	case <-ctx.Done():
	}
	return out, err
}

// unlockedLocker runs fn without taking any lock.
type unlockedLocker struct{}

func (unlockedLocker) WithSubjectLocks(ctx context.Context, _ []string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
