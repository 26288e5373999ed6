package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/tenant-resource-scheduling/internal/audit"
	redisclient "github.com/hackgods/tenant-resource-scheduling/internal/redis"
)

const (
	targetAppointment = "appointment"
	targetWaitlist    = "waitlist_entry"
)

// Service runs every booking mutation as lock → serializable tx →
// validate → conflict check → write, then emits audit after commit.
type Service struct {
	repo        Repository
	locker      redisclient.Locker
	validator   *Validator
	detector    *ConflictDetector
	intervals   IntervalPolicy
	transitions TransitionPolicy
	audit       audit.Emitter
	log         zerolog.Logger
	now         func() time.Time
}

type Option func(*Service)

func WithIntervalPolicy(p IntervalPolicy) Option {
	return func(s *Service) { s.intervals = p }
}

func WithTransitionPolicy(p TransitionPolicy) Option {
	return func(s *Service) {
		if p != nil {
			s.transitions = p
		}
	}
}

// WithClock overrides time.Now, used for join times, soft deletes and the
// past-interval check.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, locker redisclient.Locker, emitter audit.Emitter, log zerolog.Logger, opts ...Option) *Service {
	if emitter == nil {
		emitter = audit.NopEmitter{}
	}
	s := &Service{
		repo:        repo,
		locker:      locker,
		validator:   NewValidator(repo),
		detector:    NewConflictDetector(repo),
		transitions: AnyTransition{},
		audit:       emitter,
		log:         log.With().Str("component", "scheduling").Logger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// atomically holds the subject locks for the whole transaction. Lock
// contention and store-level write rejections both surface as
// *ConcurrencyError.
func (s *Service) atomically(ctx context.Context, op string, keys []string, fn func(ctx context.Context) error) error {
	err := s.locker.WithSubjectLocks(ctx, keys, func(lockCtx context.Context) error {
		return s.repo.RunInTx(lockCtx, fn)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, redisclient.ErrLockNotAcquired) || errors.Is(err, ErrConcurrentWrite) {
		s.log.Debug().Err(err).Str("op", op).Msg("lost race")
		return &ConcurrencyError{Op: op, Err: err}
	}
	return err
}

func (s *Service) checkInterval(start, end time.Time) (Interval, error) {
	iv, err := NewInterval(start, end)
	if err != nil {
		return Interval{}, err
	}
	if err := s.intervals.Check(iv, s.now()); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

func requireType(t string) error {
	if strings.TrimSpace(t) == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidInput)
	}
	return nil
}

// emit is fire-and-forget; the emitter never blocks or fails the caller.
func (s *Service) emit(ctx context.Context, action, targetType string, targetID uuid.UUID, payload map[string]any) {
	s.audit.Emit(ctx, audit.NewEvent(ctx, action, targetType, targetID, payload))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
