package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/tenant-resource-scheduling/internal/scheduling"
)

// SchedulingService is the part of *scheduling.Service the handlers use.
type SchedulingService interface {
	CreateAppointment(ctx context.Context, in scheduling.CreateAppointmentInput) (*scheduling.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID) error
	ChangeAppointmentStatus(ctx context.Context, id, statusID uuid.UUID) (*scheduling.Appointment, error)

	CreateReservation(ctx context.Context, kind scheduling.ResourceKind, in scheduling.CreateReservationInput) (*scheduling.Reservation, error)
	GetReservation(ctx context.Context, kind scheduling.ResourceKind, id uuid.UUID) (*scheduling.Reservation, error)
	CancelReservation(ctx context.Context, kind scheduling.ResourceKind, id uuid.UUID) error

	JoinWaitlist(ctx context.Context, in scheduling.JoinWaitlistInput) (*scheduling.WaitlistEntry, error)
	GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*scheduling.WaitlistEntry, error)
	RemoveWaitlistEntry(ctx context.Context, id uuid.UUID) error
}

type RouterConfig struct {
	Service            SchedulingService
	PgPool             *pgxpool.Pool
	Redis              *redis.Client
	Logger             zerolog.Logger
	Env                string
	Version            string
	RateLimitPerMinute int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		if cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
		}
		r.Use(ActorMiddleware)

		svc := cfg.Service

		r.Post("/appointments", createAppointmentHandler(svc))
		r.Get("/appointments/{id}", getAppointmentHandler(svc))
		r.Delete("/appointments/{id}", cancelAppointmentHandler(svc))
		r.Patch("/appointments/{id}/status", changeAppointmentStatusHandler(svc))
		r.Post("/appointments/{id}/waitlist", joinWaitlistHandler(svc))

		r.Get("/waitlist/{id}", getWaitlistEntryHandler(svc))
		r.Delete("/waitlist/{id}", removeWaitlistEntryHandler(svc))

		r.Post("/rooms/{roomID}/reservations", createReservationHandler(svc, scheduling.ResourceRoom, "roomID"))
		r.Get("/room-reservations/{id}", getReservationHandler(svc, scheduling.ResourceRoom))
		r.Delete("/room-reservations/{id}", cancelReservationHandler(svc, scheduling.ResourceRoom))

		r.Post("/equipment/{equipmentID}/reservations", createReservationHandler(svc, scheduling.ResourceEquipment, "equipmentID"))
		r.Get("/equipment-reservations/{id}", getReservationHandler(svc, scheduling.ResourceEquipment))
		r.Delete("/equipment-reservations/{id}", cancelReservationHandler(svc, scheduling.ResourceEquipment))
	})

	return r
}
