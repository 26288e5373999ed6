package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	ActionAppointmentCreated            = "APPOINTMENT_CREATED"
	ActionAppointmentCancelled          = "APPOINTMENT_CANCELLED"
	ActionAppointmentStatusChanged      = "APPOINTMENT_STATUS_CHANGED"
	ActionRoomReservationCreated        = "ROOM_RESERVATION_CREATED"
	ActionRoomReservationCancelled      = "ROOM_RESERVATION_CANCELLED"
	ActionEquipmentReservationCreated   = "EQUIPMENT_RESERVATION_CREATED"
	ActionEquipmentReservationCancelled = "EQUIPMENT_RESERVATION_CANCELLED"
	ActionWaitlistJoined                = "WAITLIST_JOINED"
	ActionWaitlistRemoved               = "WAITLIST_REMOVED"
)

// Event is one record handed to the external audit sink.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	ActorID    *uuid.UUID      `json:"actor_id,omitempty"`
	Action     string          `json:"action"`
	TargetType string          `json:"target_type"`
	TargetID   uuid.UUID       `json:"target_id"`
	Context    json.RawMessage `json:"context,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewEvent stamps id, time and the actor carried by ctx. An unencodable
// context map is dropped rather than failing the caller.
func NewEvent(ctx context.Context, action, targetType string, targetID uuid.UUID, payload map[string]any) Event {
	ev := Event{
		ID:         uuid.New(),
		ActorID:    ActorFromContext(ctx),
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		OccurredAt: time.Now().UTC(),
	}
	if len(payload) > 0 {
		if data, err := json.Marshal(payload); err == nil {
			ev.Context = data
		}
	}
	return ev
}

// Emitter accepts events without blocking and never reports failure to the
// caller.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// NopEmitter discards everything.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) {}

type actorKey struct{}

func WithActor(ctx context.Context, actorID uuid.UUID) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

func ActorFromContext(ctx context.Context) *uuid.UUID {
	id, ok := ctx.Value(actorKey{}).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return nil
	}
	return &id
}
