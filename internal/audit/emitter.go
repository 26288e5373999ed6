package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sink persists events for later delivery. PgOutbox is the production sink.
type Sink interface {
	Append(ctx context.Context, ev Event) error
}

// AsyncEmitter decouples request goroutines from the sink: Emit only does a
// non-blocking channel send, Run drains the channel into the sink.
type AsyncEmitter struct {
	events chan Event
	sink   Sink
	log    zerolog.Logger
	done   chan struct{}
}

func NewAsyncEmitter(sink Sink, bufferSize int, log zerolog.Logger) *AsyncEmitter {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &AsyncEmitter{
		events: make(chan Event, bufferSize),
		sink:   sink,
		log:    log.With().Str("component", "audit_emitter").Logger(),
		done:   make(chan struct{}),
	}
}

func (e *AsyncEmitter) Emit(_ context.Context, ev Event) {
	select {
	case e.events <- ev:
	default:
		e.log.Warn().
			Str("action", ev.Action).
			Str("target_id", ev.TargetID.String()).
			Msg("audit buffer full, dropping event")
	}
}

// Run drains events until ctx is done, then flushes what is still buffered.
// It blocks; start it in its own goroutine, exactly once.
func (e *AsyncEmitter) Run(ctx context.Context) {
	defer close(e.done)

	for {
		select {
		case ev := <-e.events:
			e.append(ctx, ev)
		case <-ctx.Done():
			e.flush()
			return
		}
	}
}

// Done is closed once Run has returned.
func (e *AsyncEmitter) Done() <-chan struct{} {
	return e.done
}

func (e *AsyncEmitter) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case ev := <-e.events:
			e.append(ctx, ev)
		default:
			return
		}
	}
}

func (e *AsyncEmitter) append(ctx context.Context, ev Event) {
	if err := e.sink.Append(context.WithoutCancel(ctx), ev); err != nil {
		e.log.Error().Err(err).
			Str("action", ev.Action).
			Str("target_type", ev.TargetType).
			Str("target_id", ev.TargetID.String()).
			Msg("failed to append audit event")
	}
}
