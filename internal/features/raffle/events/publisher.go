package events

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"raffle-engine/internal/features/raffle/models"
)

// Stream is the redis stream external indexers read events from.
const Stream = "raffle:events"

// Publisher emits events after a state change has been committed. It has
// no error return: a failed emission never undoes the change.
type Publisher interface {
	Publish(ctx context.Context, e models.Event)
}

type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, e models.Event) {
	ev := p.logger.Info().
		Str("event_id", e.ID).
		Str("event", string(e.Type)).
		Uint64("raffle_id", e.RaffleID)
	for k, v := range e.Data {
		ev = ev.Str(k, v)
	}
	ev.Msg("Raffle event")
}

// StreamPublisher appends events to a capped redis stream.
type StreamPublisher struct {
	client *redis.Client
	maxLen int64
	logger zerolog.Logger
}

func NewStreamPublisher(client *redis.Client, maxLen int64, logger zerolog.Logger) *StreamPublisher {
	return &StreamPublisher{client: client, maxLen: maxLen, logger: logger}
}

func (p *StreamPublisher) Publish(ctx context.Context, e models.Event) {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: Stream,
		MaxLen: p.maxLen,
		Approx: p.maxLen > 0,
		Values: e.Values(),
	}).Err()
	if err != nil {
		p.logger.Error().Err(err).Str("event", string(e.Type)).Uint64("raffle_id", e.RaffleID).Msg("Failed to publish event to stream")
	}
}

// Recorder keeps published events in memory so callers can inspect them.
// Only tests use it; the server publishes to the log and the stream.
type Recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(ctx context.Context, e models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

func (r *Recorder) OfType(t models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Multi fans an event out to several publishers in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e models.Event) {
	for _, p := range m {
		p.Publish(ctx, e)
	}
}
