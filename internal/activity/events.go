package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventAttemptCompleted is emitted for every graded submission.
const EventAttemptCompleted = "attempt_completed"

// Event is a raw analytics event.
type Event struct {
	UserID         string         `json:"user_id"`
	EventType      string         `json:"event_type"`
	Activity       string         `json:"activity,omitempty"`
	Level          int            `json:"level,omitempty"`
	QuestionNo     int            `json:"question_no,omitempty"`
	Data           map[string]any `json:"data"`
	ClientMetadata map[string]any `json:"client_metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// EventLogger is a write-only analytics sink.
type EventLogger interface {
	LogEvent(ctx context.Context, event Event) error
}

// NopEventLogger ignores all events.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(context.Context, Event) error {
	return nil
}

// MemoryEventLogger stores events in memory for tests.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{
		events: []Event{},
	}
}

func (l *MemoryEventLogger) LogEvent(_ context.Context, event Event) error {
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

func (l *MemoryEventLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// PostgresEventLogger inserts events into the analytics_events table.
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLogger(pool *pgxpool.Pool) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool}
}

func (l *PostgresEventLogger) LogEvent(ctx context.Context, event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	data, err := marshalObject(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	meta, err := marshalObject(event.ClientMetadata)
	if err != nil {
		return fmt.Errorf("marshal client metadata: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := l.pool.Exec(ctx,
		`INSERT INTO analytics_events (user_id, event_type, activity, level, question_no, data, client_metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8)`,
		event.UserID,
		event.EventType,
		nullIfEmpty(event.Activity),
		nullIfZero(event.Level),
		nullIfZero(event.QuestionNo),
		string(data),
		string(meta),
		createdAt,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"type", event.EventType,
		"user_id", event.UserID,
		"activity", event.Activity,
	)
	return nil
}

// MultiEventLogger fans each event out to every logger and joins their
// errors.
type MultiEventLogger []EventLogger

func (m MultiEventLogger) LogEvent(ctx context.Context, event Event) error {
	var errs []error
	for _, l := range m {
		if err := l.LogEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const (
	defaultEventBuffer = 256
	eventWriteTimeout  = 3 * time.Second
)

// Recorder emits analytics events without blocking the caller. Events are
// queued on a bounded buffer and written by a single background goroutine;
// a full buffer drops the event and sink errors are only logged.
type Recorder struct {
	logger  EventLogger
	events  chan Event
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewRecorder starts a recorder writing to logger. buffer <= 0 uses the
// default size.
func NewRecorder(logger EventLogger, buffer int) *Recorder {
	if logger == nil {
		logger = NopEventLogger{}
	}
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	r := &Recorder{
		logger: logger,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Emit queues event. It never blocks.
func (r *Recorder) Emit(event Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.events <- event:
	default:
		r.dropped.Add(1)
		slog.Warn("analytics buffer full, dropping event",
			"type", event.EventType,
			"user_id", event.UserID,
		)
	}
}

// Dropped reports how many events were discarded because the buffer was
// full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be written, or
// for ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for event := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
		if err := r.logger.LogEvent(ctx, event); err != nil {
			slog.Warn("failed to record analytics event",
				"type", event.EventType,
				"user_id", event.UserID,
				"error", err,
			)
		}
		cancel()
	}
}

func marshalObject(v map[string]any) ([]byte, error) {
	if v == nil {
		v = map[string]any{}
	}
	return json.Marshal(v)
}
