// Package events publishes job outcome events to a message exchange.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/jobworker/internal/codec"
	"github.com/cuongbtq/jobworker/internal/worker"
	"github.com/cuongbtq/jobworker/internal/worker/domain"
	"github.com/cuongbtq/jobworker/shared/rabbitmq"
	"github.com/google/uuid"
)

// Event types, also used as routing keys
const (
	TypeCompleted    = "job.completed"
	TypeFailed       = "job.failed"
	TypeUnhandled    = "job.unhandled"
	TypeReportFailed = "job.report_failed"
)

// ErrClosed is returned by Close when called twice
var ErrClosed = errors.New("event publisher closed")

// Event is the payload published for every reported job
type Event struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	JobKey       int64          `json:"job_key"`
	JobType      string         `json:"job_type"`
	Worker       string         `json:"worker"`
	Outcome      string         `json:"outcome"`
	Op           string         `json:"op,omitempty"`
	Dropped      bool           `json:"dropped,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ReportError  string         `json:"report_error,omitempty"`
	Retries      int32          `json:"retries"`
	Variables    map[string]any `json:"variables,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// Publisher sends one message to the broker
type Publisher interface {
	Publish(ctx context.Context, msg rabbitmq.Message) error
}

// Config configures the event observer
type Config struct {
	Logger    *slog.Logger
	Publisher Publisher
	Codec     codec.Codec
	// Buffer is the number of events queued before new ones are dropped
	Buffer int
	// PublishTimeout bounds a single publish
	PublishTimeout time.Duration
}

// Observer is a worker.Observer that publishes an Event for every report.
// Events are queued and published on a background goroutine so the job
// goroutine never waits on the broker.
type Observer struct {
	logger         *slog.Logger
	publisher      Publisher
	codec          codec.Codec
	publishTimeout time.Duration

	queue chan Event
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var _ worker.Observer = (*Observer)(nil)

// NewObserver starts the publishing goroutine
func NewObserver(cfg Config) (*Observer, error) {
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("events: publisher is required")
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.JSON{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	o := &Observer{
		logger:         cfg.Logger.With(slog.String("component", "events")),
		publisher:      cfg.Publisher,
		codec:          cfg.Codec,
		publishTimeout: cfg.PublishTimeout,
		queue:          make(chan Event, cfg.Buffer),
	}

	o.wg.Add(1)
	go o.run()

	return o, nil
}

// NewEvent builds the event describing a report
func NewEvent(rep worker.Report) Event {
	ev := Event{
		ID:           uuid.NewString(),
		JobKey:       rep.Job.Key,
		JobType:      rep.Job.Type,
		Worker:       rep.Job.Worker,
		Outcome:      rep.Outcome.Kind.String(),
		Op:           string(rep.Op),
		Dropped:      rep.Dropped(),
		ErrorMessage: rep.Outcome.ErrorMessage,
		Retries:      rep.Job.Retries,
		OccurredAt:   rep.ReportedAt.UTC(),
	}

	switch {
	case rep.Err != nil:
		ev.Type = TypeReportFailed
		ev.ReportError = rep.Err.Error()
	case rep.Outcome.Kind == domain.OutcomeComplete:
		ev.Type = TypeCompleted
		ev.Variables = rep.Outcome.Variables
	case rep.Outcome.Kind == domain.OutcomeFail:
		ev.Type = TypeFailed
	default:
		ev.Type = TypeUnhandled
	}

	return ev
}

// JobReported queues an event. It never blocks; when the queue is full
// the event is dropped and logged.
func (o *Observer) JobReported(_ context.Context, rep worker.Report) {
	ev := NewEvent(rep)

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return
	}

	select {
	case o.queue <- ev:
	default:
		o.logger.Warn("Event queue full, dropping event",
			slog.Int64("job_key", ev.JobKey),
			slog.String("type", ev.Type),
		)
	}
}

func (o *Observer) run() {
	defer o.wg.Done()
	for ev := range o.queue {
		o.publish(ev)
	}
}

func (o *Observer) publish(ev Event) {
	body, err := o.codec.Marshal(ev)
	if err != nil {
		o.logger.Error("Failed to encode event",
			slog.Int64("job_key", ev.JobKey),
			slog.Any("error", err),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.publishTimeout)
	defer cancel()

	err = o.publisher.Publish(ctx, rabbitmq.Message{
		RoutingKey:  ev.Type,
		ContentType: o.codec.ContentType(),
		MessageID:   ev.ID,
		Type:        ev.Type,
		Body:        body,
		Headers: map[string]any{
			"job_type": ev.JobType,
			"worker":   ev.Worker,
		},
		Timestamp: ev.OccurredAt,
	})
	if err != nil {
		o.logger.Error("Failed to publish job event",
			slog.Int64("job_key", ev.JobKey),
			slog.String("type", ev.Type),
			slog.Any("error", err),
		)
	}
}

// Close stops accepting events and waits until queued events are
// published or ctx is done
func (o *Observer) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to flush events: %w", ctx.Err())
	}
}
