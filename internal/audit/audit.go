// Package audit is the relay's best-effort trace of outbound calls and
// pipeline outcomes. Events are buffered and flushed in batches to one or
// more sinks; nothing here ever fails a request.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/metrics"
)

// Event is one audit record. It serializes as {time, message, data}.
type Event struct {
	Time    time.Time      `json:"time"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Sink delivers a batch of events somewhere durable.
type Sink interface {
	Name() string
	Write(ctx context.Context, events []Event) error
}

type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// Logger accumulates events and flushes them when a batch fills up or the
// flush interval passes, whichever comes first.
type Logger struct {
	sinks         []Sink
	eventCh       chan Event
	batchSize     int
	flushInterval time.Duration
	metrics       *metrics.Metrics
	now           func() time.Time
	logger        *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewLogger(sinks []Sink, cfg Config, m *metrics.Metrics) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	return &Logger{
		sinks:         sinks,
		eventCh:       make(chan Event, cfg.BufferSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		metrics:       m,
		now:           time.Now,
		logger:        slog.Default().With("component", "audit"),
		done:          make(chan struct{}),
	}
}

// Start launches the flush loop. Cancelling ctx drains the buffer with a
// short deadline and stops the loop.
func (l *Logger) Start(ctx context.Context) {
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(l.flushInterval)
		defer ticker.Stop()

		batch := make([]Event, 0, l.batchSize)
		for {
			select {
			case ev, ok := <-l.eventCh:
				if !ok {
					l.final(batch)
					return
				}
				batch = append(batch, ev)
				if len(batch) >= l.batchSize {
					l.flush(ctx, batch)
					batch = make([]Event, 0, l.batchSize)
				}
			case <-ticker.C:
				if len(batch) > 0 {
					l.flush(ctx, batch)
					batch = make([]Event, 0, l.batchSize)
				}
			case <-ctx.Done():
				l.final(l.drain(batch))
				return
			}
		}
	}()
	l.logger.Info("audit logger started",
		"sinks", len(l.sinks),
		"batch_size", l.batchSize,
		"flush_interval", l.flushInterval,
	)
}

// Log enqueues an event without blocking. When the buffer is full the event
// is dropped and counted. A nil Logger discards everything.
func (l *Logger) Log(message string, data map[string]any) {
	if l == nil {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.eventCh <- Event{Time: l.now().UTC(), Message: message, Data: data}:
	default:
		if l.metrics != nil {
			l.metrics.AuditEventsDroppedTotal.Inc()
		}
		l.logger.Warn("audit event dropped (buffer full)", "message", message)
	}
}

// Close stops accepting events, flushes what is buffered and waits for the
// loop to exit. Start must have been called.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.eventCh)
	}
	l.mu.Unlock()
	<-l.done
}

func (l *Logger) drain(batch []Event) []Event {
	for {
		select {
		case ev, ok := <-l.eventCh:
			if !ok {
				return batch
			}
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

func (l *Logger) final(batch []Event) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.flush(ctx, batch)
}

func (l *Logger) flush(ctx context.Context, batch []Event) {
	for _, s := range l.sinks {
		if err := s.Write(ctx, batch); err != nil {
			if l.metrics != nil {
				l.metrics.AuditSinkErrorsTotal.WithLabelValues(s.Name()).Inc()
			}
			l.logger.Error("audit flush failed",
				"sink", s.Name(),
				"batch_size", len(batch),
				"error", err,
			)
			continue
		}
	}
	l.logger.Debug("audit batch flushed", "events", len(batch))
}
