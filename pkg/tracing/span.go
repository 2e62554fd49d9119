// Package tracing times the steps of one unit of work carried in a context
// and logs them as a single structured record.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type contextKey string

const traceKey contextKey = "trace"

// Step is one timed stage of a trace.
type Step struct {
	Name     string
	Duration time.Duration
}

// Trace collects step timings for one unit of work.
type Trace struct {
	Name  string
	ID    string
	start time.Time
	now   func() time.Time

	mu    sync.Mutex
	steps []Step
}

// Start begins a trace and stores it in the returned context.
func Start(ctx context.Context, name, id string) (context.Context, *Trace) {
	t := &Trace{Name: name, ID: id, now: time.Now}
	t.start = t.now()
	return context.WithValue(ctx, traceKey, t), t
}

// FromContext returns the trace in ctx, or nil.
func FromContext(ctx context.Context) *Trace {
	t, _ := ctx.Value(traceKey).(*Trace)
	return t
}

// Measure starts timing a step of the trace in ctx. Calling the returned
// func records it. Without a trace it is a no-op.
func Measure(ctx context.Context, name string) func() {
	t := FromContext(ctx)
	if t == nil {
		return func() {}
	}
	began := t.now()
	return func() {
		d := t.now().Sub(began)
		t.mu.Lock()
		t.steps = append(t.steps, Step{Name: name, Duration: d})
		t.mu.Unlock()
	}
}

// Steps returns a copy of the recorded steps in completion order.
func (t *Trace) Steps() []Step {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Step(nil), t.steps...)
}

// Elapsed is the time since Start.
func (t *Trace) Elapsed() time.Duration {
	return t.now().Sub(t.start)
}

// Log writes the trace at debug level, one <step>_ms attribute per step.
func (t *Trace) Log(log *slog.Logger, attrs ...any) {
	if t == nil {
		return
	}
	attrs = append(attrs,
		"trace", t.Name,
		"trace_id", t.ID,
		"total_ms", t.Elapsed().Milliseconds(),
	)
	for _, s := range t.Steps() {
		attrs = append(attrs, s.Name+"_ms", s.Duration.Milliseconds())
	}
	log.Debug("trace", attrs...)
}
