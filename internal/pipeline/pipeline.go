// Package pipeline turns one verified portal webhook into CRM records:
// filter, dedupe, enrich, normalize, upsert the contact, create the deal and
// attach the audit note. One Pipeline serves every portal through
// portal.Adapter.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/crm"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/lead"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/portal"
	apperrors "github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/tracing"
)

// CRM is the subset of crm.Client the pipeline writes through.
type CRM interface {
	Search(ctx context.Context, resource crm.Resource, term, field string, exact bool) ([]crm.SearchItem, error)
	Create(ctx context.Context, resource crm.Resource, body any) (*crm.Record, error)
	Update(ctx context.Context, resource crm.Resource, id int64, body any) (*crm.Record, error)
}

// Outcome is the terminal state of one run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeIgnored Outcome = "ignored"
	OutcomeDeduped Outcome = "deduped"
	OutcomeFailed  Outcome = "failed"
)

// Result is what a successful, ignored or deduplicated run produced.
type Result struct {
	Outcome  Outcome
	PersonID int64
	DealID   int64
}

type Options struct {
	// PipelineID places new deals in a CRM pipeline; 0 leaves the CRM
	// default.
	PipelineID     int64
	EnrichAttempts int
	EnrichBackoff  time.Duration
	// Sleep replaces the backoff wait; tests pass a no-op.
	Sleep resilience.SleepFunc
}

type Pipeline struct {
	crm     CRM
	fields  crm.FieldKeys
	locker  Locker
	metrics *metrics.Metrics
	opts    Options
	logger  *slog.Logger
}

func New(client CRM, fields crm.FieldKeys, locker Locker, m *metrics.Metrics, opts Options) *Pipeline {
	if locker == nil {
		locker = NewMemoryLocker(30 * time.Second)
	}
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	if opts.EnrichAttempts <= 0 {
		opts.EnrichAttempts = 5
	}
	if opts.EnrichBackoff <= 0 {
		opts.EnrichBackoff = 500 * time.Millisecond
	}
	return &Pipeline{
		crm:     client,
		fields:  fields,
		locker:  locker,
		metrics: m,
		opts:    opts,
		logger:  slog.Default().With("component", "pipeline"),
	}
}

// Process runs one webhook through the pipeline. Errors carry their HTTP
// status through apperrors.HTTPStatusCode.
func (p *Pipeline) Process(ctx context.Context, adapter portal.Adapter, header http.Header, body []byte) (*Result, error) {
	name := string(adapter.Portal())
	ctx = logger.WithPortal(ctx, name)
	ctx, trace := tracing.Start(ctx, "pipeline", logger.RequestID(ctx))
	start := time.Now()

	res, err := p.process(ctx, adapter, header, body)

	outcome := OutcomeFailed
	if err == nil {
		outcome = res.Outcome
	}
	trace.Log(logger.FromContext(ctx), "outcome", string(outcome))
	p.metrics.LeadsProcessedTotal.WithLabelValues(name, string(outcome)).Inc()
	p.metrics.PipelineDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return res, err
}

func (p *Pipeline) process(ctx context.Context, adapter portal.Adapter, header http.Header, body []byte) (*Result, error) {
	log := logger.FromContext(ctx)

	if err := adapter.VerifyAuthenticity(header, body); err != nil {
		log.Warn("webhook rejected", "error", err)
		return nil, apperrors.Wrap(apperrors.ErrUnauthorized, http.StatusUnauthorized, err)
	}

	ev, err := adapter.ParseEvent(body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, http.StatusInternalServerError, err)
	}
	if !ev.IsLeadCreated() {
		log.Info("event ignored", "kind", ev.Kind, "event_id", ev.EventID)
		return &Result{Outcome: OutcomeIgnored}, nil
	}

	if key, ok := p.idempotencyKey(ev); ok {
		unlock, err := p.locker.Lock(ctx, "event:"+string(ev.Portal)+":"+ev.EventID)
		if err != nil {
			return nil, fmt.Errorf("serializing event %s: %w", ev.EventID, err)
		}
		defer unlock()

		done := tracing.Measure(ctx, "dedupe")
		dealID, err := p.findDeal(ctx, ev.EventID)
		done()
		if err != nil {
			return nil, err
		}
		if dealID != 0 {
			log.Info("event already processed", "event_id", ev.EventID, "deal_id", dealID, "field", key)
			return &Result{Outcome: OutcomeDeduped, DealID: dealID}, nil
		}
	}

	var enrichment *portal.Enrichment
	if e, ok := adapter.(portal.Enrichable); ok {
		done := tracing.Measure(ctx, "enrich")
		enrichment, err = p.enrich(ctx, e, ev)
		done()
		if err != nil {
			return nil, err
		}
	}

	l, err := adapter.Normalize(ev, enrichment)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, http.StatusInternalServerError, err)
	}

	done := tracing.Measure(ctx, "contact")
	personID, err := p.upsertContact(ctx, l)
	done()
	if err != nil {
		return nil, err
	}

	done = tracing.Measure(ctx, "deal")
	dealID, err := p.createDeal(ctx, l, personID)
	done()
	if err != nil {
		log.Error("deal create failed, contact kept", "person_id", personID, "error", err)
		return nil, err
	}

	done = tracing.Measure(ctx, "note")
	if err := p.attachNote(ctx, l, ev, personID, dealID); err != nil {
		log.Warn("note attach failed", "deal_id", dealID, "error", err)
	}
	done()

	log.Info("lead relayed",
		"event_id", ev.EventID,
		"person_id", personID,
		"deal_id", dealID,
	)
	return &Result{Outcome: OutcomeSuccess, PersonID: personID, DealID: dealID}, nil
}

// idempotencyKey reports whether ev can be deduplicated: it needs an event
// id and a CRM field to store it in.
func (p *Pipeline) idempotencyKey(ev *lead.Event) (string, bool) {
	if ev.EventID == "" {
		return "", false
	}
	return p.fields.Key(lead.FieldEventID)
}

func (p *Pipeline) findDeal(ctx context.Context, eventID string) (int64, error) {
	items, err := p.crm.Search(ctx, crm.ResourceDeals, eventID, crm.FieldCustomFields, true)
	if err != nil {
		return 0, fmt.Errorf("searching deals for event %s: %w", eventID, err)
	}
	if len(items) == 0 {
		return 0, nil
	}
	return items[0].ID, nil
}
