package pipeline

import (
	"context"
	"errors"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/lead"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/portal"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/upstream"
	apperrors "github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/resilience"
)

var errNotIndexed = errors.New("lead not indexed upstream yet")

// enrich fetches what the webhook left out. Only a failure to obtain a
// token is fatal; anything else degrades to the embedded payload.
func (p *Pipeline) enrich(ctx context.Context, adapter portal.Enrichable, ev *lead.Event) (*portal.Enrichment, error) {
	log := logger.FromContext(ctx)
	out := &portal.Enrichment{}
	src := adapter.Enricher()
	if src == nil {
		return out, nil
	}
	name := string(adapter.Portal())

	if ev.LeadID != "" && !ev.HasLeadBody() {
		err := resilience.Retry(ctx, "fetch-lead", resilience.RetryConfig{
			MaxAttempts:  p.opts.EnrichAttempts,
			InitialDelay: p.opts.EnrichBackoff,
			Backoff:      resilience.BackoffLinear,
			Sleep:        p.opts.Sleep,
			OnRetry: func(int, error) {
				p.metrics.EnrichmentAttemptsTotal.WithLabelValues(name, "retry").Inc()
			},
		}, func(ctx context.Context) error {
			body, err := src.Lead(ctx, ev.LeadID)
			if err != nil {
				if fatalUpstream(err) {
					return resilience.Permanent(err)
				}
				return err
			}
			if len(body) == 0 {
				return errNotIndexed
			}
			out.Lead = body
			return nil
		})
		switch {
		case err == nil:
			p.metrics.EnrichmentAttemptsTotal.WithLabelValues(name, "hit").Inc()
		case fatalUpstream(err):
			return nil, apperrors.Wrap(apperrors.ErrUpstream, http.StatusInternalServerError, err)
		default:
			p.metrics.EnrichmentFallbacksTotal.WithLabelValues(name).Inc()
			log.Warn("lead lookup exhausted, using embedded payload", "lead_id", ev.LeadID, "error", err)
		}
	}

	refs := adapter.References(out.LeadBody(ev))
	if refs.UserID != "" {
		body, err := src.User(ctx, refs.UserID)
		if err != nil {
			if fatalUpstream(err) {
				return nil, apperrors.Wrap(apperrors.ErrUpstream, http.StatusInternalServerError, err)
			}
			log.Warn("user lookup failed", "public_profile_id", refs.UserID, "error", err)
		}
		out.User = body
	}
	if refs.ListingID != "" {
		body, err := src.Listing(ctx, refs.ListingID)
		if err != nil {
			if fatalUpstream(err) {
				return nil, apperrors.Wrap(apperrors.ErrUpstream, http.StatusInternalServerError, err)
			}
			log.Warn("listing lookup failed", "listing_id", refs.ListingID, "error", err)
		}
		out.Listing = body
	}
	return out, nil
}

// fatalUpstream is true for token failures and cancellation, which no
// amount of falling back can paper over.
func fatalUpstream(err error) bool {
	var authErr *upstream.AuthError
	return errors.As(err, &authErr) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
