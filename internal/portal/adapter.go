// Package portal defines what the pipeline needs from each listing portal.
// Every portal implements Adapter once; the pipeline itself is shared.
package portal

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/lead"
)

// Capabilities describes which optional data a portal supplies.
type Capabilities struct {
	AgentData      bool
	ListingPrice   bool
	SignedPayloads bool
}

// Adapter is one portal's view of the pipeline.
type Adapter interface {
	Portal() lead.Portal
	Capabilities() Capabilities
	// VerifyAuthenticity checks the request against the portal's shared
	// secret. A non-nil error means the request must be rejected untouched.
	VerifyAuthenticity(header http.Header, body []byte) error
	ParseEvent(body []byte) (*lead.Event, error)
	// Normalize maps the event, plus whatever enrichment was fetched, onto
	// a Lead. It performs no I/O.
	Normalize(event *lead.Event, enrichment *Enrichment) (*lead.Lead, error)
}

// Enricher reads full records from a portal's API. Lookups return nil, nil
// when the portal has no such record (yet).
type Enricher interface {
	Lead(ctx context.Context, id string) (json.RawMessage, error)
	User(ctx context.Context, publicProfileID string) (json.RawMessage, error)
	Listing(ctx context.Context, id string) (json.RawMessage, error)
}

// References are the related-record ids a lead body points at.
type References struct {
	UserID    string
	ListingID string
}

// Enrichable is implemented by adapters whose portal exposes a read API.
type Enrichable interface {
	Adapter
	// Enricher returns nil when the read API is not configured.
	Enricher() Enricher
	References(leadBody json.RawMessage) References
}

// Enrichment carries what was fetched upstream. Nil fields were not
// fetched or not found.
type Enrichment struct {
	Lead    json.RawMessage
	User    json.RawMessage
	Listing json.RawMessage
}

// LeadBody returns the fetched lead, or the event's embedded payload when
// nothing was fetched.
func (e *Enrichment) LeadBody(event *lead.Event) json.RawMessage {
	if e != nil && len(e.Lead) > 0 {
		return e.Lead
	}
	return event.Payload
}
