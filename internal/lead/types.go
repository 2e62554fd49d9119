// Package lead defines the portal-independent shapes the relay works with: the
// inbound Event as parsed from a webhook and the normalized Lead that every
// portal adapter produces, together with the mapping rules shared by all
// portals (phone normalization, deal title, custom-field slots).
package lead

import (
	"encoding/json"
	"strings"
	"time"
)

// Portal identifies the listing site an event came from.
type Portal string

const (
	PortalAtlas    Portal = "propertyfinder"
	PortalBayut    Portal = "bayut"
	PortalDubizzle Portal = "dubizzle"
)

// KindCreated is the only event kind the pipeline acts on.
const KindCreated = "created"

// Event is a raw inbound lead notification. It lives for one request.
type Event struct {
	Portal  Portal
	Kind    string
	EventID string
	LeadID  string
	// Payload is the lead body embedded in the webhook, if any.
	Payload json.RawMessage
	// Raw is the exact request body.
	Raw []byte
}

// IsLeadCreated reports whether the event announces a new lead.
func (e *Event) IsLeadCreated() bool {
	return e.Kind == KindCreated
}

// HasLeadBody reports whether the embedded payload carries more than a bare
// identifier, i.e. whether it can be normalized without an upstream fetch.
func (e *Event) HasLeadBody() bool {
	if len(e.Payload) == 0 {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.Payload, &fields); err != nil {
		return false
	}
	for k, v := range fields {
		if k == "id" || string(v) == "null" {
			continue
		}
		return true
	}
	return false
}

// KindFromType reduces a portal event type such as "lead.created" or
// "LEAD_CREATED" to its verb. An empty type yields "".
func KindFromType(eventType string) string {
	t := strings.ToLower(strings.TrimSpace(eventType))
	if i := strings.LastIndexAny(t, "._:"); i >= 0 {
		t = t[i+1:]
	}
	return t
}

// Agent is the listing agent attached to a lead, when the portal exposes one.
type Agent struct {
	Name     string
	Phone    string
	Email    string
	PortalID string
}

// Attributes is the optional listing metadata bag.
type Attributes struct {
	Bedrooms           string
	Size               *float64
	Furnishing         string
	Category           string
	PropertyType       string
	VerificationStatus string
	QualityScore       *float64
	Product            string
}

// Lead is the normalized record the pipeline writes to the CRM. Name is
// always non-empty; every other field is optional.
type Lead struct {
	Portal           Portal
	EventID          string
	Name             string
	Email            string
	Phone            string
	Channel          string
	ListingReference string
	ListingTitle     string
	Price            float64
	Currency         string
	ResponseURL      string
	EnquiredAt       *time.Time
	WhatsApp         string
	// Message is the enquirer's free text, if the portal forwards it.
	Message    string
	Agent      Agent
	Attributes Attributes
}

// Contact identity used for CRM matching.
func (l *Lead) ContactKey() string {
	if l.Email != "" {
		return "email:" + strings.ToLower(l.Email)
	}
	if l.Phone != "" {
		return "phone:" + l.Phone
	}
	return ""
}
