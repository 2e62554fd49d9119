package atlas

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/portal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const leadBody = `{
	"id": "L-100",
	"channel": "whatsapp",
	"createdAt": "2024-05-01T10:15:00Z",
	"sender": {"name": "Jane Doe", "contacts": [
		{"type": "email", "value": "jane@example.com"},
		{"type": "phone", "value": "+971 50 123 4567"}
	]},
	"listing": {"id": 8812, "reference": "REF123"},
	"publicProfile": {"id": 77},
	"responseLink": "https://atlas.propertyfinder.com/leads/L-100"
}`

const userBody = `{"firstName": "Ali", "lastName": "Khan", "email": "ali@agency.ae", "mobile": "+971500000001",
	"publicProfile": {"id": 77, "name": "Ali K.", "phone": "+971 50 000 0002"}}`

const listingBody = `{"id": 8812, "reference": "REF123", "title": {"en": "Sea View 2BR"},
	"price": {"type": "sale", "amounts": {"sale": 2100000}},
	"bedrooms": "2", "size": 1180, "furnishingType": "unfurnished", "category": "residential",
	"type": "apartment", "verificationStatus": "verified", "qualityScore": {"value": 91},
	"products": ["featured", "premium"]}`

func TestParseEvent(t *testing.T) {
	a := New(Config{}, nil)

	ev, err := a.ParseEvent([]byte(`{"id":"evt-1","type":"lead.created","entity":{"id":"L-100","type":"lead"}}`))
	require.NoError(t, err)
	assert.True(t, ev.IsLeadCreated())
	assert.Equal(t, "evt-1", ev.EventID)
	assert.Equal(t, "L-100", ev.LeadID)
	assert.False(t, ev.HasLeadBody())

	ev, err = a.ParseEvent([]byte(`{"type":"lead.created","payload":` + leadBody + `}`))
	require.NoError(t, err)
	assert.Equal(t, "L-100", ev.LeadID)
	assert.True(t, ev.HasLeadBody())

	ev, err = a.ParseEvent([]byte(`{"type":"lead.assigned","entity":{"id":"L-1"}}`))
	require.NoError(t, err)
	assert.False(t, ev.IsLeadCreated())

	_, err = a.ParseEvent([]byte(`nope`))
	assert.Error(t, err)
}

func TestParseFlatPayload(t *testing.T) {
	a := New(Config{DefaultCurrency: "AED"}, nil)
	ev, err := a.ParseEvent([]byte(`{"name":"Flat Lead","email":"f@x.com","phone":"050 1","listing_id":"PF-1","budget":500000}`))
	require.NoError(t, err)
	assert.True(t, ev.IsLeadCreated())

	l, err := a.Normalize(ev, nil)
	require.NoError(t, err)
	assert.Equal(t, "Flat Lead", l.Name)
	assert.Equal(t, "0501", l.Phone)
	assert.Equal(t, "PF-1", l.ListingReference)
	assert.Equal(t, 500000.0, l.Price)
}

func TestVerifyAuthenticity(t *testing.T) {
	open := New(Config{}, nil)
	assert.NoError(t, open.VerifyAuthenticity(http.Header{}, nil))

	locked := New(Config{WebhookSecret: "shh"}, nil)
	h := http.Header{}
	assert.ErrorIs(t, locked.VerifyAuthenticity(h, nil), ErrBadAPIKey)
	h.Set(APIKeyHeader, "wrong")
	assert.ErrorIs(t, locked.VerifyAuthenticity(h, nil), ErrBadAPIKey)
	h.Set(APIKeyHeader, "shh")
	assert.NoError(t, locked.VerifyAuthenticity(h, nil))
}

func TestReferences(t *testing.T) {
	refs := New(Config{}, nil).References(json.RawMessage(leadBody))
	assert.Equal(t, portal.References{UserID: "77", ListingID: "8812"}, refs)
	assert.Equal(t, portal.References{}, New(Config{}, nil).References(nil))
}

func TestNormalizeEnriched(t *testing.T) {
	a := New(Config{DefaultCurrency: "AED"}, nil)
	ev, err := a.ParseEvent([]byte(`{"id":"evt-1","type":"lead.created","entity":{"id":"L-100"}}`))
	require.NoError(t, err)

	l, err := a.Normalize(ev, &portal.Enrichment{
		Lead:    json.RawMessage(leadBody),
		User:    json.RawMessage(userBody),
		Listing: json.RawMessage(listingBody),
	})
	require.NoError(t, err)

	assert.Equal(t, "Jane Doe", l.Name)
	assert.Equal(t, "jane@example.com", l.Email)
	assert.Equal(t, "+971501234567", l.Phone)
	assert.Equal(t, "+971501234567", l.WhatsApp)
	assert.Equal(t, "evt-1", l.EventID)
	assert.Equal(t, "Ali K.", l.Agent.Name)
	assert.Equal(t, "+971500000002", l.Agent.Phone)
	assert.Equal(t, "ali@agency.ae", l.Agent.Email)
	assert.Equal(t, "77", l.Agent.PortalID)
	assert.Equal(t, 2100000.0, l.Price)
	assert.Equal(t, "AED", l.Currency)
	assert.Equal(t, "2", l.Attributes.Bedrooms)
	assert.Equal(t, "verified", l.Attributes.VerificationStatus)
	assert.Equal(t, "featured, premium", l.Attributes.Product)
	require.NotNil(t, l.Attributes.QualityScore)
	assert.Equal(t, 91.0, *l.Attributes.QualityScore)
	assert.Equal(t, "Jane Doe | Sea View 2BR | REF123 (whatsapp)", l.DealTitle())
}

func TestNormalizeFallbackPayloadOnly(t *testing.T) {
	a := New(Config{DefaultCurrency: "AED"}, nil)
	ev, err := a.ParseEvent([]byte(`{"type":"lead.created","entity":{"id":"L-9"},"payload":{"id":"L-9"}}`))
	require.NoError(t, err)

	l, err := a.Normalize(ev, &portal.Enrichment{})
	require.NoError(t, err)
	assert.Equal(t, "Property Finder Lead", l.Name)
	assert.Zero(t, l.Price)
	assert.Equal(t, "Property Finder Lead", l.DealTitle())
}
