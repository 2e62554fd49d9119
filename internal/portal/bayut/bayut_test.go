package bayut

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
	"event": "lead_created",
	"id": "bay-77",
	"enquirer": {"name": "Sara", "phone_number": "(050) 222-3333", "email": "sara@example.com", "contact_link": "https://bayut.com/c/1"},
	"agent": {"name": "Ahmed", "phone": "+971 4 555 0000", "email": "ahmed@agency.ae", "id": 314},
	"listing": {"reference": "BY-1", "title": "Downtown 1BR", "price": 1450000, "bedrooms": 1, "size": 820.5, "furnishing": "furnished", "category": "residential", "type": "apartment"},
	"channel": "whatsapp",
	"received_at": "2024-02-10T08:00:00Z"
}`

func TestParseEvent(t *testing.T) {
	a := New(Config{})
	ev, err := a.ParseEvent([]byte(sample))
	require.NoError(t, err)
	assert.True(t, ev.IsLeadCreated())
	assert.Equal(t, "bay-77", ev.EventID)
	assert.NoError(t, a.VerifyAuthenticity(http.Header{}, []byte(sample)))

	ev, err = a.ParseEvent([]byte(`{"enquirer":{"name":"x"}}`))
	require.NoError(t, err)
	assert.True(t, ev.IsLeadCreated(), "missing event type counts as created")

	_, err = a.ParseEvent([]byte(`{not json`))
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	a := New(Config{DefaultCurrency: "AED"})
	ev, err := a.ParseEvent([]byte(sample))
	require.NoError(t, err)

	l, err := a.Normalize(ev, nil)
	require.NoError(t, err)
	assert.Equal(t, "Sara", l.Name)
	assert.Equal(t, "0502223333", l.Phone)
	assert.Equal(t, "0502223333", l.WhatsApp)
	assert.Equal(t, "Ahmed", l.Agent.Name)
	assert.Equal(t, "+97145550000", l.Agent.Phone)
	assert.Equal(t, "314", l.Agent.PortalID)
	assert.Equal(t, 1450000.0, l.Price)
	assert.Equal(t, "1", l.Attributes.Bedrooms)
	require.NotNil(t, l.Attributes.Size)
	assert.Equal(t, 820.5, *l.Attributes.Size)
	assert.Equal(t, "https://bayut.com/c/1", l.ResponseURL)
	assert.Equal(t, "bay-77", l.EventID)
	assert.Equal(t, "Sara | Downtown 1BR | BY-1 (whatsapp)", l.DealTitle())
}

func TestNormalizeEmptyBody(t *testing.T) {
	a := New(Config{DefaultCurrency: "USD"})
	ev, err := a.ParseEvent([]byte(`{}`))
	require.NoError(t, err)
	l, err := a.Normalize(ev, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bayut Lead", l.Name)
	assert.Equal(t, "USD", l.Currency)
	assert.Nil(t, l.Attributes.Size)
}
