package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/crm"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/portal/atlas"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/portal/bayut"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/portal/dubizzle"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/upstream"
	apperrors "github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/metrics"
)

const eventKey = "evt_field"

// fakeCRM keeps records in memory and answers searches the way the CRM's
// exact-match search does.
type fakeCRM struct {
	mu       sync.Mutex
	nextID   int64
	records  map[crm.Resource]map[int64]map[string]any
	writes   []string
	searches int
	fail     map[crm.Resource]error
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		nextID: 100,
		records: map[crm.Resource]map[int64]map[string]any{
			crm.ResourcePersons: {},
			crm.ResourceDeals:   {},
			crm.ResourceNotes:   {},
		},
		fail: map[crm.Resource]error{},
	}
}

func toMap(body any) map[string]any {
	raw, _ := json.Marshal(body)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

func hasValue(list any, term string) bool {
	items, _ := list.([]any)
	for _, it := range items {
		if m, ok := it.(map[string]any); ok && m["value"] == term {
			return true
		}
	}
	return false
}

func (f *fakeCRM) Search(_ context.Context, resource crm.Resource, term, field string, _ bool) ([]crm.SearchItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	var out []crm.SearchItem
	for id, rec := range f.records[resource] {
		match := false
		switch field {
		case crm.FieldEmail, crm.FieldPhone:
			match = hasValue(rec[field], term)
		case crm.FieldCustomFields:
			match = rec[eventKey] == term
		}
		if match {
			out = append(out, crm.SearchItem{ID: id})
		}
	}
	return out, nil
}

func (f *fakeCRM) Create(_ context.Context, resource crm.Resource, body any) (*crm.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[resource]; err != nil {
		return nil, err
	}
	f.nextID++
	f.records[resource][f.nextID] = toMap(body)
	f.writes = append(f.writes, "create "+string(resource))
	return &crm.Record{ID: f.nextID}, nil
}

func (f *fakeCRM) Update(_ context.Context, resource crm.Resource, id int64, body any) (*crm.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[resource][id]
	if !ok {
		return nil, &crm.HTTPError{Status: http.StatusNotFound}
	}
	for k, v := range toMap(body) {
		rec[k] = v
	}
	f.writes = append(f.writes, "update "+string(resource))
	return &crm.Record{ID: id}, nil
}

func (f *fakeCRM) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeCRM) count(resource crm.Resource) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records[resource])
}

// fakeEnricher serves lead bodies from a queue of responses.
type fakeEnricher struct {
	mu        sync.Mutex
	leads     []json.RawMessage
	leadErr   error
	leadCalls int
	user      json.RawMessage
	listing   json.RawMessage

	userErr      error
	listingErr   error
	userCalls    int
	listingCalls int
}

func (e *fakeEnricher) Lead(context.Context, string) (json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leadCalls++
	if e.leadErr != nil {
		return nil, e.leadErr
	}
	if len(e.leads) == 0 {
		return nil, nil
	}
	next := e.leads[0]
	e.leads = e.leads[1:]
	return next, nil
}

func (e *fakeEnricher) User(context.Context, string) (json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.userCalls++
	if e.userErr != nil {
		return nil, e.userErr
	}
	return e.user, nil
}

func (e *fakeEnricher) Listing(context.Context, string) (json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listingCalls++
	if e.listingErr != nil {
		return nil, e.listingErr
	}
	return e.listing, nil
}

type harness struct {
	crm     *fakeCRM
	metrics *metrics.Metrics
	delays  []time.Duration
	p       *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{crm: newFakeCRM(), metrics: metrics.New(prometheus.NewRegistry())}
	keys, err := crm.NewFieldKeys(map[string]string{"event_id": eventKey, "listing_price": "price_field"})
	require.NoError(t, err)
	h.p = New(h.crm, keys, NewMemoryLocker(0), h.metrics, Options{
		PipelineID: 3,
		Sleep: func(_ context.Context, d time.Duration) error {
			h.delays = append(h.delays, d)
			return nil
		},
	})
	return h
}

const bayutBody = `{"id":"bay-1","enquirer":{"name":"Sara","phone_number":"050 111","email":"sara@example.com"},
	"listing":{"reference":"BY-1","title":"Loft","price":900000},"channel":"call"}`

func TestNonCreatedEventIsIgnoredWithoutWrites(t *testing.T) {
	h := newHarness(t)
	a := atlas.New(atlas.Config{}, &fakeEnricher{})

	res, err := h.p.Process(context.Background(), a, http.Header{}, []byte(`{"id":"e1","type":"lead.updated","entity":{"id":"L1"}}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Zero(t, h.crm.writeCount())
	assert.Zero(t, h.crm.searches)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LeadsProcessedTotal.WithLabelValues("propertyfinder", "ignored")))
}

func TestResubmissionIsDeduplicated(t *testing.T) {
	h := newHarness(t)
	a := bayut.New(bayut.Config{DefaultCurrency: "AED"})
	ctx := context.Background()

	first, err := h.p.Process(ctx, a, http.Header{}, []byte(bayutBody))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, first.Outcome)
	writes := h.crm.writeCount()
	assert.Equal(t, 3, writes, "person, deal, note")

	second, err := h.p.Process(ctx, a, http.Header{}, []byte(bayutBody))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeduped, second.Outcome)
	assert.Equal(t, first.DealID, second.DealID)
	assert.Equal(t, writes, h.crm.writeCount())
}

func TestConcurrentResubmissionCreatesOneDeal(t *testing.T) {
	h := newHarness(t)
	a := bayut.New(bayut.Config{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.p.Process(context.Background(), a, http.Header{}, []byte(bayutBody))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, h.crm.count(crm.ResourceDeals))
	assert.Equal(t, 1, h.crm.count(crm.ResourcePersons))
}

func TestEventWithoutIDIsNotDeduplicated(t *testing.T) {
	h := newHarness(t)
	a := bayut.New(bayut.Config{})
	body := []byte(`{"enquirer":{"name":"Sara","email":"sara@example.com"}}`)

	_, err := h.p.Process(context.Background(), a, http.Header{}, body)
	require.NoError(t, err)
	_, err = h.p.Process(context.Background(), a, http.Header{}, body)
	require.NoError(t, err)
	assert.Equal(t, 2, h.crm.count(crm.ResourceDeals))
	assert.Equal(t, 1, h.crm.count(crm.ResourcePersons))
}

func TestEmailMatchUpdatesExistingContact(t *testing.T) {
	h := newHarness(t)
	existing, err := h.crm.Create(context.Background(), crm.ResourcePersons, map[string]any{
		"name":  "Old Name",
		"email": contactList("a@x.com"),
		"phone": contactList("+971500000000"),
	})
	require.NoError(t, err)

	a := bayut.New(bayut.Config{})
	res, err := h.p.Process(context.Background(), a, http.Header{},
		[]byte(`{"enquirer":{"name":"New Name","email":"a@x.com","phone_number":"+971 55 999 9999"}}`))
	require.NoError(t, err)

	assert.Equal(t, existing.ID, res.PersonID)
	assert.Equal(t, 1, h.crm.count(crm.ResourcePersons))
	person := h.crm.records[crm.ResourcePersons][existing.ID]
	assert.Equal(t, "New Name", person["name"])
	assert.True(t, hasValue(person["phone"], "+971559999999"))
}

func TestPhoneMatchWhenNoEmail(t *testing.T) {
	h := newHarness(t)
	existing, err := h.crm.Create(context.Background(), crm.ResourcePersons, map[string]any{
		"name":  "Caller",
		"phone": contactList("0501234567"),
	})
	require.NoError(t, err)

	res, err := h.p.Process(context.Background(), bayut.New(bayut.Config{}), http.Header{},
		[]byte(`{"enquirer":{"phone_number":"050-123-4567"}}`))
	require.NoError(t, err)
	assert.Equal(t, existing.ID, res.PersonID)
}

func TestDealPayload(t *testing.T) {
	h := newHarness(t)
	res, err := h.p.Process(context.Background(), bayut.New(bayut.Config{DefaultCurrency: "AED"}), http.Header{}, []byte(bayutBody))
	require.NoError(t, err)

	deal := h.crm.records[crm.ResourceDeals][res.DealID]
	assert.Equal(t, "Sara | Loft | BY-1 (call)", deal["title"])
	assert.EqualValues(t, res.PersonID, deal["person_id"])
	assert.EqualValues(t, 3, deal["pipeline_id"])
	assert.EqualValues(t, 900000, deal["value"])
	assert.Equal(t, "AED", deal["currency"])
	assert.EqualValues(t, 900000, deal["price_field"])
	assert.Equal(t, "bay-1", deal[eventKey])
}

func TestEnrichmentFallsBackAfterFiveEmptyReads(t *testing.T) {
	h := newHarness(t)
	enricher := &fakeEnricher{}
	a := atlas.New(atlas.Config{DefaultCurrency: "AED"}, enricher)

	res, err := h.p.Process(context.Background(), a, http.Header{},
		[]byte(`{"id":"evt-9","type":"lead.created","entity":{"id":"L-9"},"payload":{"id":"L-9"}}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 5, enricher.leadCalls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second, 1500 * time.Millisecond, 2 * time.Second}, h.delays)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EnrichmentFallbacksTotal.WithLabelValues("propertyfinder")))

	deal := h.crm.records[crm.ResourceDeals][res.DealID]
	assert.Equal(t, "Property Finder Lead", deal["title"])
}

func TestEnrichmentSucceedsOnLaterAttempt(t *testing.T) {
	h := newHarness(t)
	enricher := &fakeEnricher{
		leads: []json.RawMessage{nil, nil, json.RawMessage(`{"id":"L-1","channel":"email",
			"sender":{"name":"Jane Doe","contacts":[{"type":"email","value":"jane@example.com"}]},
			"listing":{"id":5,"reference":"REF123"},"publicProfile":{"id":77}}`)},
		user:    json.RawMessage(`{"publicProfile":{"id":77,"name":"Agent A"}}`),
		listing: json.RawMessage(`{"title":{"en":"Sea View 2BR"},"price":{"type":"sale","amounts":{"sale":100}}}`),
	}
	a := atlas.New(atlas.Config{}, enricher)

	res, err := h.p.Process(context.Background(), a, http.Header{}, []byte(`{"type":"lead.created","entity":{"id":"L-1"}}`))
	require.NoError(t, err)
	assert.Equal(t, 3, enricher.leadCalls)

	deal := h.crm.records[crm.ResourceDeals][res.DealID]
	assert.Equal(t, "Jane Doe | Sea View 2BR | REF123 (email)", deal["title"])
	assert.EqualValues(t, 100, deal["value"])
}

func TestUserAndListingMissesLeaveFieldsEmpty(t *testing.T) {
	h := newHarness(t)
	keys, err := crm.NewFieldKeys(map[string]string{
		"agent_name":  "agent_field",
		"agent_email": "agent_email_field",
		"title":       "title_field",
		"bedrooms":    "bedrooms_field",
	})
	require.NoError(t, err)
	h.p.fields = keys

	enricher := &fakeEnricher{
		leads: []json.RawMessage{json.RawMessage(`{"id":"L-2","sender":{"name":"Ali"},
			"listing":{"id":8,"reference":"REF8"},"publicProfile":{"id":42}}`)},
		userErr:    &upstream.HTTPError{Status: http.StatusNotFound},
		listingErr: &upstream.HTTPError{Status: http.StatusServiceUnavailable},
	}
	a := atlas.New(atlas.Config{}, enricher)

	res, err := h.p.Process(context.Background(), a, http.Header{}, []byte(`{"type":"lead.created","entity":{"id":"L-2"}}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, enricher.userCalls, "user lookup is not retried")
	assert.Equal(t, 1, enricher.listingCalls, "listing lookup is not retried")
	assert.Empty(t, h.delays)

	deal := h.crm.records[crm.ResourceDeals][res.DealID]
	for _, key := range []string{"agent_field", "agent_email_field", "title_field", "bedrooms_field"} {
		v, ok := deal[key]
		assert.True(t, ok, "%s is written", key)
		assert.Nil(t, v, key)
	}
	assert.Equal(t, "Ali | REF8", deal["title"])
}

func TestTokenFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	enricher := &fakeEnricher{leadErr: &upstream.AuthError{Reason: "no token"}}
	a := atlas.New(atlas.Config{}, enricher)

	_, err := h.p.Process(context.Background(), a, http.Header{}, []byte(`{"type":"lead.created","entity":{"id":"L-1"}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatusCode(err))
	assert.Equal(t, 1, enricher.leadCalls, "auth failures are not retried")
	assert.Zero(t, h.crm.writeCount())
}

func TestBadSignatureIsRejectedWithoutWrites(t *testing.T) {
	h := newHarness(t)
	a := dubizzle.New(dubizzle.Config{SigningSecret: "s"})
	body := []byte(`{"enquirer":{"name":"Omar","email":"o@example.com"}}`)

	header := http.Header{}
	header.Set(dubizzle.SignatureHeader, "deadbeef")
	_, err := h.p.Process(context.Background(), a, header, body)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, apperrors.HTTPStatusCode(err))
	assert.Zero(t, h.crm.writeCount())
	assert.Zero(t, h.crm.searches)

	header.Set(dubizzle.SignatureHeader, dubizzle.Sign("s", body))
	res, err := h.p.Process(context.Background(), a, header, body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestNoteFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.crm.fail[crm.ResourceNotes] = &crm.CommandError{Resource: crm.ResourceNotes, Op: "create"}

	res, err := h.p.Process(context.Background(), bayut.New(bayut.Config{}), http.Header{}, []byte(bayutBody))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.NotZero(t, res.DealID)
	assert.Zero(t, h.crm.count(crm.ResourceNotes))
}

func TestDealFailureKeepsContact(t *testing.T) {
	h := newHarness(t)
	h.crm.fail[crm.ResourceDeals] = &crm.CommandError{Resource: crm.ResourceDeals, Op: "create", Message: "bad pipeline"}

	_, err := h.p.Process(context.Background(), bayut.New(bayut.Config{}), http.Header{}, []byte(bayutBody))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDeal)
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatusCode(err))
	assert.Contains(t, err.Error(), "bad pipeline")
	assert.Equal(t, 1, h.crm.count(crm.ResourcePersons))
}

func TestContactFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.crm.fail[crm.ResourcePersons] = errors.New("boom")

	_, err := h.p.Process(context.Background(), bayut.New(bayut.Config{}), http.Header{}, []byte(bayutBody))
	assert.ErrorIs(t, err, apperrors.ErrContact)
	assert.Zero(t, h.crm.count(crm.ResourceDeals))
}

func TestMalformedBodyIsServerError(t *testing.T) {
	h := newHarness(t)
	_, err := h.p.Process(context.Background(), bayut.New(bayut.Config{}), http.Header{}, []byte(`{`))
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatusCode(err))
}

func TestNoteContent(t *testing.T) {
	h := newHarness(t)
	res, err := h.p.Process(context.Background(), bayut.New(bayut.Config{}), http.Header{}, []byte(bayutBody))
	require.NoError(t, err)
	require.NotZero(t, res.DealID)

	var note map[string]any
	for _, n := range h.crm.records[crm.ResourceNotes] {
		note = n
	}
	require.NotNil(t, note)
	content, _ := note["content"].(string)
	assert.Contains(t, content, "<b>Name:</b> Sara")
	assert.Contains(t, content, "&#34;reference&#34;: &#34;BY-1&#34;")
	assert.EqualValues(t, res.DealID, note["deal_id"])
}
