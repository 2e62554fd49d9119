package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/metrics"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Event
	err     error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Write(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), events...))
	return s.err
}

func (s *recordingSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func TestLoggerFlushesFullBatch(t *testing.T) {
	sink := &recordingSink{}
	l := NewLogger([]Sink{sink}, Config{BatchSize: 2, FlushInterval: time.Hour}, nil)
	l.Start(context.Background())

	l.Log("one", nil)
	l.Log("two", map[string]any{"k": "v"})
	require.Eventually(t, func() bool { return len(sink.events()) == 2 }, time.Second, 5*time.Millisecond)

	l.Log("three", nil)
	l.Close()
	events := sink.events()
	require.Len(t, events, 3)
	assert.Equal(t, "three", events[2].Message)
}

func TestLoggerFlushesOnInterval(t *testing.T) {
	sink := &recordingSink{}
	l := NewLogger([]Sink{sink}, Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, nil)
	l.Start(context.Background())
	defer l.Close()

	l.Log("tick", nil)
	require.Eventually(t, func() bool { return len(sink.events()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestLoggerDrainsOnCancel(t *testing.T) {
	sink := &recordingSink{}
	l := NewLogger([]Sink{sink}, Config{BatchSize: 100, FlushInterval: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)

	l.Log("a", nil)
	l.Log("b", nil)
	cancel()
	<-l.done
	assert.Len(t, sink.events(), 2)
}

func TestLoggerDropsWhenFull(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	l := NewLogger(nil, Config{BufferSize: 1}, m)

	l.Log("kept", nil)
	l.Log("dropped", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditEventsDroppedTotal))
}

func TestSinkErrorsAreCounted(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	sink := &recordingSink{err: errors.New("down")}
	l := NewLogger([]Sink{sink}, Config{BatchSize: 1}, m)
	l.Start(context.Background())
	l.Log("x", nil)
	l.Close()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditSinkErrorsTotal.WithLabelValues("recording")))
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Log("ignored", nil)
	l.Close()
	assert.Equal(t, http.DefaultTransport, Transport(nil, "crm", nil))
}

func TestHTTPSinkPostsEnvelope(t *testing.T) {
	var got []map[string]any
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		got = append(got, body)
		mu.Unlock()
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, srv.Client())
	err := sink.Write(context.Background(), []Event{
		{Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Message: "crm POST /deals", Data: map[string]any{"status": 201}},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "crm POST /deals", got[0]["message"])
	assert.Equal(t, "2024-01-01T00:00:00Z", got[0]["time"])
	assert.NotNil(t, got[0]["data"])
}

func TestHTTPSinkReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	err := NewHTTPSink(srv.URL, srv.Client()).Write(context.Background(), []Event{{Message: "x"}})
	assert.ErrorContains(t, err, "502")
}

func TestTransportAuditsAndRedacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"apiKey":"k","apiSecret":"s"}`, string(body), "upstream still receives the real body")
		w.Write([]byte(`{"accessToken":"secret-token","expiresIn":3600}`))
	}))
	defer srv.Close()

	sink := &recordingSink{}
	l := NewLogger([]Sink{sink}, Config{BatchSize: 1}, nil)
	l.Start(context.Background())

	client := &http.Client{Transport: Transport(l, "upstream", srv.Client().Transport)}
	resp, err := client.Post(srv.URL+"/auth/token?api_token=abc&x=1", "application/json",
		strings.NewReader(`{"apiKey":"k","apiSecret":"s"}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "secret-token", "caller still receives the real response")

	l.Close()
	events := sink.events()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "upstream POST /auth/token", ev.Message)
	assert.Equal(t, http.StatusOK, ev.Data["status"])
	assert.Contains(t, ev.Data["url"], "api_token=REDACTED")
	assert.NotContains(t, ev.Data["url"], "abc")
	assert.NotContains(t, ev.Data["request"], `"s"`)
	assert.NotContains(t, ev.Data["response"], "secret-token")
}

func TestTransportRecordsFailures(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	sink := &recordingSink{}
	l := NewLogger([]Sink{sink}, Config{BatchSize: 1}, nil)
	l.Start(context.Background())

	client := &http.Client{Transport: Transport(l, "crm", nil)}
	_, err := client.Get(addr + "/persons/search")
	require.Error(t, err)
	l.Close()

	events := sink.events()
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].Data["error"])
}
