package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/metrics"
)

// OutboundMetrics wraps base so every outbound call is counted and timed
// under the given target label. A nil base uses http.DefaultTransport.
func OutboundMetrics(m *metrics.Metrics, target string, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if m == nil {
		return base
	}
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		start := time.Now()
		resp, err := base.RoundTrip(req)
		status := "error"
		if err == nil {
			status = strconv.Itoa(resp.StatusCode)
		}
		m.OutboundRequestsTotal.WithLabelValues(target, req.Method, status).Inc()
		m.OutboundRequestDuration.WithLabelValues(target, req.Method).Observe(time.Since(start).Seconds())
		return resp, err
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
