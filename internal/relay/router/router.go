// Package router wires the relay's routes and applies the middleware chain
// (RequestID → Metrics) plus per-portal rate limiting.
package router

import (
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/portal"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/relay/handler"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/relay/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/middleware"
)

// LiveMessage is what GET / answers with.
const LiveMessage = "✅ Property Finder → Pipedrive is live"

// Adapters holds one adapter per inbound portal route.
type Adapters struct {
	Atlas    portal.Adapter
	Bayut    portal.Adapter
	Dubizzle portal.Adapter
}

// New builds the relay's HTTP handler.
//
// Route table:
//
//	POST   /webhook            → Atlas (primary portal)
//	POST   /webhook/bayut      → Bayut
//	POST   /webhook/dubizzle   → Dubizzle
//	GET    /                   → static liveness string
//	GET    /health/live        → liveness report
//	GET    /health/ready       → readiness report (Redis, Kafka, Postgres)
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → mux → per-portal rate limit (webhooks only)
//
// A nil limiter disables rate limiting.
func New(h *handler.Handler, adapters Adapters, checker *health.Checker, m *metrics.Metrics, limiter *ratelimit.Limiter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", health.RootHandler(LiveMessage))
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	webhook := func(a portal.Adapter) http.Handler {
		return ratelimit.Middleware(limiter, string(a.Portal()))(h.Webhook(a))
	}
	mux.Handle("POST /webhook", webhook(adapters.Atlas))
	mux.Handle("POST /webhook/bayut", webhook(adapters.Bayut))
	mux.Handle("POST /webhook/dubizzle", webhook(adapters.Dubizzle))

	var chain http.Handler = mux
	if m != nil {
		chain = pkgmw.Metrics(m)(chain)
	}
	chain = pkgmw.RequestID(chain)
	return chain
}
