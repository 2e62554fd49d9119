package middleware

import (
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/logger"
	"github.com/google/uuid"
)

// RequestIDHeader is read from the caller when present and always echoed.
const RequestIDHeader = "X-Request-ID"

// RequestID tags every request with an id and stores it in the context for
// logger.FromContext.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}
