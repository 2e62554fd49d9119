package upstream

import "fmt"

// AuthError means the portal's auth endpoint did not hand out a token.
// It is never worth retrying within a request.
type AuthError struct {
	Status int
	Reason string
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream auth failed (HTTP %d): %s", e.Status, e.Reason)
	}
	return "upstream auth failed: " + e.Reason
}

// HTTPError is a non-2xx answer from the read API.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream HTTP %d: %s", e.Status, truncate(e.Body, 512))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
