package audit

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"
)

const maxLoggedBody = 2048

// Credentials that never reach the audit trail, in query strings or at the
// top level of JSON bodies.
var (
	redactedParams = []string{"api_token", "apiSecret", "token"}
	redactedFields = []string{"apiKey", "apiSecret", "accessToken", "api_token"}
)

// Transport decorates base so every call through it is audited: method,
// redacted URL, status, latency, and for writes the request and response
// bodies. Credentials in the query string and headers are not recorded.
func Transport(l *Logger, target string, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if l == nil {
		return base
	}
	return &transport{log: l, target: target, base: base}
}

type transport struct {
	log    *Logger
	target string
	base   http.RoundTripper
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	write := req.Method != http.MethodGet && req.Method != http.MethodHead
	var reqBody []byte
	if write && req.Body != nil && req.Body != http.NoBody {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		reqBody = b
		clone := req.Clone(req.Context())
		clone.Body = io.NopCloser(bytes.NewReader(b))
		clone.ContentLength = int64(len(b))
		req = clone
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	data := map[string]any{
		"target":      t.target,
		"method":      req.Method,
		"url":         RedactURL(req.URL),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if reqBody != nil {
		data["request"] = clip(redactBody(reqBody))
	}
	if err != nil {
		data["error"] = err.Error()
		t.log.Log(t.target+" "+req.Method+" "+req.URL.Path, data)
		return nil, err
	}

	data["status"] = resp.StatusCode
	if write || resp.StatusCode >= 400 {
		b, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(b))
		if readErr != nil {
			data["response_error"] = readErr.Error()
		}
		data["response"] = clip(redactBody(b))
	}
	t.log.Log(t.target+" "+req.Method+" "+req.URL.Path, data)
	return resp, nil
}

// RedactURL renders u with credential query parameters masked.
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	q := c.Query()
	for _, p := range redactedParams {
		if q.Has(p) {
			q.Set(p, "REDACTED")
		}
	}
	c.RawQuery = q.Encode()
	c.User = nil
	return c.String()
}

// redactBody masks credential fields of a JSON object body. Anything else
// passes through unchanged.
func redactBody(b []byte) []byte {
	var obj map[string]json.RawMessage
	if json.Unmarshal(b, &obj) != nil {
		return b
	}
	changed := false
	for _, f := range redactedFields {
		if _, ok := obj[f]; ok {
			obj[f] = json.RawMessage(`"REDACTED"`)
			changed = true
		}
	}
	if !changed {
		return b
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return b
	}
	return out
}

func clip(b []byte) string {
	if len(b) > maxLoggedBody {
		return string(b[:maxLoggedBody]) + "..."
	}
	return string(b)
}
