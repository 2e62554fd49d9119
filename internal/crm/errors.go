package crm

import "fmt"

// HTTPError is a transport failure or a non-2xx answer from the CRM. Status
// is 0 when no response arrived.
type HTTPError struct {
	Status int
	Body   string
	Err    error
}

func (e *HTTPError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("crm request failed: %v", e.Err)
	}
	return fmt.Sprintf("crm HTTP %d: %s", e.Status, truncate(e.Body, 512))
}

func (e *HTTPError) Unwrap() error { return e.Err }

// CommandError is a 2xx answer whose envelope reports success=false.
type CommandError struct {
	Resource Resource
	Op       string
	Message  string
}

func (e *CommandError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "success=false"
	}
	return fmt.Sprintf("crm %s %s rejected: %s", e.Op, e.Resource, msg)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
