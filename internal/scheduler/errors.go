package scheduler

import (
	"fmt"
	"net/http"

	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// TransportError reports a failed request: either the request never got a
// response (Err is set) or the scheduler answered with a non-2xx status.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	// Body is the response body, truncated
	Body string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches core.ErrNotFound for 404 responses.
func (e *TransportError) Is(target error) bool {
	return target == core.ErrNotFound && e.StatusCode == http.StatusNotFound
}
