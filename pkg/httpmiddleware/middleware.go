// Package httpmiddleware provides the net/http middleware chain shared by
// every route: panic recovery, request ids, request-scoped logging and
// OpenTelemetry instrumentation.
package httpmiddleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware decorates an http.Handler.
type Middleware func(next http.Handler) http.Handler

// routePattern returns the chi route template that served r, such as
// "/api/orders/{orderID}". It is complete only after routing finished.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}

// statusRecorder captures the response status and size.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
