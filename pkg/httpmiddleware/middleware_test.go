package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newRouter(lg *zap.Logger, routes func(r chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(
		RequestID(),
		InjectLogger(lg),
		Recovery(),
		Instrument("test", tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider()),
		LogRequests(),
	)
	routes(r)
	return r
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := newRouter(zap.New(core), func(r chi.Router) {
		r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("kaboom") })
	})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "close", w.Header().Get("Connection"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(500), body["code"])

	panics := logs.FilterMessage("Panic in handler").All()
	require.Len(t, panics, 1)
	assert.Equal(t, "kaboom", panics[0].ContextMap()["panic"])
}

func TestRecovery_AbortHandler(t *testing.T) {
	h := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "generated", incoming: "", keep: false},
		{name: "reused", incoming: "req-42", keep: true},
		{name: "control characters", incoming: "bad\x01id", keep: false},
		{name: "too long", incoming: strings.Repeat("a", maxRequestIDLen+1), keep: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(HeaderRequestID, tt.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			require.NotEmpty(t, seen)
			assert.Equal(t, seen, w.Header().Get(HeaderRequestID))
			if tt.keep {
				assert.Equal(t, tt.incoming, seen)
			} else {
				assert.Len(t, seen, 36)
			}
		})
	}

	assert.Empty(t, RequestIDFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

func TestLogRequests(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := newRouter(zap.New(core), func(r chi.Router) {
		r.Get("/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
			zctx.From(r.Context()).Info("Handling")
			w.WriteHeader(http.StatusTeapot)
			_, _ = w.Write([]byte("tea"))
		})
		r.Get("/fail", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/orders/17", nil)
	req.Header.Set(HeaderRequestID, "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)

	handling := logs.FilterMessage("Handling").All()
	require.Len(t, handling, 1)
	assert.Equal(t, "abc", handling[0].ContextMap()["request_id"])

	served := logs.FilterMessage("Request").All()
	require.Len(t, served, 1)
	fields := served[0].ContextMap()
	assert.Equal(t, "/orders/{orderID}", fields["route"])
	assert.Equal(t, "/orders/17", fields["path"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, int64(3), fields["bytes"])
	assert.Equal(t, "abc", fields["request_id"])

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))
	failed := logs.FilterMessage("Request failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.WarnLevel, failed[0].Level)
}

func TestStatusRecorder_ImplicitOK(t *testing.T) {
	w := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: w}
	_, err := rec.Write([]byte("hi"))
	require.NoError(t, err)
	rec.WriteHeader(http.StatusInternalServerError)

	assert.Equal(t, http.StatusOK, rec.status)
	assert.Equal(t, 2, rec.bytes)
	assert.Same(t, http.ResponseWriter(w), rec.Unwrap())
}
