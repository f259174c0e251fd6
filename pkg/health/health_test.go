package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reportBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func ok(context.Context) error { return nil }

func failWith(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, endpoint http.HandlerFunc) (int, reportBody) {
	t.Helper()
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var body reportBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	return w.Code, body
}

func evaluateN(p *probe, n int) {
	for range n {
		p.evaluate(context.Background())
	}
}

func TestLiveness(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, ok)
	h.AddLivenessCheck("db", time.Second, failWith("connection refused"))

	code, body := serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "probes start healthy")
	assert.Equal(t, "ok", body.Status)

	evaluateN(h.liveness[1], defaultFailureThreshold-1)
	code, _ = serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "below the failure threshold")

	evaluateN(h.liveness[1], 1)
	code, body = serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, map[string]string{
		"db":         "connection refused",
		"goroutines": "ok",
	}, body.Checks)
}

func TestLiveness_NoChecks(t *testing.T) {
	code, body := serve(t, New().LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
	assert.Empty(t, body.Checks)
}

func TestReadiness(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, ok)
	h.AddReadinessCheck("redis", time.Second, failWith("i/o timeout"), WithFailureThreshold(1))

	code, body := serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code, "not ready until SetReady")
	assert.Equal(t, "service is not ready", body.Checks["_readiness"])
	assert.False(t, h.IsReady())

	h.SetReady(true)
	code, _ = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, h.IsReady())

	evaluateN(h.readiness[1], 1)
	code, body = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "i/o timeout", body.Checks["redis"])
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.NotContains(t, body.Checks, "_readiness")
	assert.False(t, h.IsReady())

	h.SetReady(false)
	_, body = serve(t, h.ReadyEndpoint)
	assert.Contains(t, body.Checks, "_readiness")
}

func TestProbe_Thresholds(t *testing.T) {
	down := true
	p := newProbe("flaky", time.Second, func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	}, []CheckOption{WithFailureThreshold(2), WithSuccessThreshold(2)})

	assert.NoError(t, p.err())

	evaluateN(p, 1)
	assert.True(t, p.healthy.Load())
	evaluateN(p, 1)
	assert.False(t, p.healthy.Load())
	assert.EqualError(t, p.err(), "down")

	down = false
	evaluateN(p, 1)
	assert.False(t, p.healthy.Load(), "one pass is not enough to recover")
	evaluateN(p, 1)
	assert.True(t, p.healthy.Load())
	assert.NoError(t, p.err())
}

func TestProbe_Timeout(t *testing.T) {
	p := newProbe("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, []CheckOption{WithFailureThreshold(1)})

	evaluateN(p, 1)
	assert.False(t, p.healthy.Load())
	assert.ErrorIs(t, p.err(), context.DeadlineExceeded)
}

func TestStartStop(t *testing.T) {
	h := New()
	h.AddReadinessCheck("db", time.Second, failWith("down"), WithFailureThreshold(1))
	h.SetReady(true)

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.AddLivenessCheck("a", time.Second, failWith("err"))
	h.AddReadinessCheck("b", time.Second, ok)
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				h.LiveEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
				h.ReadyEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		}()
	}
	wg.Wait()
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, PingCheck(pingerFunc(ok))(ctx))
	err := PingCheck(pingerFunc(failWith("refused")))(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")

	assert.NoError(t, GoroutineCountCheck(1_000_000)(ctx))
	assert.Error(t, GoroutineCountCheck(0)(ctx))

	assert.NoError(t, GCPauseCheck(time.Hour)(ctx))
}
