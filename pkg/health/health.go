// Package health serves /livez and /readyz from periodically evaluated probes.
//
// A probe flips to unhealthy only after FailureThreshold consecutive failures
// and back after SuccessThreshold consecutive passes, so a single slow ping
// does not pull the instance out of rotation.
package health

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// CheckFunc reports whether a dependency is healthy.
type CheckFunc func(ctx context.Context) error

const (
	defaultFailureThreshold = 3
	defaultSuccessThreshold = 1
)

// CheckOption tunes a single probe.
type CheckOption func(p *probe)

// WithFailureThreshold sets how many consecutive failures mark a probe unhealthy.
func WithFailureThreshold(n int) CheckOption {
	return func(p *probe) {
		if n > 0 {
			p.failAfter = n
		}
	}
}

// WithSuccessThreshold sets how many consecutive passes mark a probe healthy again.
func WithSuccessThreshold(n int) CheckOption {
	return func(p *probe) {
		if n > 0 {
			p.recoverAfter = n
		}
	}
}

type probe struct {
	name         string
	timeout      time.Duration
	check        CheckFunc
	failAfter    int
	recoverAfter int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	// Touched only by the goroutine driving evaluate.
	fails  int
	passes int
}

func newProbe(name string, timeout time.Duration, check CheckFunc, opts []CheckOption) *probe {
	p := &probe{
		name:         name,
		timeout:      timeout,
		check:        check,
		failAfter:    defaultFailureThreshold,
		recoverAfter: defaultSuccessThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	p.healthy.Store(true)
	return p
}

func (p *probe) err() error {
	if e := p.lastErr.Load(); e != nil {
		return *e
	}
	return nil
}

// evaluate runs the check once and applies the thresholds.
func (p *probe) evaluate(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(checkCtx)
	p.lastErr.Store(&err)

	was := p.healthy.Load()
	if err != nil {
		p.passes = 0
		p.fails++
		if p.fails >= p.failAfter {
			p.healthy.Store(false)
		}
	} else {
		p.fails = 0
		p.passes++
		if p.passes >= p.recoverAfter {
			p.healthy.Store(true)
		}
	}

	if now := p.healthy.Load(); now != was {
		lg := zctx.From(ctx).With(zap.String("check", p.name))
		if now {
			lg.Info("Health check recovered")
		} else {
			lg.Warn("Health check failing", zap.Error(err))
		}
	}
}

// Health tracks liveness and readiness probes for the process.
type Health struct {
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New returns a Health that reports not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a probe that decides whether the process should
// be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc, opts ...CheckOption) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newProbe(name, timeout, check, opts))
}

// AddReadinessCheck registers a probe that decides whether the instance
// should receive traffic.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc, opts ...CheckOption) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newProbe(name, timeout, check, opts))
}

// Start evaluates every probe immediately and then once per interval, each
// in its own goroutine, until Stop is called or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	probes := slices.Concat(h.liveness, h.readiness)
	h.mu.Unlock()

	for _, p := range probes {
		go poll(ctx, p, interval)
	}
}

func poll(ctx context.Context, p *probe, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.evaluate(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.evaluate(ctx)
		}
	}
}

// Stop halts probe evaluation. It may be called more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady marks the instance ready or draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the instance is marked ready and every readiness
// probe is healthy.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, p := range h.snapshot(false) {
		if !p.healthy.Load() {
			return false
		}
	}
	return true
}

func (h *Health) snapshot(live bool) []*probe {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if live {
		return slices.Clone(h.liveness)
	}
	return slices.Clone(h.readiness)
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	writeReport(w, r, report(h.snapshot(true)), true)
}

// ReadyEndpoint serves /readyz. A draining instance answers 503 even when
// all probes pass.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	writeReport(w, r, report(h.snapshot(false)), h.ready.Load())
}

type probeState struct {
	name    string
	healthy bool
	message string
}

func report(probes []*probe) []probeState {
	out := make([]probeState, 0, len(probes))
	for _, p := range probes {
		s := probeState{name: p.name, healthy: p.healthy.Load(), message: "ok"}
		if !s.healthy {
			s.message = "check is unhealthy"
			if err := p.err(); err != nil {
				s.message = err.Error()
			}
		}
		out = append(out, s)
	}
	slices.SortStableFunc(out, func(a, b probeState) int {
		return strings.Compare(a.name, b.name)
	})
	return out
}

// writeReport writes {"status":"ok|unhealthy","checks":{"name":"ok|error"}}.
func writeReport(w http.ResponseWriter, r *http.Request, states []probeState, ready bool) {
	status, code := "ok", http.StatusOK
	if !ready {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	for _, s := range states {
		if !s.healthy {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	e.FieldStart("status")
	e.Str(status)
	if len(states) > 0 || !ready {
		e.FieldStart("checks")
		e.ObjStart()
		for _, s := range states {
			e.FieldStart(s.name)
			e.Str(s.message)
		}
		if !ready {
			e.FieldStart("_readiness")
			e.Str("service is not ready")
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if _, err := w.Write(e.Bytes()); err != nil {
		zctx.From(r.Context()).Debug("Write health response", zap.Error(err))
	}
}
