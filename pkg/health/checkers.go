package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is satisfied by *pgxpool.Pool and similar connection pools.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports unhealthy when p cannot be pinged.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// GoroutineCountCheck reports unhealthy above limit live goroutines, which
// usually means a leak.
func GoroutineCountCheck(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines running, limit is %d", n, limit)
		}
		return nil
	}
}

// GCPauseCheck reports unhealthy when the most recent stop-the-world pause
// exceeded limit.
func GCPauseCheck(limit time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		if len(stats.Pause) == 0 {
			return nil
		}
		if last := stats.Pause[0]; last > limit {
			return errors.Errorf("last GC pause %s over %s", last, limit)
		}
		return nil
	}
}
