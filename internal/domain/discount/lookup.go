package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// State distinguishes a missing discount from a failed lookup.
type State int

const (
	StateAbsent State = iota
	StatePresent
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePresent:
		return "present"
	case StateFailed:
		return "failed"
	default:
		return "absent"
	}
}

// Result is the outcome of a discount lookup.
type Result struct {
	State      State
	DiscountID int64
	Err        error
}

// ID returns the discount id when one is present.
func (r Result) ID() (int64, bool) {
	if r.State != StatePresent {
		return 0, false
	}
	return r.DiscountID, true
}

// Lookup resolves active discounts through a Finder. Lookups never lock.
type Lookup struct {
	finder Finder
	now    func() time.Time
}

// NewLookup creates a Lookup backed by the given Finder.
func NewLookup(finder Finder) *Lookup {
	return &Lookup{finder: finder, now: time.Now}
}

// ActiveFor returns the discount active for listingID right now.
func (l *Lookup) ActiveFor(ctx context.Context, listingID int64) Result {
	id, err := l.finder.FindActive(ctx, listingID, l.now())
	switch {
	case err == nil:
		return Result{State: StatePresent, DiscountID: id}
	case errors.Is(err, ErrNotFound):
		zctx.From(ctx).Debug("No active discount",
			zap.Int64("listing_id", listingID),
		)
		return Result{State: StateAbsent}
	default:
		zctx.From(ctx).Warn("Discount lookup failed",
			zap.Int64("listing_id", listingID),
			zap.Error(err),
		)
		return Result{State: StateFailed, Err: errors.Wrapf(err, "find discount for listing %d", listingID)}
	}
}
