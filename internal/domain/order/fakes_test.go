package order

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/distributor-api/internal/domain/discount"
	"github.com/xenking/distributor-api/internal/domain/listing"
)

// memStore is an in-memory database. A transaction holds mu for its whole
// duration, which serializes transactions the way row locks serialize
// conflicting ones, and restores a snapshot on rollback.
type memStore struct {
	mu sync.Mutex

	shops    map[int64]bool
	listings map[int64]memListing
	orders   map[int64]*Order
	nextID   int64

	locked []int64
	// failDetailAt makes the n-th AddDetail call of a transaction fail (1-based).
	failDetailAt int
	detailCalls  int
	totalErr     error
	listQuery    ListQuery
	listResult   []Summary
	listTotal    int64
}

type memListing struct {
	price     decimal.Decimal
	remaining int
	deleted   bool
}

type txMarker struct{}

func newMemStore() *memStore {
	return &memStore{
		shops:    map[int64]bool{1: true},
		listings: map[int64]memListing{},
		orders:   map[int64]*Order{},
	}
}

func (m *memStore) addListing(id int64, price string, remaining int) {
	m.listings[id] = memListing{price: decimal.RequireFromString(price), remaining: remaining}
}

func (m *memStore) remaining(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listings[id].remaining
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func inTx(ctx context.Context) bool {
	return ctx.Value(txMarker{}) != nil
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	listings := maps.Clone(m.listings)
	orders := maps.Clone(m.orders)
	nextID := m.nextID
	m.detailCalls = 0

	if err := fn(context.WithValue(ctx, txMarker{}, true)); err != nil {
		m.listings = listings
		m.orders = orders
		m.nextID = nextID
		return err
	}
	return nil
}

func (m *memStore) Exists(_ context.Context, id int64) (bool, error) {
	return m.shops[id], nil
}

func (m *memStore) Lock(ctx context.Context, id int64) (listing.Stock, error) {
	if !inTx(ctx) {
		return listing.Stock{}, errors.New("lock outside transaction")
	}
	m.locked = append(m.locked, id)
	l, ok := m.listings[id]
	if !ok || l.deleted {
		return listing.Stock{}, listing.ErrUnavailable
	}
	return listing.Stock{ListingID: id, Price: l.price, Remaining: l.remaining}, nil
}

func (m *memStore) Reserve(ctx context.Context, id int64, quantity int) (listing.Reservation, error) {
	if !inTx(ctx) {
		return listing.Reservation{}, errors.New("reserve outside transaction")
	}
	l, ok := m.listings[id]
	if !ok || l.deleted {
		return listing.Reservation{}, listing.ErrUnavailable
	}
	if l.remaining < quantity {
		return listing.Reservation{}, &listing.InsufficientError{ListingID: id, Requested: quantity, Remaining: l.remaining}
	}
	before := l.remaining
	l.remaining -= quantity
	m.listings[id] = l
	return listing.Reservation{ListingID: id, Quantity: quantity, RemainingBefore: before, Price: l.price}, nil
}

func (m *memStore) nextSeq() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) CreateHeader(_ context.Context, o *Order) error {
	o.ID = m.nextSeq()
	o.CreatedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	stored := *o
	m.orders[o.ID] = &stored
	return nil
}

func (m *memStore) AddDetail(_ context.Context, d *Detail) error {
	m.detailCalls++
	if m.failDetailAt > 0 && m.detailCalls == m.failDetailAt {
		return errors.New("insert detail: connection reset")
	}
	o, ok := m.orders[d.OrderID]
	if !ok {
		return errors.Errorf("order %d does not exist", d.OrderID)
	}
	d.ID = m.nextSeq()
	// Copy-on-write keeps rollback snapshots intact.
	stored := *o
	stored.Details = append(append([]Detail(nil), o.Details...), *d)
	m.orders[d.OrderID] = &stored
	return nil
}

func (m *memStore) RecomputeTotal(_ context.Context, orderID int64) (decimal.Decimal, error) {
	if m.totalErr != nil {
		return decimal.Zero, m.totalErr
	}
	o := m.orders[orderID]
	total := decimal.Zero
	for _, d := range o.Details {
		total = total.Add(d.Amount())
	}
	stored := *o
	stored.Total = total
	m.orders[orderID] = &stored
	return total, nil
}

func (m *memStore) Get(ctx context.Context, id int64) (*Order, error) {
	if !inTx(ctx) {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) List(_ context.Context, q ListQuery) ([]Summary, int64, error) {
	m.listQuery = q
	return m.listResult, m.listTotal, nil
}

type fakeDiscounts map[int64]discount.Result

func (f fakeDiscounts) ActiveFor(_ context.Context, listingID int64) discount.Result {
	if r, ok := f[listingID]; ok {
		return r
	}
	return discount.Result{State: discount.StateAbsent}
}

type fakeIdempotency struct {
	mu       sync.Mutex
	keys     map[string]int64
	err      error
	released []string
}

const idemPending int64 = -1

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{keys: map[string]int64{}}
}

func (f *fakeIdempotency) Begin(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	v, ok := f.keys[key]
	switch {
	case !ok:
		f.keys[key] = idemPending
		return NoOrder, nil
	case v == idemPending:
		return 0, ErrIdempotencyInFlight
	default:
		return v, nil
	}
}

func (f *fakeIdempotency) Complete(ctx context.Context, key string, orderID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = orderID
	return nil
}

func (f *fakeIdempotency) Release(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	f.released = append(f.released, key)
	return nil
}

type fakePublisher struct {
	store *memStore
	mu    sync.Mutex
	// published records orders; committed is false if publishing happened
	// while a transaction was still open.
	published []*Order
	committed []bool
}

func (p *fakePublisher) OrderPlaced(_ context.Context, o *Order) error {
	free := p.store.mu.TryLock()
	if free {
		p.store.mu.Unlock()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, o)
	p.committed = append(p.committed, free)
	return nil
}
