package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/repository"
	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
)

// DefaultLockTimeout bounds row lock waits when no timeout is configured.
const DefaultLockTimeout = 3 * time.Second

type bucketKey struct {
	productID   string
	warehouseID string
	batch       string
	hasBatch    bool
}

type merchantKey struct {
	merchantID string
	value      string
}

// Store is an in-process repository.Store. Writes land in the maps right away
// and are recorded in an undo log; a failed transaction replays the log in
// reverse. Row locks are one-slot channels held until the transaction ends,
// so locked rows are never observed half-written by another locker.
type Store struct {
	mu sync.Mutex

	products map[string]*domain.Product
	skus     map[string]string

	stock     map[string]*domain.StockItem
	buckets   map[bucketKey]string
	movements map[string][]domain.StockMovement

	orders       map[string]*domain.Order
	orderNumbers map[string]string
	orderKeys    map[merchantKey]string
	history      map[string][]domain.OrderStatusHistory
	allocations  map[string][]*domain.Allocation

	billing   map[string]*domain.BillingRecord
	dailyFees map[merchantKey]string

	locks       map[string]chan struct{}
	lockTimeout time.Duration
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long a row lock is waited for.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// NewStore creates an empty memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		products:     make(map[string]*domain.Product),
		skus:         make(map[string]string),
		stock:        make(map[string]*domain.StockItem),
		buckets:      make(map[bucketKey]string),
		movements:    make(map[string][]domain.StockMovement),
		orders:       make(map[string]*domain.Order),
		orderNumbers: make(map[string]string),
		orderKeys:    make(map[merchantKey]string),
		history:      make(map[string][]domain.OrderStatusHistory),
		allocations:  make(map[string][]*domain.Allocation),
		billing:      make(map[string]*domain.BillingRecord),
		dailyFees:    make(map[merchantKey]string),
		locks:        make(map[string]chan struct{}),
		lockTimeout:  DefaultLockTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ repository.Store = (*Store)(nil)

// WithinTx runs fn with a transaction that holds its row locks until fn
// returns and undoes its writes when fn fails or panics.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	t := newTxn(s, false)
	defer func() {
		if r := recover(); r != nil {
			t.rollback()
			t.unlockAll()
			panic(r)
		}
		if err != nil {
			t.rollback()
		}
		t.unlockAll()
	}()
	return fn(ctx, t)
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) autoTx() *txn { return newTxn(s, true) }

func (s *Store) Stock() repository.StockRepository            { return s.autoTx() }
func (s *Store) Allocations() repository.AllocationRepository { return s.autoTx() }
func (s *Store) Orders() repository.OrderRepository           { return s.autoTx() }
func (s *Store) Products() repository.ProductRepository       { return s.autoTx() }
func (s *Store) Billing() repository.BillingRepository        { return s.autoTx() }

func (s *Store) lockChan(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	return ch
}

// txn implements every repository on top of the store. An auto txn has no
// transaction scope: each lock it takes is dropped as soon as the read is
// done and nothing is undone.
type txn struct {
	s    *Store
	auto bool
	held map[string]chan struct{}
	undo []func()
}

func newTxn(s *Store, auto bool) *txn {
	return &txn{s: s, auto: auto, held: make(map[string]chan struct{})}
}

func (t *txn) Stock() repository.StockRepository            { return t }
func (t *txn) Allocations() repository.AllocationRepository { return t }
func (t *txn) Orders() repository.OrderRepository           { return t }
func (t *txn) Products() repository.ProductRepository       { return t }
func (t *txn) Billing() repository.BillingRepository        { return t }

// lock acquires the row lock of key. Locks are re-entrant within a txn.
func (t *txn) lock(ctx context.Context, key string) (func(), error) {
	if _, ok := t.held[key]; ok {
		return func() {}, nil
	}
	ch := t.s.lockChan(key)

	timer := time.NewTimer(t.s.lockTimeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, apperrors.ConcurrencyConflict(fmt.Sprintf("waiting for lock on %s", key), ctx.Err())
	case <-timer.C:
		return nil, apperrors.ConcurrencyConflict(fmt.Sprintf("lock on %s not acquired within %s", key, t.s.lockTimeout), nil)
	}

	if t.auto {
		return func() { <-ch }, nil
	}
	t.held[key] = ch
	return func() {}, nil
}

func (t *txn) unlockAll() {
	for key, ch := range t.held {
		<-ch
		delete(t.held, key)
	}
}

// record registers an undo step. Must be called with s.mu held.
func (t *txn) record(fn func()) {
	if t.auto {
		return
	}
	t.undo = append(t.undo, fn)
}

func (t *txn) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func stockKey(id string) string   { return "stock:" + id }
func orderKey(id string) string   { return "order:" + id }
func billingKey(id string) string { return "billing:" + id }
