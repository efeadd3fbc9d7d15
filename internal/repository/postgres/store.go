package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/repository"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/database"
)

// Pool is the connection pool surface the store needs. *pgxpool.Pool and the
// pgxmock pool both satisfy it.
type Pool interface {
	database.TxBeginner
	Ping(ctx context.Context) error
}

// Store implements repository.Store on PostgreSQL.
type Store struct {
	pool Pool
	repos
}

// NewStore creates a PostgreSQL-backed store.
func NewStore(pool Pool) *Store {
	return &Store{pool: pool, repos: newRepos(pool)}
}

// WithinTx runs fn in a READ COMMITTED transaction. Row locks taken through
// the repositories of tx are held until fn returns.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, newRepos(tx))
	})
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// repos binds every repository to one DBTX.
type repos struct {
	stock       *StockRepository
	allocations *AllocationRepository
	orders      *OrderRepository
	products    *ProductRepository
	billing     *BillingRepository
}

func newRepos(db database.DBTX) repos {
	return repos{
		stock:       NewStockRepository(db),
		allocations: NewAllocationRepository(db),
		orders:      NewOrderRepository(db),
		products:    NewProductRepository(db),
		billing:     NewBillingRepository(db),
	}
}

func (r repos) Stock() repository.StockRepository            { return r.stock }
func (r repos) Allocations() repository.AllocationRepository { return r.allocations }
func (r repos) Orders() repository.OrderRepository           { return r.orders }
func (r repos) Products() repository.ProductRepository       { return r.products }
func (r repos) Billing() repository.BillingRepository        { return r.billing }

var _ repository.Store = (*Store)(nil)

// nullString maps "" to NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
