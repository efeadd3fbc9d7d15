package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stockMovementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_stock_movements_total",
		Help: "Ledger movements written, by movement type.",
	}, []string{"type"})

	allocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_allocations_total",
		Help: "Allocation attempts, by outcome.",
	}, []string{"outcome"})

	allocationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fulfillment_allocation_duration_seconds",
		Help:    "Time spent planning and reserving stock for one order.",
		Buckets: prometheus.DefBuckets,
	})

	orderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_order_transitions_total",
		Help: "Order status transitions, by source and target status.",
	}, []string{"from", "to"})

	ordersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_orders_created_total",
		Help: "Orders created.",
	})

	bulkItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_bulk_items_total",
		Help: "Bulk operation items, by entity, action and outcome.",
	}, []string{"entity", "action", "outcome"})

	billingRecordsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_billing_records_created_total",
		Help: "Daily service fee records created by accrual.",
	})

	billingAccrualFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_billing_accrual_failures_total",
		Help: "Merchants whose daily accrual failed.",
	})

	lowStockEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_low_stock_events_total",
		Help: "Stock rows that reached their reorder level after a mutation.",
	})
)
