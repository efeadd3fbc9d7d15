package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/service"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/health"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/middleware"
)

// Services bundles the core contracts exposed over HTTP.
type Services struct {
	Ledger   *service.Ledger
	Orders   *service.OrderService
	Products *service.ProductService
	Bulk     *service.BulkExecutor
	Billing  *service.BillingService
}

// NewRouter creates a chi router with all fulfillment routes registered.
func NewRouter(
	svc Services,
	healthHandler *health.Handler,
	serviceName string,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CORS)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	orders := NewOrderHandler(svc.Orders, logger)
	stock := NewStockHandler(svc.Ledger, logger)
	products := NewProductHandler(svc.Products, logger)
	bulk := NewBulkHandler(svc.Bulk, logger)
	billing := NewBillingHandler(svc.Billing, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", orders.CreateOrder)
			r.Get("/", orders.ListOrders)
			r.Get("/{id}", orders.GetOrder)
			r.Patch("/{id}/status", orders.UpdateStatus)
			r.Put("/{id}/warehouse", orders.AssignWarehouse)
			r.Get("/{id}/history", orders.History)
			r.Get("/{id}/allocations", orders.Allocations)
		})

		r.Route("/stock", func(r chi.Router) {
			r.Get("/products/{productID}/available", stock.GetAvailable)
			r.Get("/products/{productID}/items", stock.ListStockItems)
			r.Post("/receipts", stock.Receive)
			r.Get("/items/{id}", stock.GetStockItem)
			r.Post("/items/{id}/adjustments", stock.Adjust)
			r.Post("/items/{id}/transfers", stock.Transfer)
			r.Get("/items/{id}/movements", stock.ListMovements)
			r.Get("/items/{id}/reconciliation", stock.Reconcile)
			r.Get("/low-stock", stock.ListLowStock)
		})

		r.Route("/products", func(r chi.Router) {
			r.Post("/", products.CreateProduct)
			r.Get("/{id}", products.GetProduct)
			r.Put("/{id}/price", products.UpdatePrice)
			r.Delete("/{id}", products.DeleteProduct)
		})

		r.Post("/bulk/{entity}", bulk.Execute)

		r.Route("/billing", func(r chi.Router) {
			r.Post("/accruals", billing.Accrue)
			r.Get("/records", billing.ListRecords)
			r.Get("/records/{id}", billing.GetRecord)
		})
	})

	return r
}
