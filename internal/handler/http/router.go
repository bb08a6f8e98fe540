package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/stockalloc/internal/service"
	"github.com/utafrali/stockalloc/pkg/health"
	"github.com/utafrali/stockalloc/pkg/middleware"
)

// ServiceName labels metrics and spans of this service.
const ServiceName = "stockalloc"

// Services bundles the application services exposed over HTTP.
type Services struct {
	Planner  *service.Planner
	Locks    *service.LockManager
	Recorder *service.ConsumptionRecorder
	Guard    *service.BatchLifecycleGuard
	Report   *service.StockReport
	Checkout *service.CheckoutCoordinator
}

// NewRouter creates a chi router with all stock allocation routes registered.
func NewRouter(
	svc Services,
	healthHandler *health.Handler,
	logger *slog.Logger,
	pprofCIDRs []string,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics(ServiceName))
	r.Use(middleware.Tracing(ServiceName))
	r.Use(middleware.RequestLogger(logger))

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	middleware.RegisterPprof(r, pprofCIDRs, logger)

	allocations := NewAllocationHandler(svc.Planner, svc.Recorder, logger)
	locks := NewLockHandler(svc.Locks, logger)
	stocks := NewStockHandler(svc.Guard, svc.Report, logger)
	checkouts := NewCheckoutHandler(svc.Checkout, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/allocations/plan", allocations.Plan)
		r.Post("/consumptions", allocations.Commit)

		r.Route("/locks", func(r chi.Router) {
			r.Post("/", locks.Lock)
			r.Get("/{sessionKey}", locks.Get)
			r.Post("/{sessionKey}/confirm", locks.Confirm)
			r.Post("/{sessionKey}/release", locks.Release)
			r.Post("/{sessionKey}/transfer", locks.Transfer)
		})

		r.Put("/stocks/{stockId}/batches", stocks.AssignBatches)
		r.Get("/stocks/low", stocks.ListLowStock)

		if svc.Checkout != nil {
			r.Post("/checkouts/hold", checkouts.Hold)
			r.Post("/checkouts/settle", checkouts.Settle)
		}
	})

	return r
}
