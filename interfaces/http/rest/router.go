package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"knowgraph/application/commands/bus"
	querybus "knowgraph/application/queries/bus"
	"knowgraph/interfaces/http/rest/handlers"
	"knowgraph/interfaces/http/rest/middleware"
	apperrors "knowgraph/pkg/errors"
	"knowgraph/pkg/observability"
)

const readinessTimeout = 2 * time.Second

// Pinger reports whether the graph store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes the router
type Options struct {
	MaxBodyBytes  int64
	EnableMetrics bool
	Debug         bool
}

// Router creates and configures the HTTP router
type Router struct {
	commandBus *bus.CommandBus
	queryBus   *querybus.QueryBus
	store      Pinger
	metrics    *observability.Collector
	opts       Options
	logger     *zap.Logger
}

// NewRouter creates a new router instance. metrics may be nil.
func NewRouter(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	store Pinger,
	metrics *observability.Collector,
	opts Options,
	logger *zap.Logger,
) *Router {
	return &Router{
		commandBus: commandBus,
		queryBus:   queryBus,
		store:      store,
		metrics:    metrics,
		opts:       opts,
		logger:     logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	errorHandler := apperrors.NewErrorHandler(rt.logger, rt.opts.Debug)
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.Logger(rt.logger))
	if rt.metrics != nil {
		router.Use(middleware.Metrics(rt.metrics))
	}
	router.Use(errorHandler.Middleware)

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		errorHandler.HandleStatus(w, r, http.StatusNotFound, "Not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		errorHandler.HandleStatus(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})

	// Health check
	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck(errorHandler))
	if rt.metrics != nil && rt.opts.EnableMetrics {
		router.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	graphHandler := handlers.NewGraphHandler(rt.commandBus, rt.queryBus, errorHandler, rt.logger)
	router.Group(func(r chi.Router) {
		if rt.opts.MaxBodyBytes > 0 {
			r.Use(chimiddleware.RequestSize(rt.opts.MaxBodyBytes))
		}
		r.Post("/saveGraphWithHistory", graphHandler.SaveGraphWithHistory)
		r.Post("/deleteknowgraph", graphHandler.DeleteGraph)
		r.Get("/getknowgraph", graphHandler.GetGraph)
		r.Get("/getknowgraphhistory", graphHandler.GetGraphHistory)
		r.Get("/getknowgraphversion", graphHandler.GetGraphVersion)
		r.Get("/getknowgraphs", graphHandler.ListGraphs)
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck reports ready only while the store answers
func (rt *Router) readinessCheck(errorHandler *apperrors.ErrorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), readinessTimeout)
		defer cancel()

		if err := rt.store.Ping(ctx); err != nil {
			rt.logger.Warn("Readiness check failed", zap.Error(err))
			errorHandler.HandleStatus(w, req, http.StatusServiceUnavailable, "Graph store unreachable")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}
}
