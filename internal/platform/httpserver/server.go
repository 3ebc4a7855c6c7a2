package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	amendmenthttp "escrowline/contexts/deal-governance/amendment-service/adapters/http"
	authorityhttp "escrowline/contexts/deal-governance/authority-service/adapters/http"
	invitationhttp "escrowline/contexts/deal-governance/invitation-service/adapters/http"
	"escrowline/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

const actorHeader = "X-Actor-Id"

// Handlers groups the transport adapters of the deal-governance services.
type Handlers struct {
	Authority  authorityhttp.Handler
	Amendment  amendmenthttp.Handler
	Invitation invitationhttp.Handler
}

// Pinger is a dependency reported by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router   chi.Router
	logger   *slog.Logger
	addr     string
	handlers Handlers
	metrics  *metrics.Registry
	checks   map[string]Pinger
	http     *http.Server
}

func New(
	handlers Handlers,
	registry *metrics.Registry,
	checks map[string]Pinger,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		addr:     addr,
		handlers: handlers,
		metrics:  registry,
		checks:   checks,
	}
	s.registerRoutes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Get("/swagger/doc.json", s.handleSwaggerDoc)
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/delegations", func(r chi.Router) {
			r.Post("/", s.handleGrantDelegation)
			r.Get("/", s.handleListDelegations)
			r.Get("/stats", s.handleDelegationStats)
			r.Patch("/{delegation_id}", s.handleUpdateDelegation)
			r.Post("/{delegation_id}/revoke", s.handleRevokeDelegation)
		})
		r.Post("/approvals/check", s.handleCanApprove)
		r.Get("/actors/{actor_id}/authority-summary", s.handleAuthoritySummary)

		r.Route("/deals/{deal_id}", func(r chi.Router) {
			r.Post("/amendments", s.handleProposeAmendment)
			r.Get("/amendments", s.handleListAmendments)
			r.Get("/activation", s.handleDealActivation)
		})
		r.Route("/amendments/{amendment_id}", func(r chi.Router) {
			r.Get("/", s.handleGetAmendment)
			r.Post("/responses", s.handleRespondToAmendment)
			r.Post("/resolution", s.handleResolveAmendment)
		})
		r.Route("/invitations/{token}", func(r chi.Router) {
			r.Post("/accept", s.handleAcceptInvitation)
			r.Post("/decline", s.handleDeclineInvitation)
		})
	})
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if s.metrics != nil {
			s.metrics.ObserveHTTPRequest(route, r.Method, status, time.Since(started))
		}
		if status >= http.StatusInternalServerError {
			s.logger.Error("http request failed",
				"event", "http_request_failed",
				"module", "internal/platform/httpserver",
				"layer", "platform",
				"route", route,
				"method", r.Method,
				"status", status,
				"request_id", middleware.GetReqID(r.Context()),
			)
		}
	})
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := healthResponse{Status: "ok"}
	status := http.StatusOK
	if len(s.checks) > 0 {
		response.Checks = make(map[string]string, len(s.checks))
	}
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			response.Checks[name] = "unavailable"
			response.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		response.Checks[name] = "ok"
	}
	writeJSON(w, status, response)
}
