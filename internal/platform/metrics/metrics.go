package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the governance counters. It satisfies the Metrics port of
// every deal-governance service and is safe for concurrent use.
type Registry struct {
	registry            *prometheus.Registry
	approvalDecisions   *prometheus.CounterVec
	amendmentTransition *prometheus.CounterVec
	invitationResponses *prometheus.CounterVec
	dealActivations     prometheus.Counter
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

func NewRegistry(namespace string) *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		approvalDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "approval_decisions_total",
				Help:      "Approval authority checks by action type and outcome.",
			},
			[]string{"action_type", "allowed"},
		),
		amendmentTransition: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "amendment_transitions_total",
				Help:      "Amendment status transitions.",
			},
			[]string{"from", "to"},
		),
		invitationResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invitation_responses_total",
				Help:      "Invitation responses by resulting status.",
			},
			[]string{"status"},
		),
		dealActivations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deal_activations_total",
				Help:      "Deals moved from PENDING to ACTIVE.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}
	r.registry.MustRegister(
		r.approvalDecisions,
		r.amendmentTransition,
		r.invitationResponses,
		r.dealActivations,
		r.httpRequests,
		r.httpDuration,
	)
	return r
}

func (r *Registry) RecordApprovalDecision(actionType string, allowed bool) {
	r.approvalDecisions.WithLabelValues(actionType, strconv.FormatBool(allowed)).Inc()
}

func (r *Registry) RecordAmendmentTransition(from string, to string) {
	r.amendmentTransition.WithLabelValues(from, to).Inc()
}

func (r *Registry) RecordInvitationResponse(status string) {
	r.invitationResponses.WithLabelValues(status).Inc()
}

func (r *Registry) RecordDealActivation() {
	r.dealActivations.Inc()
}

// ObserveHTTPRequest records one served request. route is the matched
// pattern, not the raw path.
func (r *Registry) ObserveHTTPRequest(route string, method string, status int, elapsed time.Duration) {
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry to tests and exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
