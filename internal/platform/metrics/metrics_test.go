package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegistryCounters(t *testing.T) {
	r := NewRegistry("escrowline")

	r.RecordApprovalDecision("FUND_RELEASE", true)
	r.RecordApprovalDecision("FUND_RELEASE", true)
	r.RecordApprovalDecision("FUND_RELEASE", false)
	r.RecordAmendmentTransition("PENDING", "APPLIED")
	r.RecordInvitationResponse("ACCEPTED")
	r.RecordDealActivation()

	require.Equal(t, 2.0, testutil.ToFloat64(r.approvalDecisions.WithLabelValues("FUND_RELEASE", "true")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.approvalDecisions.WithLabelValues("FUND_RELEASE", "false")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.amendmentTransition.WithLabelValues("PENDING", "APPLIED")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.invitationResponses.WithLabelValues("ACCEPTED")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.dealActivations))
}

func TestHandlerServesTextFormat(t *testing.T) {
	r := NewRegistry("escrowline")
	r.RecordDealActivation()
	r.ObserveHTTPRequest("/v1/deals/{deal_id}/activation", http.MethodGet, http.StatusOK, 15*time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	require.True(t, strings.Contains(text, "escrowline_deal_activations_total 1"), text)
	require.True(t, strings.Contains(text, `escrowline_http_requests_total{method="GET",route="/v1/deals/{deal_id}/activation",status="200"} 1`), text)
}

func TestRegistriesAreIndependent(t *testing.T) {
	first := NewRegistry("escrowline")
	second := NewRegistry("escrowline")
	first.RecordDealActivation()
	require.Equal(t, 0.0, testutil.ToFloat64(second.dealActivations))
}
