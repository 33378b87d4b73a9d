package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordDecision(t *testing.T) {
	allowedBefore := testutil.ToFloat64(decisionsTotal.WithLabelValues(OutcomeAllowed))
	deniedBefore := testutil.ToFloat64(decisionsTotal.WithLabelValues(OutcomeDenied))

	RecordDecision(OutcomeAllowed)
	RecordDecision(OutcomeDenied)
	RecordDecision(OutcomeDenied)

	assert.Equal(t, allowedBefore+1, testutil.ToFloat64(decisionsTotal.WithLabelValues(OutcomeAllowed)))
	assert.Equal(t, deniedBefore+2, testutil.ToFloat64(decisionsTotal.WithLabelValues(OutcomeDenied)))
}

func TestRecordCheckError(t *testing.T) {
	before := testutil.ToFloat64(checkErrorsTotal)

	RecordCheckError()

	assert.Equal(t, before+1, testutil.ToFloat64(checkErrorsTotal))
}

func TestMetricsHandler(t *testing.T) {
	RecordDecision(OutcomeAllowed)

	w := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ratewall_decisions_total")
}
