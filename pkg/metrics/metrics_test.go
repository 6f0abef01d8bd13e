package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLedgerCall(t *testing.T) {
	before := testutil.ToFloat64(LedgerCalls.WithLabelValues("stake", "success"))
	failedBefore := testutil.ToFloat64(LedgerCalls.WithLabelValues("stake", "failure"))

	RecordLedgerCall("stake", true, 0.01)
	RecordLedgerCall("stake", true, 0.02)
	RecordLedgerCall("stake", false, 0.03)

	assert.Equal(t, before+2, testutil.ToFloat64(LedgerCalls.WithLabelValues("stake", "success")))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(LedgerCalls.WithLabelValues("stake", "failure")))
}

func TestUpdateCurrentEpoch(t *testing.T) {
	UpdateCurrentEpoch(17)
	assert.Equal(t, float64(17), testutil.ToFloat64(CurrentEpoch))

	UpdateCurrentEpoch(18)
	assert.Equal(t, float64(18), testutil.ToFloat64(CurrentEpoch))
}

func TestRecordBlocksAdvanced(t *testing.T) {
	before := testutil.ToFloat64(BlocksAdvanced)
	RecordBlocksAdvanced(100)
	RecordBlocksAdvanced(300)
	assert.Equal(t, before+400, testutil.ToFloat64(BlocksAdvanced))
}

func TestRecordRPCRequest(t *testing.T) {
	before := testutil.ToFloat64(RPCRequestErrors)
	RecordRPCRequest(0.1, true)
	RecordRPCRequest(0.2, false)
	assert.Equal(t, before+1, testutil.ToFloat64(RPCRequestErrors))
}

func TestRecordScenarioStepAndViolations(t *testing.T) {
	RecordScenarioStep("deposit", true)
	RecordScenarioStep("withdraw", false)
	RecordInvariantViolation("balance_sum")

	assert.GreaterOrEqual(t, testutil.ToFloat64(ScenarioSteps.WithLabelValues("deposit", "success")), float64(1))
	assert.GreaterOrEqual(t, testutil.ToFloat64(ScenarioSteps.WithLabelValues("withdraw", "failure")), float64(1))
	assert.GreaterOrEqual(t, testutil.ToFloat64(InvariantViolations.WithLabelValues("balance_sum")), float64(1))
}

func TestConcurrentRecording(t *testing.T) {
	before := testutil.ToFloat64(RewardsClaimed.WithLabelValues("token.test.near"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RecordRewardClaim("token.test.near")
		}()
	}
	wg.Wait()

	assert.Equal(t, before+50, testutil.ToFloat64(RewardsClaimed.WithLabelValues("token.test.near")))
}

func TestMetricsEndpoint(t *testing.T) {
	RecordAPIRequest("/v1/call", "POST", 200, 0.05)
	RecordLedgerView("get_account")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "staking_farm_api_request_duration_seconds"))
	assert.True(t, strings.Contains(body, `staking_farm_ledger_views_total{method="get_account"}`))
}
