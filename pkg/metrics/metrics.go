package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staking_farm_ledger_calls_total",
			Help: "The total number of mutating ledger calls",
		},
		[]string{"method", "status"},
	)

	LedgerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "staking_farm_ledger_call_duration_seconds",
			Help:    "Duration of mutating ledger calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	LedgerViews = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staking_farm_ledger_views_total",
			Help: "The total number of read-only ledger queries",
		},
		[]string{"method"},
	)

	CurrentEpoch = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "staking_farm_current_epoch",
			Help: "The current epoch of the ledger clock",
		},
	)

	BlocksAdvanced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "staking_farm_blocks_advanced_total",
			Help: "The total number of blocks fast-forwarded",
		},
	)

	EpochAdvances = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "staking_farm_epoch_advances_total",
			Help: "The total number of completed epoch advances",
		},
	)

	ClockStalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "staking_farm_clock_stalls_total",
			Help: "The total number of epoch advances aborted because the clock stalled",
		},
	)

	RewardsClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staking_farm_reward_claims_total",
			Help: "The total number of reward claims paid out",
		},
		[]string{"token_id"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "staking_farm_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	RPCRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "staking_farm_rpc_request_duration_seconds",
			Help:    "Duration of remote ledger requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RPCRequestErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "staking_farm_rpc_request_errors_total",
			Help: "The total number of remote ledger request errors",
		},
	)

	ScenarioSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staking_farm_scenario_steps_total",
			Help: "The total number of scenario steps executed",
		},
		[]string{"op", "status"},
	)

	InvariantViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staking_farm_invariant_violations_total",
			Help: "The total number of invariant violations detected by the orchestrator",
		},
		[]string{"invariant"},
	)

	JournalEntriesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "staking_farm_journal_entries_stored_total",
			Help: "The total number of ledger calls stored in the journal",
		},
	)
)

func RecordAPIRequest(endpoint, method string, status int, duration float64) {
	APIRequestDuration.WithLabelValues(endpoint, method, strconv.Itoa(status)).Observe(duration)
}

func RecordLedgerCall(method string, success bool, duration float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	LedgerCalls.WithLabelValues(method, status).Inc()
	LedgerCallDuration.WithLabelValues(method).Observe(duration)
}

func RecordLedgerView(method string) {
	LedgerViews.WithLabelValues(method).Inc()
}

func UpdateCurrentEpoch(epoch uint64) {
	CurrentEpoch.Set(float64(epoch))
}

func RecordBlocksAdvanced(n uint64) {
	BlocksAdvanced.Add(float64(n))
}

func RecordRPCRequest(duration float64, success bool) {
	RPCRequestDuration.Observe(duration)
	if !success {
		RPCRequestErrors.Inc()
	}
}

func RecordScenarioStep(op string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	ScenarioSteps.WithLabelValues(op, status).Inc()
}

func RecordInvariantViolation(invariant string) {
	InvariantViolations.WithLabelValues(invariant).Inc()
}

func RecordRewardClaim(tokenID string) {
	RewardsClaimed.WithLabelValues(tokenID).Inc()
}
