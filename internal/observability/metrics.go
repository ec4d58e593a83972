package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpDurationHistogram  *prometheus.HistogramVec
	depositFlowCounter     *prometheus.CounterVec
	depositPollCounter     *prometheus.CounterVec
	eligibilityCounter     *prometheus.CounterVec
	idempotencyCounter     *prometheus.CounterVec
	workerRunCounter       *prometheus.CounterVec
	depositDivergenceGauge *prometheus.GaugeVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		depositFlowCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deposit_flow_transitions_total",
			Help: "Deposit flow state machine transitions",
		}, []string{"state"})

		depositPollCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deposit_poll_ticks_total",
			Help: "Charge status poll tick outcomes",
		}, []string{"result"})

		eligibilityCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_eligibility_rejections_total",
			Help: "Rejected payout requests by reason",
		}, []string{"reason"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		depositDivergenceGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "group_deposit_divergence_cents",
			Help: "Confirmed deposit total minus expected total per group",
		}, []string{"group_id"})

		prometheus.MustRegister(
			httpDurationHistogram,
			depositFlowCounter,
			depositPollCounter,
			eligibilityCounter,
			idempotencyCounter,
			workerRunCounter,
			depositDivergenceGauge,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementFlowTransition(state string) {
	if depositFlowCounter == nil {
		return
	}
	depositFlowCounter.WithLabelValues(state).Inc()
}

func IncrementPollTick(result string) {
	if depositPollCounter == nil {
		return
	}
	depositPollCounter.WithLabelValues(result).Inc()
}

func IncrementEligibilityRejection(reason string) {
	if eligibilityCounter == nil {
		return
	}
	eligibilityCounter.WithLabelValues(reason).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func SetDepositDivergence(groupID string, cents int64) {
	if depositDivergenceGauge == nil {
		return
	}
	depositDivergenceGauge.WithLabelValues(groupID).Set(float64(cents))
}
