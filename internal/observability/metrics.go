package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	mutationCounter       *prometheus.CounterVec
	mirrorSnapshotCounter *prometheus.CounterVec
	mirrorReconnectCount  *prometheus.CounterVec
	mirrorStaleGauge      *prometheus.GaugeVec
	mirrorListenersGauge  *prometheus.GaugeVec
	challengeCounter      *prometheus.CounterVec
	sessionCounter        *prometheus.CounterVec
	idempotencyCounter    *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		mutationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "board_mutations_total",
			Help: "Mutation gateway outcomes per entity and operation",
		}, []string{"entity", "op", "result"})

		mirrorSnapshotCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livesync_snapshots_total",
			Help: "Snapshots applied to local mirrors",
		}, []string{"collection"})

		mirrorReconnectCount = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livesync_reconnects_total",
			Help: "Subscription transport drops followed by a resubscribe attempt",
		}, []string{"collection"})

		mirrorStaleGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livesync_stale_mirrors",
			Help: "Mirrors currently serving data that may be out of date",
		}, []string{"collection"})

		mirrorListenersGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livesync_live_connections",
			Help: "Open live feed connections",
		}, []string{"feed"})

		challengeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_challenges_total",
			Help: "Phone challenge outcomes",
		}, []string{"outcome"})

		sessionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_session_events_total",
			Help: "Session sign-in and sign-out events",
		}, []string{"provider", "event"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			mutationCounter,
			mirrorSnapshotCounter,
			mirrorReconnectCount,
			mirrorStaleGauge,
			mirrorListenersGauge,
			challengeCounter,
			sessionCounter,
			idempotencyCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementMutation(entity, op, result string) {
	if mutationCounter == nil {
		return
	}
	mutationCounter.WithLabelValues(entity, op, result).Inc()
}

func IncrementMirrorSnapshot(collection string) {
	if mirrorSnapshotCounter == nil {
		return
	}
	mirrorSnapshotCounter.WithLabelValues(collection).Inc()
}

func IncrementMirrorReconnect(collection string) {
	if mirrorReconnectCount == nil {
		return
	}
	mirrorReconnectCount.WithLabelValues(collection).Inc()
}

// SetMirrorStale moves the stale gauge for collection up or down by one.
func SetMirrorStale(collection string, stale bool) {
	if mirrorStaleGauge == nil {
		return
	}
	if stale {
		mirrorStaleGauge.WithLabelValues(collection).Inc()
		return
	}
	mirrorStaleGauge.WithLabelValues(collection).Dec()
}

func AddLiveConnections(feed string, delta int) {
	if mirrorListenersGauge == nil {
		return
	}
	mirrorListenersGauge.WithLabelValues(feed).Add(float64(delta))
}

func IncrementChallenge(outcome string) {
	if challengeCounter == nil {
		return
	}
	challengeCounter.WithLabelValues(outcome).Inc()
}

func IncrementSessionEvent(provider, event string) {
	if sessionCounter == nil {
		return
	}
	sessionCounter.WithLabelValues(provider, event).Inc()
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
