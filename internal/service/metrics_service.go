package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	cacheLatency     prometheus.Observer
	cacheWrite       prometheus.Observer
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	sweepRuns        *prometheus.CounterVec
	sweepTransitions *prometheus.CounterVec
	sweepDuration    prometheus.Observer
	notifications    *prometheus.CounterVec
	calendarBreaker  prometheus.Gauge
	requestsCreated  *prometheus.CounterVec
	partyTransitions *prometheus.CounterVec
}

// NewMetricsService registers the service collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache reads",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	sweepRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_runs_total",
		Help: "Timeout sweep invocations by result",
	}, []string{"result"})

	sweepTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_transitions_total",
		Help: "Requests touched by the timeout sweep by outcome",
	}, []string{"outcome"})

	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sweep_duration_seconds",
		Help:    "Duration of timeout sweeps",
		Buckets: prometheus.DefBuckets,
	})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_dispatched_total",
		Help: "Notification deliveries by channel and result",
	}, []string{"channel", "result"})

	calendarBreaker := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "calendar_breaker_state",
		Help: "Calendar circuit breaker state (0 closed, 1 half-open, 2 open)",
	})

	requestsCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "teaching_requests_created_total",
		Help: "Automatic request creations by result",
	}, []string{"result"})

	partyTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "teaching_request_actions_total",
		Help: "Party actions on teaching requests by action and result",
	}, []string{"action", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHits, cacheMisses,
		sweepRuns, sweepTransitions, sweepDuration, notifications, calendarBreaker, requestsCreated, partyTransitions, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		cacheLatency:     cacheLatency,
		cacheWrite:       cacheWrite,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		sweepRuns:        sweepRuns,
		sweepTransitions: sweepTransitions,
		sweepDuration:    sweepDuration,
		notifications:    notifications,
		calendarBreaker:  calendarBreaker,
		requestsCreated:  requestsCreated,
		partyTransitions: partyTransitions,
	}
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveSweep records one sweep invocation. result is ok, error or skipped.
func (m *MetricsService) ObserveSweep(result string, res *SweepResult, duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	if result != "skipped" {
		m.sweepDuration.Observe(duration.Seconds())
	}
	if res == nil {
		return
	}
	m.sweepTransitions.WithLabelValues(string(SweepOutcomeEscalated)).Add(float64(res.Escalated))
	m.sweepTransitions.WithLabelValues(string(SweepOutcomeFailed)).Add(float64(res.Failed))
	m.sweepTransitions.WithLabelValues(string(SweepOutcomeStale)).Add(float64(res.Stale))
}

// RecordNotification counts a delivery attempt on channel (amqp, email).
func (m *MetricsService) RecordNotification(channel string, err error) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, resultLabel(err)).Inc()
}

// SetCalendarBreakerState publishes the breaker state as a gauge value.
func (m *MetricsService) SetCalendarBreakerState(state int) {
	if m == nil {
		return
	}
	m.calendarBreaker.Set(float64(state))
}

// RecordRequestCreated counts automatic request creations.
func (m *MetricsService) RecordRequestCreated(err error) {
	if m == nil {
		return
	}
	m.requestsCreated.WithLabelValues(resultLabel(err)).Inc()
}

// RecordPartyAction counts accept, reject and cancel attempts.
func (m *MetricsService) RecordPartyAction(action string, err error) {
	if m == nil {
		return
	}
	m.partyTransitions.WithLabelValues(action, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
