package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "voltmon_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	collectCycles  *prometheus.CounterVec
	collectLatency *prometheus.HistogramVec
	readingsStored prometheus.Counter
	deviceFailures prometheus.Counter

	queryRequests *prometheus.CounterVec
	queryLatency  *prometheus.HistogramVec

	alertsSent *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		collectCycles = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "collect_cycles_total",
				Help: "Total collection cycles by result",
			},
			[]string{"result"},
		)
		collectLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "collect_cycle_latency_seconds",
				Help:    "Collection cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		readingsStored = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_stored_total",
				Help: "Total readings persisted",
			},
		)
		deviceFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "device_failures_total",
				Help: "Total per-device poll or normalization failures",
			},
		)

		queryRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "query_requests_total",
				Help: "Total query requests by endpoint and result",
			},
			[]string{"endpoint", "result"},
		)
		queryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "query_latency_seconds",
				Help:    "Query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "result"},
		)

		alertsSent = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_sent_total",
				Help: "Total voltage alerts by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			collectCycles,
			collectLatency,
			readingsStored,
			deviceFailures,
			queryRequests,
			queryLatency,
			alertsSent,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveCycle records one collection cycle outcome.
func ObserveCycle(result string, readings int, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if collectCycles != nil {
		collectCycles.WithLabelValues(result).Inc()
	}
	if collectLatency != nil {
		collectLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if result == resultSuccess && readings > 0 && readingsStored != nil {
		readingsStored.Add(float64(readings))
	}
}

// AddDeviceFailures increments the per-device failure counter by count.
func AddDeviceFailures(count int) {
	if count <= 0 {
		return
	}
	if deviceFailures != nil {
		deviceFailures.Add(float64(count))
	}
}

// ObserveQuery records a query request duration and result.
func ObserveQuery(endpoint, result string, duration time.Duration) {
	if endpoint == "" {
		endpoint = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if queryRequests != nil {
		queryRequests.WithLabelValues(endpoint, result).Inc()
	}
	if queryLatency != nil {
		queryLatency.WithLabelValues(endpoint, result).Observe(duration.Seconds())
	}
}

// IncAlert increments the alert counter.
func IncAlert(result string) {
	if result == "" {
		result = resultSuccess
	}
	if alertsSent != nil {
		alertsSent.WithLabelValues(result).Inc()
	}
}

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "readings_table_rows",
			Help: "Rows currently in the voltage_readings table",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM voltage_readings")
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
