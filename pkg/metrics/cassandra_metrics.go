package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cassandra metrics for monitoring query performance and reliability
var (
	// Query metrics
	CassandraQueryTimeoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cassandra_query_timeout_total",
		Help: "Total number of Cassandra query timeouts",
	}, []string{"operation", "table"})

	CassandraQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cassandra_query_duration_seconds",
		Help:    "Cassandra query latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"operation", "table"})

	CassandraQueryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cassandra_query_total",
		Help: "Total number of Cassandra queries executed",
	}, []string{"operation", "table", "status"})

	// Error metrics
	CassandraQueryErrorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cassandra_query_error_total",
		Help: "Total number of Cassandra query errors",
	}, []string{"operation", "table", "error_type"})

	// PostgreSQL connection pool metrics, sampled by the connector
	DBConnectionsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_connections_in_use",
		Help: "Current number of database connections in use",
	})

	DBConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_connections_idle",
		Help: "Current number of idle database connections",
	})

	// Request timeout metrics
	RequestTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "request_timeout_total",
		Help: "Total number of request timeouts",
	})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "request_duration_seconds",
		Help:    "Request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "path", "status"})

	RequestTimeoutDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "request_timeout_duration_seconds",
		Help:    "Request timeout duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "path"})

	RequestInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "request_in_flight",
		Help: "Current number of in-flight requests",
	})
)

// requestInFlightCount tracks in-flight requests atomically
// This allows us to both update the Prometheus gauge AND read the value
var requestInFlightCount int64

// RecordCassandraQueryTimeout records a Cassandra query timeout
func RecordCassandraQueryTimeout(operation, table string) {
	CassandraQueryTimeoutTotal.WithLabelValues(operation, table).Inc()
}

// RecordCassandraQueryDuration records the duration of a Cassandra query
func RecordCassandraQueryDuration(operation, table string, duration float64) {
	CassandraQueryDuration.WithLabelValues(operation, table).Observe(duration)
}

// RecordCassandraQuery records a Cassandra query execution
func RecordCassandraQuery(operation, table, status string) {
	CassandraQueryTotal.WithLabelValues(operation, table, status).Inc()
}

// RecordCassandraQueryError records a Cassandra query error
func RecordCassandraQueryError(operation, table, errorType string) {
	CassandraQueryErrorTotal.WithLabelValues(operation, table, errorType).Inc()
}

// RecordDBConnectionsInUse sets the number of database connections in use
func RecordDBConnectionsInUse(count int) {
	DBConnectionsInUse.Set(float64(count))
}

// RecordDBConnectionsIdle sets the number of idle database connections
func RecordDBConnectionsIdle(count int) {
	DBConnectionsIdle.Set(float64(count))
}

// RecordRequestTimeout records a request timeout
func RecordRequestTimeout(timeout time.Duration, duration time.Duration, method, path string) {
	RequestTimeoutTotal.Inc()
	RequestTimeoutDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRequestDuration records a request duration
func RecordRequestDuration(duration time.Duration, method, path, status string) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordRequestStart records the start of a request
func RecordRequestStart() {
	RequestInFlight.Inc()
	atomic.AddInt64(&requestInFlightCount, 1)
}

// RecordRequestEnd records the end of a request
func RecordRequestEnd() {
	RequestInFlight.Dec()
	atomic.AddInt64(&requestInFlightCount, -1)
}

// GetRequestInFlight returns the current number of in-flight requests
func GetRequestInFlight() float64 {
	return float64(atomic.LoadInt64(&requestInFlightCount))
}
