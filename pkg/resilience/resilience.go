package resilience

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"careconnect-backend/pkg/logger"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

const (
	failureThreshold    = 3
	cooldownPeriod      = 10 * time.Second
	halfOpenProbeLimit  = 3
	operationTimeout    = 10 * time.Second
	maxElapsedTime      = 30 * time.Second
	initialRetryBackoff = 100 * time.Millisecond
	maxRetryBackoff     = 5 * time.Second
)

var (
	minioRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minio_requests_total",
			Help: "Total number of MinIO requests",
		},
		[]string{"operation", "status"},
	)
	minioErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minio_errors_total",
			Help: "Total number of MinIO errors",
		},
		[]string{"operation", "error_type"},
	)
	minioBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "minio_circuit_breaker_state",
		Help: "State of MinIO circuit breaker (0=closed, 1=half_open, 2=open)",
	})
)

// MinIOResilience wraps MinIO operations with retry and a circuit breaker,
// so a struggling object store degrades attachment features instead of
// tying up request handlers.
type MinIOResilience struct {
	mu                  sync.Mutex
	state               CircuitBreakerState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenProbes      int
}

// NewMinIOResilience creates a new MinIO resilience wrapper
func NewMinIOResilience() *MinIOResilience {
	return &MinIOResilience{state: CircuitBreakerClosed}
}

// Execute runs an operation with retry, timeout, and circuit breaker.
func (r *MinIOResilience) Execute(ctx context.Context, operation string, fn func() error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	var lastErr error
	attempts := 0
	startTime := time.Now()

	for time.Since(startTime) < maxElapsedTime {
		attempts++

		if !r.allowRequest(operation) {
			minioRequestsTotal.WithLabelValues(operation, "circuit_breaker_open").Inc()
			return fmt.Errorf("storage temporarily unavailable (circuit breaker open)")
		}

		if attempts > 1 {
			logger.Warn("Storage operation retry",
				zap.String("operation", operation),
				zap.Int("attempt", attempts),
				zap.Error(lastErr),
			)
		}

		err := fn()
		if err == nil {
			r.recordSuccess(operation)
			minioRequestsTotal.WithLabelValues(operation, "success").Inc()
			if attempts > 1 {
				logger.Info("Storage operation recovered",
					zap.String("operation", operation),
					zap.Int("attempts", attempts),
				)
			}
			return nil
		}

		lastErr = err
		r.recordFailure(operation)
		minioErrorsTotal.WithLabelValues(operation, classifyError(err)).Inc()
		minioRequestsTotal.WithLabelValues(operation, "failure").Inc()

		backoff := time.Duration(attempts) * initialRetryBackoff
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}

		select {
		case <-timeoutCtx.Done():
			return fmt.Errorf("storage operation %s timed out: %w", operation, lastErr)
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("storage operation %s failed after %d attempts: %w", operation, attempts, lastErr)
}

// allowRequest decides whether the breaker lets a request through, moving
// open to half-open once the cooldown has elapsed.
func (r *MinIOResilience) allowRequest(operation string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case CircuitBreakerClosed:
		return true
	case CircuitBreakerOpen:
		if time.Since(r.lastFailureTime) < cooldownPeriod {
			return false
		}
		r.state = CircuitBreakerHalfOpen
		r.halfOpenProbes = 0
		minioBreakerState.Set(1)
		logger.Warn("Storage circuit breaker half-open, probing",
			zap.String("operation", operation))
		return true
	case CircuitBreakerHalfOpen:
		if r.halfOpenProbes >= halfOpenProbeLimit {
			return false
		}
		r.halfOpenProbes++
		return true
	}
	return true
}

func (r *MinIOResilience) recordSuccess(operation string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != CircuitBreakerClosed {
		logger.Info("Storage circuit breaker closed",
			zap.String("operation", operation))
	}
	r.state = CircuitBreakerClosed
	r.consecutiveFailures = 0
	r.halfOpenProbes = 0
	r.lastFailureTime = time.Time{}
	minioBreakerState.Set(0)
}

func (r *MinIOResilience) recordFailure(operation string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consecutiveFailures++
	r.lastFailureTime = time.Now()

	// A half-open probe failure reopens immediately
	if r.state == CircuitBreakerHalfOpen || r.consecutiveFailures >= failureThreshold {
		if r.state != CircuitBreakerOpen {
			logger.Error("Storage circuit breaker open",
				zap.String("operation", operation),
				zap.Int("consecutive_failures", r.consecutiveFailures),
			)
		}
		r.state = CircuitBreakerOpen
		minioBreakerState.Set(2)
	}
}

// GetCircuitBreakerState returns the current circuit breaker state
func (r *MinIOResilience) GetCircuitBreakerState() CircuitBreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// classifyError classifies errors for better metrics
func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "bucket not found") || strings.Contains(errMsg, "not found"):
		return "not_found"
	case strings.Contains(errMsg, "permission denied") || strings.Contains(errMsg, "access denied"):
		return "permission"
	default:
		return "unknown"
	}
}
