// Package metrics exposes the Prometheus collectors for the wallet service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "walletcore",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletcore",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "walletcore",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	sessionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletcore",
			Subsystem: "deposits",
			Name:      "sessions_created_total",
			Help:      "Total number of deposit sessions created.",
		},
		[]string{"network"},
	)

	depositsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletcore",
			Subsystem: "deposits",
			Name:      "detected_total",
			Help:      "Total number of on-chain fund detections.",
		},
		[]string{"network"},
	)

	depositsCredited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletcore",
			Subsystem: "deposits",
			Name:      "credited_total",
			Help:      "Total number of deposits credited to the ledger.",
		},
		[]string{"network", "status"},
	)

	degradedCredits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletcore",
			Subsystem: "deposits",
			Name:      "degraded_credits_total",
			Help:      "Credits valued with a fallback price after an oracle failure.",
		},
		[]string{"network"},
	)

	sessionsExpired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletcore",
			Subsystem: "deposits",
			Name:      "sessions_expired_total",
			Help:      "Total number of deposit sessions expired without funds.",
		},
		[]string{"network"},
	)

	scanErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletcore",
			Subsystem: "watcher",
			Name:      "scan_errors_total",
			Help:      "Total number of chain scan failures.",
		},
		[]string{"network"},
	)

	hotWalletSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletcore",
			Subsystem: "hotwallet",
			Name:      "sends_total",
			Help:      "Total number of hot wallet send attempts.",
		},
		[]string{"network", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		sessionsCreated,
		depositsDetected,
		depositsCredited,
		degradedCredits,
		sessionsExpired,
		scanErrors,
		hotWalletSends,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordSessionCreated counts a freshly opened deposit session.
func RecordSessionCreated(network string) {
	sessionsCreated.WithLabelValues(network).Inc()
}

// RecordDepositDetected counts a fund detection on a watched address.
func RecordDepositDetected(network string) {
	depositsDetected.WithLabelValues(network).Inc()
}

// RecordDepositCredited counts a ledger credit by its final status.
func RecordDepositCredited(network, status string) {
	depositsCredited.WithLabelValues(network, status).Inc()
}

// RecordDegradedCredit counts a credit valued with the fallback price.
func RecordDegradedCredit(network string) {
	degradedCredits.WithLabelValues(network).Inc()
}

// RecordSessionExpired counts a session that timed out without funds.
func RecordSessionExpired(network string) {
	sessionsExpired.WithLabelValues(network).Inc()
}

// RecordScanError counts a failed chain scan pass.
func RecordScanError(network string) {
	scanErrors.WithLabelValues(network).Inc()
}

// RecordHotWalletSend counts a hot wallet send attempt.
func RecordHotWalletSend(network string, success bool) {
	result := "false"
	if success {
		result = "true"
	}
	hotWalletSends.WithLabelValues(network, result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "deposits":
		if len(parts) > 1 {
			return "/deposits/:id"
		}
		return "/deposits"
	case "users":
		if len(parts) > 2 {
			return "/users/:id/" + parts[2]
		}
		return "/users/:id"
	case "admin":
		return "/" + trimmed
	}
	return "/" + parts[0]
}
