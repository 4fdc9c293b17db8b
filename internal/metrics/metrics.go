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
	// Registry holds the crowdfunding collectors.
	Registry = prometheus.NewRegistry()

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crowdfund",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Fund operations by outcome.",
		},
		[]string{"operation", "result"},
	)

	raisedAmount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "crowdfund",
			Subsystem: "ledger",
			Name:      "raised_amount",
			Help:      "Sum of current contributor balances.",
		},
	)

	fundBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "crowdfund",
			Subsystem: "ledger",
			Name:      "balance",
			Help:      "Funds currently held by the ledger.",
		},
	)

	contributors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "crowdfund",
			Subsystem: "ledger",
			Name:      "contributors",
			Help:      "Distinct identities that ever contributed.",
		},
	)

	publishFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crowdfund",
			Subsystem: "events",
			Name:      "publish_failures_total",
			Help:      "Events that could not be delivered to a publisher.",
		},
		[]string{"topic"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crowdfund",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crowdfund",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path"},
	)
)

func init() {
	Registry.MustRegister(
		operations,
		raisedAmount,
		fundBalance,
		contributors,
		publishFailures,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordOperation counts one fund operation. result is "ok" or a rejection code.
func RecordOperation(operation, result string) {
	if result == "" {
		result = "error"
	}
	operations.WithLabelValues(operation, result).Inc()
}

// SetFundTotals mirrors the ledger totals into gauges.
func SetFundTotals(raised, balance float64, contributorCount int) {
	raisedAmount.Set(raised)
	fundBalance.Set(balance)
	contributors.Set(float64(contributorCount))
}

// RecordPublishFailure counts one event that a publisher failed to deliver.
func RecordPublishFailure(topic string) {
	publishFailures.WithLabelValues(topic).Inc()
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

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// unmatchedPath labels requests that match no route.
const unmatchedPath = "/other"

var (
	topLevelPaths = map[string]bool{
		"health":        true,
		"metrics":       true,
		"fund":          true,
		"contributions": true,
		"receive":       true,
		"refunds":       true,
		"requests":      true,
		"ledgerEntries": true,
		"events":        true,
	}
	requestActions = map[string]bool{
		"votes":   true,
		"payment": true,
	}
)

// canonicalPath maps a request path onto a fixed set of route labels so label
// cardinality stays bounded whatever clients send.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch {
	case parts[0] == "requests" && len(parts) == 2:
		return "/requests/:index"
	case parts[0] == "requests" && len(parts) == 3 && requestActions[parts[2]]:
		return "/requests/:index/" + parts[2]
	case parts[0] == "contributors" && len(parts) == 2:
		return "/contributors/:id"
	case len(parts) == 1 && topLevelPaths[parts[0]]:
		return "/" + parts[0]
	}
	return unmatchedPath
}
