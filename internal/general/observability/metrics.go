package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offers_total", Help: "Ride offers issued, labelled by final outcome"},
		[]string{"outcome"},
	)
	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ride_dispatch",
		Name:      "dispatch_latency_seconds",
		Help:      "Time from ride request to driver acceptance",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
	})
	VersionConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "version_conflicts_total", Help: "Optimistic concurrency conflicts on ride transitions",
	})
	RequestsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "requests_expired_total", Help: "Ride requests expired without a driver",
	})
	RidesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "rides_completed_total", Help: "Rides finished by the assigned driver",
	})
	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ride_dispatch", Name: "drivers_online", Help: "Drivers currently registered as available",
	})
	StaleDriversExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "stale_drivers_expired_total", Help: "Drivers forced offline after missed heartbeats",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// CountHTTPRequests wraps a mux and records every request in
// HTTPRequestsTotal. The path label uses the matched route pattern, not the
// raw URL, to keep cardinality bounded.
func CountHTTPRequests(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(rec, r)

		_, pattern := mux.Handler(r)
		if pattern == "" {
			pattern = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
	})
}
