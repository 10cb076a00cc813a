package pipeline

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RequestIDHeader is the HTTP header name for request ID.
const RequestIDHeader = "X-Request-ID"

// RequestIDHookName is the registration name of the RequestID hook.
const RequestIDHookName = "request-id"

// Prometheus metrics for outgoing requests.
var (
	clientRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstore_client_requests_total",
			Help: "Total number of requests sent to the document store",
		},
		[]string{"code", "method"},
	)

	clientRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docstore_client_request_duration_seconds",
			Help:    "Document store request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"code", "method"},
	)

	clientRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docstore_client_requests_in_flight",
			Help: "Number of document store requests currently in flight",
		},
	)
)

// RequestID returns a hook that sets a unique request ID unless the caller
// already provided one.
func RequestID() Hook {
	return NewHook(RequestIDHookName, func(r *http.Request) {
		if r.Header.Get(RequestIDHeader) == "" {
			r.Header.Set(RequestIDHeader, uuid.New().String())
		}
	})
}

// Instrument wraps a transport with Prometheus request metrics.
func Instrument(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return promhttp.InstrumentRoundTripperInFlight(clientRequestsInFlight,
		promhttp.InstrumentRoundTripperCounter(clientRequestsTotal,
			promhttp.InstrumentRoundTripperDuration(clientRequestDuration, base),
		),
	)
}
