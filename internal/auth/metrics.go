package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics.
var (
	tokenExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstore_auth_token_exchanges_total",
			Help: "Total number of token exchanges by authenticator and result",
		},
		[]string{"authenticator", "result"},
	)

	tokenExchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docstore_auth_token_exchange_duration_seconds",
			Help:    "Token exchange duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"authenticator"},
	)

	challengesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstore_auth_challenges_total",
			Help: "Total number of handled authentication challenges by status and final state",
		},
		[]string{"status", "state"},
	)
)
