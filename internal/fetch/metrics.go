package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts entity requests by result
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apigraph_fetch_requests_total",
		Help: "Total entity requests by result",
	}, []string{"result"})

	// requestDuration tracks entity request latency
	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "apigraph_fetch_request_duration_seconds",
		Help:    "Entity request duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	})

	// sessionEntities tracks the number of entities gathered per fetch session
	sessionEntities = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "apigraph_fetch_entities",
		Help:    "Number of distinct entities gathered per fetch session",
		Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000},
	})
)

const (
	resultOK        = "ok"
	resultStatus    = "status"
	resultTransport = "transport"
	resultMalformed = "malformed"
)
