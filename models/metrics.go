package models

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	queryKindLabel = "kind"

	queryKindBox     = "box"
	queryKindSphere  = "sphere"
	queryKindFrustum = "frustum"
	queryKindStream  = "stream"
)

var (
	spaceCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kenaz_space_count",
		Help: "The number of spaces.",
	})

	spaceCountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kenaz_space_count_total",
		Help: "The total number of spaces.",
	})

	pointCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kenaz_point_count",
		Help: "The number of points across all spaces.",
	})

	balanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kenaz_balance_duration_seconds",
		Help:    "The time spent rebuilding space trees.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	queryCountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kenaz_queries_total",
		Help: "The total number of spatial queries.",
	}, []string{queryKindLabel})

	queryResults = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kenaz_query_results",
		Help:    "The number of points returned by spatial queries.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{queryKindLabel})
)

func instrumentIncreaseSpaceGauge() {
	spaceCount.Inc()
	spaceCountTotal.Inc()
}

func instrumentDecreaseSpaceGauge() {
	spaceCount.Dec()
}

func instrumentPointGauge(delta int) {
	pointCount.Add(float64(delta))
}

func instrumentBalance(start time.Time) {
	balanceDuration.Observe(time.Since(start).Seconds())
}

func instrumentQuery(kind string, results int) {
	labels := prometheus.Labels{queryKindLabel: kind}
	queryCountTotal.With(labels).Inc()
	queryResults.With(labels).Observe(float64(results))
}
