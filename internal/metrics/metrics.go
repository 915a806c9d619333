package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailwatch_sync_runs_total",
			Help: "Sync runs by outcome (connected, error, rejected)",
		},
		[]string{"result"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailwatch_sync_duration_seconds",
			Help:    "Duration of sync runs that reached the mailbox",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailwatch_messages_ingested_total",
			Help: "Fetched envelopes by ingest outcome (created, duplicate, failed)",
		},
		[]string{"result"},
	)

	Enrichments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailwatch_enrichments_total",
			Help: "Enrichment attempts by outcome (ok, failed, disabled)",
		},
		[]string{"result"},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailwatch_deliveries_total",
			Help: "Notification deliveries by platform and outcome",
		},
		[]string{"platform", "result"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Result maps a boolean outcome to a label value.
func Result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
