package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FilesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merlin_files_processed_total",
		Help: "Total number of inbox files merged, labelled by source.",
	}, []string{"source"})

	FactsMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "merlin_transactions_merged_total",
		Help: "Total number of transaction facts inserted.",
	})

	FactsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "merlin_transactions_duplicate_total",
		Help: "Total number of transaction facts skipped as already known.",
	})

	VersionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "merlin_terminal_versions_opened_total",
		Help: "Total number of terminal dimension versions opened.",
	})

	VersionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "merlin_terminal_versions_closed_total",
		Help: "Total number of terminal dimension versions closed.",
	})

	AlertsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merlin_alerts_generated_total",
		Help: "Total number of fraud alerts generated, labelled by rule type.",
	}, []string{"rule_type"})

	RebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "merlin_day_rebuild_duration_ms",
		Help:    "End-to-end duration of one business-day alert rebuild in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	ContextLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merlin_context_lookups_total",
		Help: "Card context resolutions, labelled by cache outcome.",
	}, []string{"outcome"})
)
