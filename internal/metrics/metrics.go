package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Per-stage counters for the batch pipeline. In one-shot mode these are
// process-lifetime totals; in interval mode they accumulate across batches
// and are exposed via the metrics endpoint.

var (
	// Normalizer
	NormalizerRecordsIn = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "supplysignals",
		Subsystem: "normalizer",
		Name:      "records_in_total",
		Help:      "Raw event records read from the raw queue",
	})

	NormalizerFactsOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "supplysignals",
		Subsystem: "normalizer",
		Name:      "facts_out_total",
		Help:      "Facts written to the fact queue",
	})

	NormalizerDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "supplysignals",
		Subsystem: "normalizer",
		Name:      "duplicates_dropped_total",
		Help:      "Raw events suppressed by the dedup store",
	})

	NormalizerBadRecords = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "supplysignals",
		Subsystem: "normalizer",
		Name:      "bad_records_total",
		Help:      "Raw queue lines that failed JSON decoding",
	})

	// Timestamp hardener
	HardenerParsedOK = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "supplysignals",
		Subsystem: "hardener",
		Name:      "timestamps_parsed_total",
		Help:      "Timestamps hardened from a source field",
	})

	HardenerBackfilled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "supplysignals",
		Subsystem: "hardener",
		Name:      "timestamps_backfilled_total",
		Help:      "Timestamps backfilled from ingestion time",
	})

	HardenerParseFail = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "supplysignals",
		Subsystem: "hardener",
		Name:      "parse_failures_total",
		Help:      "Candidate timestamp fields that failed to parse",
	})

	HardenerMissingOrError = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "supplysignals",
		Subsystem: "hardener",
		Name:      "missing_or_error_total",
		Help:      "Facts emitted with a timestamp error marker",
	})

	// Watchlist filter
	WatchlistDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "supplysignals",
		Subsystem: "watchlist",
		Name:      "facts_dropped_total",
		Help:      "Facts dropped because their issuer is not on the watchlist",
	})

	// Signal detector
	DetectorFactsIn = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "supplysignals",
		Subsystem: "detector",
		Name:      "facts_in_total",
		Help:      "Facts consumed by the signal detector",
	})

	DetectorSignalsOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "supplysignals",
		Subsystem: "detector",
		Name:      "signals_emitted_total",
		Help:      "Signals written to the signal queue",
	})

	// Signal fusion
	FusionSignalsIn = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "supplysignals",
		Subsystem: "fusion",
		Name:      "signals_in_total",
		Help:      "Signals consumed by the conviction fuser",
	})

	FusionFusionsOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "supplysignals",
		Subsystem: "fusion",
		Name:      "fusions_out_total",
		Help:      "Fused conviction records written to the fused queue",
	})

	// Alert dispatcher
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "supplysignals",
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Alerts delivered, by sink",
	}, []string{"sink"})

	AlertsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "supplysignals",
		Subsystem: "alerts",
		Name:      "failed_total",
		Help:      "Alert deliveries that failed after retries, by sink",
	}, []string{"sink"})

	AlertsSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "supplysignals",
		Subsystem: "alerts",
		Name:      "suppressed_total",
		Help:      "Alerts suppressed by per-run cooldown, by sink",
	}, []string{"sink"})

	// Batch runs
	RunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "supplysignals",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Completed batch runs",
	})

	RunErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "supplysignals",
		Subsystem: "pipeline",
		Name:      "run_errors_total",
		Help:      "Batch runs that ended in error",
	})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "supplysignals",
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "Batch run duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
)
