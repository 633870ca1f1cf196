package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namespace = "alpaca"
var subsystem = "lfjournal"

var (
	// StartupTime stores how long opening the journal took (in seconds)
	StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "startup_seconds",
			Help:      "Seconds taken by the startup",
		},
	)

	// RecoveryTime stores how long the last recovery pass took (in seconds)
	RecoveryTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "recovery_seconds",
			Help:      "Seconds taken by the last recovery of a pre-existing journal",
		},
	)

	// TxCommitDuration stores the time from transaction setup to publish
	TxCommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "tx_commit_duration_seconds",
		Help:      "Transaction processing time from setup to publish",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
	})

	// TxCommittedTotal stores the number of committed transactions
	TxCommittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "tx_committed_total",
		Help:      "Number of committed transactions",
	})

	// TxRolledBackTotal stores the number of undone transactions
	// partitioned by the reason they were undone
	TxRolledBackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "tx_rolled_back_total",
		Help:      "Number of transactions undone, partitioned by reason (recovery, abort)",
	}, []string{"reason"})

	// StreamCommittedBytesTotal stores the committed bytes partitioned by
	// stream type
	StreamCommittedBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "stream_committed_bytes_total",
		Help:      "Bytes committed to streams, partitioned by stream type",
	}, []string{"type"})

	// SegmentsMapped stores the number of segments currently mapped
	SegmentsMapped = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "segments_mapped",
		Help:      "Number of stream segments currently memory-mapped",
	})

	// ObserverPanicsTotal stores the number of recovered observer panics
	ObserverPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "observer_panics_total",
		Help:      "Number of panics recovered while notifying observers",
	})

	// TotalDiskUsageBytes stores the disk usage of the journal directory
	TotalDiskUsageBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "disk_usage_bytes",
		Help:      "Bytes used on disk by the journal directory",
	})
)
