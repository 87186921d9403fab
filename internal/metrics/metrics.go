// Package metrics registers the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TxnTotal counts buy/sell submissions by side and outcome.
	TxnTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cropledger_txn_total",
		Help: "Buy and sell transactions by side and result",
	}, []string{"side", "result"})

	// TxnDuration tracks submit-to-commit latency.
	TxnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cropledger_txn_duration_seconds",
		Help:    "Transaction commit duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"side"})

	// PushTotal counts cloud pushes by result: ok, queued, conflict.
	PushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cropledger_sync_push_total",
		Help: "Cloud pushes by result",
	}, []string{"result"})

	MergedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cropledger_sync_merged_records_total",
		Help: "Remote records applied to the local ledger by source",
	}, []string{"source"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cropledger_offline_queue_depth",
		Help: "Offline batches waiting for connectivity",
	})

	Online = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cropledger_cloud_online",
		Help: "1 when the cloud is reachable",
	})
)
