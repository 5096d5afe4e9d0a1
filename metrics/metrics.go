// Package metrics publishes Prometheus instrumentation for the blob
// store, the staging layer, and the unmount/commit protocol, mirroring
// the way gcsfuse's internal/metrics package wires client_golang
// collectors around its own fs operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	blobStoreSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wimfs",
		Name:      "blob_store_size",
		Help:      "Number of distinct blob digests currently indexed by the mounted image.",
	})

	stagedBlobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wimfs",
		Name:      "staged_blobs",
		Help:      "Number of blobs currently materialized in the staging directory.",
	})

	commitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wimfs",
		Name:      "commit_duration_seconds",
		Help:      "Wall-clock time spent running the commit pipeline.",
		Buckets:   prometheus.DefBuckets,
	})

	unmountStatus = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wimfs",
		Name:      "unmount_status_total",
		Help:      "Count of unmount outcomes by reported status name.",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(blobStoreSize, stagedBlobs, commitDuration, unmountStatus)
}

// Registerer exposes the package's collectors for a caller (typically
// cmd) that wants to serve /metrics; it mirrors gcsfuse's pattern of
// handing callers the default registry rather than hiding it.
func Registerer() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}

func SetBlobStoreSize(n int) {
	blobStoreSize.Set(float64(n))
}

func SetStagedBlobs(n int) {
	stagedBlobs.Set(float64(n))
}

// ObserveCommit records how long a single commit pipeline run took.
func ObserveCommit(d time.Duration) {
	commitDuration.Observe(d.Seconds())
}

// IncUnmountStatus counts one more unmount finishing with the named
// status (e.g. "ok", "DAEMON_CRASHED", "MQUEUE").
func IncUnmountStatus(status string) {
	unmountStatus.WithLabelValues(status).Inc()
}
