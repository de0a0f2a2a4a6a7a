// Package metrics provides Prometheus metrics for the sync engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tree metrics
	remoteNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mirabelle_remote_nodes",
			Help: "Number of nodes in the remote tree",
		},
	)

	localNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mirabelle_local_nodes",
			Help: "Number of nodes in the local mirror tree",
		},
	)

	fingerprintBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mirabelle_fingerprint_bytes",
			Help: "Total size of all content indexed by fingerprint",
		},
	)

	// Sync activity metrics
	stateChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirabelle_tree_state_changes_total",
			Help: "Displayed sync-state changes by resulting state",
		},
		[]string{"state"},
	)

	uploadsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mirabelle_uploads_started_total",
			Help: "Uploads handed to the transfer layer after debounce",
		},
	)

	dedupCopiesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mirabelle_dedup_copies_total",
			Help: "Uploads avoided by copying existing remote content",
		},
	)

	removalRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirabelle_removal_retries_total",
			Help: "Failed remote removal attempts by mode",
		},
		[]string{"mode"},
	)
)

// SetRemoteNodes updates the remote tree size gauge.
func SetRemoteNodes(n int64) {
	remoteNodes.Set(float64(n))
}

// SetLocalNodes updates the local tree size gauge.
func SetLocalNodes(n int64) {
	localNodes.Set(float64(n))
}

// SetFingerprintBytes updates the indexed-content total.
func SetFingerprintBytes(n int64) {
	fingerprintBytes.Set(float64(n))
}

// RecordStateChange counts a displayed sync-state change.
func RecordStateChange(state string) {
	stateChangesTotal.WithLabelValues(state).Inc()
}

// RecordUploadStart counts an upload handed to the transfer layer.
func RecordUploadStart() {
	uploadsStartedTotal.Inc()
}

// RecordDedupCopy counts an upload avoided by server-side copy.
func RecordDedupCopy() {
	dedupCopiesTotal.Inc()
}

// RecordRemovalRetry counts a failed removal attempt.
func RecordRemovalRetry(mode string) {
	removalRetriesTotal.WithLabelValues(mode).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
