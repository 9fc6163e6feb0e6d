// Package metrics exposes Prometheus counters for node activity. A nil
// *Recorder is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exposes Prometheus metrics for the node.
type Recorder struct {
	beaconsSent     prometheus.Counter
	beaconsReceived prometheus.Counter
	livePeers       prometheus.Gauge
	messagesIn      *prometheus.CounterVec
	messagesOut     *prometheus.CounterVec
	sendFailures    *prometheus.CounterVec
	transferBytes   *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	networkChanges  prometheus.Counter
	cleanedUp       prometheus.Counter
	degradedCipher  prometheus.Gauge
}

// NewRecorder registers metrics with provided registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		beaconsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ghostnet_beacons_sent_total",
			Help: "Discovery beacons broadcast",
		}),
		beaconsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ghostnet_beacons_received_total",
			Help: "Well-formed beacons received from other nodes",
		}),
		livePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ghostnet_live_peers",
			Help: "Peers currently in the live directory",
		}),
		messagesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ghostnet_messages_received_total",
			Help: "Messages received grouped by kind",
		}, []string{"kind"}),
		messagesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ghostnet_messages_sent_total",
			Help: "Messages sent grouped by kind",
		}, []string{"kind"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ghostnet_send_failures_total",
			Help: "Failed outbound sends grouped by kind",
		}, []string{"kind"}),
		transferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ghostnet_transfer_bytes_total",
			Help: "File payload bytes grouped by direction",
		}, []string{"direction"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ghostnet_inbound_rejected_total",
			Help: "Inbound exchanges dropped grouped by reason",
		}, []string{"reason"}),
		networkChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ghostnet_network_changes_total",
			Help: "Changes of the best local address",
		}),
		cleanedUp: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ghostnet_retention_deleted_total",
			Help: "Messages deleted by retention cleanup",
		}),
		degradedCipher: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ghostnet_cipher_degraded",
			Help: "1 when the wire cipher runs in pass-through mode",
		}),
	}

	reg.MustRegister(
		r.beaconsSent,
		r.beaconsReceived,
		r.livePeers,
		r.messagesIn,
		r.messagesOut,
		r.sendFailures,
		r.transferBytes,
		r.rejected,
		r.networkChanges,
		r.cleanedUp,
		r.degradedCipher,
	)
	return r
}

// Handler returns HTTP handler serving /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func (r *Recorder) BeaconSent() {
	if r != nil {
		r.beaconsSent.Inc()
	}
}

func (r *Recorder) BeaconReceived() {
	if r != nil {
		r.beaconsReceived.Inc()
	}
}

// LivePeers sets the directory size.
func (r *Recorder) LivePeers(n int) {
	if r != nil {
		r.livePeers.Set(float64(n))
	}
}

func (r *Recorder) MessageReceived(kind string) {
	if r != nil {
		r.messagesIn.WithLabelValues(kind).Inc()
	}
}

func (r *Recorder) MessageSent(kind string) {
	if r != nil {
		r.messagesOut.WithLabelValues(kind).Inc()
	}
}

func (r *Recorder) SendFailed(kind string) {
	if r != nil {
		r.sendFailures.WithLabelValues(kind).Inc()
	}
}

// TransferBytes adds n payload bytes; direction is "in" or "out".
func (r *Recorder) TransferBytes(direction string, n int64) {
	if r != nil && n > 0 {
		r.transferBytes.WithLabelValues(direction).Add(float64(n))
	}
}

// Rejected counts an inbound exchange dropped for reason.
func (r *Recorder) Rejected(reason string) {
	if r == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	r.rejected.WithLabelValues(reason).Inc()
}

func (r *Recorder) NetworkChanged() {
	if r != nil {
		r.networkChanges.Inc()
	}
}

func (r *Recorder) CleanedUp(n int64) {
	if r != nil && n > 0 {
		r.cleanedUp.Add(float64(n))
	}
}

func (r *Recorder) CipherDegraded(degraded bool) {
	if r == nil {
		return
	}
	if degraded {
		r.degradedCipher.Set(1)
	} else {
		r.degradedCipher.Set(0)
	}
}
