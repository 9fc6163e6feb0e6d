package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.BeaconSent()
	r.BeaconSent()
	r.MessageReceived("TEXT")
	r.TransferBytes("in", 1024)
	r.TransferBytes("in", 0)
	r.Rejected("")
	r.LivePeers(3)

	if got := testutil.ToFloat64(r.beaconsSent); got != 2 {
		t.Errorf("Expected 2 beacons, got %v", got)
	}
	if got := testutil.ToFloat64(r.messagesIn.WithLabelValues("TEXT")); got != 1 {
		t.Errorf("Expected 1 text message, got %v", got)
	}
	if got := testutil.ToFloat64(r.transferBytes.WithLabelValues("in")); got != 1024 {
		t.Errorf("Expected 1024 bytes, got %v", got)
	}
	if got := testutil.ToFloat64(r.rejected.WithLabelValues("unknown")); got != 1 {
		t.Errorf("Expected empty reason to map to unknown, got %v", got)
	}
	if got := testutil.ToFloat64(r.livePeers); got != 3 {
		t.Errorf("Expected 3 live peers, got %v", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.BeaconSent()
	r.MessageSent("FILE")
	r.Rejected("checksum")
	r.CipherDegraded(true)
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	r.NetworkChanged()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "ghostnet_network_changes_total 1") {
		t.Errorf("Metric missing from output:\n%s", body)
	}
}
