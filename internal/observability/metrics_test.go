package observability

import (
	"testing"
	"time"

	"github.com/danmuck/swiftgate/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("swiftgate", "GET", "/health", 200, 12*time.Millisecond)
	RecordDispatch("ack", 40*time.Millisecond)
	SetRetryQueueDepth(map[string]int{"QUEUED": 2, "FAILED": 1})
	SetActiveConnections(3)
}

func TestRecordInboundCounts(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(inboundFrames.WithLabelValues("TCP/IP", "NACK", "B001"))
	RecordInbound("TCP/IP", "NACK", "B001")
	RecordInbound("TCP/IP", "NACK", "B001")
	after := testutil.ToFloat64(inboundFrames.WithLabelValues("TCP/IP", "NACK", "B001"))
	if after-before != 2 {
		t.Fatalf("expected +2, got %v", after-before)
	}
}

func TestRecordAlertCounts(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(healthAlerts.WithLabelValues("HIGH_ERROR_RATE", "CRITICAL"))
	RecordAlert("HIGH_ERROR_RATE", "CRITICAL")
	if got := testutil.ToFloat64(healthAlerts.WithLabelValues("HIGH_ERROR_RATE", "CRITICAL")); got-before != 1 {
		t.Fatalf("expected +1, got %v", got-before)
	}
}
