package stats

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIssueCollectiveIncrementsCounter(t *testing.T) {
	IssueCollective("allreduce", "default")
	if got := testutil.ToFloat64(collectivesIssued.WithLabelValues("allreduce", "default")); got < 1 {
		t.Fatalf("expected counter >= 1, got %v", got)
	}
}

func TestStageBytesAccumulates(t *testing.T) {
	before := testutil.ToFloat64(bytesStaged.WithLabelValues("default"))
	StageBytes("default", 128)
	after := testutil.ToFloat64(bytesStaged.WithLabelValues("default"))
	if after != before+128 {
		t.Fatalf("expected bytes counter to increase by 128, got %v -> %v", before, after)
	}
}

func TestObserveLatencyDoesNotPanic(t *testing.T) {
	ObserveLatency("barrier", 5*time.Millisecond)
}

func TestSetInFlight(t *testing.T) {
	SetInFlight(3)
	if got := testutil.ToFloat64(inFlight); got != 3 {
		t.Fatalf("expected gauge 3, got %v", got)
	}
}
