package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// NewMetrics registers against the default registry, so it must run
// exactly once per test binary.
var metrics = NewMetrics()

func TestMetrics_RecordBlock(t *testing.T) {
	before := testutil.ToFloat64(metrics.BlocksWritten)
	metrics.RecordBlock(10, 100)
	metrics.RecordBlock(20, 100)

	if got := testutil.ToFloat64(metrics.BlocksWritten) - before; got != 2 {
		t.Errorf("BlocksWritten delta = %f, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.VectorsPacked); got < 30 {
		t.Errorf("VectorsPacked = %f, want at least 30", got)
	}
}

func TestMetrics_RecordPhase(t *testing.T) {
	metrics.RecordPhase("hierarchy", 2*time.Second)
	metrics.RecordPhaseError("encode")

	if got := testutil.ToFloat64(metrics.BuildErrors.WithLabelValues("encode")); got != 1 {
		t.Errorf("BuildErrors{encode} = %f, want 1", got)
	}
}

func TestMetrics_RecordEncode(t *testing.T) {
	before := testutil.ToFloat64(metrics.VectorsEncoded)
	metrics.RecordEncode(time.Second, 4096)
	if got := testutil.ToFloat64(metrics.VectorsEncoded) - before; got != 4096 {
		t.Errorf("VectorsEncoded delta = %f, want 4096", got)
	}
}

func TestMetrics_RecordDuplicates(t *testing.T) {
	before := testutil.ToFloat64(metrics.RowsDuplicated)
	metrics.RecordDuplicates(7)
	if got := testutil.ToFloat64(metrics.RowsDuplicated) - before; got != 7 {
		t.Errorf("RowsDuplicated delta = %f, want 7", got)
	}
}
