package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should ignore duplicates: %v", err)
	}
}

func TestObserveOperationNormalisesOutcome(t *testing.T) {
	before := testutil.ToFloat64(operationsTotal.WithLabelValues("unit_test", OutcomeSuccess))
	ObserveOperation("unit_test", -time.Second, "weird")
	after := testutil.ToFloat64(operationsTotal.WithLabelValues("unit_test", OutcomeSuccess))
	if after != before+1 {
		t.Fatalf("expected unknown outcome to count as success, got %v -> %v", before, after)
	}
}
