package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRedemptionCounterByOutcome(t *testing.T) {
	before := testutil.ToFloat64(redemptions.WithLabelValues("accepted"))
	Redemption("accepted")
	Redemption("accepted")
	Redemption("expired")
	if got := testutil.ToFloat64(redemptions.WithLabelValues("accepted")); got != before+2 {
		t.Fatalf("expected %v accepted, got %v", before+2, got)
	}
}

func TestAbsencesMarked(t *testing.T) {
	before := testutil.ToFloat64(absencesMarked)
	AbsencesMarked(3)
	if got := testutil.ToFloat64(absencesMarked); got != before+3 {
		t.Fatalf("expected %v, got %v", before+3, got)
	}
}
