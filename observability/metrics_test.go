package observability

import (
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"duoescrow/core/events"
)

func TestEventsCountsByType(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeTransfer))
	beforePush := testutil.ToFloat64(m.transfers.WithLabelValues("push"))

	m.Emit(events.Transfer{To: [20]byte{0x01}, Amount: big.NewInt(5), Reason: "Push"})

	if got := testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeTransfer)); got != before+1 {
		t.Fatalf("expected emitted counter to grow by one, got %v -> %v", before, got)
	}
	if got := testutil.ToFloat64(m.transfers.WithLabelValues("push")); got != beforePush+1 {
		t.Fatalf("expected transfer counter to grow by one, got %v -> %v", beforePush, got)
	}
	if Events() != m {
		t.Fatalf("expected singleton registry")
	}
}
