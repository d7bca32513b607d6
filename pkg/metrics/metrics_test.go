package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCategoryIncrementsMatchingCounter(t *testing.T) {
	r := New()
	r.RecordCategory("SAFE")
	r.RecordCategory("BUG")
	r.RecordCategory("UNKNOWN")
	r.RecordCategory("UNKNOWN")

	if got := testutil.ToFloat64(r.POsAnalyzed); got != 4 {
		t.Fatalf("expected 4 analyzed, got %v", got)
	}
	if got := testutil.ToFloat64(r.POsSafe); got != 1 {
		t.Fatalf("expected 1 safe, got %v", got)
	}
	if got := testutil.ToFloat64(r.POsUnknown); got != 2 {
		t.Fatalf("expected 2 unknown, got %v", got)
	}
}

func TestRecordCategoryIgnoresUnrecognizedCategory(t *testing.T) {
	r := New()
	r.RecordCategory("bogus")

	if got := testutil.ToFloat64(r.POsAnalyzed); got != 1 {
		t.Fatalf("expected analyzed count to still increment, got %v", got)
	}
	if got := testutil.ToFloat64(r.POsSafe); got != 0 {
		t.Fatalf("expected no category-specific counter to move, got %v", got)
	}
}
