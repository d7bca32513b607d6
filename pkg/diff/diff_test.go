package diff

import (
	"testing"

	"github.com/sappp/core/pkg/ledger"
	"github.com/sappp/core/pkg/verification"
)

func TestDiffClassifiesNewRegressedAndResolved(t *testing.T) {
	before := []verification.Result{
		{PoID: "sha256:bbbb", Category: verification.CategorySafe, CertificateRoot: "sha256:aaaa"},
		{PoID: "sha256:cccc", Category: verification.CategoryUnknown},
	}
	after := []verification.Result{
		{PoID: "sha256:bbbb", Category: verification.CategoryBug, CertificateRoot: "sha256:dddd"},
		{PoID: "sha256:aaaa", Category: verification.CategorySafe},
	}

	doc := Diff(before, after, "")
	if len(doc.Changes) != 3 {
		t.Fatalf("expected 3 changes, got %d: %+v", len(doc.Changes), doc.Changes)
	}

	want := map[string]ChangeKind{
		"sha256:aaaa": ChangeNew,
		"sha256:bbbb": ChangeRegressed,
		"sha256:cccc": ChangeResolved,
	}
	for i, id := range []string{"sha256:aaaa", "sha256:bbbb", "sha256:cccc"} {
		if doc.Changes[i].PoID != id {
			t.Fatalf("expected po_id %s at index %d, got %+v", id, i, doc.Changes[i])
		}
		if doc.Changes[i].ChangeKind != want[id] {
			t.Fatalf("po_id %s: expected %s, got %s", id, want[id], doc.Changes[i].ChangeKind)
		}
	}
}

func TestDiffUnchangedWhenCategoriesMatch(t *testing.T) {
	before := []verification.Result{{PoID: "po-1", Category: verification.CategoryBug}}
	after := []verification.Result{{PoID: "po-1", Category: verification.CategoryBug}}

	doc := Diff(before, after, "")
	if len(doc.Changes) != 1 || doc.Changes[0].ChangeKind != ChangeUnchanged {
		t.Fatalf("expected Unchanged, got %+v", doc.Changes)
	}
}

func TestDiffReclassifiedOnNonMonotonicTransition(t *testing.T) {
	before := []verification.Result{{PoID: "po-1", Category: verification.CategoryBug}}
	after := []verification.Result{{PoID: "po-1", Category: verification.CategorySafe}}

	doc := Diff(before, after, "")
	if len(doc.Changes) != 1 || doc.Changes[0].ChangeKind != ChangeReclassified {
		t.Fatalf("expected Reclassified for BUG->SAFE, got %+v", doc.Changes)
	}
}

func TestDiffAttachesReasonToEveryChange(t *testing.T) {
	before := []verification.Result{{PoID: "po-1", Category: verification.CategoryUnknown}}
	after := []verification.Result{{PoID: "po-1", Category: verification.CategorySafe}}

	doc := Diff(before, after, "SemanticsUpdated")
	if doc.Changes[0].Reason != "SemanticsUpdated" {
		t.Fatalf("expected reason attached, got %+v", doc.Changes[0])
	}
}

func TestFilterUnknownsRestrictsToPoIDAndUnknownID(t *testing.T) {
	records := []ledger.Record{
		{UnknownStableID: "u2", PoID: "po-a", UnknownCode: ledger.CodeBudgetExceeded},
		{UnknownStableID: "u1", PoID: "po-b", UnknownCode: ledger.CodeBudgetExceeded},
	}

	got := FilterUnknowns(records, nil, "po-a", "")
	if len(got) != 1 || got[0].PoID != "po-a" {
		t.Fatalf("expected only po-a, got %+v", got)
	}
}

func TestFilterUnknownsRestrictsToStillUnknownPoIDs(t *testing.T) {
	records := []ledger.Record{
		{UnknownStableID: "u1", PoID: "po-a", UnknownCode: ledger.CodeBudgetExceeded},
		{UnknownStableID: "u2", PoID: "po-b", UnknownCode: ledger.CodeBudgetExceeded},
	}
	validated := []verification.Result{
		{PoID: "po-a", Category: verification.CategoryUnknown},
		{PoID: "po-b", Category: verification.CategoryBug},
	}

	got := FilterUnknowns(records, validated, "", "")
	if len(got) != 1 || got[0].PoID != "po-a" {
		t.Fatalf("expected only still-UNKNOWN po-a, got %+v", got)
	}
}

func TestFilterUnknownsStableSortsByUnknownIDThenPoID(t *testing.T) {
	records := []ledger.Record{
		{UnknownStableID: "u2", PoID: "po-b", UnknownCode: ledger.CodeBudgetExceeded},
		{UnknownStableID: "u1", PoID: "po-z", UnknownCode: ledger.CodeBudgetExceeded},
		{UnknownStableID: "u1", PoID: "po-a", UnknownCode: ledger.CodeBudgetExceeded},
	}

	got := FilterUnknowns(records, nil, "", "")
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	if got[0].UnknownStableID != "u1" || got[0].PoID != "po-a" {
		t.Fatalf("expected (u1,po-a) first, got %+v", got[0])
	}
	if got[1].UnknownStableID != "u1" || got[1].PoID != "po-z" {
		t.Fatalf("expected (u1,po-z) second, got %+v", got[1])
	}
	if got[2].UnknownStableID != "u2" {
		t.Fatalf("expected u2 last, got %+v", got[2])
	}
}
