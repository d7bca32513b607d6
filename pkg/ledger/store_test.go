package ledger

import (
	"testing"

	"github.com/sappp/core/pkg/version"
)

func testVersions() version.Triple {
	return version.Triple{Semantics: "1.0.0", ProofSystem: "1.0.0", Profile: "1.0.0"}
}

func TestComputeUnknownStableIDIsDeterministic(t *testing.T) {
	id1, err := ComputeUnknownStableID("po-1", CodeBudgetExceeded, testVersions())
	if err != nil {
		t.Fatalf("ComputeUnknownStableID: %v", err)
	}
	id2, err := ComputeUnknownStableID("po-1", CodeBudgetExceeded, testVersions())
	if err != nil {
		t.Fatalf("ComputeUnknownStableID: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected stable id, got %s vs %s", id1, id2)
	}

	id3, err := ComputeUnknownStableID("po-2", CodeBudgetExceeded, testVersions())
	if err != nil {
		t.Fatalf("ComputeUnknownStableID: %v", err)
	}
	if id1 == id3 {
		t.Fatal("expected distinct ids for distinct po_ids")
	}
}

func TestStorePutGetRoundTrips(t *testing.T) {
	rec, err := NewRecord("po-1", CodeMissingContractPre, MissingLemma{Pretty: "pre(x)"}, nil, testVersions())
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}

	s := NewStore(NewMapKV())
	if err := s.Put(rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(rec.UnknownStableID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.PoID != "po-1" || got.UnknownCode != CodeMissingContractPre {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestBuildSortsByUnknownStableID(t *testing.T) {
	v := testVersions()
	r1, _ := NewRecord("po-b", CodeBudgetExceeded, MissingLemma{}, nil, v)
	r2, _ := NewRecord("po-a", CodeBudgetExceeded, MissingLemma{}, nil, v)

	built := Build([]Record{r1, r2})
	if len(built.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(built.Records))
	}
	if built.Records[0].UnknownStableID > built.Records[1].UnknownStableID {
		t.Fatal("records not sorted by unknown_stable_id")
	}
}

func TestFilterByPoIDAndValidatedCategory(t *testing.T) {
	v := testVersions()
	r1, _ := NewRecord("po-1", CodeBudgetExceeded, MissingLemma{}, nil, v)
	r2, _ := NewRecord("po-2", CodeBudgetExceeded, MissingLemma{}, nil, v)
	records := []Record{r1, r2}

	filtered := Filter(records, FilterPredicates{PoID: "po-1"})
	if len(filtered) != 1 || filtered[0].PoID != "po-1" {
		t.Fatalf("expected only po-1, got %+v", filtered)
	}

	filteredByCategory := Filter(records, FilterPredicates{ValidatedCategory: map[string]string{"po-1": "UNKNOWN", "po-2": "SAFE"}})
	if len(filteredByCategory) != 1 || filteredByCategory[0].PoID != "po-1" {
		t.Fatalf("expected only the still-UNKNOWN po, got %+v", filteredByCategory)
	}
}
