package attestation

import "testing"

func TestCompareAgreesWhenDigestsMatch(t *testing.T) {
	a := Compare("deadbeef", "deadbeef", "2026-07-30T00:00:00Z")
	if !a.Agree {
		t.Fatalf("expected agreement for matching digests, got %+v", a)
	}
}

func TestCompareDisagreesWhenDigestsDiffer(t *testing.T) {
	a := Compare("deadbeef", "feedface", "2026-07-30T00:00:00Z")
	if a.Agree {
		t.Fatalf("expected disagreement for differing digests, got %+v", a)
	}
}

func TestCompareDisagreesWhenEitherDigestIsEmpty(t *testing.T) {
	a := Compare("", "", "2026-07-30T00:00:00Z")
	if a.Agree {
		t.Fatalf("expected an empty digest to never count as agreement, got %+v", a)
	}
}
