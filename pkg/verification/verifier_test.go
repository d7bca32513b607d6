package verification

import (
	"testing"

	"github.com/sappp/core/pkg/certstore"
	"github.com/sappp/core/pkg/errkind"
	"github.com/sappp/core/pkg/po"
	"github.com/sappp/core/pkg/version"
)

func testVersions() version.Triple {
	return version.Triple{Semantics: "1.0.0", ProofSystem: "1.0.0", Profile: "1.0.0"}
}

func samplePO(poID string, kind po.Kind) po.PO {
	return po.PO{
		PoID:        poID,
		PoKind:      kind,
		Anchor:      po.Anchor{BlockID: "bb0", InstID: "i0"},
		Predicate:   po.Predicate{Expr: map[string]any{"op": "holds"}, Pretty: "holds"},
		Semantics:   "1.0.0",
		ProofSystem: "1.0.0",
		Profile:     "1.0.0",
	}
}

func buildChain(t *testing.T, store *certstore.Store, poID string, result certstore.Result) string {
	t.Helper()
	v := testVersions()

	poHash, err := store.Put(certstore.NewPoDef(samplePO(poID, po.KindDivZero)))
	if err != nil {
		t.Fatalf("put PoDef: %v", err)
	}
	irHash, err := store.Put(certstore.NewIrRef("tu-1", "f", "bb0", "i0"))
	if err != nil {
		t.Fatalf("put IrRef: %v", err)
	}

	var evidenceHash string
	if result == certstore.ResultBug {
		evidenceHash, err = store.Put(certstore.NewBugTrace("linear", nil, poID))
	} else {
		evidenceHash, err = store.Put(certstore.NewSafetyProof("Interval", []certstore.StatePoint{{InstID: "i0", Value: []byte(`{"low":1,"high":10}`)}}))
	}
	if err != nil {
		t.Fatalf("put evidence: %v", err)
	}

	depends := certstore.Depends{SemanticsVersion: v.Semantics, ProofSystemVersion: v.ProofSystem, ProfileVersion: v.Profile}
	root := certstore.NewProofRoot(
		certstore.Ref{Hash: poHash},
		certstore.Ref{Hash: irHash},
		certstore.Ref{Hash: evidenceHash},
		result,
		depends,
	)
	rootHash, err := store.Put(root)
	if err != nil {
		t.Fatalf("put ProofRoot: %v", err)
	}
	if err := store.BindPO(poID, rootHash); err != nil {
		t.Fatalf("BindPO: %v", err)
	}
	return rootHash
}

func openStore(t *testing.T) *certstore.Store {
	t.Helper()
	s, err := certstore.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestVerifyAcceptsWellFormedBugChain(t *testing.T) {
	s := openStore(t)
	buildChain(t, s, "po-bug", certstore.ResultBug)

	results, err := Verify(s, Config{Current: testVersions()})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(results) != 1 || results[0].Category != CategoryBug || results[0].ValidatorStatus != StatusVerified {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestVerifyDowngradesWellFormedSafeChainToUnknown(t *testing.T) {
	s := openStore(t)
	buildChain(t, s, "po-safe", certstore.ResultSafe)

	results, err := Verify(s, Config{Current: testVersions()})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(results) != 1 || results[0].Category != CategoryUnknown || results[0].ValidatorStatus != StatusUnknown {
		t.Fatalf("expected SAFE to always downgrade to UNKNOWN, got %+v", results)
	}
	if results[0].DowngradeReasonCode != errkind.KindUnsupported {
		t.Fatalf("expected UnsupportedProofFeature downgrade reason, got %v", results[0].DowngradeReasonCode)
	}
}

func TestVerifyDowngradesOnVersionMismatchInNonStrictMode(t *testing.T) {
	s := openStore(t)
	buildChain(t, s, "po-mismatch", certstore.ResultSafe)

	wrongVersions := version.Triple{Semantics: "9.9.9", ProofSystem: "1.0.0", Profile: "1.0.0"}
	results, err := Verify(s, Config{Current: wrongVersions, Strict: false})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(results) != 1 || results[0].Category != CategoryUnknown || results[0].ValidatorStatus != StatusUnknown {
		t.Fatalf("expected UNKNOWN downgrade, got %+v", results)
	}
}

func TestVerifyAbortsOnSafeResultInStrictMode(t *testing.T) {
	s := openStore(t)
	buildChain(t, s, "po-safe-strict", certstore.ResultSafe)

	if _, err := Verify(s, Config{Current: testVersions(), Strict: true}); err == nil {
		t.Fatal("expected strict mode to abort on SAFE, since it can never be confirmed")
	} else if errkind.KindOf(err) != errkind.KindUnsupported {
		t.Fatalf("expected UnsupportedProofFeature, got %v", errkind.KindOf(err))
	}
}

func TestVerifyAbortsOnVersionMismatchInStrictMode(t *testing.T) {
	s := openStore(t)
	buildChain(t, s, "po-strict", certstore.ResultSafe)

	wrongVersions := version.Triple{Semantics: "9.9.9", ProofSystem: "1.0.0", Profile: "1.0.0"}
	if _, err := Verify(s, Config{Current: wrongVersions, Strict: true}); err == nil {
		t.Fatal("expected strict mode to abort on version mismatch")
	}
}

func TestVerifySortsResultsByPoID(t *testing.T) {
	s := openStore(t)
	buildChain(t, s, "po-z", certstore.ResultBug)
	buildChain(t, s, "po-a", certstore.ResultBug)

	results, err := Verify(s, Config{Current: testVersions()})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(results) != 2 || results[0].PoID != "po-a" || results[1].PoID != "po-z" {
		t.Fatalf("expected stable sort by po_id, got %+v", results)
	}
}
