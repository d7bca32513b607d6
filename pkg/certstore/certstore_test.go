package certstore

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/sappp/core/pkg/errkind"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestPutIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	cert := NewContractRef("contract-1")

	h1, err := s.Put(cert)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	h2, err := s.Put(cert)
	if err != nil {
		t.Fatalf("Put (second): %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected stable hash across identical puts, got %s vs %s", h1, h2)
	}
}

func TestGetRoundTripsAndDetectsTamper(t *testing.T) {
	s := openTestStore(t)
	cert := NewContractRef("contract-2")

	hash, err := s.Put(cert)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	raw, err := s.Get(hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("expected non-empty object bytes")
	}

	shard, err := shardOf(hash)
	if err != nil {
		t.Fatalf("shardOf: %v", err)
	}
	path := filepath.Join(s.root, "objects", shard, hash+".json")
	if err := writeAtomic(path, []byte(`{"kind":"ContractRef","contract_id":"tampered"}`)); err != nil {
		t.Fatalf("writeAtomic: %v", err)
	}

	if _, err := s.Get(hash); err == nil {
		t.Fatal("expected HashMismatch after tampering with stored object")
	}
}

func TestGetMissingHashIsMissingDependency(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get("sha256:" + strings.Repeat("0", 64))
	if err == nil {
		t.Fatal("expected error for missing hash")
	}
	if errkind.KindOf(err) != errkind.KindMissingDependency {
		t.Fatalf("expected MissingDependency, got %v", err)
	}
}

func TestBindPOThenIndexRootRoundTrips(t *testing.T) {
	s := openTestStore(t)
	root := NewProofRoot(Ref{Hash: "sha256:aa"}, Ref{Hash: "sha256:bb"}, Ref{Hash: "sha256:cc"}, ResultSafe, Depends{
		SemanticsVersion:   "1.0.0",
		ProofSystemVersion: "1.0.0",
		ProfileVersion:     "1.0.0",
	})
	hash, err := s.Put(root)
	if err != nil {
		t.Fatalf("Put root: %v", err)
	}

	if err := s.BindPO("po-123", hash); err != nil {
		t.Fatalf("BindPO: %v", err)
	}
	// Rebinding the same po_id to the same root is a no-op, not an error.
	if err := s.BindPO("po-123", hash); err != nil {
		t.Fatalf("BindPO (repeat): %v", err)
	}

	got, err := s.IndexRoot("po-123")
	if err != nil {
		t.Fatalf("IndexRoot: %v", err)
	}
	if got != hash {
		t.Fatalf("IndexRoot returned %s, want %s", got, hash)
	}
}

func TestBindPORejectsConflictingRebind(t *testing.T) {
	s := openTestStore(t)
	depends := Depends{SemanticsVersion: "1.0.0", ProofSystemVersion: "1.0.0", ProfileVersion: "1.0.0"}

	rootA, err := s.Put(NewProofRoot(Ref{Hash: "sha256:aa"}, Ref{Hash: "sha256:bb"}, Ref{Hash: "sha256:cc"}, ResultSafe, depends))
	if err != nil {
		t.Fatalf("Put rootA: %v", err)
	}
	rootB, err := s.Put(NewProofRoot(Ref{Hash: "sha256:dd"}, Ref{Hash: "sha256:ee"}, Ref{Hash: "sha256:ff"}, ResultBug, depends))
	if err != nil {
		t.Fatalf("Put rootB: %v", err)
	}

	if err := s.BindPO("po-conflict", rootA); err != nil {
		t.Fatalf("BindPO rootA: %v", err)
	}
	if err := s.BindPO("po-conflict", rootB); err == nil {
		t.Fatal("expected RuleViolation when rebinding po_id to a different root")
	}
}

func TestListIndexedPOIDs(t *testing.T) {
	s := openTestStore(t)
	depends := Depends{SemanticsVersion: "1.0.0", ProofSystemVersion: "1.0.0", ProfileVersion: "1.0.0"}
	root, err := s.Put(NewProofRoot(Ref{Hash: "sha256:aa"}, Ref{Hash: "sha256:bb"}, Ref{Hash: "sha256:cc"}, ResultSafe, depends))
	if err != nil {
		t.Fatalf("Put root: %v", err)
	}
	for _, id := range []string{"po-a", "po-b"} {
		if err := s.BindPO(id, root); err != nil {
			t.Fatalf("BindPO %s: %v", id, err)
		}
	}

	ids, err := s.ListIndexedPOIDs()
	if err != nil {
		t.Fatalf("ListIndexedPOIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 indexed po_ids, got %v", ids)
	}
}
