package manifest

import "testing"

func sha256Hex(b byte) string {
	const hex = "0123456789abcdef"
	s := make([]byte, 64)
	for i := range s {
		s[i] = hex[b%16]
	}
	return string(s)
}

func TestBuildIsDeterministicRegardlessOfInputOrder(t *testing.T) {
	a := []Artifact{{Path: "b.json", Hash: sha256Hex(2)}, {Path: "a.json", Hash: sha256Hex(1)}}
	b := []Artifact{{Path: "a.json", Hash: sha256Hex(1)}, {Path: "b.json", Hash: sha256Hex(2)}}

	m1, err := Build("2026-07-30T00:00:00Z", a)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	m2, err := Build("2026-07-30T00:00:00Z", b)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m1.Digest == "" || m1.Digest != m2.Digest {
		t.Fatalf("expected identical digests regardless of input order, got %q vs %q", m1.Digest, m2.Digest)
	}
	if m1.Artifacts[0].Path != "a.json" {
		t.Fatalf("expected artifacts sorted by path, got %+v", m1.Artifacts)
	}
}

func TestBuildChangesDigestWhenAnyArtifactHashChanges(t *testing.T) {
	base := []Artifact{{Path: "a.json", Hash: sha256Hex(1)}}
	changed := []Artifact{{Path: "a.json", Hash: sha256Hex(9)}}

	m1, err := Build("", base)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	m2, err := Build("", changed)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m1.Digest == m2.Digest {
		t.Fatal("expected digest to change when an artifact hash changes")
	}
}

func TestBuildRejectsNonHexHash(t *testing.T) {
	if _, err := Build("", []Artifact{{Path: "a.json", Hash: "not-hex"}}); err == nil {
		t.Fatal("expected error for non-hex artifact hash")
	}
}

func TestBuildRejectsWrongLengthHash(t *testing.T) {
	if _, err := Build("", []Artifact{{Path: "a.json", Hash: "abcd"}}); err == nil {
		t.Fatal("expected error for non-32-byte artifact hash")
	}
}

func TestBuildOfEmptyArtifactsYieldsEmptyDigest(t *testing.T) {
	m, err := Build("", nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.Digest != "" {
		t.Fatalf("expected empty digest for no artifacts, got %q", m.Digest)
	}
}
