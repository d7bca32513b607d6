// Package manifest builds the pack_manifest.v1 record every CLI command that
// writes artifacts emits alongside them: a Merkle digest over the hash of
// every artifact the run produced, so two runs over the same inputs can be
// compared byte-for-byte without re-reading the artifacts themselves. It
// reuses pkg/merkle, the teacher's generic hashing engine, unmodified in
// algorithm.
package manifest

import (
	"encoding/hex"
	"sort"

	"github.com/sappp/core/pkg/errkind"
	"github.com/sappp/core/pkg/merkle"
)

const SchemaVersion = "pack_manifest.v1"

// Artifact is one file a run produced, identified by its repo-relative or
// output-relative path and the SHA-256 hash of its contents.
type Artifact struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// RunManifest is the schema-visible shape of pack_manifest.v1: never enters
// any PO, certificate, or UNKNOWN hash — it exists purely so Testable
// Property 7 (byte-identical pack_manifest digest across repeated runs of
// the same input) can be checked mechanically.
type RunManifest struct {
	SchemaVersion string     `json:"schema_version"`
	GeneratedAt   string     `json:"generated_at"`
	Artifacts     []Artifact `json:"artifacts"`
	Digest        string     `json:"digest"`
}

// Build computes a RunManifest over artifacts, sorted by path so the digest
// is stable regardless of the order artifacts were produced in.
func Build(generatedAt string, artifacts []Artifact) (RunManifest, error) {
	sorted := make([]Artifact, len(artifacts))
	copy(sorted, artifacts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	leaves := make([][]byte, 0, len(sorted))
	for _, a := range sorted {
		raw, err := hex.DecodeString(a.Hash)
		if err != nil {
			return RunManifest{}, errkind.Wrap(errkind.KindHashMismatch, err, "artifact %s has a non-hex hash", a.Path)
		}
		if len(raw) != 32 {
			return RunManifest{}, errkind.New(errkind.KindHashMismatch, "artifact "+a.Path+" hash is not a 32-byte SHA-256 digest")
		}
		leaves = append(leaves, merkle.HashData(append([]byte(a.Path+"\x00"), raw...)))
	}

	digest := ""
	if len(leaves) > 0 {
		tree, err := merkle.BuildTree(leaves)
		if err != nil {
			return RunManifest{}, errkind.Wrap(errkind.KindInternal, err, "build pack_manifest digest")
		}
		digest = tree.RootHex()
	}

	return RunManifest{
		SchemaVersion: SchemaVersion,
		GeneratedAt:   generatedAt,
		Artifacts:     sorted,
		Digest:        digest,
	}, nil
}
