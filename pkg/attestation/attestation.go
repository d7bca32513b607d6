// Package attestation records whether two independent runs over the same
// input agree. It is grounded on the teacher's Service/Config pattern in
// pkg/attestation/service.go, stripped of peer-broadcast and signing: this
// core's determinism attestation is a UI-only record of a local cross-run
// comparison, never a consensus artifact that leaves the machine.
package attestation

const SchemaVersion = "determinism_attestation.v1"

// DeterminismAttestation compares the pack_manifest digests of two runs over
// what should be the same input and records whether they agree. It never
// participates in certificate validation — it exists purely so an operator
// can confirm Testable Property 7 across job counts or machines.
type DeterminismAttestation struct {
	SchemaVersion string `json:"schema_version"`
	RunADigest    string `json:"run_a_digest"`
	RunBDigest    string `json:"run_b_digest"`
	Agree         bool   `json:"agree"`
	CheckedAt     string `json:"checked_at"`
}

// Compare builds a DeterminismAttestation from two pack_manifest digests.
func Compare(runADigest, runBDigest, checkedAt string) DeterminismAttestation {
	return DeterminismAttestation{
		SchemaVersion: SchemaVersion,
		RunADigest:    runADigest,
		RunBDigest:    runBDigest,
		Agree:         runADigest != "" && runADigest == runBDigest,
		CheckedAt:     checkedAt,
	}
}
