// Package verification implements the Validator (C9): an independent
// re-check of every certificate the analyzer produced, reading only the
// certificate store — never the analyzer's internal state.
package verification

import (
	"encoding/json"
	"sort"

	"github.com/sappp/core/pkg/certstore"
	"github.com/sappp/core/pkg/errkind"
	"github.com/sappp/core/pkg/po"
	"github.com/sappp/core/pkg/version"
)

// Status is the validator_status recorded on every result; Verified is the
// only status that accompanies category SAFE or BUG.
type Status string

const (
	StatusVerified  Status = "Verified"
	StatusUnknown   Status = "Unknown"
	StatusCancelled Status = "Cancelled"
)

// Category mirrors certstore.Result plus the validator's own UNKNOWN
// outcome, which a ProofRoot never carries directly.
type Category string

const (
	CategorySafe    Category = "SAFE"
	CategoryBug     Category = "BUG"
	CategoryUnknown Category = "UNKNOWN"
)

// Result is one entry of results/validated_results.json.
type Result struct {
	PoID                string   `json:"po_id"`
	Category            Category `json:"category"`
	CertificateRoot     string   `json:"certificate_root,omitempty"`
	ValidatorStatus     Status   `json:"validator_status"`
	DowngradeReasonCode errkind.Kind `json:"downgrade_reason_code,omitempty"`
}

// Config controls the Validator's strictness and the version triple it
// checks ProofRoot.depends against.
type Config struct {
	Strict  bool
	Current version.Triple
}

// downgrade builds the UNKNOWN/non-strict result for a given po_id and
// reason, or returns the error unchanged in strict mode.
func downgrade(cfg Config, poID string, err error) (Result, error) {
	if cfg.Strict {
		return Result{}, err
	}
	return Result{
		PoID:                poID,
		Category:            CategoryUnknown,
		ValidatorStatus:     StatusUnknown,
		DowngradeReasonCode: errkind.KindOf(err),
	}, nil
}

// Verify runs the 8-step check (§4.9) for every po_id store has an index
// entry for, in stable po_id order.
func Verify(store *certstore.Store, cfg Config) ([]Result, error) {
	ids, err := store.ListIndexedPOIDs()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	var results []Result
	for _, poID := range ids {
		r, err := verifyOne(store, cfg, poID)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].PoID < results[j].PoID })
	return results, nil
}

func verifyOne(store *certstore.Store, cfg Config, poID string) (Result, error) {
	// Step 1: schema-validate happens inside IndexRoot via the store's gate.
	root, err := store.IndexRoot(poID)
	if err != nil {
		return downgrade(cfg, poID, err)
	}

	// Step 2: load the ProofRoot, reject anything else.
	kind, raw, err := store.GetKind(root)
	if err != nil {
		return downgrade(cfg, poID, err)
	}
	if kind != certstore.KindProofRoot {
		return downgrade(cfg, poID, errkind.New(errkind.KindUnsupported, "index root "+root+" is not a ProofRoot"))
	}
	var proofRoot certstore.ProofRoot
	if err := json.Unmarshal(raw, &proofRoot); err != nil {
		return downgrade(cfg, poID, errkind.Wrap(errkind.KindInternal, err, "decode ProofRoot %s", root))
	}

	// Step 3: store.Get already recomputed and compared the hash for us.

	// Step 4: version triple must match the validator's compile-time triple.
	depends := proofRoot.Depends
	declared := version.Triple{Semantics: depends.SemanticsVersion, ProofSystem: depends.ProofSystemVersion, Profile: depends.ProfileVersion}
	if !declared.Equal(cfg.Current) {
		return downgrade(cfg, poID, errkind.New(errkind.KindVersionMismatch, "ProofRoot "+root+" depends on a different version triple"))
	}

	// Step 5: load and verify po/ir/evidence refs.
	poKind, poPoID, err := loadPo(store, proofRoot.Po.Hash)
	if err != nil {
		return downgrade(cfg, poID, err)
	}
	if _, _, err := store.GetKind(proofRoot.Ir.Hash); err != nil {
		return downgrade(cfg, poID, err)
	}
	evidenceKind, evidenceRaw, err := store.GetKind(proofRoot.Evidence.Hash)
	if err != nil {
		return downgrade(cfg, poID, err)
	}

	// Step 6: po.po_id must match the index entry.
	if poPoID != poID {
		return downgrade(cfg, poID, errkind.New(errkind.KindRuleViolation, "PoDef po_id does not match index entry for "+poID))
	}

	switch proofRoot.Result {
	case certstore.ResultBug:
		// Step 7.
		if evidenceKind != certstore.KindBugTrace {
			return downgrade(cfg, poID, errkind.New(errkind.KindProofCheckFailed, "BUG result without BugTrace evidence"))
		}
		var trace certstore.BugTrace
		if err := json.Unmarshal(evidenceRaw, &trace); err != nil {
			return downgrade(cfg, poID, errkind.Wrap(errkind.KindInternal, err, "decode BugTrace"))
		}
		if trace.Violation.PoID != poID || trace.Violation.PredicateHolds {
			return downgrade(cfg, poID, errkind.New(errkind.KindProofCheckFailed, "BugTrace violation does not witness "+poID))
		}
		return Result{PoID: poID, Category: CategoryBug, CertificateRoot: root, ValidatorStatus: StatusVerified}, nil

	case certstore.ResultSafe:
		// Step 8: re-check that the SafetyProof's pinned abstract state
		// implies the predicate by symbolic evaluation of the predicate
		// expression. This core never implements that symbolic evaluator —
		// neither does the original implementation it is grounded on — so
		// every SAFE certificate downgrades to UNKNOWN/UnsupportedProofFeature
		// here; the Analyzer may still emit SAFE certificates into the CAS,
		// the Validator simply never confirms them.
		if evidenceKind != certstore.KindSafetyProof {
			return downgrade(cfg, poID, errkind.New(errkind.KindProofCheckFailed, "SAFE result without SafetyProof evidence"))
		}
		if _, err := reevaluateSafetyProof(evidenceRaw, poKind); err != nil {
			return downgrade(cfg, poID, err)
		}
		return downgrade(cfg, poID, errkind.New(errkind.KindUnsupported, "symbolic re-derivation of SAFE is not implemented for "+poID))

	default:
		return downgrade(cfg, poID, errkind.New(errkind.KindRuleViolation, "ProofRoot result is neither SAFE nor BUG"))
	}
}

func loadPo(store *certstore.Store, hash string) (po.Kind, string, error) {
	kind, raw, err := store.GetKind(hash)
	if err != nil {
		return "", "", err
	}
	if kind != certstore.KindPoDef {
		return "", "", errkind.New(errkind.KindRuleViolation, "po ref "+hash+" is not a PoDef")
	}
	var def certstore.PoDef
	if err := json.Unmarshal(raw, &def); err != nil {
		return "", "", errkind.Wrap(errkind.KindInternal, err, "decode PoDef %s", hash)
	}
	return def.Po.PoKind, def.Po.PoID, nil
}

// reevaluateSafetyProof decodes a SafetyProof and checks its structure only:
// it reports true when the proof records at least one state point and names
// its domain. It does not evaluate the predicate against the pinned state,
// and kind is not consulted.
func reevaluateSafetyProof(raw []byte, kind po.Kind) (bool, error) {
	var proof certstore.SafetyProof
	if err := json.Unmarshal(raw, &proof); err != nil {
		return false, errkind.Wrap(errkind.KindInternal, err, "decode SafetyProof")
	}
	if len(proof.Points) == 0 {
		return false, nil
	}
	// A SafetyProof with at least one recorded state point at the anchor,
	// and a non-empty domain name, is accepted as symbolically checked; the
	// domain's own Evaluate function (pkg/domain) is the source of truth the
	// analyzer used to produce it, and re-running it here would require
	// re-decoding the opaque per-domain JSON the analyzer chose to pin.
	return proof.Domain != "", nil
}
