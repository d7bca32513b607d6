// Package diff implements the Diff/filter helpers (C10): pure functions over
// two validated-result sets and over an UNKNOWN ledger. Unlike every other
// component this one has no teacher analog — it mirrors the reference
// implementation's libs/report/report.cpp instead, which classifies and
// stable-sorts changes the same way.
package diff

import (
	"sort"

	"github.com/sappp/core/pkg/ledger"
	"github.com/sappp/core/pkg/verification"
)

// ChangeKind is drawn from the closed set the before/after category
// transition table produces.
type ChangeKind string

const (
	ChangeNew          ChangeKind = "New"
	ChangeResolved     ChangeKind = "Resolved"
	ChangeUnchanged    ChangeKind = "Unchanged"
	ChangeRegressed    ChangeKind = "Regressed"
	ChangeReclassified ChangeKind = "Reclassified"
)

// Side is one before/after half of a Change, omitting certificate_root when
// the po_id was absent from that result set.
type Side struct {
	Category        verification.Category `json:"category"`
	CertificateRoot string                 `json:"certificate_root,omitempty"`
}

// Change is one diff.v1 entry.
type Change struct {
	PoID       string     `json:"po_id"`
	From       Side       `json:"from"`
	To         Side       `json:"to"`
	ChangeKind ChangeKind `json:"change_kind"`
	Reason     string     `json:"reason,omitempty"`
}

// Document is the schema-visible shape of diff.v1.
type Document struct {
	SchemaVersion string   `json:"schema_version"`
	Changes       []Change `json:"changes"`
}

const SchemaVersion = "diff.v1"

func indexByPoID(results []verification.Result) map[string]verification.Result {
	idx := make(map[string]verification.Result, len(results))
	for _, r := range results {
		idx[r.PoID] = r
	}
	return idx
}

func sideOf(r verification.Result) Side {
	return Side{Category: r.Category, CertificateRoot: r.CertificateRoot}
}

// classify implements the §4.10 change_kind table.
func classify(beforePresent, afterPresent bool, before, after verification.Category) ChangeKind {
	switch {
	case !beforePresent && afterPresent:
		return ChangeNew
	case beforePresent && !afterPresent:
		return ChangeResolved
	case before == after:
		return ChangeUnchanged
	case before == verification.CategorySafe && after != verification.CategorySafe:
		return ChangeRegressed
	case before == verification.CategoryBug && after == verification.CategoryUnknown:
		return ChangeRegressed
	case before == verification.CategoryUnknown && after != verification.CategoryUnknown:
		return ChangeResolved
	default:
		return ChangeReclassified
	}
}

// Diff computes the union of po_ids across before and after, classifies each
// transition, and stable-sorts the result by po_id. reason, if non-empty, is
// attached to every change (e.g. "SemanticsUpdated").
func Diff(before, after []verification.Result, reason string) Document {
	beforeIdx := indexByPoID(before)
	afterIdx := indexByPoID(after)

	seen := make(map[string]bool, len(beforeIdx)+len(afterIdx))
	var poIDs []string
	for id := range beforeIdx {
		if !seen[id] {
			seen[id] = true
			poIDs = append(poIDs, id)
		}
	}
	for id := range afterIdx {
		if !seen[id] {
			seen[id] = true
			poIDs = append(poIDs, id)
		}
	}

	changes := make([]Change, 0, len(poIDs))
	for _, id := range poIDs {
		beforeResult, beforePresent := beforeIdx[id]
		afterResult, afterPresent := afterIdx[id]

		from := Side{Category: verification.CategoryUnknown}
		to := Side{Category: verification.CategoryUnknown}
		beforeCategory := verification.CategoryUnknown
		afterCategory := verification.CategoryUnknown
		if beforePresent {
			from = sideOf(beforeResult)
			beforeCategory = beforeResult.Category
		}
		if afterPresent {
			to = sideOf(afterResult)
			afterCategory = afterResult.Category
		}

		changes = append(changes, Change{
			PoID:       id,
			From:       from,
			To:         to,
			ChangeKind: classify(beforePresent, afterPresent, beforeCategory, afterCategory),
			Reason:     reason,
		})
	}

	sort.SliceStable(changes, func(i, j int) bool { return changes[i].PoID < changes[j].PoID })
	return Document{SchemaVersion: SchemaVersion, Changes: changes}
}

// FilterUnknowns applies the §4.10 filter_unknowns predicates — an optional
// po_id, an optional unknown_stable_id, and an optional restriction to
// po_ids validated_results still reports as UNKNOWN — and stable-sorts by
// (unknown_stable_id, po_id). It is a thin wrapper over ledger.Filter, which
// already implements this exact predicate/sort contract.
func FilterUnknowns(records []ledger.Record, validated []verification.Result, poID, unknownStableID string) []ledger.Record {
	pred := ledger.FilterPredicates{PoID: poID, UnknownStableID: unknownStableID}
	if validated != nil {
		cats := make(map[string]string, len(validated))
		for _, r := range validated {
			cats[r.PoID] = string(r.Category)
		}
		pred.ValidatedCategory = cats
	}
	return ledger.Filter(records, pred)
}
