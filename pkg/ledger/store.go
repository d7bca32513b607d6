// Package ledger implements the UNKNOWN ledger (C8): the set of proof
// obligations the analyzer and validator could not classify as SAFE or BUG,
// each tagged with a closed unknown_code and a refinement plan.
package ledger

import (
	"encoding/json"
	"sort"

	"github.com/sappp/core/pkg/canonical"
	"github.com/sappp/core/pkg/version"
)

// KV is the minimal key-value interface Store needs; callers may back it
// with an in-memory map or a persistent store.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// MapKV is an in-memory KV, sufficient for a single analyze run's explain/
// filter lookups.
type MapKV struct {
	data map[string][]byte
}

func NewMapKV() *MapKV { return &MapKV{data: make(map[string][]byte)} }

func (m *MapKV) Get(key []byte) ([]byte, error) {
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *MapKV) Set(key, value []byte) error {
	m.data[string(key)] = value
	return nil
}

const unknownKeyPrefix = "unknown:"

func unknownKey(stableID string) []byte {
	return append([]byte(unknownKeyPrefix), stableID...)
}

// Store provides indexed access to UNKNOWN records, keyed by
// unknown_stable_id. Like the teacher's LedgerStore, it assumes single-
// writer access during the single-threaded merge stage; reads (for explain/
// filter) may happen concurrently afterward.
type Store struct {
	kv KV
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// Put indexes rec under its unknown_stable_id.
func (s *Store) Put(rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.kv.Set(unknownKey(rec.UnknownStableID), b)
}

// Get looks up a record by unknown_stable_id.
func (s *Store) Get(stableID string) (Record, error) {
	b, err := s.kv.Get(unknownKey(stableID))
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

type unknownIDInput struct {
	PoID               string `json:"po_id"`
	UnknownCode        Code   `json:"unknown_code"`
	SemanticsVersion   string `json:"semantics_version"`
	ProofSystemVersion string `json:"proof_system_version"`
	ProfileVersion     string `json:"profile_version"`
}

// ComputeUnknownStableID derives unknown_stable_id = hash({po_id,
// unknown_code, (3 versions)}), exactly as specified.
func ComputeUnknownStableID(poID string, code Code, v version.Triple) (string, error) {
	return canonical.HashValue(unknownIDInput{
		PoID:               poID,
		UnknownCode:        code,
		SemanticsVersion:   v.Semantics,
		ProofSystemVersion: v.ProofSystem,
		ProfileVersion:     v.Profile,
	})
}

// NewRecord builds a Record with its unknown_stable_id populated.
func NewRecord(poID string, code Code, lemma MissingLemma, dependsOn *DependsOn, v version.Triple) (Record, error) {
	id, err := ComputeUnknownStableID(poID, code, v)
	if err != nil {
		return Record{}, err
	}
	return Record{
		UnknownStableID: id,
		PoID:            poID,
		UnknownCode:     code,
		MissingLemma:    lemma,
		RefinementPlan:  RefinementPlan{Message: RefinementAction[code], Actions: []string{RefinementAction[code]}},
		DependsOn:       dependsOn,
	}, nil
}

// Build assembles the final Ledger, sorted by unknown_stable_id (§4.7 step
// 7). Merging per-function fragments happens before this call, in the
// analyzer's single-threaded merge stage.
func Build(records []Record) Ledger {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UnknownStableID < sorted[j].UnknownStableID })
	return Ledger{SchemaVersion: SchemaVersion, Records: sorted}
}

// FilterPredicates are the three optional predicates filter_unknowns applies
// (§4.10), plus an optional validated-results category lookup by po_id.
type FilterPredicates struct {
	PoID            string
	UnknownStableID string
	ValidatedCategory map[string]string // po_id -> category; nil to skip this predicate
}

// Filter applies the optional predicates and stable-sorts by
// (unknown_stable_id, po_id).
func Filter(records []Record, pred FilterPredicates) []Record {
	var out []Record
	for _, r := range records {
		if pred.PoID != "" && r.PoID != pred.PoID {
			continue
		}
		if pred.UnknownStableID != "" && r.UnknownStableID != pred.UnknownStableID {
			continue
		}
		if pred.ValidatedCategory != nil {
			if cat, ok := pred.ValidatedCategory[r.PoID]; !ok || cat != "UNKNOWN" {
				continue
			}
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UnknownStableID != out[j].UnknownStableID {
			return out[i].UnknownStableID < out[j].UnknownStableID
		}
		return out[i].PoID < out[j].PoID
	})
	return out
}
