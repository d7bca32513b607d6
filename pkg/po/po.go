// Package po implements the proof-obligation model and the PO enumerator
// (C4): it walks a translation unit's NIR and emits one PO per instruction
// that carries an obligation, with a stable content-addressed po_id.
package po

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sappp/core/pkg/canonical"
	"github.com/sappp/core/pkg/errkind"
	"github.com/sappp/core/pkg/nir"
	"github.com/sappp/core/pkg/version"
)

// Kind is drawn from the closed PO-kind taxonomy.
type Kind string

const (
	KindDivZero           Kind = "UB.DivZero"
	KindNullDeref         Kind = "UB.NullDeref"
	KindOutOfBounds       Kind = "UB.OutOfBounds"
	KindShift             Kind = "UB.Shift"
	KindUseAfterLifetime  Kind = "UseAfterLifetime"
	KindDoubleFree        Kind = "DoubleFree"
	KindInvalidFree       Kind = "InvalidFree"
	KindUninitRead        Kind = "UninitRead"
	KindUnknown           Kind = "UB.Unknown"
)

// RepoIdentity pins a PO to the exact source text it was derived from.
type RepoIdentity struct {
	Path          string `json:"path"`
	ContentSHA256 string `json:"content_sha256"`
}

// FunctionRef identifies the enclosing function of a PO.
type FunctionRef struct {
	USR     string `json:"usr"`
	Mangled string `json:"mangled"`
}

// Anchor is the exact instruction a PO's predicate is attached to.
type Anchor struct {
	BlockID string       `json:"block_id"`
	InstID  string       `json:"inst_id"`
	Src     *nir.SrcLoc  `json:"src,omitempty"`
}

// Predicate is the obligation's symbolic expression plus a human-readable
// rendering; Expr is consumed structurally by the abstract domain, Pretty is
// reporting-only.
type Predicate struct {
	Expr   map[string]any `json:"expr"`
	Pretty string         `json:"pretty"`
}

// PO is one proof obligation.
type PO struct {
	PoID         string       `json:"po_id"`
	PoKind       Kind         `json:"po_kind"`
	RepoIdentity RepoIdentity `json:"repo_identity"`
	Function     FunctionRef  `json:"function"`
	Anchor       Anchor       `json:"anchor"`
	Predicate    Predicate    `json:"predicate"`
	Semantics    string       `json:"semantics_version"`
	ProofSystem  string       `json:"proof_system_version"`
	Profile      string       `json:"profile_version"`
}

type poIDInput struct {
	RepoIdentity       RepoIdentity `json:"repo_identity"`
	FunctionUID        string       `json:"function_uid"`
	BlockID            string       `json:"block_id"`
	InstID             string       `json:"inst_id"`
	PoKind             Kind         `json:"po_kind"`
	SemanticsVersion   string       `json:"semantics_version"`
	ProofSystemVersion string       `json:"proof_system_version"`
	ProfileVersion     string       `json:"profile_version"`
}

func computePoID(repo RepoIdentity, functionUID, blockID, instID string, kind Kind, v version.Triple) (string, error) {
	return canonical.HashValue(poIDInput{
		RepoIdentity:       repo,
		FunctionUID:        functionUID,
		BlockID:            blockID,
		InstID:             instID,
		PoKind:             kind,
		SemanticsVersion:   v.Semantics,
		ProofSystemVersion: v.ProofSystem,
		ProfileVersion:     v.Profile,
	})
}

func buildPredicate(kind Kind) Predicate {
	return Predicate{
		Expr:   map[string]any{"op": "holds", "po_kind": string(kind)},
		Pretty: fmt.Sprintf("%s holds", kind),
	}
}

// normalizeKindToken lowercases a raw ub.check/sink.marker token and strips
// a leading "ub." namespace prefix, so callers can write either form.
func normalizeKindToken(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	return strings.TrimPrefix(t, "ub.")
}

// mapPoKind maps the many spellings a frontend might emit for a given
// obligation onto the closed Kind taxonomy.
func mapPoKind(token string) Kind {
	switch token {
	case "div0", "divzero", "div_zero", "div-by-zero", "divisionbyzero":
		return KindDivZero
	case "null", "null_deref", "nulldereference", "nullptr", "null_pointer":
		return KindNullDeref
	case "oob", "out_of_bounds", "outofbounds", "out-of-bounds":
		return KindOutOfBounds
	case "shift", "shift_overflow", "badshift":
		return KindShift
	case "use_after_lifetime", "use-after-lifetime", "useafterlifetime":
		return KindUseAfterLifetime
	case "double_free", "doublefree", "double-free":
		return KindDoubleFree
	case "invalid_free", "invalidfree", "invalid-free":
		return KindInvalidFree
	case "uninit_read", "uninitread", "uninit", "uninitialized_read":
		return KindUninitRead
	default:
		return KindUnknown
	}
}

func inferPoKind(inst nir.Instruction) Kind {
	if len(inst.Args) > 0 {
		return mapPoKind(normalizeKindToken(inst.Args[0]))
	}
	return KindUnknown
}

// FunctionIdentities supplies the (repo identity, USR/mangled pair) for each
// function_uid; the enumerator has no source-text access of its own.
type FunctionIdentities map[string]struct {
	Repo     RepoIdentity
	Function FunctionRef
}

// EnumerateFunction walks a single function's CFG and emits every PO its
// instructions carry, stable-sorted by po_id. Unlike Enumerate, an empty
// result is not an error here — a single function legitimately may have no
// obligations; the analyzer calls this directly so it never has to
// re-correlate a flat PO list back to the function it came from.
func EnumerateFunction(fn nir.FunctionDef, repo RepoIdentity, function FunctionRef, v version.Triple) ([]PO, error) {
	ancestors := computeAncestors(fn.Cfg)
	freeSymbolsByBlock := collectFreeSymbols(fn.Cfg)

	var pos []PO
	for _, blk := range fn.Cfg.Blocks {
		var freedSoFarInBlock []string
		for _, inst := range blk.Insts {
			kinds := poKindsForInstruction(inst, blk.ID, ancestors, freeSymbolsByBlock, &freedSoFarInBlock)
			for _, kind := range kinds {
				poID, err := computePoID(repo, fn.FunctionUID, blk.ID, inst.ID, kind, v)
				if err != nil {
					return nil, err
				}
				pos = append(pos, PO{
					PoID:         poID,
					PoKind:       kind,
					RepoIdentity: repo,
					Function:     function,
					Anchor:       Anchor{BlockID: blk.ID, InstID: inst.ID, Src: inst.Src},
					Predicate:    buildPredicate(kind),
					Semantics:    v.Semantics,
					ProofSystem:  v.ProofSystem,
					Profile:      v.Profile,
				})
			}
		}
	}

	sort.Slice(pos, func(i, j int) bool { return pos[i].PoID < pos[j].PoID })
	return pos, nil
}

// Enumerate walks n in canonical order and emits every PO the instructions
// carry. Empty output is a hard error.
func Enumerate(n *nir.Nir, identities FunctionIdentities, v version.Triple) ([]PO, error) {
	n.Normalize()

	var pos []PO
	for _, fn := range n.Functions {
		ident := identities[fn.FunctionUID]
		fnPos, err := EnumerateFunction(fn, ident.Repo, ident.Function, v)
		if err != nil {
			return nil, err
		}
		pos = append(pos, fnPos...)
	}

	if len(pos) == 0 {
		return nil, errkind.New(errkind.KindInvalidPoList, "no proof obligations produced from NIR")
	}

	sort.Slice(pos, func(i, j int) bool { return pos[i].PoID < pos[j].PoID })
	return pos, nil
}

// poKindsForInstruction returns zero or more PO kinds an instruction emits,
// per the §4.4 mapping table.
func poKindsForInstruction(inst nir.Instruction, blockID string, ancestors map[string]map[string]bool, freeSymbolsByBlock map[string][]symbolAt, freedSoFarInBlock *[]string) []Kind {
	switch inst.Op {
	case nir.OpUbCheck:
		return []Kind{inferPoKind(inst)}

	case nir.OpSinkMarker:
		if len(inst.Args) > 0 {
			return []Kind{mapPoKind(normalizeKindToken(inst.Args[0]))}
		}
		return nil

	case nir.OpLoad:
		if hasPrefixedOperand(inst.Args, "ptr:") {
			return []Kind{KindNullDeref}
		}
		return nil

	case nir.OpStore:
		if hasPrefixedOperand(inst.Args, "idx:") {
			return []Kind{KindOutOfBounds}
		}
		return nil

	case nir.OpFree:
		if len(inst.Args) == 0 {
			return nil
		}
		symbol := inst.Args[0]
		for _, s := range *freedSoFarInBlock {
			if s == symbol {
				*freedSoFarInBlock = append(*freedSoFarInBlock, symbol)
				return []Kind{KindDoubleFree}
			}
		}
		*freedSoFarInBlock = append(*freedSoFarInBlock, symbol)
		for ancestorBlock := range ancestors[blockID] {
			for _, s := range freeSymbolsByBlock[ancestorBlock] {
				if s.symbol == symbol {
					return []Kind{KindDoubleFree}
				}
			}
		}
		return nil

	default:
		return nil
	}
}

func hasPrefixedOperand(args []string, prefix string) bool {
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			return true
		}
	}
	return false
}

type symbolAt struct {
	symbol string
	instID string
}

func collectFreeSymbols(cfg nir.Cfg) map[string][]symbolAt {
	out := make(map[string][]symbolAt)
	for _, blk := range cfg.Blocks {
		var syms []symbolAt
		for _, inst := range blk.Insts {
			if inst.Op == nir.OpFree && len(inst.Args) > 0 {
				syms = append(syms, symbolAt{symbol: inst.Args[0], instID: inst.ID})
			}
		}
		out[blk.ID] = syms
	}
	return out
}

// computeAncestors returns, for each block, the set of blocks from which it
// is reachable via one or more CFG edges (any edge kind — exception edges
// are still program-order predecessors for reachability purposes).
func computeAncestors(cfg nir.Cfg) map[string]map[string]bool {
	preds := make(map[string][]string)
	for _, e := range cfg.Edges {
		preds[e.To] = append(preds[e.To], e.From)
	}

	result := make(map[string]map[string]bool)
	for _, blk := range cfg.Blocks {
		visited := make(map[string]bool)
		frontier := append([]string{}, preds[blk.ID]...)
		for len(frontier) > 0 {
			next := frontier[0]
			frontier = frontier[1:]
			if visited[next] {
				continue
			}
			visited[next] = true
			frontier = append(frontier, preds[next]...)
		}
		result[blk.ID] = visited
	}
	return result
}
