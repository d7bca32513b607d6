// Package nir implements the Normalized IR model (C3): a pure data layer for
// functions, control-flow graphs, and classified instructions. The model
// preserves whatever ordering the frontend delivered and re-sorts
// defensively, since later stages (PO enumeration, the abstract
// interpreter) depend on blocks-by-id, instructions-by-id, edges-by-triple,
// functions-by-usr ordering for determinism.
package nir

import (
	"sort"

	"github.com/sappp/core/pkg/version"
)

// Op is drawn from the closed instruction-kind set the analyzer understands.
type Op string

const (
	OpUbCheck        Op = "ub.check"
	OpLoad           Op = "load"
	OpStore          Op = "store"
	OpCall           Op = "call"
	OpVCall          Op = "vcall"
	OpInvoke         Op = "invoke"
	OpRet            Op = "ret"
	OpBranch         Op = "branch"
	OpAssign         Op = "assign"
	OpMove           Op = "move"
	OpAlloc          Op = "alloc"
	OpFree           Op = "free"
	OpDtor           Op = "dtor"
	OpLifetimeBegin  Op = "lifetime.begin"
	OpLifetimeEnd    Op = "lifetime.end"
	OpAtomicRead     Op = "atomic.r"
	OpAtomicWrite    Op = "atomic.w"
	OpThreadSpawn    Op = "thread.spawn"
	OpSyncEvent      Op = "sync.event"
	OpSinkMarker     Op = "sink.marker"
)

// EdgeKind enumerates the closed set of CFG edge kinds.
type EdgeKind string

const (
	EdgeSucc0     EdgeKind = "succ0"
	EdgeSucc1     EdgeKind = "succ1"
	EdgeException EdgeKind = "exception"
)

// SrcLoc is an optional source-provenance pointer, never participating in PO
// classification logic itself, only in reporting.
type SrcLoc struct {
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
	Col  int    `json:"col,omitempty"`
}

// Instruction is one classified operation inside a BasicBlock.
type Instruction struct {
	ID   string   `json:"id"`
	Op   Op       `json:"op"`
	Args []string `json:"args,omitempty"`
	Src  *SrcLoc  `json:"src,omitempty"`
}

// BasicBlock is a straight-line sequence of instructions.
type BasicBlock struct {
	ID    string        `json:"id"`
	Insts []Instruction `json:"insts"`
}

// Edge is one CFG edge.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// VCallCandidate records one candidate callee USR for a vcall call site.
// An empty or missing candidate list for a vcall instruction forces
// Candidate-Set-Missing handling downstream.
type VCallCandidate struct {
	CallSiteInstID string   `json:"call_site_inst_id"`
	CandidateUSRs  []string `json:"candidate_usrs"`
}

// Tables carries auxiliary per-function lookup data the analyzer consults
// but which is not itself part of the CFG shape.
type Tables struct {
	VCallCandidates []VCallCandidate `json:"vcall_candidates,omitempty"`
}

// Cfg is a function's control-flow graph.
type Cfg struct {
	Entry  string       `json:"entry"`
	Blocks []BasicBlock `json:"blocks"`
	Edges  []Edge       `json:"edges"`
}

// FunctionDef is one analyzed function.
type FunctionDef struct {
	FunctionUID string  `json:"function_uid"`
	MangledName string  `json:"mangled_name"`
	Signature   string  `json:"signature"`
	Cfg         Cfg     `json:"cfg"`
	Tables      *Tables `json:"tables,omitempty"`
}

// Nir is the root of one translation unit's normalized IR.
type Nir struct {
	SchemaVersion string          `json:"schema_version"`
	Tool          string          `json:"tool"`
	GeneratedAt   string          `json:"generated_at"`
	TuID          string          `json:"tu_id"`
	Semantics     string          `json:"semantics_version"`
	ProofSystem   string          `json:"proof_system_version"`
	Profile       string          `json:"profile_version"`
	InputDigest   string          `json:"input_digest,omitempty"`
	Functions     []FunctionDef   `json:"functions"`
}

// Versions extracts the version triple carried by this NIR document.
func (n *Nir) Versions() version.Triple {
	return version.Triple{Semantics: n.Semantics, ProofSystem: n.ProofSystem, Profile: n.Profile}
}

// Normalize re-sorts functions by function_uid, blocks by id, instructions by
// id, and edges by (from, to, kind) — the defensive re-sort §4.3 requires of
// the core even when a well-behaved frontend already delivered sorted input.
func (n *Nir) Normalize() {
	sort.Slice(n.Functions, func(i, j int) bool {
		return n.Functions[i].FunctionUID < n.Functions[j].FunctionUID
	})
	for fi := range n.Functions {
		normalizeCfg(&n.Functions[fi].Cfg)
	}
}

func normalizeCfg(c *Cfg) {
	sort.Slice(c.Blocks, func(i, j int) bool { return c.Blocks[i].ID < c.Blocks[j].ID })
	for bi := range c.Blocks {
		insts := c.Blocks[bi].Insts
		sort.Slice(insts, func(i, j int) bool { return insts[i].ID < insts[j].ID })
	}
	sort.Slice(c.Edges, func(i, j int) bool {
		a, b := c.Edges[i], c.Edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Kind < b.Kind
	})
}

// FunctionByUID returns the function with the given USR, if present.
func (n *Nir) FunctionByUID(uid string) (*FunctionDef, bool) {
	for i := range n.Functions {
		if n.Functions[i].FunctionUID == uid {
			return &n.Functions[i], true
		}
	}
	return nil, false
}

// VCallCandidatesFor returns the candidate USR set recorded for a call site,
// and whether any entry was found at all (distinguishing "empty set
// recorded" from "no tables entry").
func (f *FunctionDef) VCallCandidatesFor(instID string) ([]string, bool) {
	if f.Tables == nil {
		return nil, false
	}
	for _, c := range f.Tables.VCallCandidates {
		if c.CallSiteInstID == instID {
			return c.CandidateUSRs, true
		}
	}
	return nil, false
}
