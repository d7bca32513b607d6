package certstore

import (
	"encoding/json"

	"github.com/sappp/core/pkg/po"
)

// Kind discriminates the certificate tagged-variant union. Every certificate
// carries its Kind as the "kind" field; dispatch on it is exhaustive.
type Kind string

const (
	KindPoDef       Kind = "PoDef"
	KindIrRef       Kind = "IrRef"
	KindBugTrace    Kind = "BugTrace"
	KindInvariant   Kind = "Invariant"
	KindSafetyProof Kind = "SafetyProof"
	KindContractRef Kind = "ContractRef"
	KindProofRoot   Kind = "ProofRoot"
)

// Ref is a content-address pointer to another certificate in the store.
type Ref struct {
	Hash string `json:"hash"`
}

// PoDef reifies a proof obligation as a certificate.
type PoDef struct {
	Kind Kind  `json:"kind"`
	Po   po.PO `json:"po"`
}

func NewPoDef(p po.PO) PoDef { return PoDef{Kind: KindPoDef, Po: p} }

// IrRef identifies a single instruction inside a translation unit's NIR.
type IrRef struct {
	Kind        Kind   `json:"kind"`
	TuID        string `json:"tu_id"`
	FunctionUID string `json:"function_uid"`
	BlockID     string `json:"block_id"`
	InstID      string `json:"inst_id"`
}

func NewIrRef(tuID, functionUID, blockID, instID string) IrRef {
	return IrRef{Kind: KindIrRef, TuID: tuID, FunctionUID: functionUID, BlockID: blockID, InstID: instID}
}

// Violation records the failing predicate a BugTrace witnesses.
type Violation struct {
	PoID           string `json:"po_id"`
	PredicateHolds bool   `json:"predicate_holds"`
}

// BugTrace is evidence of BUG: a sequence of IrRef steps from entry to the
// anchor, ending in a state where the PO's predicate is false.
type BugTrace struct {
	Kind      Kind      `json:"kind"`
	TraceKind string    `json:"trace_kind"`
	Steps     []Ref     `json:"steps"`
	Violation Violation `json:"violation"`
}

func NewBugTrace(traceKind string, steps []Ref, poID string) BugTrace {
	return BugTrace{
		Kind:      KindBugTrace,
		TraceKind: traceKind,
		Steps:     steps,
		Violation: Violation{PoID: poID, PredicateHolds: false},
	}
}

// StatePoint pins one domain's abstract value at a single instruction. Value
// is the domain's own marshaled representation — certstore never interprets
// it, only stores and re-validates it as opaque JSON.
type StatePoint struct {
	InstID string          `json:"inst_id"`
	Value  json.RawMessage `json:"value"`
}

// Invariant and SafetyProof share the same shape: a domain name and the
// abstract state pinned at each relevant instruction. Invariant backs an
// intermediate claim; SafetyProof is the evidence a ProofRoot cites for
// result=SAFE.
type Invariant struct {
	Kind   Kind         `json:"kind"`
	Domain string       `json:"domain"`
	Points []StatePoint `json:"points"`
}

func NewInvariant(domain string, points []StatePoint) Invariant {
	return Invariant{Kind: KindInvariant, Domain: domain, Points: points}
}

type SafetyProof struct {
	Kind   Kind         `json:"kind"`
	Domain string       `json:"domain"`
	Points []StatePoint `json:"points"`
}

func NewSafetyProof(domain string, points []StatePoint) SafetyProof {
	return SafetyProof{Kind: KindSafetyProof, Domain: domain, Points: points}
}

// ContractRef pins a single SpecDB contract by its contract_id.
type ContractRef struct {
	Kind       Kind   `json:"kind"`
	ContractID string `json:"contract_id"`
}

func NewContractRef(contractID string) ContractRef {
	return ContractRef{Kind: KindContractRef, ContractID: contractID}
}

// Depends is the version triple plus the set of matched-contract refs a
// ProofRoot was produced under.
type Depends struct {
	SemanticsVersion   string `json:"semantics_version"`
	ProofSystemVersion string `json:"proof_system_version"`
	ProfileVersion     string `json:"profile_version"`
	Contracts          []Ref  `json:"contracts,omitempty"`
}

// Result is the closed SAFE/BUG outcome a ProofRoot witnesses. UNKNOWN POs
// never get a ProofRoot — they get an UNKNOWN ledger entry instead.
type Result string

const (
	ResultSafe Result = "SAFE"
	ResultBug  Result = "BUG"
)

// ProofRoot is the single root certificate per PO, tying together the PO
// itself, the instruction it anchors to, and its evidence.
type ProofRoot struct {
	Kind      Kind    `json:"kind"`
	Po        Ref     `json:"po"`
	Ir        Ref     `json:"ir"`
	Evidence  Ref     `json:"evidence"`
	Result    Result  `json:"result"`
	Depends   Depends `json:"depends"`
	HashScope string  `json:"hash_scope,omitempty"`
}

func NewProofRoot(poRef, irRef, evidenceRef Ref, result Result, depends Depends) ProofRoot {
	return ProofRoot{
		Kind:     KindProofRoot,
		Po:       poRef,
		Ir:       irRef,
		Evidence: evidenceRef,
		Result:   result,
		Depends:  depends,
	}
}

// Envelope is the minimal shape every certificate shares, used to read the
// "kind" discriminant before unmarshaling into the concrete variant.
type Envelope struct {
	Kind Kind `json:"kind"`
}
