package ledger

// Code is drawn from the closed unknown_code taxonomy; every UNKNOWN record
// carries exactly one.
type Code string

const (
	CodeDomainTooWeakNumeric      Code = "DomainTooWeak.Numeric"
	CodeMissingContractPre        Code = "MissingContract.Pre"
	CodeBudgetExceeded            Code = "BudgetExceeded"
	CodeVCallCandidateSetMissing  Code = "VirtualCall.CandidateSetMissing"
	CodeVCallMissingContractPre   Code = "VirtualCall.MissingContract.Pre"
	CodeVirtualDispatchUnknown    Code = "VirtualDispatchUnknown"
	CodeExceptionFlowConservative Code = "ExceptionFlowConservative"
	CodeAtomicOrderUnknown        Code = "AtomicOrderUnknown"
	CodeConcurrencyUnsupported    Code = "ConcurrencyUnsupported"
	CodeSyncContractMissing       Code = "SyncContractMissing"
	CodeLifetimeStateUnknown      Code = "LifetimeStateUnknown"
)

// RefinementAction is the recommended next step for a given unknown_code, per
// the standard action table in §4.8.
var RefinementAction = map[Code]string{
	CodeDomainTooWeakNumeric:      "refine.numeric-domain",
	CodeMissingContractPre:        "add-contract",
	CodeBudgetExceeded:            "increase-budget",
	CodeVCallCandidateSetMissing:  "refine-vcall",
	CodeVCallMissingContractPre:   "add-vcall-contract",
	CodeVirtualDispatchUnknown:    "resolve-vcall",
	CodeExceptionFlowConservative: "refine-exception",
	CodeAtomicOrderUnknown:        "refine-atomic-order",
	CodeConcurrencyUnsupported:    "refine-concurrency",
	CodeSyncContractMissing:       "add-contract",
	CodeLifetimeStateUnknown:      "refine-lifetime",
}

// MissingLemma encodes the unproved predicate symbolically, with a
// human-readable rendering and the free symbols it ranges over.
type MissingLemma struct {
	Expr    map[string]any `json:"expr"`
	Pretty  string         `json:"pretty"`
	Symbols []string       `json:"symbols"`
}

// RefinementPlan lists the recommended refinements in priority order.
type RefinementPlan struct {
	Message string   `json:"message"`
	Actions []string `json:"actions"`
}

// DependsOn records what the UNKNOWN determination consulted, so a later run
// with more contracts or a relaxed semantics deviation can be re-checked.
type DependsOn struct {
	Contracts           []string `json:"contracts,omitempty"`
	SemanticsDeviations []string `json:"semantics_deviations,omitempty"`
}

// Record is one UNKNOWN ledger entry: a PO the analyzer or validator could
// not classify as SAFE or BUG, together with why and how to refine it.
type Record struct {
	UnknownStableID string         `json:"unknown_stable_id"`
	PoID            string         `json:"po_id"`
	UnknownCode     Code           `json:"unknown_code"`
	MissingLemma    MissingLemma   `json:"missing_lemma"`
	RefinementPlan  RefinementPlan `json:"refinement_plan"`
	DependsOn       *DependsOn     `json:"depends_on,omitempty"`
}

// Ledger is the schema-visible shape of analyzer/unknown_ledger.json.
type Ledger struct {
	SchemaVersion string   `json:"schema_version"`
	Records       []Record `json:"records"`
}

const SchemaVersion = "unknown.v1"
