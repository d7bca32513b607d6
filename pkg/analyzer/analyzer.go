// Package analyzer implements the Analyzer engine (C7): per-function
// abstract interpretation to fixpoint, contract matching, PO classification
// under the sound-downgrade policy, and certificate DAG construction.
package analyzer

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/sappp/core/pkg/certstore"
	"github.com/sappp/core/pkg/domain"
	"github.com/sappp/core/pkg/ledger"
	"github.com/sappp/core/pkg/nir"
	"github.com/sappp/core/pkg/po"
	"github.com/sappp/core/pkg/specdb"
	"github.com/sappp/core/pkg/version"
)

// Config bounds a single analyze run.
type Config struct {
	Jobs          int
	MaxIterations int
	MatchContext  specdb.MatchContext
	Versions      version.Triple
}

// IndexEntry is one cert_index row: a PO bound to its ProofRoot.
type IndexEntry struct {
	PoID string
	Root string
}

// Outcome is the merged, sorted result of a full analyze run.
type Outcome struct {
	CertIndex []IndexEntry
	Unknown   ledger.Ledger
}

type fragment struct {
	certIndex []IndexEntry
	unknown   []ledger.Record
}

// Analyze runs the analyzer pipeline over every function in n, distributing
// per-function work across cfg.Jobs workers, then merges and stable-sorts
// the result in a single-threaded final stage so the output never depends
// on job count.
func Analyze(ctx context.Context, n *nir.Nir, identities po.FunctionIdentities, contracts []specdb.Contract, store *certstore.Store, cfg Config) (Outcome, error) {
	n.Normalize()
	if cfg.Jobs < 1 {
		cfg.Jobs = 1
	}

	results := make([]fragment, len(n.Functions))
	errs := make([]error, len(n.Functions))

	var wg sync.WaitGroup
	sem := make(chan struct{}, cfg.Jobs)
	for idx, fn := range n.Functions {
		idx, fn := idx, fn
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, fn nir.FunctionDef) {
			defer wg.Done()
			defer func() { <-sem }()

			select {
			case <-ctx.Done():
				results[idx] = cancelledFragment(fn, identities, cfg.Versions)
				return
			default:
			}

			ident := identities[fn.FunctionUID]
			frag, err := analyzeFunction(ctx, fn, ident.Repo, ident.Function, contracts, store, cfg)
			if err != nil {
				errs[idx] = err
				return
			}
			results[idx] = frag
		}(idx, fn)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return Outcome{}, err
		}
	}

	// Single-threaded merge + sort stage: job count must never affect the
	// resulting artifact.
	var certIndex []IndexEntry
	var unknownRecords []ledger.Record
	for _, frag := range results {
		certIndex = append(certIndex, frag.certIndex...)
		unknownRecords = append(unknownRecords, frag.unknown...)
	}
	sort.Slice(certIndex, func(i, j int) bool { return certIndex[i].PoID < certIndex[j].PoID })

	return Outcome{CertIndex: certIndex, Unknown: ledger.Build(unknownRecords)}, nil
}

func cancelledFragment(fn nir.FunctionDef, identities po.FunctionIdentities, v version.Triple) fragment {
	ident := identities[fn.FunctionUID]
	pos, err := po.EnumerateFunction(fn, ident.Repo, ident.Function, v)
	if err != nil {
		return fragment{}
	}
	var frag fragment
	for _, p := range pos {
		rec, err := ledger.NewRecord(p.PoID, ledger.CodeBudgetExceeded, ledger.MissingLemma{Pretty: "analysis cancelled before " + p.PoID + " was resolved"}, nil, v)
		if err == nil {
			frag.unknown = append(frag.unknown, rec)
		}
	}
	return frag
}

func analyzeFunction(ctx context.Context, fn nir.FunctionDef, repo po.RepoIdentity, fnRef po.FunctionRef, contracts []specdb.Contract, store *certstore.Store, cfg Config) (fragment, error) {
	pos, err := po.EnumerateFunction(fn, repo, fnRef, cfg.Versions)
	if err != nil {
		return fragment{}, err
	}
	if len(pos) == 0 {
		return fragment{}, nil
	}

	instStates, hitBudget := runFixpoint(fn.Cfg, cfg.MaxIterations)

	var frag fragment
	for _, p := range pos {
		select {
		case <-ctx.Done():
			rec, err := ledger.NewRecord(p.PoID, ledger.CodeBudgetExceeded, ledger.MissingLemma{Pretty: "analysis cancelled before " + p.PoID + " was resolved"}, nil, cfg.Versions)
			if err == nil {
				frag.unknown = append(frag.unknown, rec)
			}
			continue
		default:
		}

		inst, found := instructionAt(fn.Cfg, p.Anchor.BlockID, p.Anchor.InstID)
		state, stateKnown := instStates[stateKey(p.Anchor.BlockID, p.Anchor.InstID)]

		if !stateKnown {
			code := ledger.CodeBudgetExceeded
			if !hitBudget {
				code = ledger.CodeDomainTooWeakNumeric
			}
			rec, err := unknownRecord(p, code, cfg.Versions)
			if err != nil {
				return fragment{}, err
			}
			frag.unknown = append(frag.unknown, rec)
			continue
		}

		symbol := primarySymbol(inst, found)
		matched := specdb.Match(contracts, p.Function.USR, cfg.MatchContext)
		classification := domain.Evaluate(state, p.PoKind, symbol)

		if classification == domain.ClassSafe {
			if reason, ok := unmodeledReason(fn, inst, found, matched); ok {
				rec, err := unknownRecord(p, reason, cfg.Versions)
				if err != nil {
					return fragment{}, err
				}
				frag.unknown = append(frag.unknown, rec)
				continue
			}
		}

		switch classification {
		case domain.ClassSafe:
			root, err := buildSafeCertificate(store, fn, p, state, symbol, matched, cfg.Versions)
			if err != nil {
				return fragment{}, err
			}
			frag.certIndex = append(frag.certIndex, IndexEntry{PoID: p.PoID, Root: root})
		case domain.ClassBug:
			root, err := buildBugCertificate(store, fn, p, matched, cfg.Versions)
			if err != nil {
				return fragment{}, err
			}
			frag.certIndex = append(frag.certIndex, IndexEntry{PoID: p.PoID, Root: root})
		default:
			code := classifyUnknownCode(fn, p, inst, found, matched)
			rec, err := unknownRecord(p, code, cfg.Versions)
			if err != nil {
				return fragment{}, err
			}
			frag.unknown = append(frag.unknown, rec)
		}
	}

	return frag, nil
}

func unknownRecord(p po.PO, code ledger.Code, v version.Triple) (ledger.Record, error) {
	lemma := ledger.MissingLemma{
		Expr:    p.Predicate.Expr,
		Pretty:  p.Predicate.Pretty,
		Symbols: []string{},
	}
	return ledger.NewRecord(p.PoID, code, lemma, nil, v)
}

func stateKey(blockID, instID string) string { return blockID + ":" + instID }

func instructionAt(cfg nir.Cfg, blockID, instID string) (nir.Instruction, bool) {
	for _, b := range cfg.Blocks {
		if b.ID != blockID {
			continue
		}
		for _, inst := range b.Insts {
			if inst.ID == instID {
				return inst, true
			}
		}
	}
	return nir.Instruction{}, false
}

// primarySymbol recovers the variable name a PO's anchor instruction
// concerns. Instructions with a role-prefixed operand ("ptr:x", "idx:i")
// carry the symbol after the colon; ub.check/sink.marker instructions carry
// the obligation kind as args[0] and the checked symbol (if any) as args[1];
// single-operand instructions (free, lifetime.begin, ...) name the symbol
// directly in args[0].
func primarySymbol(inst nir.Instruction, found bool) string {
	if !found || len(inst.Args) == 0 {
		return ""
	}
	for _, arg := range inst.Args {
		if idx := strings.IndexByte(arg, ':'); idx >= 0 {
			return arg[idx+1:]
		}
	}
	if len(inst.Args) > 1 {
		return inst.Args[1]
	}
	return inst.Args[0]
}

// unmodeledReason implements the sound-downgrade rule: a path the analyzer
// refuses to model can never support a SAFE conclusion, even when the
// per-domain evaluation would otherwise prove it.
func unmodeledReason(fn nir.FunctionDef, inst nir.Instruction, found bool, matched []specdb.Contract) (ledger.Code, bool) {
	for _, e := range fn.Cfg.Edges {
		if e.Kind == nir.EdgeException {
			return ledger.CodeExceptionFlowConservative, true
		}
	}
	if !found {
		return ledger.CodeDomainTooWeakNumeric, true
	}
	switch inst.Op {
	case nir.OpVCall:
		return ledger.CodeVirtualDispatchUnknown, true
	case nir.OpAtomicRead, nir.OpAtomicWrite:
		return ledger.CodeAtomicOrderUnknown, true
	case nir.OpThreadSpawn:
		return ledger.CodeConcurrencyUnsupported, true
	case nir.OpSyncEvent:
		if len(matched) == 0 {
			return ledger.CodeSyncContractMissing, true
		}
	case nir.OpCall, nir.OpInvoke:
		if len(matched) == 0 {
			return ledger.CodeMissingContractPre, true
		}
	}
	return "", false
}

func classifyUnknownCode(fn nir.FunctionDef, p po.PO, inst nir.Instruction, found bool, matched []specdb.Contract) ledger.Code {
	if found {
		switch inst.Op {
		case nir.OpVCall:
			candidates, ok := fn.VCallCandidatesFor(inst.ID)
			if !ok || len(candidates) == 0 {
				return ledger.CodeVCallCandidateSetMissing
			}
			if len(matched) == 0 {
				return ledger.CodeVCallMissingContractPre
			}
			return ledger.CodeVirtualDispatchUnknown
		case nir.OpCall, nir.OpInvoke:
			if len(matched) == 0 {
				return ledger.CodeMissingContractPre
			}
		case nir.OpAtomicRead, nir.OpAtomicWrite:
			return ledger.CodeAtomicOrderUnknown
		case nir.OpThreadSpawn:
			return ledger.CodeConcurrencyUnsupported
		case nir.OpSyncEvent:
			if len(matched) == 0 {
				return ledger.CodeSyncContractMissing
			}
		}
	}

	switch p.PoKind {
	case po.KindUseAfterLifetime, po.KindDoubleFree, po.KindInvalidFree:
		return ledger.CodeLifetimeStateUnknown
	default:
		return ledger.CodeDomainTooWeakNumeric
	}
}

func domainNameFor(kind po.Kind) string {
	switch kind {
	case po.KindUseAfterLifetime, po.KindDoubleFree, po.KindInvalidFree:
		return "Lifetime"
	case po.KindUninitRead:
		return "Init"
	case po.KindNullDeref:
		return "Null"
	default:
		return "Interval"
	}
}

type statePointValue struct {
	Interval *domain.Interval `json:"interval,omitempty"`
	Null     *domain.NullState `json:"null,omitempty"`
	Lifetime *domain.LifetimeState `json:"lifetime,omitempty"`
	Init     *domain.InitState `json:"init,omitempty"`
}

func pinState(state domain.State, symbol string) ([]byte, error) {
	v := statePointValue{}
	if iv, ok := state.Interval[symbol]; ok {
		v.Interval = &iv
	}
	if n, ok := state.Null[symbol]; ok {
		v.Null = &n
	}
	if l, ok := state.Lifetime[symbol]; ok {
		v.Lifetime = &l
	}
	if i, ok := state.Init[symbol]; ok {
		v.Init = &i
	}
	return json.Marshal(v)
}

func matchedContractRefs(store *certstore.Store, matched []specdb.Contract) ([]certstore.Ref, error) {
	var refs []certstore.Ref
	for _, c := range matched {
		hash, err := store.Put(certstore.NewContractRef(c.ContractID))
		if err != nil {
			return nil, err
		}
		refs = append(refs, certstore.Ref{Hash: hash})
	}
	return refs, nil
}

func buildSafeCertificate(store *certstore.Store, fn nir.FunctionDef, p po.PO, state domain.State, symbol string, matched []specdb.Contract, v version.Triple) (string, error) {
	poHash, err := store.Put(certstore.NewPoDef(p))
	if err != nil {
		return "", err
	}
	irHash, err := store.Put(certstore.NewIrRef(p.RepoIdentity.Path, fn.FunctionUID, p.Anchor.BlockID, p.Anchor.InstID))
	if err != nil {
		return "", err
	}
	pinned, err := pinState(state, symbol)
	if err != nil {
		return "", err
	}
	evidenceHash, err := store.Put(certstore.NewSafetyProof(domainNameFor(p.PoKind), []certstore.StatePoint{{InstID: p.Anchor.InstID, Value: pinned}}))
	if err != nil {
		return "", err
	}
	contractRefs, err := matchedContractRefs(store, matched)
	if err != nil {
		return "", err
	}
	depends := certstore.Depends{SemanticsVersion: v.Semantics, ProofSystemVersion: v.ProofSystem, ProfileVersion: v.Profile, Contracts: contractRefs}
	root := certstore.NewProofRoot(certstore.Ref{Hash: poHash}, certstore.Ref{Hash: irHash}, certstore.Ref{Hash: evidenceHash}, certstore.ResultSafe, depends)
	rootHash, err := store.Put(root)
	if err != nil {
		return "", err
	}
	if err := store.BindPO(p.PoID, rootHash); err != nil {
		return "", err
	}
	return rootHash, nil
}

func buildBugCertificate(store *certstore.Store, fn nir.FunctionDef, p po.PO, matched []specdb.Contract, v version.Triple) (string, error) {
	poHash, err := store.Put(certstore.NewPoDef(p))
	if err != nil {
		return "", err
	}
	irHash, err := store.Put(certstore.NewIrRef(p.RepoIdentity.Path, fn.FunctionUID, p.Anchor.BlockID, p.Anchor.InstID))
	if err != nil {
		return "", err
	}
	evidenceHash, err := store.Put(certstore.NewBugTrace("reaching-def", []certstore.Ref{{Hash: irHash}}, p.PoID))
	if err != nil {
		return "", err
	}
	contractRefs, err := matchedContractRefs(store, matched)
	if err != nil {
		return "", err
	}
	depends := certstore.Depends{SemanticsVersion: v.Semantics, ProofSystemVersion: v.ProofSystem, ProfileVersion: v.Profile, Contracts: contractRefs}
	root := certstore.NewProofRoot(certstore.Ref{Hash: poHash}, certstore.Ref{Hash: irHash}, certstore.Ref{Hash: evidenceHash}, certstore.ResultBug, depends)
	rootHash, err := store.Put(root)
	if err != nil {
		return "", err
	}
	if err := store.BindPO(p.PoID, rootHash); err != nil {
		return "", err
	}
	return rootHash, nil
}

const defaultWideningThreshold = 3

// runFixpoint computes, for every (block_id, inst_id) pair, the abstract
// state immediately before that instruction executes. The work-list is
// seeded at the entry block and propagates through successors until no
// block's in-state changes, widening interval bounds after
// defaultWideningThreshold visits to the same block (its loop-head
// approximation) or stopping outright once maxIterations total block visits
// have been spent.
func runFixpoint(cfg nir.Cfg, maxIterations int) (map[string]domain.State, bool) {
	if maxIterations <= 0 {
		maxIterations = 50
	}

	blocksByID := make(map[string]nir.BasicBlock, len(cfg.Blocks))
	for _, b := range cfg.Blocks {
		blocksByID[b.ID] = b
	}
	preds := make(map[string][]string)
	succs := make(map[string][]string)
	for _, e := range cfg.Edges {
		preds[e.To] = append(preds[e.To], e.From)
		succs[e.From] = append(succs[e.From], e.To)
	}

	inState := make(map[string]domain.State, len(cfg.Blocks))
	outState := make(map[string]domain.State, len(cfg.Blocks))
	visits := make(map[string]int, len(cfg.Blocks))
	for _, b := range cfg.Blocks {
		inState[b.ID] = domain.Bottom()
		outState[b.ID] = domain.Bottom()
	}

	instStates := make(map[string]domain.State)
	worklist := []string{cfg.Entry}
	totalVisits := 0
	hitBudget := false

	for len(worklist) > 0 {
		id := worklist[0]
		worklist = worklist[1:]

		blk, ok := blocksByID[id]
		if !ok {
			continue
		}

		totalVisits++
		if totalVisits > maxIterations {
			hitBudget = true
			break
		}

		newIn := domain.Bottom()
		for _, p := range preds[id] {
			newIn = domain.Join(newIn, outState[p])
		}

		visits[id]++
		var merged domain.State
		if visits[id] > defaultWideningThreshold {
			merged = domain.Widen(inState[id], newIn)
		} else {
			merged = domain.Join(inState[id], newIn)
		}

		changed := !domain.Equal(merged, inState[id])
		inState[id] = merged
		if !changed && visits[id] > 1 {
			continue
		}

		cur := merged
		for _, inst := range blk.Insts {
			instStates[stateKey(blk.ID, inst.ID)] = cur
			cur = domain.Transfer(cur, inst)
		}
		outState[id] = cur

		worklist = append(worklist, succs[id]...)
	}

	return instStates, hitBudget
}
