// Package specdb implements the SpecDB builder (C5): it gathers contracts
// from sidecar JSON/YAML files and inline source annotations, normalizes and
// deduplicates them, and ranks them for contract matching (§4.7a).
package specdb

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sappp/core/pkg/canonical"
	"github.com/sappp/core/pkg/errkind"
)

const SchemaVersion = "specdb_snapshot.v1"

const annotationPrefix = "//@sappp contract "

// TargetRef names the function a contract applies to.
type TargetRef struct {
	USR string `json:"usr"`
}

// VersionScope narrows a contract to a particular ABI, library version, and
// set of conditions; empty fields match anything.
type VersionScope struct {
	ABI            string   `json:"abi"`
	LibraryVersion string   `json:"library_version" yaml:"library_version"`
	Conditions     []string `json:"conditions"`
	Priority       int      `json:"priority"`
}

// Contract is one SpecDB entry: a precondition/postcondition/concurrency
// lemma about a target function, scoped to a version context.
type Contract struct {
	ContractID   string         `json:"contract_id" yaml:"contract_id"`
	Target       TargetRef      `json:"target"`
	Tier         string         `json:"tier"`
	VersionScope VersionScope   `json:"version_scope" yaml:"version_scope"`
	Body         map[string]any `json:"contract" yaml:"contract"`
}

type contractIDInput struct {
	Target       TargetRef      `json:"target"`
	Tier         string         `json:"tier"`
	VersionScope VersionScope   `json:"version_scope"`
	Body         map[string]any `json:"contract"`
}

func computeContractID(c Contract) (string, error) {
	return canonical.HashValue(contractIDInput{Target: c.Target, Tier: c.Tier, VersionScope: c.VersionScope, Body: c.Body})
}

// normalize sorts conditions and computes a missing contract_id; no other
// field is defaulted.
func normalize(c Contract) (Contract, error) {
	sort.Strings(c.VersionScope.Conditions)
	if c.ContractID == "" {
		id, err := computeContractID(c)
		if err != nil {
			return Contract{}, err
		}
		c.ContractID = id
	}
	return c, nil
}

// sidecarFile is the shape a sidecar JSON/YAML document may take: a single
// contract, an array of contracts, or a full specdb_snapshot.v1 envelope.
type sidecarFile struct {
	SchemaVersion string     `json:"schema_version" yaml:"schema_version"`
	Contracts     []Contract `json:"contracts" yaml:"contracts"`
}

func decodeSidecar(raw []byte, isYAML bool) ([]Contract, error) {
	unmarshal := json.Unmarshal
	if isYAML {
		unmarshal = func(data []byte, v any) error { return yaml.Unmarshal(data, v) }
	}

	var envelope sidecarFile
	if err := unmarshal(raw, &envelope); err == nil && len(envelope.Contracts) > 0 {
		return envelope.Contracts, nil
	}

	var single Contract
	if err := unmarshal(raw, &single); err == nil && single.Target.USR != "" {
		return []Contract{single}, nil
	}

	var many []Contract
	if err := unmarshal(raw, &many); err == nil {
		return many, nil
	}

	return nil, errkind.New(errkind.KindSchemaInvalid, "sidecar file is neither a contract, a contract array, nor a specdb_snapshot.v1")
}

// scanInlineAnnotations reads src line by line looking for
// "//@sappp contract <json>" annotations.
func scanInlineAnnotations(src []byte) ([]Contract, error) {
	var contracts []Contract
	scanner := bufio.NewScanner(strings.NewReader(string(src)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		idx := strings.Index(line, annotationPrefix)
		if idx < 0 {
			continue
		}
		payload := line[idx+len(annotationPrefix):]
		var c Contract
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, errkind.Wrap(errkind.KindSchemaInvalid, err, "parse inline contract annotation")
		}
		contracts = append(contracts, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, errkind.Wrap(errkind.KindIO, err, "scan source for inline contracts")
	}
	return contracts, nil
}

// Snapshot is the normalized, deduplicated, sorted, digested contract set.
type Snapshot struct {
	SchemaVersion string     `json:"schema_version"`
	Tool          string     `json:"tool"`
	GeneratedAt   string     `json:"generated_at"`
	Contracts     []Contract `json:"contracts"`
	SpecdbDigest  string     `json:"specdb_digest"`
}

// Build enumerates sidecar files under specDir (excluding snapshot.json) in
// deterministic path order, scans compileUnitFiles for inline annotations in
// the order given, normalizes, dedupes by contract_id, sorts, and digests.
func Build(specDir string, compileUnitFiles []string, tool, generatedAt string) (Snapshot, error) {
	var raw []Contract

	if specDir != "" {
		entries, err := os.ReadDir(specDir)
		if err != nil {
			return Snapshot{}, errkind.Wrap(errkind.KindIO, err, "read spec directory %s", specDir)
		}
		var names []string
		for _, e := range entries {
			if e.IsDir() || e.Name() == "snapshot.json" {
				continue
			}
			ext := filepath.Ext(e.Name())
			if ext != ".json" && ext != ".yaml" && ext != ".yml" {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)

		for _, name := range names {
			path := filepath.Join(specDir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				return Snapshot{}, errkind.Wrap(errkind.KindIO, err, "read sidecar %s", path)
			}
			isYAML := filepath.Ext(name) != ".json"
			contracts, err := decodeSidecar(data, isYAML)
			if err != nil {
				return Snapshot{}, err
			}
			raw = append(raw, contracts...)
		}
	}

	for _, path := range compileUnitFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return Snapshot{}, errkind.Wrap(errkind.KindIO, err, "read compile unit %s", path)
		}
		contracts, err := scanInlineAnnotations(data)
		if err != nil {
			return Snapshot{}, err
		}
		raw = append(raw, contracts...)
	}

	normalized := make([]Contract, 0, len(raw))
	for _, c := range raw {
		n, err := normalize(c)
		if err != nil {
			return Snapshot{}, err
		}
		normalized = append(normalized, n)
	}

	deduped := dedupeByContractID(normalized)
	sortContracts(deduped)

	digest, err := canonical.HashValue(deduped)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		SchemaVersion: SchemaVersion,
		Tool:          tool,
		GeneratedAt:   generatedAt,
		Contracts:     deduped,
		SpecdbDigest:  digest,
	}, nil
}

func dedupeByContractID(contracts []Contract) []Contract {
	seen := make(map[string]bool, len(contracts))
	out := make([]Contract, 0, len(contracts))
	for _, c := range contracts {
		if seen[c.ContractID] {
			continue
		}
		seen[c.ContractID] = true
		out = append(out, c)
	}
	return out
}

func sortContracts(contracts []Contract) {
	sort.Slice(contracts, func(i, j int) bool {
		a, b := contracts[i], contracts[j]
		if a.Target.USR != b.Target.USR {
			return a.Target.USR < b.Target.USR
		}
		if a.VersionScope.ABI != b.VersionScope.ABI {
			return a.VersionScope.ABI < b.VersionScope.ABI
		}
		if a.VersionScope.LibraryVersion != b.VersionScope.LibraryVersion {
			return a.VersionScope.LibraryVersion < b.VersionScope.LibraryVersion
		}
		aCond, bCond := strings.Join(a.VersionScope.Conditions, ","), strings.Join(b.VersionScope.Conditions, ",")
		if aCond != bCond {
			return aCond < bCond
		}
		if a.VersionScope.Priority != b.VersionScope.Priority {
			return a.VersionScope.Priority > b.VersionScope.Priority
		}
		return a.ContractID < b.ContractID
	})
}

// MatchContext is the calling context a contract's version_scope is matched
// against.
type MatchContext struct {
	ABI            string
	LibraryVersion string
	Conditions     []string
}

func matches(scope VersionScope, ctx MatchContext) bool {
	if scope.ABI != "" && scope.ABI != ctx.ABI {
		return false
	}
	if scope.LibraryVersion != "" && scope.LibraryVersion != ctx.LibraryVersion {
		return false
	}
	have := make(map[string]bool, len(ctx.Conditions))
	for _, c := range ctx.Conditions {
		have[c] = true
	}
	for _, required := range scope.Conditions {
		if !have[required] {
			return false
		}
	}
	return true
}

// rank implements the §4.7a ranking: ABI-specificity, library-version-
// specificity, conditions-specificity, priority — each "higher wins" — then
// a tiebreak that prefers the lexicographically smaller contract_id, so the
// best-ranked contract sorts first.
func rank(c Contract) (abiSpecific, libSpecific bool, nConditions, priority int, contractID string) {
	return c.VersionScope.ABI != "", c.VersionScope.LibraryVersion != "", len(c.VersionScope.Conditions), c.VersionScope.Priority, c.ContractID
}

func better(a, b Contract) bool {
	aAbi, aLib, aConds, aPrio, aID := rank(a)
	bAbi, bLib, bConds, bPrio, bID := rank(b)

	if aAbi != bAbi {
		return aAbi
	}
	if aLib != bLib {
		return aLib
	}
	if aConds != bConds {
		return aConds > bConds
	}
	if aPrio != bPrio {
		return aPrio > bPrio
	}
	return aID < bID
}

// Match returns every contract in contracts whose version_scope matches ctx
// for the given target USR, ranked best-first per §4.7a. The caller's top
// pick is matched[0]; the full slice is recorded as depends_on.contracts /
// depends.contracts.
func Match(contracts []Contract, targetUSR string, ctx MatchContext) []Contract {
	var matched []Contract
	for _, c := range contracts {
		if c.Target.USR != targetUSR {
			continue
		}
		if matches(c.VersionScope, ctx) {
			matched = append(matched, c)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return better(matched[i], matched[j]) })
	return matched
}
