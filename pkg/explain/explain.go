// Package explain renders UNKNOWN ledger entries for a human, in either a
// machine-readable JSON envelope or a flat text report. It is grounded on
// the reference implementation's libs/report/explain.cpp, which filters,
// sorts, and textually formats the same ledger records.
package explain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sappp/core/pkg/errkind"
	"github.com/sappp/core/pkg/ledger"
	"github.com/sappp/core/pkg/verification"
	"github.com/sappp/core/pkg/version"
)

// Format selects the output rendering.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

const SchemaVersion = "explain.v1"

// Options controls which ledger records are selected and how they render.
type Options struct {
	PoID            string
	UnknownStableID string
	Validated       []verification.Result
	Format          Format
}

// Tool identifies the binary that produced an explain.v1 document.
type Tool struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	BuildID string `json:"build_id"`
}

// ValidatedRef records which validated_results a JSON explain document was
// cross-referenced against, without inlining the whole document.
type ValidatedRef struct {
	Path string `json:"path,omitempty"`
}

// Document is the schema-visible shape of an explain.v1 JSON report.
type Document struct {
	SchemaVersion string          `json:"schema_version"`
	Tool          Tool            `json:"tool"`
	GeneratedAt   string          `json:"generated_at,omitempty"`
	Unknowns      []ledger.Record `json:"unknowns"`
	Validated     *ValidatedRef   `json:"validated_results,omitempty"`
}

// Output is the result of Explain: a JSON document, or text lines, per
// options.Format.
type Output struct {
	Format       Format
	UnknownCount int
	Summary      string
	JSON         Document
	Text         []string
}

func matchesFilters(r ledger.Record, opts Options, validatedByPoID map[string]verification.Result) bool {
	if opts.PoID != "" && r.PoID != opts.PoID {
		return false
	}
	if opts.UnknownStableID != "" && r.UnknownStableID != opts.UnknownStableID {
		return false
	}
	if opts.Validated != nil {
		result, ok := validatedByPoID[r.PoID]
		if !ok || result.Category != verification.CategoryUnknown {
			return false
		}
	}
	return true
}

// Explain filters l's records per opts and renders the result in the
// requested format.
func Explain(l ledger.Ledger, validatedResultsPath string, opts Options) Output {
	validatedByPoID := make(map[string]verification.Result, len(opts.Validated))
	for _, r := range opts.Validated {
		validatedByPoID[r.PoID] = r
	}

	var filtered []ledger.Record
	for _, r := range l.Records {
		if matchesFilters(r, opts, validatedByPoID) {
			filtered = append(filtered, r)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].UnknownStableID < filtered[j].UnknownStableID })

	out := Output{
		Format:       opts.Format,
		UnknownCount: len(filtered),
		Summary:      fmt.Sprintf("UNKNOWN entries: %d", len(filtered)),
	}

	switch opts.Format {
	case FormatJSON:
		doc := Document{
			SchemaVersion: SchemaVersion,
			Tool:          Tool{Name: "sappp-core", Version: version.ToolVersion, BuildID: version.ToolVersion},
			Unknowns:      filtered,
		}
		if validatedResultsPath != "" {
			doc.Validated = &ValidatedRef{Path: validatedResultsPath}
		}
		out.JSON = doc
	default:
		lines := []string{out.Summary}
		for _, r := range filtered {
			lines = append(lines, textBlock(r, validatedByPoID)...)
		}
		out.Text = lines
	}
	return out
}

func textBlock(r ledger.Record, validatedByPoID map[string]verification.Result) []string {
	lines := []string{
		"UNKNOWN: " + r.UnknownStableID,
		"  po_id: " + r.PoID,
		"  code: " + string(r.UnknownCode),
	}
	lines = append(lines, missingLemmaLines(r.MissingLemma)...)
	lines = append(lines, refinementPlanLines(r.RefinementPlan)...)
	lines = append(lines, dependsOnLines(r.DependsOn)...)
	if result, ok := validatedByPoID[r.PoID]; ok {
		lines = append(lines, validatorStatusLines(result)...)
	}
	return lines
}

func missingLemmaLines(m ledger.MissingLemma) []string {
	lines := []string{"  missing_lemma: " + m.Pretty}
	if len(m.Symbols) > 0 {
		lines = append(lines, "  symbols: "+strings.Join(m.Symbols, ", "))
	}
	return lines
}

func refinementPlanLines(p ledger.RefinementPlan) []string {
	lines := []string{"  refinement: " + p.Message}
	for _, action := range p.Actions {
		lines = append(lines, "    - "+action)
	}
	return lines
}

func dependsOnLines(d *ledger.DependsOn) []string {
	if d == nil {
		return nil
	}
	var lines []string
	if len(d.Contracts) > 0 {
		lines = append(lines, "  contracts: "+strings.Join(d.Contracts, ", "))
	}
	if len(d.SemanticsDeviations) > 0 {
		lines = append(lines, "  semantics_deviations: "+strings.Join(d.SemanticsDeviations, ", "))
	}
	return lines
}

func validatorStatusLines(r verification.Result) []string {
	lines := []string{"  validator_status: " + string(r.ValidatorStatus)}
	if r.DowngradeReasonCode != errkind.Kind("") {
		lines = append(lines, "  downgrade_reason: "+string(r.DowngradeReasonCode))
	}
	return lines
}
