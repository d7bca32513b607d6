package explain

import (
	"strings"
	"testing"

	"github.com/sappp/core/pkg/errkind"
	"github.com/sappp/core/pkg/ledger"
	"github.com/sappp/core/pkg/verification"
)

func sampleLedger() ledger.Ledger {
	return ledger.Ledger{
		SchemaVersion: ledger.SchemaVersion,
		Records: []ledger.Record{
			{
				UnknownStableID: "u2",
				PoID:            "po-b",
				UnknownCode:     ledger.CodeBudgetExceeded,
				MissingLemma:    ledger.MissingLemma{Pretty: "holds(x)", Symbols: []string{"x"}},
				RefinementPlan:  ledger.RefinementPlan{Message: "raise the iteration budget", Actions: []string{"increase-budget"}},
			},
			{
				UnknownStableID: "u1",
				PoID:            "po-a",
				UnknownCode:     ledger.CodeMissingContractPre,
				MissingLemma:    ledger.MissingLemma{Pretty: "pre(f)"},
				RefinementPlan:  ledger.RefinementPlan{Message: "add a precondition contract", Actions: []string{"add-contract"}},
				DependsOn:       &ledger.DependsOn{Contracts: []string{"f::pre"}},
			},
		},
	}
}

func TestExplainSortsByUnknownStableID(t *testing.T) {
	out := Explain(sampleLedger(), "", Options{Format: FormatJSON})
	if out.UnknownCount != 2 {
		t.Fatalf("expected 2 unknowns, got %d", out.UnknownCount)
	}
	if out.JSON.Unknowns[0].UnknownStableID != "u1" || out.JSON.Unknowns[1].UnknownStableID != "u2" {
		t.Fatalf("expected sort by unknown_stable_id, got %+v", out.JSON.Unknowns)
	}
}

func TestExplainFiltersByPoID(t *testing.T) {
	out := Explain(sampleLedger(), "", Options{PoID: "po-a", Format: FormatJSON})
	if out.UnknownCount != 1 || out.JSON.Unknowns[0].PoID != "po-a" {
		t.Fatalf("expected only po-a, got %+v", out.JSON.Unknowns)
	}
}

func TestExplainFiltersToStillUnknownWhenValidatedGiven(t *testing.T) {
	validated := []verification.Result{
		{PoID: "po-a", Category: verification.CategoryUnknown},
		{PoID: "po-b", Category: verification.CategoryBug},
	}
	out := Explain(sampleLedger(), "", Options{Validated: validated, Format: FormatJSON})
	if out.UnknownCount != 1 || out.JSON.Unknowns[0].PoID != "po-a" {
		t.Fatalf("expected only still-UNKNOWN po-a, got %+v", out.JSON.Unknowns)
	}
}

func TestExplainJSONIncludesValidatedPath(t *testing.T) {
	out := Explain(sampleLedger(), "results/validated_results.json", Options{PoID: "po-a", Format: FormatJSON})
	if out.JSON.Validated == nil || out.JSON.Validated.Path != "results/validated_results.json" {
		t.Fatalf("expected validated path recorded, got %+v", out.JSON.Validated)
	}
}

func TestExplainTextRendersMissingLemmaAndRefinementPlan(t *testing.T) {
	out := Explain(sampleLedger(), "", Options{PoID: "po-b", Format: FormatText})
	text := strings.Join(out.Text, "\n")
	for _, want := range []string{
		"UNKNOWN entries: 1",
		"UNKNOWN: u2",
		"po_id: po-b",
		"code: BudgetExceeded",
		"missing_lemma: holds(x)",
		"symbols: x",
		"refinement: raise the iteration budget",
		"- increase-budget",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected text output to contain %q, got:\n%s", want, text)
		}
	}
}

func TestExplainTextRendersDependsOnAndValidatorStatus(t *testing.T) {
	validated := []verification.Result{
		{PoID: "po-a", Category: verification.CategoryUnknown, ValidatorStatus: verification.StatusUnknown, DowngradeReasonCode: errkind.KindUnsupported},
	}
	out := Explain(sampleLedger(), "", Options{PoID: "po-a", Validated: validated, Format: FormatText})
	text := strings.Join(out.Text, "\n")
	for _, want := range []string{
		"contracts: f::pre",
		"validator_status: Unknown",
		"downgrade_reason: UnsupportedProofFeature",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected text output to contain %q, got:\n%s", want, text)
		}
	}
}
