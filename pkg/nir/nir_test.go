package nir

import "testing"

func sampleNir() *Nir {
	return &Nir{
		Functions: []FunctionDef{
			{
				FunctionUID: "b",
				Cfg: Cfg{
					Blocks: []BasicBlock{
						{ID: "bb1", Insts: []Instruction{{ID: "i2"}, {ID: "i1"}}},
						{ID: "bb0", Insts: []Instruction{{ID: "i1"}}},
					},
					Edges: []Edge{
						{From: "bb1", To: "bb0", Kind: EdgeSucc0},
						{From: "bb0", To: "bb1", Kind: EdgeSucc0},
					},
				},
			},
			{FunctionUID: "a"},
		},
	}
}

func TestNormalizeSortsFunctionsBlocksInstsEdges(t *testing.T) {
	n := sampleNir()
	n.Normalize()

	if n.Functions[0].FunctionUID != "a" || n.Functions[1].FunctionUID != "b" {
		t.Fatalf("functions not sorted by uid: %+v", n.Functions)
	}

	blocks := n.Functions[1].Cfg.Blocks
	if blocks[0].ID != "bb0" || blocks[1].ID != "bb1" {
		t.Fatalf("blocks not sorted by id: %+v", blocks)
	}
	if blocks[1].Insts[0].ID != "i1" || blocks[1].Insts[1].ID != "i2" {
		t.Fatalf("instructions not sorted by id: %+v", blocks[1].Insts)
	}

	edges := n.Functions[1].Cfg.Edges
	if edges[0].From != "bb0" || edges[1].From != "bb1" {
		t.Fatalf("edges not sorted by (from,to,kind): %+v", edges)
	}
}

func TestVCallCandidatesForMissingTablesEntry(t *testing.T) {
	f := &FunctionDef{}
	if _, ok := f.VCallCandidatesFor("x"); ok {
		t.Fatal("expected no candidates for function with no tables")
	}

	f.Tables = &Tables{VCallCandidates: []VCallCandidate{{CallSiteInstID: "x", CandidateUSRs: nil}}}
	cands, ok := f.VCallCandidatesFor("x")
	if !ok {
		t.Fatal("expected a recorded (empty) candidate entry")
	}
	if len(cands) != 0 {
		t.Fatalf("expected empty candidate set, got %v", cands)
	}
}
