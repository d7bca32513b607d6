package schema

import (
	"os"
	"testing"
)

func TestNewGateCompilesEmbeddedSchemas(t *testing.T) {
	g, err := NewGate()
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	if g == nil {
		t.Fatal("expected non-nil gate")
	}
}

func TestValidateAcceptsWellFormedCertIndex(t *testing.T) {
	g, err := NewGate()
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	raw := []byte(`{"schema_version":"cert_index.v1","po_id":"po-1","root":"sha256:` + fourSixtyFourZeros + `"}`)
	if err := g.Validate(raw, "cert_index.v1.json"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	g, err := NewGate()
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	raw := []byte(`{"schema_version":"cert_index.v1","po_id":"po-1"}`)
	if err := g.Validate(raw, "cert_index.v1.json"); err == nil {
		t.Fatal("expected SchemaInvalid for missing root field")
	}
}

func TestValidateRejectsWrongSchemaVersionConst(t *testing.T) {
	g, err := NewGate()
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	raw := []byte(`{"schema_version":"cert_index.v2","po_id":"po-1","root":"sha256:` + fourSixtyFourZeros + `"}`)
	if err := g.Validate(raw, "cert_index.v1.json"); err == nil {
		t.Fatal("expected SchemaInvalid for wrong schema_version const")
	}
}

func TestCheckVersion(t *testing.T) {
	if err := CheckVersion("po_list.v1", "po_list.v1"); err != nil {
		t.Fatalf("CheckVersion matching: %v", err)
	}
	if err := CheckVersion("po_list.v2", "po_list.v1"); err == nil {
		t.Fatal("expected SchemaVersionMismatch")
	}
}

const fourSixtyFourZeros = "0000000000000000000000000000000000000000000000000000000000000000"[:64]

func TestNewGateFromDirCompilesDiskSchemas(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/widget.v1.json"
	doc := `{"$id":"widget.v1.json","type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	g, err := NewGateFromDir(dir)
	if err != nil {
		t.Fatalf("NewGateFromDir: %v", err)
	}
	if err := g.Validate([]byte(`{"name":"gizmo"}`), "widget.v1.json"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := g.Validate([]byte(`{}`), "widget.v1.json"); err == nil {
		t.Fatal("expected SchemaInvalid for missing required field")
	}
}
