// Package schema implements the schema gate: validation of canonical JSON
// documents against the embedded JSON Schema for their declared
// schema_version, ahead of any hashing or certificate store write.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sappp/core/pkg/errkind"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Gate compiles and caches the embedded schemas, and validates documents
// against them by name.
type Gate struct {
	mu       sync.Mutex
	compiler *jsonschema.Compiler
	compiled map[string]*jsonschema.Schema
}

// NewGate builds a Gate from the embedded schemas/ directory.
func NewGate() (*Gate, error) {
	c := jsonschema.NewCompiler()
	if err := addResourcesFromFS(c, schemaFS, "schemas"); err != nil {
		return nil, err
	}
	return &Gate{compiler: c, compiled: make(map[string]*jsonschema.Schema)}, nil
}

// NewGateFromDir builds a Gate from a schema directory on disk instead of
// the embedded set, for `validate --schema-dir` conformance testing against
// an alternate or newer schema revision.
func NewGateFromDir(dir string) (*Gate, error) {
	c := jsonschema.NewCompiler()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindIO, err, "read schema directory %s", dir)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, errkind.Wrap(errkind.KindIO, err, "read schema %s", e.Name())
		}
		if err := addResource(c, e.Name(), raw); err != nil {
			return nil, err
		}
	}
	return &Gate{compiler: c, compiled: make(map[string]*jsonschema.Schema)}, nil
}

func addResourcesFromFS(c *jsonschema.Compiler, fsys embed.FS, dir string) error {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return errkind.Wrap(errkind.KindInternal, err, "read embedded schemas directory")
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		raw, err := fsys.ReadFile(dir + "/" + e.Name())
		if err != nil {
			return errkind.Wrap(errkind.KindInternal, err, "read embedded schema %s", e.Name())
		}
		if err := addResource(c, e.Name(), raw); err != nil {
			return err
		}
	}
	return nil
}

func addResource(c *jsonschema.Compiler, name string, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return errkind.Wrap(errkind.KindInternal, err, "parse schema %s", name)
	}
	if err := c.AddResource(name, v); err != nil {
		return errkind.Wrap(errkind.KindInternal, err, "register schema %s", name)
	}
	return nil
}

func (g *Gate) schemaFor(name string) (*jsonschema.Schema, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if s, ok := g.compiled[name]; ok {
		return s, nil
	}
	s, err := g.compiler.Compile(name)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindSchemaInvalid, err, "compile schema %s", name)
	}
	g.compiled[name] = s
	return s, nil
}

// Validate checks raw (must already be valid JSON) against the named
// embedded schema (e.g. "cert_index.v1.json"). Any violation is reported as a
// SchemaInvalid error wrapping the underlying validation detail.
func (g *Gate) Validate(raw []byte, schemaName string) error {
	s, err := g.schemaFor(schemaName)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return errkind.Wrap(errkind.KindSchemaInvalid, err, "document is not valid JSON")
	}
	if err := s.Validate(v); err != nil {
		return errkind.Wrap(errkind.KindSchemaInvalid, err, "document fails schema %s", schemaName)
	}
	return nil
}

// CheckVersion compares a document's declared schema_version against the
// version this Gate's embedded schema set was built for.
func CheckVersion(declared, supported string) error {
	if declared != supported {
		return errkind.New(errkind.KindSchemaVersion,
			fmt.Sprintf("schema_version %q is not %q", declared, supported))
	}
	return nil
}
