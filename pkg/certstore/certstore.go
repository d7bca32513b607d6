// Package certstore implements the content-addressed certificate store
// (C2): a two-layer on-disk object store plus a PO→root index, with atomic
// writes and idempotent puts.
package certstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sappp/core/pkg/canonical"
	"github.com/sappp/core/pkg/errkind"
	"github.com/sappp/core/pkg/schema"
)

// Store is a filesystem-backed CAS rooted at a single directory, laid out as
// objects/<shard>/<hash>.json and index/<po_id>.json.
type Store struct {
	root string
	gate *schema.Gate
}

// Open returns a Store rooted at dir, creating the objects/ and index/
// subdirectories if they do not already exist. gate may be nil to skip
// schema validation (tests exercising the CAS in isolation).
func Open(dir string, gate *schema.Gate) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0o755); err != nil {
		return nil, errkind.Wrap(errkind.KindIO, err, "create objects directory")
	}
	if err := os.MkdirAll(filepath.Join(dir, "index"), 0o755); err != nil {
		return nil, errkind.Wrap(errkind.KindIO, err, "create index directory")
	}
	return &Store{root: dir, gate: gate}, nil
}

func shardOf(hash string) (string, error) {
	const prefixLen = len(canonical.HashPrefix)
	if len(hash) < prefixLen+2 {
		return "", errkind.New(errkind.KindInternal, "hash shorter than expected: "+hash)
	}
	return hash[prefixLen : prefixLen+2], nil
}

func (s *Store) objectPath(hash string) (string, error) {
	shard, err := shardOf(hash)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, "objects", shard, hash+".json"), nil
}

func (s *Store) indexPath(poID string) string {
	return filepath.Join(s.root, "index", poID+".json")
}

// writeAtomic writes data to path by creating a temp file in the same
// directory and renaming it into place, so a concurrent reader never
// observes a partially written object.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errkind.Wrap(errkind.KindIO, err, "create directory for %s", path)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errkind.Wrap(errkind.KindIO, err, "create temp file in %s", dir)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errkind.Wrap(errkind.KindIO, err, "write temp file %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errkind.Wrap(errkind.KindIO, err, "sync temp file %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return errkind.Wrap(errkind.KindIO, err, "close temp file %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errkind.Wrap(errkind.KindIO, err, "rename %s to %s", tmpName, path)
	}
	return nil
}

// Put validates cert, canonicalizes it, and writes it under its content
// hash. Putting identical bytes twice is a no-op; if an object already
// exists at the computed hash with different bytes, that is treated as
// store corruption (HashMismatch), since the hash is supposed to uniquely
// determine the content.
func (s *Store) Put(cert any) (string, error) {
	raw, err := json.Marshal(cert)
	if err != nil {
		return "", errkind.Wrap(errkind.KindInternal, err, "marshal certificate")
	}
	if s.gate != nil {
		if err := s.gate.Validate(raw, "cert.v1.json"); err != nil {
			return "", err
		}
	}
	canon, err := canonical.Canonicalize(raw)
	if err != nil {
		return "", err
	}
	hash := sha256HashOf(canon)

	path, err := s.objectPath(hash)
	if err != nil {
		return "", err
	}
	if existing, err := os.ReadFile(path); err == nil {
		if string(existing) != string(canon) {
			return "", errkind.New(errkind.KindHashMismatch, "stored object "+hash+" does not match its own filename")
		}
		return hash, nil
	} else if !os.IsNotExist(err) {
		return "", errkind.Wrap(errkind.KindIO, err, "stat object %s", path)
	}

	if err := writeAtomic(path, canon); err != nil {
		return "", err
	}
	return hash, nil
}

func sha256HashOf(canon []byte) string {
	h, _ := canonical.Hash(canon) // canon is already canonical JSON; re-hash is exact
	return h
}

// Get reads the object stored at hash, re-validates its schema, and
// recomputes its hash to detect tampering.
func (s *Store) Get(hash string) ([]byte, error) {
	path, err := s.objectPath(hash)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errkind.New(errkind.KindMissingDependency, "no object with hash "+hash)
		}
		return nil, errkind.Wrap(errkind.KindIO, err, "read object %s", path)
	}
	if s.gate != nil {
		if err := s.gate.Validate(raw, "cert.v1.json"); err != nil {
			return nil, err
		}
	}
	recomputed, err := canonical.Hash(raw)
	if err != nil {
		return nil, err
	}
	if recomputed != hash {
		return nil, errkind.New(errkind.KindHashMismatch, fmt.Sprintf("object %s recomputes to %s", hash, recomputed))
	}
	return raw, nil
}

// GetKind reads the "kind" discriminant of the object at hash without fully
// decoding the variant-specific fields.
func (s *Store) GetKind(hash string) (Kind, []byte, error) {
	raw, err := s.Get(hash)
	if err != nil {
		return "", nil, err
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, errkind.Wrap(errkind.KindInternal, err, "read certificate kind")
	}
	return env.Kind, raw, nil
}

// indexEntry is the schema-visible shape of index/<po_id>.json.
type indexEntry struct {
	SchemaVersion string `json:"schema_version"`
	PoID          string `json:"po_id"`
	Root          string `json:"root"`
}

const indexSchemaVersion = "cert_index.v1"

// BindPO records that po_id's ProofRoot is at rootHash. The root object must
// already exist in the store. Two bind_po calls for the same po_id must
// produce byte-identical index content — the analyzer is responsible for
// that determinism; a mismatch here indicates a non-deterministic analyzer
// run and is reported as RuleViolation rather than silently overwritten.
func (s *Store) BindPO(poID, rootHash string) error {
	if _, err := s.Get(rootHash); err != nil {
		return err
	}
	entry := indexEntry{SchemaVersion: indexSchemaVersion, PoID: poID, Root: rootHash}
	raw, err := json.Marshal(entry)
	if err != nil {
		return errkind.Wrap(errkind.KindInternal, err, "marshal index entry for %s", poID)
	}
	canon, err := canonical.Canonicalize(raw)
	if err != nil {
		return err
	}

	path := s.indexPath(poID)
	if existing, err := os.ReadFile(path); err == nil {
		if string(existing) != string(canon) {
			return errkind.New(errkind.KindRuleViolation, "non-deterministic bind_po content for po_id "+poID)
		}
		return nil
	} else if !os.IsNotExist(err) {
		return errkind.Wrap(errkind.KindIO, err, "stat index entry %s", path)
	}
	return writeAtomic(path, canon)
}

// IndexRoot reads the ProofRoot hash bound to po_id.
func (s *Store) IndexRoot(poID string) (string, error) {
	raw, err := os.ReadFile(s.indexPath(poID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", errkind.New(errkind.KindMissingDependency, "no index entry for po_id "+poID)
		}
		return "", errkind.Wrap(errkind.KindIO, err, "read index entry for %s", poID)
	}
	if s.gate != nil {
		if err := s.gate.Validate(raw, "cert_index.v1.json"); err != nil {
			return "", err
		}
	}
	var entry indexEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return "", errkind.Wrap(errkind.KindInternal, err, "parse index entry for %s", poID)
	}
	if entry.PoID != poID {
		return "", errkind.New(errkind.KindRuleViolation, "index entry po_id mismatch for "+poID)
	}
	return entry.Root, nil
}

// ListIndexedPOIDs returns every po_id with an index entry, in directory
// listing order (callers are expected to sort further as needed).
func (s *Store) ListIndexedPOIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "index"))
	if err != nil {
		return nil, errkind.Wrap(errkind.KindIO, err, "list index directory")
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ids = append(ids, name[:len(name)-len(filepath.Ext(name))])
	}
	return ids, nil
}
