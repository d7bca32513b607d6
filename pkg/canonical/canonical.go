// Package canonical implements the canonical JSON form and content hash that
// every certificate, PO, and SpecDB snapshot is identified by: UTF-8,
// lexicographically key-sorted at every depth, no insignificant whitespace,
// integers only. Arrays are never reordered here — a caller producing a
// semantically unordered array (e.g. a set of edges) is responsible for
// sorting it before it reaches this package.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/sappp/core/pkg/errkind"
)

// HashPrefix is prepended to every canonical content hash.
const HashPrefix = "sha256:"

// Canonicalize validates raw as strict canonical-eligible JSON (no floats, no
// duplicate object keys at any depth) and returns its canonical encoding:
// compact, UTF-8, keys sorted lexicographically at every depth.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errkind.New(errkind.KindInternal, "trailing data after top-level JSON value")
	}

	out, err := json.Marshal(v)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindInternal, err, "marshal canonical value")
	}
	return out, nil
}

// CanonicalizeValue marshals v to JSON and canonicalizes the result. Use this
// for in-memory structs (certificates, PO lists, snapshots) rather than
// hand-building raw JSON.
func CanonicalizeValue(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindInternal, err, "marshal value before canonicalization")
	}
	return Canonicalize(raw)
}

// Hash returns the canonical content hash of raw: "sha256:" followed by the
// lowercase hex SHA-256 digest of its canonical encoding.
func Hash(raw []byte) (string, error) {
	canon, err := Canonicalize(raw)
	if err != nil {
		return "", err
	}
	return hashCanonicalBytes(canon), nil
}

// HashValue is CanonicalizeValue followed by Hash.
func HashValue(v any) (string, error) {
	canon, err := CanonicalizeValue(v)
	if err != nil {
		return "", err
	}
	return hashCanonicalBytes(canon), nil
}

func hashCanonicalBytes(canon []byte) string {
	sum := sha256.Sum256(canon)
	return HashPrefix + hex.EncodeToString(sum[:])
}

// decodeValue reads one JSON value from dec, rejecting floats and duplicate
// object keys. Returned values use only: nil, bool, string, int64, []any,
// map[string]any — the subset json.Marshal renders as canonical-compatible
// output (Go sorts map[string]any keys during Marshal).
func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, errkind.Wrap(errkind.KindInternal, err, "read JSON token")
	}
	return decodeFromToken(dec, tok)
}

func decodeFromToken(dec *json.Decoder, tok json.Token) (any, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		default:
			return nil, errkind.New(errkind.KindInternal, "unexpected JSON delimiter "+t.String())
		}
	case json.Number:
		i, err := strconv.ParseInt(t.String(), 10, 64)
		if err != nil {
			return nil, errkind.New(errkind.KindCanonicalFloat, "non-integer number "+t.String())
		}
		return i, nil
	case string, bool, nil:
		return t, nil
	default:
		return nil, errkind.New(errkind.KindInternal, fmt.Sprintf("unexpected JSON token type %T", tok))
	}
}

func decodeObject(dec *json.Decoder) (map[string]any, error) {
	obj := make(map[string]any)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, errkind.Wrap(errkind.KindInternal, err, "read object key")
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, errkind.New(errkind.KindInternal, "object key is not a string")
		}
		if _, dup := obj[key]; dup {
			return nil, errkind.New(errkind.KindCanonicalDup, "duplicate key "+key)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		obj[key] = val
	}
	if _, err := dec.Token(); err != nil { // consume '}'
		return nil, errkind.Wrap(errkind.KindInternal, err, "read object close")
	}
	return obj, nil
}

func decodeArray(dec *json.Decoder) ([]any, error) {
	arr := make([]any, 0)
	for dec.More() {
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		arr = append(arr, val)
	}
	if _, err := dec.Token(); err != nil { // consume ']'
		return nil, errkind.Wrap(errkind.KindInternal, err, "read array close")
	}
	return arr, nil
}
