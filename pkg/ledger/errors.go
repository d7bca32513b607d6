package ledger

import "errors"

// ErrNotFound is returned when no record exists for a requested key.
// Explicit error instead of a (nil, nil) return.
var ErrNotFound = errors.New("ledger: record not found")
