// Package metadata implements the key/value repository backed by the
// metadata table.
//
// Get returns (nil, nil) for an absent key so callers can treat "not set"
// as a normal state. SetIfAbsent reports whether it wrote anything and is
// used for one-time markers. The JSON helpers store structured values such
// as KDF parameters.
//
// The repository works on a dbx.DBTX, so it can be bound to *sql.DB or to
// the *sql.Tx of a larger unit of work.
package metadata
