// Package history provides the persistence layer for clipboard history rows.
//
// A SQLite implementation (SQLiteRepository) works over a dbx.DBTX, so the
// storage layer can bind it to the transaction of one atomic operation.
// Timestamps are stored as unix nanoseconds. The history_fts index is kept
// in step by triggers declared in the migrations; Reindex and IndexDrift
// exist for recovery after the index was damaged outside the engine.
//
// Listing uses keyset pagination (see Cursor) over the order
// pinned DESC, created_at DESC, id DESC.
package history
