// Package library is the authoritative model of the audiobook collection.
//
// Items form a tree of books, folders, and bound volumes identified by their
// relative path under the Processed directory; the path doubles as the primary
// key, so structural operations (move, folder rename, shallow delete)
// recompute descendant paths and keep the on-disk layout in agreement. The
// in-memory arena is written through to SQLite, and every mutation with remote
// relevance hands a task to the sync queue through the TaskSink.
//
// The Store is single-writer: one mutex serializes all mutations, matching
// the one-context discipline the rest of the system assumes. Treat this
// package as the single source of truth for tree semantics; when you add new
// item fields, update schema.sql and bump schemaVersion.
package library
