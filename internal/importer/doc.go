// Package importer is the content-addressed import pipeline. Sources (files,
// directories, zip archives) are expanded, hashed, and placed under the
// Processed root as "<sha256>.<ext>", which makes import idempotent: the same
// bytes always land at the same relative path with a single backing file.
package importer
