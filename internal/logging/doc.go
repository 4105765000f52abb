// Package logging wires log/slog into bookplayer's configuration.
//
// It builds console or JSON handlers that fan out to stdout and the log file,
// provides attribute helper aliases so call sites stay terse, and defines the
// standardized field keys shared by every component (component, relative_path,
// task_id, job_type).
package logging
