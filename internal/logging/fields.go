package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRelativePath is the standardized structured logging key for library item paths.
	FieldRelativePath = "relative_path"
	// FieldTaskID is the standardized structured logging key for sync task identifiers.
	FieldTaskID = "task_id"
	// FieldJobType is the standardized structured logging key for sync task job types.
	FieldJobType = "job_type"
	// FieldEventType is the standardized structured logging key for machine-readable event labels.
	FieldEventType = "event_type"
	// FieldErrorHint suggests an operator action when an error is logged.
	FieldErrorHint = "error_hint"
)
