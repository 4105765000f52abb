// Package notifications delivers library events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Per-category toggles (imports, sync, audit, errors) suppress
// individual notification kinds without disabling the service.
//
// Extend this package if you need alternative transports; all callers depend
// only on the simple Service interface.
package notifications
