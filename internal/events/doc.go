// Package events provides the in-process broadcast bus that replaces polling
// for queue depth, tree changes, sync status, download progress, and alerts.
//
// Components publish typed Event values; interested consumers (CLI daemon
// status, the notification bridge) subscribe with a bounded buffer. Publishing
// never blocks a mutation path.
package events
