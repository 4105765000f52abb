// Package remote implements the sync API client: idempotent per-path
// mutations, library snapshot fetches, and audio blob transfer. Errors are
// tagged with sentinel markers so the reconciler can tell retryable failures
// from permanent ones without inspecting message text.
package remote
