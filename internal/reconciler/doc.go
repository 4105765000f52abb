// Package reconciler drains the sync task queue against the remote API.
//
// The drain loop is strictly FIFO: the head task blocks the queue while
// offline, while gated by the wifi-only preference, or while failing
// transiently (with exponential backoff). Permanent rejections drop the task,
// keep local state, and surface an alert event. Remote-origin changes arrive
// out of band as full snapshots merged into the library between drains.
package reconciler
