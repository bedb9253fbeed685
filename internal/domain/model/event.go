package model

import "time"

// EventKind identifies the events surfaced to CLI and plugin layers.
type EventKind string

const (
	EventProgress            EventKind = "progress"
	EventScreenshotCaptured  EventKind = "screenshot-captured"
	EventServerReady         EventKind = "server-ready"
	EventBuildCreated        EventKind = "build-created"
	EventBuildFinalizeFailed EventKind = "build-finalize-failed"
	EventError               EventKind = "error"
)

// Event is a small structured notification. Only the fields relevant to the
// kind are populated.
type Event struct {
	Kind    EventKind
	Message string
	BuildID string
	Name    string // Screenshot name for screenshot-captured.
	Count   int    // Screenshots attached so far for screenshot-captured.
	URL     string // Server or build URL.
	Err     error
	At      time.Time
}
