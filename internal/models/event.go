package models

import (
	"time"
)

// EventType categorizes events pushed to the renderer.
type EventType string

const (
	// Backend events
	EventTypeBackendReady  EventType = "backend.ready"
	EventTypeBackendExited EventType = "backend.exited"
	EventTypeBackendNotice EventType = "backend.notice"

	// Run events
	EventTypeRunStarted EventType = "run.started"
	EventTypeRunStdout  EventType = "run.stdout"
	EventTypeRunLogfile EventType = "run.logfile"
	EventTypeRunLog     EventType = "run.log"
	EventTypeRunExit    EventType = "run.exit"

	// Download events
	EventTypeDownloadProgress EventType = "download.progress"
	EventTypeDownloadDone     EventType = "download.done"

	// UI events
	EventTypeContextMenu EventType = "ui.context_menu"

	// System events
	EventTypeError EventType = "error"
)

// Event is a notification for the renderer.
type Event struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// RunID links run events to their run.
	RunID string `json:"run_id,omitempty"`

	// Payload contains event-specific data.
	Payload map[string]any `json:"payload,omitempty"`
}

// ErrorPayload is the payload for error events.
type ErrorPayload struct {
	Error   string `json:"error"`
	Context string `json:"context,omitempty"`
}
