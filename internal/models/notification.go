package models

import "time"

type NotificationKind string

const (
	NotificationAssigned  NotificationKind = "assigned"
	NotificationTakenOver NotificationKind = "taken_over"
	NotificationBlocked   NotificationKind = "blocked"
	NotificationReleased  NotificationKind = "released"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
)

// Notification describes an assignment outcome for user feedback.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	Severity  Severity         `json:"severity"`
	ThreadID  string           `json:"thread_id"`
	MessageID string           `json:"message_id"`
	Actor     string           `json:"actor"`
	Holder    string           `json:"holder,omitempty"`
	Text      string           `json:"text"`
	At        time.Time        `json:"at"`
}
