package models

import "time"

// StatusType values for StatusEvent.
const (
	StatusSuccess = "success"
	StatusWarn    = "warn"
	StatusError   = "error"
)

// StatusEvent is a UI-facing sync notification. It is never persisted.
type StatusEvent struct {
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Pending int       `json:"pending"`
	At      time.Time `json:"at"`
}
