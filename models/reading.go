package models

import (
	"time"
)

// PowerReading represents a raw power sample pushed by a smart plug or meter
type PowerReading struct {
	State     string    `json:"state"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// EventKind represents a run state transition worth notifying about
type EventKind string

const (
	EventStarted  EventKind = "started"
	EventFinished EventKind = "finished"
)

// DeviceEvent is emitted by the state machine on a transition
type DeviceEvent struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	Device    Device    `json:"device"`
	Average   float64   `json:"average"`
	Timestamp time.Time `json:"timestamp"`
	Job       *Job      `json:"job,omitempty"`
}
