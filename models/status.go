package models

import (
	"time"
)

// RunState represents whether an appliance is currently running a job
type RunState string

const (
	Idle    RunState = "idle"
	Running RunState = "running"
)

// DeviceStatus is the persisted run status of a device
type DeviceStatus struct {
	State            RunState `json:"state"`
	Started          int64    `json:"started"`
	StartedDateTime  string   `json:"startedDateTime"`
	Finished         int64    `json:"finished"`
	FinishedDateTime string   `json:"finishedDateTime"`
	Average          float64  `json:"average"`
	Total            float64  `json:"total"`
	Threshold        float64  `json:"threshold"`
}

// NewDeviceStatus returns the initial idle status
func NewDeviceStatus(threshold float64) *DeviceStatus {
	return &DeviceStatus{
		State:     Idle,
		Threshold: threshold,
	}
}

// IsRunning reports whether the device is in a running job
func (s *DeviceStatus) IsRunning() bool {
	return s.State == Running
}

// FormatDateTime renders a timestamp as DD.MM.YYYY HH:MM:SS in local time.
// Zero time renders as an empty string.
func FormatDateTime(t time.Time) string {
	if t.IsZero() || t.Unix() <= 0 {
		return ""
	}
	return t.Local().Format("02.01.2006 15:04:05")
}

// FormatEpoch renders epoch seconds like FormatDateTime
func FormatEpoch(sec int64) string {
	if sec <= 0 {
		return ""
	}
	return FormatDateTime(time.Unix(sec, 0))
}
