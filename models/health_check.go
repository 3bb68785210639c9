package models

import (
	"time"
)

// SourceHealthStatus represents whether a device's sample source is still reporting
type SourceHealthStatus string

const (
	SourceHealthy SourceHealthStatus = "healthy"
	SourceSilent  SourceHealthStatus = "silent"
)

// SourceHealth tracks the reporting state of one device's sample source
type SourceHealth struct {
	DeviceID string
	LastSeen time.Time
	Status   SourceHealthStatus
	SilentAt time.Time // When the source went silent (if applicable)
}
