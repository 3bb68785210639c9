package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"wattwatch/models"
)

// SampleSource supplies the latest raw power reading for a source reference
type SampleSource interface {
	ReadCurrentValue(ctx context.Context, ref string) (float64, error)
}

type latestReading struct {
	value    float64
	received time.Time
}

// LatestReadings caches the most recent pushed reading per source reference.
// Push transports (MQTT, RabbitMQ) write into it and the metering tick reads from it.
type LatestReadings struct {
	mu       sync.RWMutex
	readings map[string]latestReading
	maxAge   time.Duration
	now      func() time.Time
}

// NewLatestReadings creates the cache. Readings older than maxAge are reported as missing; maxAge <= 0 disables expiry.
func NewLatestReadings(maxAge time.Duration) *LatestReadings {
	return &LatestReadings{
		readings: make(map[string]latestReading),
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Update stores a reading. Readings without a timestamp are stamped with the receive time.
func (r *LatestReadings) Update(reading models.PowerReading) {
	received := reading.Timestamp
	if received.IsZero() {
		received = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.readings[reading.State]; ok && prev.received.After(received) {
		return
	}
	r.readings[reading.State] = latestReading{value: reading.Value, received: received}
}

func (r *LatestReadings) ReadCurrentValue(_ context.Context, ref string) (float64, error) {
	r.mu.RLock()
	reading, ok := r.readings[ref]
	r.mu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoSample, ref)
	}
	if r.maxAge > 0 && r.now().Sub(reading.received) > r.maxAge {
		return 0, fmt.Errorf("%w: %s stale since %s", ErrNoSample, ref, reading.received.Format(time.RFC3339))
	}
	return reading.value, nil
}

// LastSeen returns when a reading for ref last arrived
func (r *LatestReadings) LastSeen(ref string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reading, ok := r.readings[ref]
	return reading.received, ok
}

// ReadingSink receives pushed readings
type ReadingSink interface {
	Update(reading models.PowerReading)
}

// decodeReading accepts a JSON PowerReading or a bare number. A bare number is attributed to fallbackRef.
func decodeReading(body []byte, fallbackRef string) (models.PowerReading, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return models.PowerReading{}, errors.New("empty payload")
	}

	if value, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsNaN(value) && !math.IsInf(value, 0) {
		if fallbackRef == "" {
			return models.PowerReading{}, errors.New("bare value without source reference")
		}
		return models.PowerReading{State: fallbackRef, Value: value}, nil
	}

	var reading models.PowerReading
	if err := json.Unmarshal([]byte(trimmed), &reading); err != nil {
		return models.PowerReading{}, fmt.Errorf("failed to unmarshal reading: %w", err)
	}
	if reading.State == "" {
		reading.State = fallbackRef
	}
	if reading.State == "" {
		return models.PowerReading{}, errors.New("invalid reading: missing state")
	}
	if math.IsNaN(reading.Value) || math.IsInf(reading.Value, 0) {
		return models.PowerReading{}, fmt.Errorf("invalid reading value for %s", reading.State)
	}
	return reading, nil
}
