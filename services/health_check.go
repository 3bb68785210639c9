package services

import (
	"context"
	"sync"
	"time"

	"wattwatch/models"

	"go.uber.org/zap"
)

// SourceAlerter is told when a power source goes silent and when it comes back
type SourceAlerter interface {
	SendSourceSilentAlert(device models.Device, lastSeen time.Time, silentFor time.Duration) error
	SendSourceRecoveredAlert(device models.Device, downtime time.Duration) error
}

// SampleWatchdog watches the power sources of active devices and alerts when one stops reporting
type SampleWatchdog struct {
	registry  *Registry
	readings  *LatestReadings
	alerter   SourceAlerter
	timeout   time.Duration
	startedAt time.Time
	logger    *zap.Logger
	sources   map[string]*models.SourceHealth
	mu        sync.Mutex
}

// NewSampleWatchdog creates a watchdog. alerter may be nil, in which case transitions are only logged.
func NewSampleWatchdog(registry *Registry, readings *LatestReadings, alerter SourceAlerter, timeout time.Duration, logger *zap.Logger) *SampleWatchdog {
	return &SampleWatchdog{
		registry:  registry,
		readings:  readings,
		alerter:   alerter,
		timeout:   timeout,
		startedAt: time.Now(),
		logger:    logger,
		sources:   make(map[string]*models.SourceHealth),
	}
}

// Start runs the silence checker until ctx is cancelled
func (w *SampleWatchdog) Start(ctx context.Context) {
	interval := w.timeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("Sample watchdog started", zap.Duration("timeout", w.timeout))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Sample watchdog stopped")
			return
		case now := <-ticker.C:
			w.Check(now)
		}
	}
}

// Check evaluates every active device's source once
func (w *SampleWatchdog) Check(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, device := range w.registry.Devices() {
		if !device.Active {
			continue
		}

		health, exists := w.sources[device.ID]
		if !exists {
			health = &models.SourceHealth{DeviceID: device.ID, Status: models.SourceHealthy}
			w.sources[device.ID] = health
		}

		lastSeen, seen := w.readings.LastSeen(device.SourceStateRef)
		if !seen {
			// Never reported: measure silence from watchdog start
			lastSeen = w.startedAt
		}
		health.LastSeen = lastSeen
		silentFor := now.Sub(lastSeen)

		switch {
		case health.Status == models.SourceHealthy && silentFor > w.timeout:
			health.Status = models.SourceSilent
			health.SilentAt = now

			w.logger.Warn("Power source silent",
				zap.String("device_id", device.ID),
				zap.String("source_state", device.SourceStateRef),
				zap.Time("last_seen", lastSeen),
				zap.Duration("silent_for", silentFor))

			if w.alerter != nil {
				if err := w.alerter.SendSourceSilentAlert(device, lastSeen, silentFor); err != nil {
					w.logger.Error("Failed to send source silent alert",
						zap.String("device_id", device.ID),
						zap.Error(err))
				}
			}

		case health.Status == models.SourceSilent && silentFor <= w.timeout:
			downtime := now.Sub(health.SilentAt)
			health.Status = models.SourceHealthy
			health.SilentAt = time.Time{}

			w.logger.Info("Power source recovered",
				zap.String("device_id", device.ID),
				zap.Duration("down_duration", downtime))

			if w.alerter != nil {
				if err := w.alerter.SendSourceRecoveredAlert(device, downtime); err != nil {
					w.logger.Error("Failed to send source recovery alert",
						zap.String("device_id", device.ID),
						zap.Error(err))
				}
			}
		}
	}
}

// SourceHealth returns the tracked health of a device's source
func (w *SampleWatchdog) SourceHealth(deviceID string) (models.SourceHealth, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	health, exists := w.sources[deviceID]
	if !exists {
		return models.SourceHealth{}, false
	}
	return *health, true
}
