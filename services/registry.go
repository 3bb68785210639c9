package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"wattwatch/models"
	"wattwatch/store"

	"go.uber.org/zap"
)

// Registry holds the monitored devices in configuration order
type Registry struct {
	repo   *store.Repository
	logger *zap.Logger

	mu      sync.RWMutex
	order   []string
	devices map[string]models.Device
}

func NewRegistry(repo *store.Repository, logger *zap.Logger) *Registry {
	return &Registry{
		repo:    repo,
		logger:  logger,
		devices: make(map[string]models.Device),
	}
}

// Register adds a configured device. A device whose id is already persisted only gets its display name updated;
// its run state, counters and job history are left untouched.
func (r *Registry) Register(ctx context.Context, cfg models.DeviceConfig) (models.Device, error) {
	device := cfg.ToDevice()
	if device.ID == "" {
		return models.Device{}, fmt.Errorf("device name %q yields an empty id", cfg.Name)
	}
	if device.SourceStateRef == "" {
		r.logger.Warn("Device has no source state configured, skipping",
			zap.String("device_name", device.Name))
		return models.Device{}, fmt.Errorf("%w: %s", ErrNoSourceState, device.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ids, err := r.repo.DeviceIDs(ctx)
	if err != nil {
		return models.Device{}, fmt.Errorf("read device list: %w", err)
	}

	if slices.Contains(ids, device.ID) {
		if err := r.repo.RenameDevice(ctx, device.ID, device.Name); err != nil {
			return models.Device{}, fmt.Errorf("rename device: %w", err)
		}
		// Creates only records lost to a partial write; existing ones are kept.
		if _, err := r.repo.InitDevice(ctx, device); err != nil {
			return models.Device{}, fmt.Errorf("init device: %w", err)
		}
		r.logger.Info("Device re-registered",
			zap.String("device_id", device.ID),
			zap.String("device_name", device.Name))
	} else {
		created, err := r.repo.InitDevice(ctx, device)
		if err != nil {
			return models.Device{}, fmt.Errorf("init device: %w", err)
		}
		if err := r.repo.SaveDeviceIDs(ctx, append(ids, device.ID)); err != nil {
			return models.Device{}, fmt.Errorf("save device list: %w", err)
		}
		r.logger.Info("Device registered",
			zap.String("device_id", device.ID),
			zap.String("device_name", device.Name),
			zap.String("source_state", device.SourceStateRef),
			zap.Float64("threshold", device.Threshold),
			zap.Bool("restored_status", !created))
	}

	if _, ok := r.devices[device.ID]; !ok {
		r.order = append(r.order, device.ID)
	}
	r.devices[device.ID] = device

	return device, nil
}

// RegisterAll registers every configured device. Failures are logged and the device is left out.
// Two names with the same id would share counters, so only the first of them is registered.
func (r *Registry) RegisterAll(ctx context.Context, configs []models.DeviceConfig) int {
	registered := 0
	seen := make(map[string]string)

	for _, cfg := range configs {
		id := models.Slug(cfg.Name)
		if first, dup := seen[id]; dup {
			r.logger.Warn("Duplicate device id, skipping",
				zap.String("device_id", id),
				zap.String("device_name", cfg.Name),
				zap.String("registered_as", first))
			continue
		}

		if _, err := r.Register(ctx, cfg); err != nil {
			if !errors.Is(err, ErrNoSourceState) {
				r.logger.Error("Failed to register device",
					zap.String("device_name", cfg.Name),
					zap.Error(err))
			}
			continue
		}
		seen[id] = cfg.Name
		registered++
	}
	return registered
}

// Devices returns a snapshot of the registered devices
func (r *Registry) Devices() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]models.Device, 0, len(r.order))
	for _, id := range r.order {
		devices = append(devices, r.devices[id])
	}
	return devices
}

func (r *Registry) Device(id string) (models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.devices[id]
	return device, ok
}
