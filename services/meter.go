package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wattwatch/models"
	"wattwatch/store"

	"go.uber.org/zap"
)

// Meter runs the per-device metering and rollup steps.
// Steps for the same device are serialized so a slow tick cannot double count energy.
type Meter struct {
	repo    *store.Repository
	source  SampleSource
	filter  *SmoothingFilter
	machine *StateMachine
	ledger  *UsageLedger
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMeter(repo *store.Repository, source SampleSource, filter *SmoothingFilter, machine *StateMachine, ledger *UsageLedger, logger *zap.Logger) *Meter {
	return &Meter{
		repo:    repo,
		source:  source,
		filter:  filter,
		machine: machine,
		ledger:  ledger,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (m *Meter) lock(deviceID string) func() {
	m.mu.Lock()
	l, ok := m.locks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[deviceID] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Meter pulls the latest sample for device, smooths it and evaluates the state machine.
// Display fields are refreshed even when the device is inactive. Without a run state nothing is written.
func (m *Meter) Meter(ctx context.Context, device models.Device) (Transition, error) {
	unlock := m.lock(device.ID)
	defer unlock()

	if err := m.requireRunState(ctx, device.ID); err != nil {
		return NoTransition, err
	}
	if err := m.repo.RefreshInfo(ctx, device); err != nil {
		return NoTransition, fmt.Errorf("refresh device info: %w", err)
	}
	if !device.Active {
		return NoTransition, ErrDeviceDisabled
	}

	raw, err := m.source.ReadCurrentValue(ctx, device.SourceStateRef)
	if errors.Is(err, ErrNoSample) {
		transition, silentErr := m.silent(ctx, device)
		if silentErr != nil {
			return transition, silentErr
		}
		return transition, fmt.Errorf("read sample: %w", err)
	}
	if err != nil {
		return NoTransition, fmt.Errorf("read sample: %w", err)
	}

	average, err := m.filter.Record(ctx, device.ID, raw, device.Threshold)
	if err != nil {
		return NoTransition, err
	}

	return m.machine.Evaluate(ctx, device, average)
}

// Rollup converts the current average into energy for elapsed and adds it to the ledger
func (m *Meter) Rollup(ctx context.Context, device models.Device, elapsed time.Duration, now time.Time) error {
	if !device.Active {
		return ErrDeviceDisabled
	}

	unlock := m.lock(device.ID)
	defer unlock()

	status, err := m.repo.Status(ctx, device.ID)
	if err != nil {
		return runStateError(device.ID, err)
	}

	delta := EnergyDelta(status.Average, elapsed)
	return m.ledger.Accumulate(ctx, device.ID, delta, now)
}

// silent treats a source without a recent reading as drawing no power.
// The stored average drops to 0 so rollups stop adding energy, and a running job finishes.
func (m *Meter) silent(ctx context.Context, device models.Device) (Transition, error) {
	if err := m.repo.SetAverage(ctx, device.ID, 0, device.Threshold); err != nil {
		return NoTransition, fmt.Errorf("save average: %w", err)
	}
	return m.machine.Evaluate(ctx, device, 0)
}

func (m *Meter) requireRunState(ctx context.Context, deviceID string) error {
	if _, err := m.repo.Status(ctx, deviceID); err != nil {
		return runStateError(deviceID, err)
	}
	return nil
}

func runStateError(deviceID string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrMissingRunState, deviceID)
	}
	return fmt.Errorf("%w: %w", ErrMissingRunState, err)
}
