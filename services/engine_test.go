package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"wattwatch/models"
	"wattwatch/store"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.DeviceEvent
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, event models.DeviceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingNotifier) kinds() []models.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyStore fails Set for keys with a given suffix until cleared
type flakyStore struct {
	*store.MemoryStore

	mu         sync.Mutex
	failSuffix string
}

func (f *flakyStore) failSets(suffix string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSuffix = suffix
}

func (f *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	suffix := f.failSuffix
	f.mu.Unlock()

	if suffix != "" && strings.HasSuffix(key, suffix) {
		return errors.New("connection reset")
	}
	return f.MemoryStore.Set(ctx, key, value)
}

// engine wires the metering pipeline over an in-memory store
type engine struct {
	kv       *store.MemoryStore
	flaky    *flakyStore
	repo     *store.Repository
	readings *LatestReadings
	notifier *recordingNotifier
	clock    *testClock
	filter   *SmoothingFilter
	history  *JobHistory
	machine  *StateMachine
	ledger   *UsageLedger
	meter    *Meter
	registry *Registry
}

func newEngine(t *testing.T, windowSize int) *engine {
	t.Helper()
	logger := zap.NewNop()

	e := &engine{
		kv:       store.NewMemoryStore(),
		readings: NewLatestReadings(0),
		notifier: &recordingNotifier{},
		clock:    &testClock{now: time.Date(2024, 3, 15, 8, 0, 0, 0, time.Local)},
	}
	e.flaky = &flakyStore{MemoryStore: e.kv}
	e.repo = store.NewRepository(e.flaky)
	e.filter = NewSmoothingFilter(e.repo, windowSize, logger)
	e.history = NewJobHistory(e.repo, 0, logger)
	e.machine = NewStateMachine(e.repo, e.filter, e.history, e.notifier, logger)
	e.machine.now = e.clock.Now
	e.ledger = NewUsageLedger(e.repo, 0.30, logger)
	e.meter = NewMeter(e.repo, e.readings, e.filter, e.machine, e.ledger, logger)
	e.registry = NewRegistry(e.repo, logger)
	return e
}

func (e *engine) register(t *testing.T, cfg models.DeviceConfig) models.Device {
	t.Helper()
	device, err := e.registry.Register(context.Background(), cfg)
	require.NoError(t, err)
	return device
}

// push delivers a sample and runs one metering tick
func (e *engine) push(t *testing.T, device models.Device, value float64) Transition {
	t.Helper()
	e.readings.Update(models.PowerReading{State: device.SourceStateRef, Value: value, Timestamp: e.clock.Now()})
	transition, err := e.meter.Meter(context.Background(), device)
	require.NoError(t, err)
	e.clock.Advance(10 * time.Second)
	return transition
}

// meterOnce delivers a sample and runs one metering tick that is expected to fail
func (e *engine) meterOnce(t *testing.T, device models.Device, value float64) (Transition, error) {
	t.Helper()
	e.readings.Update(models.PowerReading{State: device.SourceStateRef, Value: value, Timestamp: e.clock.Now()})
	transition, err := e.meter.Meter(context.Background(), device)
	e.clock.Advance(10 * time.Second)
	return transition, err
}

func washer() models.DeviceConfig {
	return models.DeviceConfig{Name: "Washer", State: "plug.washer", Threshold: 5, Active: true, TelegramTarget: "ALL"}
}
