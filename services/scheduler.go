package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// trigger is one periodic action owned by the scheduler
type trigger struct {
	name     string
	interval time.Duration
	align    bool
	run      func(ctx context.Context, fired time.Time)
	cancel   context.CancelFunc
}

// next returns the next fire time. Aligned triggers fire on interval boundaries of the wall clock.
func (t *trigger) next(now time.Time) time.Time {
	if t.align {
		return now.Truncate(t.interval).Add(t.interval)
	}
	return now.Add(t.interval)
}

// Scheduler drives the metering and rollup ticks over every registered device
type Scheduler struct {
	registry         *Registry
	meter            *Meter
	meteringInterval time.Duration
	rollupInterval   time.Duration
	logger           *zap.Logger

	mu         sync.Mutex
	triggers   []*trigger
	lastRollup time.Time
	stopping   atomic.Bool
	wg         sync.WaitGroup
}

func NewScheduler(registry *Registry, meter *Meter, meteringInterval, rollupInterval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		registry:         registry,
		meter:            meter,
		meteringInterval: meteringInterval,
		rollupInterval:   rollupInterval,
		logger:           logger,
	}
}

// Start launches both triggers. They run until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping.Load() || len(s.triggers) > 0 {
		return
	}

	s.triggers = []*trigger{
		{name: "metering", interval: s.meteringInterval, run: func(ctx context.Context, _ time.Time) { s.MeteringTick(ctx) }},
		{name: "rollup", interval: s.rollupInterval, align: true, run: s.RollupTick},
	}

	for _, t := range s.triggers {
		triggerCtx, cancel := context.WithCancel(ctx)
		t.cancel = cancel

		s.wg.Add(1)
		go s.loop(triggerCtx, t)
	}

	s.logger.Info("Scheduler started",
		zap.Duration("metering_interval", s.meteringInterval),
		zap.Duration("rollup_interval", s.rollupInterval),
		zap.Int("devices", len(s.registry.Devices())))
}

func (s *Scheduler) loop(ctx context.Context, t *trigger) {
	defer s.wg.Done()

	timer := time.NewTimer(time.Until(t.next(time.Now())))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Trigger stopped", zap.String("trigger", t.name))
			return
		case fired := <-timer.C:
			// Both channels may be ready at once; cancellation wins.
			if ctx.Err() != nil || s.stopping.Load() {
				return
			}
			t.run(ctx, fired)
			timer.Reset(time.Until(t.next(time.Now())))
		}
	}
}

// Stop cancels every trigger so no new tick starts, then waits up to timeout for in-flight ticks.
// It reports whether the drain completed.
func (s *Scheduler) Stop(timeout time.Duration) bool {
	s.stopping.Store(true)

	s.mu.Lock()
	for _, t := range s.triggers {
		if t.cancel != nil {
			t.cancel()
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return true
	case <-time.After(timeout):
		s.logger.Warn("Scheduler stop timed out, abandoning in-flight ticks", zap.Duration("timeout", timeout))
		return false
	}
}

// tickContext detaches a tick from scheduler cancellation so in-flight store writes can finish
func tickContext(ctx context.Context, limit time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), limit)
}

// MeteringTick meters every registered device. A failing device never blocks the others.
func (s *Scheduler) MeteringTick(ctx context.Context) {
	for _, device := range s.registry.Devices() {
		tickCtx, cancel := tickContext(ctx, s.meteringInterval)
		transition, err := s.meter.Meter(tickCtx, device)
		cancel()

		switch {
		case err == nil:
			if transition != NoTransition {
				s.logger.Debug("Metering transition",
					zap.String("device_id", device.ID),
					zap.String("transition", transition.String()))
			}
		case errors.Is(err, ErrDeviceDisabled):
			s.logger.Debug("Device disabled, skipping metering", zap.String("device_id", device.ID))
		case errors.Is(err, ErrNoSample):
			s.logger.Debug("No sample available", zap.String("device_id", device.ID), zap.Error(err))
		default:
			s.logger.Error("Metering tick failed",
				zap.String("device_id", device.ID),
				zap.Error(err))
		}
	}
}

// RollupTick adds the energy used since the previous rollup to every active device.
// The first tick, or one after a stall longer than two intervals, counts a single interval.
func (s *Scheduler) RollupTick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	elapsed := now.Sub(s.lastRollup)
	if s.lastRollup.IsZero() || elapsed <= 0 || elapsed > 2*s.rollupInterval {
		elapsed = s.rollupInterval
	}
	s.lastRollup = now
	s.mu.Unlock()

	for _, device := range s.registry.Devices() {
		tickCtx, cancel := tickContext(ctx, s.rollupInterval)
		err := s.meter.Rollup(tickCtx, device, elapsed, now)
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, ErrDeviceDisabled):
			s.logger.Debug("Device disabled, skipping rollup", zap.String("device_id", device.ID))
		default:
			s.logger.Error("Rollup tick failed",
				zap.String("device_id", device.ID),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
		}
	}
}
