package services

import (
	"context"
	"fmt"
	"math"

	"wattwatch/store"

	"go.uber.org/zap"
)

const (
	powerPrecision  = 2
	energyPrecision = 3
)

// SmoothingFilter keeps a bounded window of recent samples per device and averages it
type SmoothingFilter struct {
	repo   *store.Repository
	max    int
	logger *zap.Logger
}

// NewSmoothingFilter creates a filter with a window of max samples
func NewSmoothingFilter(repo *store.Repository, max int, logger *zap.Logger) *SmoothingFilter {
	if max < 1 {
		max = 1
	}
	return &SmoothingFilter{
		repo:   repo,
		max:    max,
		logger: logger,
	}
}

// Record truncates raw to two decimals, pushes it into the device window and returns the new average.
// The window and the average are persisted before returning.
func (f *SmoothingFilter) Record(ctx context.Context, deviceID string, raw, threshold float64) (float64, error) {
	value := truncate(raw, powerPrecision)

	window, err := f.repo.Window(ctx, deviceID)
	if err != nil {
		return 0, fmt.Errorf("read sample window: %w", err)
	}

	window = pushSample(window, value, f.max)
	average := averageSamples(window)

	if err := f.repo.SaveWindow(ctx, deviceID, window); err != nil {
		return 0, fmt.Errorf("save sample window: %w", err)
	}
	if err := f.repo.SetAverage(ctx, deviceID, average, threshold); err != nil {
		return 0, fmt.Errorf("save average: %w", err)
	}

	f.logger.Debug("Recorded sample",
		zap.String("device_id", deviceID),
		zap.Float64("value", value),
		zap.Int("window_size", len(window)),
		zap.Float64("average", average))

	return average, nil
}

// Reset empties the device window so the next job starts with a clean signal history
func (f *SmoothingFilter) Reset(ctx context.Context, deviceID string) error {
	if err := f.repo.SaveWindow(ctx, deviceID, nil); err != nil {
		return fmt.Errorf("reset sample window: %w", err)
	}
	return nil
}

// pushSample appends v and evicts the oldest samples beyond max
func pushSample(window []float64, v float64, max int) []float64 {
	window = append(window, v)
	if over := len(window) - max; over > 0 {
		window = append([]float64(nil), window[over:]...)
	}
	return window
}

// averageSamples averages the magnitudes of the non-zero samples. No signal averages to 0.
func averageSamples(window []float64) float64 {
	var sum float64
	var count int
	for _, v := range window {
		if v == 0 || math.IsNaN(v) {
			continue
		}
		sum += math.Abs(v)
		count++
	}
	if count == 0 {
		return 0
	}
	return round(sum/float64(count), powerPrecision)
}

// truncate cuts v toward zero. The nudge keeps values like 0.29 from becoming 0.28.
func truncate(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Trunc(v*p+math.Copysign(1e-9, v)) / p
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
