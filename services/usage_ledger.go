package services

import (
	"context"
	"fmt"
	"time"

	"wattwatch/models"
	"wattwatch/store"

	"go.uber.org/zap"
)

// UsageLedger accumulates energy into calendar buckets, the history archive and the running job total
type UsageLedger struct {
	repo        *store.Repository
	pricePerKWh float64
	logger      *zap.Logger
}

func NewUsageLedger(repo *store.Repository, pricePerKWh float64, logger *zap.Logger) *UsageLedger {
	return &UsageLedger{
		repo:        repo,
		pricePerKWh: pricePerKWh,
		logger:      logger,
	}
}

// EnergyDelta converts an average power in W over elapsed into Wh
func EnergyDelta(averageW float64, elapsed time.Duration) float64 {
	if averageW <= 0 || elapsed <= 0 {
		return 0
	}
	return round(averageW*elapsed.Hours(), energyPrecision)
}

// Accumulate adds delta (Wh) to every calendar bucket and archive entry for now.
// A bucket whose label no longer matches the current period is zeroed and re-labeled first.
// The job total only grows while the device is running.
func (l *UsageLedger) Accumulate(ctx context.Context, deviceID string, delta float64, now time.Time) error {
	labels := models.CalendarLabels(now)

	for _, scope := range models.Scopes {
		bucket, err := l.repo.Bucket(ctx, deviceID, scope)
		if err != nil {
			return fmt.Errorf("read %s bucket: %w", scope, err)
		}

		label := labels.ForScope(scope)
		if bucket.Scope != label {
			if bucket.Scope != "" {
				l.logger.Info("Calendar rollover",
					zap.String("device_id", deviceID),
					zap.String("scope", string(scope)),
					zap.String("previous_label", bucket.Scope),
					zap.String("label", label),
					zap.Float64("previous_value", bucket.Value))
			}
			bucket = models.UsageBucket{Scope: label}
		}
		bucket.Value = round(bucket.Value+delta, energyPrecision)

		if err := l.repo.SaveBucket(ctx, deviceID, scope, bucket); err != nil {
			return fmt.Errorf("save %s bucket: %w", scope, err)
		}
	}

	for _, g := range models.Granularities {
		label := labels.ForGranularity(g)
		value, err := l.repo.Archive(ctx, deviceID, g, label)
		if err != nil {
			return fmt.Errorf("read %s archive: %w", g, err)
		}
		if err := l.repo.SaveArchive(ctx, deviceID, g, label, round(value+delta, energyPrecision)); err != nil {
			return fmt.Errorf("save %s archive: %w", g, err)
		}
	}

	status, err := l.repo.Status(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("read run state: %w", err)
	}
	if status.IsRunning() {
		if err := l.repo.SetJobTotal(ctx, deviceID, round(status.Total+delta, energyPrecision)); err != nil {
			return fmt.Errorf("save job total: %w", err)
		}
	}

	l.logger.Debug("Usage accumulated",
		zap.String("device_id", deviceID),
		zap.Float64("delta_wh", delta),
		zap.Bool("running", status.IsRunning()))

	return nil
}

// Tally reports the current-period totals. A bucket still labeled for a past period reports zero.
func (l *UsageLedger) Tally(ctx context.Context, deviceID string, now time.Time) (*models.Tally, error) {
	labels := models.CalendarLabels(now)
	tally := &models.Tally{
		DeviceID: deviceID,
		Buckets:  make(map[models.Scope]models.BucketTally, len(models.Scopes)),
	}

	for _, scope := range models.Scopes {
		bucket, err := l.repo.Bucket(ctx, deviceID, scope)
		if err != nil {
			return nil, fmt.Errorf("read %s bucket: %w", scope, err)
		}

		label := labels.ForScope(scope)
		energy := 0.0
		if bucket.Scope == label {
			energy = bucket.Value
		}
		tally.Buckets[scope] = l.bucketTally(label, energy)
	}

	status, err := l.repo.Status(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("read run state: %w", err)
	}
	tally.Job = l.bucketTally("job", status.Total)

	return tally, nil
}

// History returns the archived energy of one calendar period
func (l *UsageLedger) History(ctx context.Context, deviceID string, g models.Granularity, label string) (models.BucketTally, error) {
	value, err := l.repo.Archive(ctx, deviceID, g, label)
	if err != nil {
		return models.BucketTally{}, fmt.Errorf("read %s archive: %w", g, err)
	}
	return l.bucketTally(label, value), nil
}

// Cost prices an energy amount in Wh
func (l *UsageLedger) Cost(energyWh float64) float64 {
	return round(energyWh/1000*l.pricePerKWh, powerPrecision)
}

func (l *UsageLedger) bucketTally(label string, energy float64) models.BucketTally {
	return models.BucketTally{
		Scope:  label,
		Energy: energy,
		Cost:   l.Cost(energy),
	}
}
