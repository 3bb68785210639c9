package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"wattwatch/models"
)

const devicesKey = "_devices"

// Repository maps typed per-device records onto store keys
type Repository struct {
	kv Store
}

func NewRepository(kv Store) *Repository {
	return &Repository{kv: kv}
}

func statusKey(id string) string { return Key(id, "status") }
func windowKey(id string) string { return Key(id, "window") }
func jobsKey(id string) string   { return Key(id, "jobs") }
func infoKey(id string) string   { return Key(id, "device") }

func bucketKey(id string, scope models.Scope) string {
	return Key(id, "usage", string(scope))
}

func archiveKey(id string, g models.Granularity, label string) string {
	return Key(id, "history", string(g), label)
}

func (r *Repository) read(ctx context.Context, key string, v any) error {
	data, err := r.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStoreRead, key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrStoreRead, key, err)
	}
	return nil
}

func (r *Repository) write(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrStoreWrite, key, err)
	}
	if err := r.kv.Set(ctx, key, data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStoreWrite, key, err)
	}
	return nil
}

func (r *Repository) extend(ctx context.Context, key string, fields map[string]any) error {
	if err := r.kv.Extend(ctx, key, fields); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStoreWrite, key, err)
	}
	return nil
}

func (r *Repository) create(ctx context.Context, key string, v any) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("%w: encode %s: %w", ErrStoreWrite, key, err)
	}
	created, err := r.kv.Create(ctx, key, data)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrStoreWrite, key, err)
	}
	return created, nil
}

// DeviceIDs returns the persisted list of registered device ids
func (r *Repository) DeviceIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.read(ctx, devicesKey, &ids); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return ids, nil
}

func (r *Repository) SaveDeviceIDs(ctx context.Context, ids []string) error {
	return r.write(ctx, devicesKey, ids)
}

// InitDevice creates the records of a device that do not exist yet. Existing records are never reset.
// It reports whether the status record was newly created.
func (r *Repository) InitDevice(ctx context.Context, device models.Device) (bool, error) {
	if _, err := r.create(ctx, infoKey(device.ID), device.Info()); err != nil {
		return false, err
	}
	if _, err := r.create(ctx, windowKey(device.ID), []float64{}); err != nil {
		return false, err
	}
	if _, err := r.create(ctx, jobsKey(device.ID), []models.Job{}); err != nil {
		return false, err
	}
	return r.create(ctx, statusKey(device.ID), models.NewDeviceStatus(device.Threshold))
}

func (r *Repository) Info(ctx context.Context, id string) (*models.DeviceInfo, error) {
	var info models.DeviceInfo
	if err := r.read(ctx, infoKey(id), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// RenameDevice updates only the display name of a device
func (r *Repository) RenameDevice(ctx context.Context, id, name string) error {
	return r.extend(ctx, infoKey(id), map[string]any{"device": name})
}

// RefreshInfo writes the display fields of a device
func (r *Repository) RefreshInfo(ctx context.Context, device models.Device) error {
	info := device.Info()
	return r.extend(ctx, infoKey(device.ID), map[string]any{
		"device":    info.Name,
		"state":     info.State,
		"enabled":   info.Enabled,
		"threshold": info.Threshold,
	})
}

// Status returns the persisted run status. A missing record yields ErrNotFound.
func (r *Repository) Status(ctx context.Context, id string) (*models.DeviceStatus, error) {
	var status models.DeviceStatus
	if err := r.read(ctx, statusKey(id), &status); err != nil {
		return nil, err
	}
	if status.State == "" {
		status.State = models.Idle
	}
	return &status, nil
}

func (r *Repository) SaveStatus(ctx context.Context, id string, status *models.DeviceStatus) error {
	return r.write(ctx, statusKey(id), status)
}

// SetAverage stores the current smoothed average and the threshold it is compared with
func (r *Repository) SetAverage(ctx context.Context, id string, average, threshold float64) error {
	return r.extend(ctx, statusKey(id), map[string]any{"average": average, "threshold": threshold})
}

// SetJobTotal stores the running job's energy accumulator
func (r *Repository) SetJobTotal(ctx context.Context, id string, total float64) error {
	return r.extend(ctx, statusKey(id), map[string]any{"total": total})
}

// Window returns the sample window. A missing record is an empty window.
func (r *Repository) Window(ctx context.Context, id string) ([]float64, error) {
	var window []float64
	if err := r.read(ctx, windowKey(id), &window); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return window, nil
}

func (r *Repository) SaveWindow(ctx context.Context, id string, window []float64) error {
	if window == nil {
		window = []float64{}
	}
	return r.write(ctx, windowKey(id), window)
}

// Jobs returns the job history. A missing record is an empty history.
func (r *Repository) Jobs(ctx context.Context, id string) ([]models.Job, error) {
	var jobs []models.Job
	if err := r.read(ctx, jobsKey(id), &jobs); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return jobs, nil
}

func (r *Repository) SaveJobs(ctx context.Context, id string, jobs []models.Job) error {
	if jobs == nil {
		jobs = []models.Job{}
	}
	return r.write(ctx, jobsKey(id), jobs)
}

// Bucket returns a calendar usage bucket. A missing record is an empty, unlabeled bucket.
func (r *Repository) Bucket(ctx context.Context, id string, scope models.Scope) (models.UsageBucket, error) {
	var bucket models.UsageBucket
	if err := r.read(ctx, bucketKey(id, scope), &bucket); err != nil && !errors.Is(err, ErrNotFound) {
		return models.UsageBucket{}, err
	}
	return bucket, nil
}

func (r *Repository) SaveBucket(ctx context.Context, id string, scope models.Scope, bucket models.UsageBucket) error {
	return r.write(ctx, bucketKey(id, scope), bucket)
}

// Archive returns the archived energy of one calendar period. Missing periods are zero.
func (r *Repository) Archive(ctx context.Context, id string, g models.Granularity, label string) (float64, error) {
	var value float64
	if err := r.read(ctx, archiveKey(id, g, label), &value); err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	return value, nil
}

func (r *Repository) SaveArchive(ctx context.Context, id string, g models.Granularity, label string, value float64) error {
	return r.write(ctx, archiveKey(id, g, label), value)
}
