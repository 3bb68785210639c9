package store

import (
	"context"
	"errors"
	"testing"

	"wattwatch/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenStore struct {
	*MemoryStore
}

func (b brokenStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection reset")
}

func (b brokenStore) Set(context.Context, string, []byte) error {
	return errors.New("connection reset")
}

func TestRepositoryInitDeviceKeepsExistingRecords(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryStore())
	device := models.DeviceConfig{Name: "Washing Machine", State: "plug.washer", Threshold: 5, Active: true}.ToDevice()

	created, err := repo.InitDevice(ctx, device)
	require.NoError(t, err)
	assert.True(t, created)

	status, err := repo.Status(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Idle, status.State)
	assert.Equal(t, 5.0, status.Threshold)

	status.State = models.Running
	status.Total = 42
	require.NoError(t, repo.SaveStatus(ctx, device.ID, status))
	require.NoError(t, repo.SaveJobs(ctx, device.ID, []models.Job{{ID: "a", Total: 1}}))

	created, err = repo.InitDevice(ctx, device)
	require.NoError(t, err)
	assert.False(t, created)

	status, err = repo.Status(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Running, status.State)
	assert.Equal(t, 42.0, status.Total)

	jobs, err := repo.Jobs(ctx, device.ID)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestRepositoryMissingRecords(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryStore())

	_, err := repo.Status(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)

	window, err := repo.Window(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, window)

	jobs, err := repo.Jobs(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, jobs)

	bucket, err := repo.Bucket(ctx, "ghost", models.Daily)
	require.NoError(t, err)
	assert.Equal(t, models.UsageBucket{}, bucket)

	value, err := repo.Archive(ctx, "ghost", models.ByYear, "2024")
	require.NoError(t, err)
	assert.Zero(t, value)
}

func TestRepositoryPartialStatusUpdates(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryStore())
	device := models.Device{ID: "dryer", Name: "Dryer", Threshold: 20}

	_, err := repo.InitDevice(ctx, device)
	require.NoError(t, err)

	require.NoError(t, repo.SetAverage(ctx, device.ID, 33.3, 20))
	require.NoError(t, repo.SetJobTotal(ctx, device.ID, 1.25))

	status, err := repo.Status(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, 33.3, status.Average)
	assert.Equal(t, 1.25, status.Total)
	assert.Equal(t, models.Idle, status.State)
}

func TestRepositoryWrapsBackendErrors(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(brokenStore{NewMemoryStore()})

	_, err := repo.Status(ctx, "washer")
	require.ErrorIs(t, err, ErrStoreRead)
	assert.NotErrorIs(t, err, ErrNotFound)

	err = repo.SaveWindow(ctx, "washer", []float64{1})
	require.ErrorIs(t, err, ErrStoreWrite)
}

func TestRepositoryRenameDevice(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryStore())
	device := models.Device{ID: "dryer", Name: "Dryer", SourceStateRef: "plug.dryer", Threshold: 20, Active: true}

	_, err := repo.InitDevice(ctx, device)
	require.NoError(t, err)
	require.NoError(t, repo.RenameDevice(ctx, device.ID, "Tumble Dryer"))

	info, err := repo.Info(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, "Tumble Dryer", info.Name)
	assert.Equal(t, "plug.dryer", info.State)
	assert.True(t, info.Enabled)
}
