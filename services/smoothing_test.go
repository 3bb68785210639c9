package services

import (
	"context"
	"testing"

	"wattwatch/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPushSampleEvictsOldestFirst(t *testing.T) {
	var window []float64
	for i := 1; i <= 10; i++ {
		window = pushSample(window, float64(i), 4)
		assert.LessOrEqual(t, len(window), 4)
	}
	assert.Equal(t, []float64{7, 8, 9, 10}, window)
}

func TestAverageSamples(t *testing.T) {
	tests := []struct {
		name   string
		window []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"all zero", []float64{0, 0, 0}, 0},
		{"constant", []float64{10, 10, 10}, 10},
		{"zero excluded", []float64{0, 10, 20}, 15},
		{"magnitudes", []float64{-10, 20}, 15},
		{"rounded", []float64{1, 1, 2}, 1.33},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, averageSamples(tt.window))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, 12.34, truncate(12.349, 2))
	assert.Equal(t, 0.29, truncate(0.29, 2))
	assert.Equal(t, -3.99, truncate(-3.999, 2))
	assert.Equal(t, 8.0, truncate(8, 2))
}

func TestSmoothingFilterPersistsWindowAndAverage(t *testing.T) {
	ctx := context.Background()
	repo := store.NewRepository(store.NewMemoryStore())
	filter := NewSmoothingFilter(repo, 2, zap.NewNop())

	_, err := repo.InitDevice(ctx, washer().ToDevice())
	require.NoError(t, err)

	avg, err := filter.Record(ctx, "washer", 10.129, 5)
	require.NoError(t, err)
	assert.Equal(t, 10.12, avg)

	avg, err = filter.Record(ctx, "washer", 0, 5)
	require.NoError(t, err)
	assert.Equal(t, 10.12, avg, "zero samples are stored but not averaged")

	avg, err = filter.Record(ctx, "washer", 4, 5)
	require.NoError(t, err)
	assert.Equal(t, 4.0, avg)

	window, err := repo.Window(ctx, "washer")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 4}, window)

	status, err := repo.Status(ctx, "washer")
	require.NoError(t, err)
	assert.Equal(t, 4.0, status.Average)
	assert.Equal(t, 5.0, status.Threshold)

	require.NoError(t, filter.Reset(ctx, "washer"))
	window, err = repo.Window(ctx, "washer")
	require.NoError(t, err)
	assert.Empty(t, window)
}

func TestSmoothingFilterClampsWindowSize(t *testing.T) {
	filter := NewSmoothingFilter(nil, 0, zap.NewNop())
	assert.Equal(t, 1, filter.max)
}
