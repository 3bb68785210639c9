package services

import (
	"context"
	"testing"
	"time"

	"wattwatch/models"
	"wattwatch/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestJobHistoryAppendsInOrder(t *testing.T) {
	ctx := context.Background()
	history := NewJobHistory(store.NewRepository(store.NewMemoryStore()), 0, zap.NewNop())

	jobs, err := history.List(ctx, "washer")
	require.NoError(t, err)
	assert.Empty(t, jobs)

	end := time.Unix(1_700_000_000, 0)
	for i := 0; i < 3; i++ {
		finished := end.Add(time.Duration(i) * 2 * time.Hour)
		job := models.NewJob(float64(i), finished.Add(-time.Hour).Unix(), finished)
		require.NoError(t, history.Append(ctx, "washer", job))
	}

	jobs, err = history.List(ctx, "washer")
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, []float64{0, 1, 2}, []float64{jobs[0].Total, jobs[1].Total, jobs[2].Total})
}

func TestJobHistoryCapKeepsNewest(t *testing.T) {
	ctx := context.Background()
	history := NewJobHistory(store.NewRepository(store.NewMemoryStore()), 2, zap.NewNop())

	for i := 1; i <= 4; i++ {
		require.NoError(t, history.Append(ctx, "dryer", models.Job{ID: string(rune('a' + i - 1)), Total: float64(i)}))
	}

	jobs, err := history.List(ctx, "dryer")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "c", jobs[0].ID)
	assert.Equal(t, "d", jobs[1].ID)
}

func TestJobHistorySkipsRetriedFinish(t *testing.T) {
	ctx := context.Background()
	history := NewJobHistory(store.NewRepository(store.NewMemoryStore()), 0, zap.NewNop())

	end := time.Unix(1_700_000_000, 0)
	started := end.Add(-time.Hour).Unix()
	require.NoError(t, history.Append(ctx, "washer", models.NewJob(12, started, end)))
	require.NoError(t, history.Append(ctx, "washer", models.NewJob(12.5, started, end.Add(time.Minute))))

	jobs, err := history.List(ctx, "washer")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 12.0, jobs[0].Total)
}
