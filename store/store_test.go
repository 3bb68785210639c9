package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// exerciseStore runs the behaviour every backend must share
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "washer.status")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "washer.status", []byte(`{"state":"idle","total":1.5}`)))
	got, err := s.Get(ctx, "washer.status")
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"idle","total":1.5}`, string(got))

	require.NoError(t, s.Extend(ctx, "washer.status", map[string]any{"average": 12.5}))
	got, err = s.Get(ctx, "washer.status")
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"idle","total":1.5,"average":12.5}`, string(got))

	require.NoError(t, s.Extend(ctx, "washer.device", map[string]any{"device": "Washer"}))
	got, err = s.Get(ctx, "washer.device")
	require.NoError(t, err)
	assert.JSONEq(t, `{"device":"Washer"}`, string(got))

	created, err := s.Create(ctx, "washer.jobs", []byte(`[]`))
	require.NoError(t, err)
	assert.True(t, created)

	require.NoError(t, s.Set(ctx, "washer.jobs", []byte(`[{"total":3}]`)))
	created, err = s.Create(ctx, "washer.jobs", []byte(`[]`))
	require.NoError(t, err)
	assert.False(t, created)

	got, err = s.Get(ctx, "washer.jobs")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"total":3}]`, string(got))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreKeys(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "dryer.status", []byte(`{}`)))
	require.NoError(t, s.Set(ctx, "dryer.jobs", []byte(`[]`)))
	require.NoError(t, s.Set(ctx, "washer.jobs", []byte(`[]`)))

	assert.Equal(t, []string{"dryer.jobs", "dryer.status"}, s.Keys("dryer."))
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "wattwatch.db"), zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestMergeFieldsRejectsNonObject(t *testing.T) {
	_, err := mergeFields([]byte(`[1,2]`), map[string]any{"a": 1})
	require.Error(t, err)

	merged, err := mergeFields([]byte(`null`), map[string]any{"a": 1})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(merged, &doc))
	assert.Equal(t, float64(1), doc["a"])
}

func TestKey(t *testing.T) {
	assert.Equal(t, "washer.usage.daily", Key("washer", "usage", "daily"))
	assert.Equal(t, "washer", Key("washer"))
}
