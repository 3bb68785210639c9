package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wattwatch/models"
	"wattwatch/services"
	"wattwatch/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	router http.Handler
	repo   *store.Repository
	ledger *services.UsageLedger
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	repo := store.NewRepository(store.NewMemoryStore())

	registry := services.NewRegistry(repo, logger)
	_, err := registry.Register(context.Background(), models.DeviceConfig{Name: "Washer", State: "plug.washer", Threshold: 5, Active: true})
	require.NoError(t, err)

	history := services.NewJobHistory(repo, 10, logger)
	ledger := services.NewUsageLedger(repo, 0.30, logger)

	server := NewServer(registry, repo, history, ledger, logger)
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.Local)
	server.now = func() time.Time { return now }

	return &fixture{router: NewRouter(server), repo: repo, ledger: ledger, now: now}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","devices":1}`, rec.Body.String())
}

func TestGetDevice(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/devices/washer")
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		ID     string              `json:"id"`
		Status models.DeviceStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "washer", view.ID)
	assert.Equal(t, models.Idle, view.Status.State)

	rec = f.get(t, "/devices/oven")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"device not found"}`, rec.Body.String())
}

func TestListDevicesAndJobs(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/devices")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	assert.Len(t, views, 1)

	rec = f.get(t, "/devices/washer/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestUsageAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ledger.Accumulate(ctx, "washer", 1000, f.now))

	rec := f.get(t, "/devices/washer/usage")
	require.Equal(t, http.StatusOK, rec.Code)

	var tally models.Tally
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tally))
	assert.Equal(t, "washer", tally.DeviceID)
	assert.Equal(t, 1000.0, tally.Buckets[models.Daily].Energy)
	assert.Equal(t, 0.3, tally.Buckets[models.Daily].Cost)

	rec = f.get(t, "/devices/washer/history/month/2024-03")
	require.Equal(t, http.StatusOK, rec.Code)
	var entry models.BucketTally
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, "2024-03", entry.Scope)
	assert.Equal(t, 1000.0, entry.Energy)

	rec = f.get(t, "/devices/washer/history/week/2024-11")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
