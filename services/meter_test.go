package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"wattwatch/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentRollupsForOneDeviceAreSerialized(t *testing.T) {
	e := newEngine(t, 3)
	device := e.register(t, washer())
	ctx := context.Background()
	now := e.clock.Now()

	// 600 W for one minute is exactly 10 Wh
	require.NoError(t, e.repo.SetAverage(ctx, device.ID, 600, device.Threshold))

	const rollups = 50
	var wg sync.WaitGroup
	errs := make(chan error, rollups)
	for i := 0; i < rollups; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- e.meter.Rollup(ctx, device, time.Minute, now)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	tally, err := e.ledger.Tally(ctx, device.ID, now)
	require.NoError(t, err)
	for _, scope := range models.Scopes {
		assert.Equal(t, 500.0, tally.Buckets[scope].Energy, string(scope))
	}

	day, err := e.ledger.History(ctx, device.ID, models.ByDay, models.CalendarLabels(now).Day)
	require.NoError(t, err)
	assert.Equal(t, 500.0, day.Energy)
}

func TestConcurrentMeteringAndRollupKeepJobTotal(t *testing.T) {
	e := newEngine(t, 3)
	device := e.register(t, washer())
	ctx := context.Background()

	e.push(t, device, 600)
	now := e.clock.Now()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.meter.Rollup(ctx, device, time.Minute, now))
		}()
		go func() {
			defer wg.Done()
			_, err := e.meter.Meter(ctx, device)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	status, err := e.repo.Status(ctx, device.ID)
	require.NoError(t, err)
	assert.True(t, status.IsRunning())
	assert.Equal(t, 200.0, status.Total, "no rollup lost its job increment")
}
