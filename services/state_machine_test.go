package services

import (
	"context"
	"testing"
	"time"

	"wattwatch/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndToEndWashCycle(t *testing.T) {
	e := newEngine(t, 3)
	device := e.register(t, washer())
	ctx := context.Background()

	samples := []float64{2, 3, 8, 9, 8, 2, 1}
	wantAverages := []float64{2, 2.5, 4.33, 6.67, 8.33, 6.33, 3.67}
	wantTransitions := []Transition{
		NoTransition, NoTransition, NoTransition, TransitionStarted,
		NoTransition, NoTransition, TransitionFinished,
	}

	var started time.Time
	for i, sample := range samples {
		if i == 3 {
			started = e.clock.Now()
		}
		got := e.push(t, device, sample)
		assert.Equal(t, wantTransitions[i], got, "sample %d", i)

		status, err := e.repo.Status(ctx, device.ID)
		require.NoError(t, err)
		assert.Equal(t, wantAverages[i], status.Average, "sample %d", i)

		if i >= 3 && i < 6 {
			assert.Equal(t, models.Running, status.State, "sample %d", i)
		} else {
			assert.Equal(t, models.Idle, status.State, "sample %d", i)
		}
	}

	assert.Equal(t, []models.EventKind{models.EventStarted, models.EventFinished}, e.notifier.kinds())

	status, err := e.repo.Status(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, started.Unix(), status.Started)
	assert.Equal(t, models.FormatDateTime(started), status.StartedDateTime)
	assert.NotZero(t, status.Finished)
	assert.NotEmpty(t, status.FinishedDateTime)

	window, err := e.repo.Window(ctx, device.ID)
	require.NoError(t, err)
	assert.Empty(t, window, "window is cleared when a job finishes")
}

func TestJobRecordedOnFinish(t *testing.T) {
	e := newEngine(t, 3)
	device := e.register(t, washer())
	ctx := context.Background()

	for _, v := range []float64{2, 3, 8, 9} {
		e.push(t, device, v)
	}

	// One hour at the running average of 6.67 W
	require.NoError(t, e.meter.Rollup(ctx, device, time.Hour, e.clock.Now()))

	status, err := e.repo.Status(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, 6.67, status.Total)

	e.clock.Advance(time.Hour)
	for _, v := range []float64{8, 2, 1} {
		e.push(t, device, v)
	}

	jobs, err := e.history.List(ctx, device.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	job := jobs[0]
	assert.Equal(t, 6.67, job.Total)
	assert.GreaterOrEqual(t, job.Finished, job.Started)
	assert.Equal(t, job.Finished-job.Started, job.Runtime)
	assert.NotEmpty(t, job.ID)

	status, err = e.repo.Status(ctx, device.ID)
	require.NoError(t, err)
	assert.Zero(t, status.Total, "job accumulator resets after the job is recorded")

	events := e.notifier.events
	require.Len(t, events, 2)
	require.NotNil(t, events[1].Job)
	assert.Equal(t, job.ID, events[1].Job.ID)
}

func TestRunningDeviceDoesNotRestart(t *testing.T) {
	e := newEngine(t, 3)
	device := e.register(t, washer())
	ctx := context.Background()

	assert.Equal(t, TransitionStarted, e.push(t, device, 10))

	status, err := e.repo.Status(ctx, device.ID)
	require.NoError(t, err)
	started := status.Started

	for i := 0; i < 5; i++ {
		assert.Equal(t, NoTransition, e.push(t, device, 10))
	}

	status, err = e.repo.Status(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, started, status.Started)
	assert.Equal(t, []models.EventKind{models.EventStarted}, e.notifier.kinds())
}

func TestThresholdHysteresis(t *testing.T) {
	e := newEngine(t, 1)
	device := e.register(t, washer())

	assert.Equal(t, NoTransition, e.push(t, device, 5), "average equal to threshold does not start")
	assert.Equal(t, TransitionStarted, e.push(t, device, 5.01))
	assert.Equal(t, TransitionFinished, e.push(t, device, 5), "average equal to threshold stops")
}

func TestMissingRunStateAbandonsTick(t *testing.T) {
	e := newEngine(t, 3)
	device := washer().ToDevice()
	ctx := context.Background()

	_, err := e.machine.Evaluate(ctx, device, 50)
	require.ErrorIs(t, err, ErrMissingRunState)

	e.readings.Update(models.PowerReading{State: device.SourceStateRef, Value: 50})
	_, err = e.meter.Meter(ctx, device)
	require.ErrorIs(t, err, ErrMissingRunState)

	err = e.meter.Rollup(ctx, device, time.Minute, e.clock.Now())
	require.ErrorIs(t, err, ErrMissingRunState)

	assert.Empty(t, e.kv.Keys(device.ID+"."), "no partial writes for a device without run state")
	assert.Empty(t, e.notifier.events)
}

func TestDisabledDeviceIsSkipped(t *testing.T) {
	e := newEngine(t, 3)
	cfg := washer()
	cfg.Active = false
	device := e.register(t, cfg)
	ctx := context.Background()

	for _, v := range []float64{50, 60, 70} {
		e.readings.Update(models.PowerReading{State: device.SourceStateRef, Value: v})
		transition, err := e.meter.Meter(ctx, device)
		require.ErrorIs(t, err, ErrDeviceDisabled)
		assert.Equal(t, NoTransition, transition)

		err = e.meter.Rollup(ctx, device, time.Hour, e.clock.Now())
		require.ErrorIs(t, err, ErrDeviceDisabled)
	}

	window, err := e.repo.Window(ctx, device.ID)
	require.NoError(t, err)
	assert.Empty(t, window)
	assert.Empty(t, e.kv.Keys(device.ID+".usage."))
	assert.Empty(t, e.kv.Keys(device.ID+".history."))
	assert.Empty(t, e.notifier.events)

	info, err := e.repo.Info(ctx, device.ID)
	require.NoError(t, err)
	assert.False(t, info.Enabled, "display fields are still refreshed")
}

func TestNotifierFailureDoesNotUndoTransition(t *testing.T) {
	e := newEngine(t, 1)
	e.notifier.err = assert.AnError
	device := e.register(t, washer())

	assert.Equal(t, TransitionStarted, e.push(t, device, 100))

	status, err := e.repo.Status(context.Background(), device.ID)
	require.NoError(t, err)
	assert.True(t, status.IsRunning())
}

// runWashUntilDraining leaves the washer running with a 6.33 W average and one hour of energy on the job
func runWashUntilDraining(t *testing.T, e *engine, device models.Device) {
	t.Helper()
	for _, v := range []float64{2, 3, 8, 9, 8, 2} {
		e.push(t, device, v)
	}
	require.NoError(t, e.meter.Rollup(context.Background(), device, time.Hour, e.clock.Now()))
}

func TestFinishRetriedWhenJobHistoryWriteFails(t *testing.T) {
	e := newEngine(t, 3)
	device := e.register(t, washer())
	ctx := context.Background()
	runWashUntilDraining(t, e, device)

	e.flaky.failSets(".jobs")
	_, err := e.meterOnce(t, device, 1)
	require.Error(t, err)

	status, err := e.repo.Status(ctx, device.ID)
	require.NoError(t, err)
	assert.True(t, status.IsRunning(), "device stays running until the job is stored")
	assert.Equal(t, 6.33, status.Total)

	e.flaky.failSets("")
	assert.Equal(t, TransitionFinished, e.push(t, device, 1))

	jobs, err := e.history.List(ctx, device.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 6.33, jobs[0].Total)

	status, err = e.repo.Status(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Idle, status.State)
	assert.Zero(t, status.Total)
	assert.Equal(t, []models.EventKind{models.EventStarted, models.EventFinished}, e.notifier.kinds())
}

func TestFinishRetriedWhenStatusWriteFails(t *testing.T) {
	e := newEngine(t, 3)
	device := e.register(t, washer())
	ctx := context.Background()
	runWashUntilDraining(t, e, device)

	e.flaky.failSets(".status")
	_, err := e.meterOnce(t, device, 1)
	require.Error(t, err)

	status, err := e.repo.Status(ctx, device.ID)
	require.NoError(t, err)
	assert.True(t, status.IsRunning())

	e.flaky.failSets("")
	assert.Equal(t, TransitionFinished, e.push(t, device, 1))

	jobs, err := e.history.List(ctx, device.ID)
	require.NoError(t, err)
	assert.Len(t, jobs, 1, "a retried finish does not record the job twice")

	status, err = e.repo.Status(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Idle, status.State)
	assert.Equal(t, []models.EventKind{models.EventStarted, models.EventFinished}, e.notifier.kinds())
}

func TestSilentSourceFinishesJobAndStopsEnergy(t *testing.T) {
	e := newEngine(t, 3)
	e.readings.maxAge = time.Minute
	e.readings.now = e.clock.Now
	device := e.register(t, washer())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e.push(t, device, 2000)
	}
	require.NoError(t, e.meter.Rollup(ctx, device, time.Minute, e.clock.Now()))

	e.clock.Advance(2 * time.Minute)
	transition, err := e.meter.Meter(ctx, device)
	require.ErrorIs(t, err, ErrNoSample)
	assert.Equal(t, TransitionFinished, transition)

	status, err := e.repo.Status(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Idle, status.State)
	assert.Zero(t, status.Average)

	// A day of silence adds nothing
	for i := 0; i < 24; i++ {
		e.clock.Advance(time.Hour)
		_, err := e.meter.Meter(ctx, device)
		require.ErrorIs(t, err, ErrNoSample)
		require.NoError(t, e.meter.Rollup(ctx, device, time.Hour, e.clock.Now()))
	}

	tally, err := e.ledger.Tally(ctx, device.ID, e.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 33.333, tally.Buckets[models.Monthly].Energy)

	jobs, err := e.history.List(ctx, device.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 33.333, jobs[0].Total)
	assert.Equal(t, []models.EventKind{models.EventStarted, models.EventFinished}, e.notifier.kinds())
}

func TestTransitionString(t *testing.T) {
	assert.Equal(t, "none", NoTransition.String())
	assert.Equal(t, "started", TransitionStarted.String())
	assert.Equal(t, "finished", TransitionFinished.String())
}
