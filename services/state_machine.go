package services

import (
	"context"
	"fmt"
	"time"

	"wattwatch/models"
	"wattwatch/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transition is the outcome of one state evaluation
type Transition int

const (
	NoTransition Transition = iota
	TransitionStarted
	TransitionFinished
)

func (t Transition) String() string {
	switch t {
	case TransitionStarted:
		return "started"
	case TransitionFinished:
		return "finished"
	default:
		return "none"
	}
}

// StateMachine decides idle/running transitions from the smoothed average
type StateMachine struct {
	repo     *store.Repository
	filter   *SmoothingFilter
	history  *JobHistory
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewStateMachine(repo *store.Repository, filter *SmoothingFilter, history *JobHistory, notifier Notifier, logger *zap.Logger) *StateMachine {
	return &StateMachine{
		repo:     repo,
		filter:   filter,
		history:  history,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Evaluate compares average with the device threshold against the freshly read run state.
// Starting requires average > threshold, stopping only average <= threshold.
func (m *StateMachine) Evaluate(ctx context.Context, device models.Device, average float64) (Transition, error) {
	if !device.Active {
		return NoTransition, ErrDeviceDisabled
	}

	status, err := m.repo.Status(ctx, device.ID)
	if err != nil {
		return NoTransition, runStateError(device.ID, err)
	}

	switch {
	case !status.IsRunning() && average > device.Threshold:
		return TransitionStarted, m.start(ctx, device, status, average)
	case status.IsRunning() && average <= device.Threshold:
		return TransitionFinished, m.finish(ctx, device, status, average)
	default:
		return NoTransition, nil
	}
}

func (m *StateMachine) start(ctx context.Context, device models.Device, status *models.DeviceStatus, average float64) error {
	now := m.now()

	status.State = models.Running
	status.Started = now.Unix()
	status.StartedDateTime = models.FormatDateTime(now)
	status.Finished = 0
	status.FinishedDateTime = ""
	status.Average = average
	status.Threshold = device.Threshold

	if err := m.repo.SaveStatus(ctx, device.ID, status); err != nil {
		return fmt.Errorf("save started status: %w", err)
	}

	m.logger.Info("Device started",
		zap.String("device_id", device.ID),
		zap.String("device_name", device.Name),
		zap.Float64("average", average),
		zap.Float64("threshold", device.Threshold))

	m.emit(ctx, models.EventStarted, device, average, now, nil)
	return nil
}

func (m *StateMachine) finish(ctx context.Context, device models.Device, status *models.DeviceStatus, average float64) error {
	now := m.now()
	job := models.NewJob(status.Total, status.Started, now)

	status.State = models.Idle
	status.Finished = job.Finished
	status.FinishedDateTime = job.FinishedDateTime
	status.Average = average
	status.Threshold = device.Threshold
	status.Total = 0

	// Idle is written last: until then the device stays running and the next tick retries the finish.
	if err := m.history.Append(ctx, device.ID, job); err != nil {
		return err
	}
	if err := m.filter.Reset(ctx, device.ID); err != nil {
		return err
	}
	if err := m.repo.SaveStatus(ctx, device.ID, status); err != nil {
		return fmt.Errorf("save finished status: %w", err)
	}

	m.logger.Info("Device finished",
		zap.String("device_id", device.ID),
		zap.String("device_name", device.Name),
		zap.Float64("average", average),
		zap.Float64("total_wh", job.Total),
		zap.Int64("runtime_seconds", job.Runtime))

	m.emit(ctx, models.EventFinished, device, average, now, &job)
	return nil
}

func (m *StateMachine) emit(ctx context.Context, kind models.EventKind, device models.Device, average float64, at time.Time, job *models.Job) {
	if m.notifier == nil {
		return
	}

	event := models.DeviceEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		Device:    device,
		Average:   average,
		Timestamp: at,
		Job:       job,
	}
	if err := m.notifier.Notify(ctx, event); err != nil {
		m.logger.Warn("Notification hook failed",
			zap.String("device_id", device.ID),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}
