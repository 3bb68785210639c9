package services

import (
	"errors"
)

var (
	// ErrMissingRunState means the persisted run status could not be found; the tick is abandoned.
	ErrMissingRunState = errors.New("run state missing")
	// ErrDeviceDisabled marks a deliberate skip of an inactive device, not a failure.
	ErrDeviceDisabled = errors.New("device disabled")
	// ErrNoSourceState means a configured device has no sample source reference.
	ErrNoSourceState = errors.New("device has no source state")
	// ErrNoSample means the sample source has not delivered a reading for the reference yet.
	ErrNoSample = errors.New("no sample received")
)
