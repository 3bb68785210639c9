package models

import (
	"time"

	"github.com/google/uuid"
)

// Job is one completed running interval of an appliance
type Job struct {
	ID               string  `json:"id"`
	Total            float64 `json:"total"`
	Runtime          int64   `json:"runtime"`
	Started          int64   `json:"started"`
	StartedDateTime  string  `json:"startedDateTime"`
	Finished         int64   `json:"finished"`
	FinishedDateTime string  `json:"finishedDateTime"`
}

// NewJob builds a job record. Runtime is finished minus started and never negative.
func NewJob(total float64, started int64, finished time.Time) Job {
	end := finished.Unix()
	runtime := end - started
	if started <= 0 || runtime < 0 {
		runtime = 0
	}

	return Job{
		ID:               uuid.NewString(),
		Total:            total,
		Runtime:          runtime,
		Started:          started,
		StartedDateTime:  FormatEpoch(started),
		Finished:         end,
		FinishedDateTime: FormatDateTime(finished),
	}
}

// Duration returns the runtime as a time.Duration
func (j Job) Duration() time.Duration {
	return time.Duration(j.Runtime) * time.Second
}
