package models

import (
	"fmt"
	"time"
)

// Scope identifies a calendar bucket
type Scope string

const (
	Daily     Scope = "daily"
	Monthly   Scope = "monthly"
	Quarterly Scope = "quarterly"
	Yearly    Scope = "yearly"
)

// Scopes lists the calendar buckets in accumulation order
var Scopes = []Scope{Daily, Monthly, Quarterly, Yearly}

// Granularity names a historical archive level
type Granularity string

const (
	ByYear    Granularity = "year"
	ByQuarter Granularity = "quarter"
	ByMonth   Granularity = "month"
	ByDay     Granularity = "day"
)

// Granularities lists the archive levels
var Granularities = []Granularity{ByYear, ByQuarter, ByMonth, ByDay}

// UsageBucket is an energy counter tagged with the period it was last reset for
type UsageBucket struct {
	Scope string  `json:"scope"`
	Value float64 `json:"value"`
}

// Labels are the calendar period identifiers for a point in time
type Labels struct {
	Year    string
	Quarter string
	Month   string
	Day     string
}

// CalendarLabels returns the period labels of t in its own location
func CalendarLabels(t time.Time) Labels {
	year := t.Year()
	month := int(t.Month())
	quarter := (month-1)/3 + 1

	return Labels{
		Year:    fmt.Sprintf("%d", year),
		Quarter: fmt.Sprintf("%d-Q%02d", year, quarter),
		Month:   fmt.Sprintf("%d-%02d", year, month),
		Day:     fmt.Sprintf("%d-%02d-%02d", year, month, t.Day()),
	}
}

// ForScope returns the label a bucket of the given scope must carry
func (l Labels) ForScope(s Scope) string {
	switch s {
	case Daily:
		return l.Day
	case Monthly:
		return l.Month
	case Quarterly:
		return l.Quarter
	case Yearly:
		return l.Year
	default:
		return ""
	}
}

// ForGranularity returns the archive label for the given level
func (l Labels) ForGranularity(g Granularity) string {
	switch g {
	case ByYear:
		return l.Year
	case ByQuarter:
		return l.Quarter
	case ByMonth:
		return l.Month
	case ByDay:
		return l.Day
	default:
		return ""
	}
}

// BucketTally is the current-period total of one bucket
type BucketTally struct {
	Scope  string  `json:"scope"`
	Energy float64 `json:"energy_wh"`
	Cost   float64 `json:"cost"`
}

// Tally is the usage summary of a device
type Tally struct {
	DeviceID string                `json:"device_id"`
	Buckets  map[Scope]BucketTally `json:"buckets"`
	Job      BucketTally           `json:"job"`
}
