// Package cadence maps schedule types to calendar intervals and computes
// next-run timestamps.
//
// Month and year cadences use calendar arithmetic, never fixed day counts:
// "monthly" from Jan 15 means Feb 15, and the error of a 30-day
// approximation would compound across cycles.
package cadence

import (
	"errors"
	"fmt"
	"time"
)

var ErrUnknownScheduleType = errors.New("unknown schedule type")

// Unit is the calendar field an interval adds to.
type Unit int

const (
	UnitDays Unit = iota
	UnitMonths
	UnitYears
)

func (u Unit) String() string {
	switch u {
	case UnitDays:
		return "days"
	case UnitMonths:
		return "months"
	case UnitYears:
		return "years"
	}
	return fmt.Sprintf("unit(%d)", int(u))
}

// Interval is one cadence table entry.
type Interval struct {
	Unit  Unit
	Count int
	Label string
}

// Schedule type keys, as persisted in workorder_schedules.schedule_type.
const (
	TypeWeekly     = "weekly"
	TypeThreeWeek  = "3-week"
	TypeMonthly    = "monthly"
	TypeBiMonthly  = "bi-monthly"
	TypeQuarterly  = "quarterly"
	TypeSemiAnnual = "semi-annual"
	TypeAnnual     = "annual"
	TypeBiAnnual   = "bi-annual"
	TypeFiveYear   = "5-year"
	TypeSixYear    = "6-year"
)

// table is fixed at process start; IntervalFor hands out copies.
var table = map[string]Interval{
	TypeWeekly:     {Unit: UnitDays, Count: 7, Label: "Weekly"},
	TypeThreeWeek:  {Unit: UnitDays, Count: 21, Label: "Every 3 Weeks"},
	TypeMonthly:    {Unit: UnitMonths, Count: 1, Label: "Monthly"},
	TypeBiMonthly:  {Unit: UnitMonths, Count: 2, Label: "Every 2 Months"},
	TypeQuarterly:  {Unit: UnitMonths, Count: 3, Label: "Quarterly"},
	TypeSemiAnnual: {Unit: UnitMonths, Count: 6, Label: "Semi-Annual"},
	TypeAnnual:     {Unit: UnitYears, Count: 1, Label: "Annual"},
	TypeBiAnnual:   {Unit: UnitYears, Count: 2, Label: "Every 2 Years"},
	TypeFiveYear:   {Unit: UnitYears, Count: 5, Label: "Every 5 Years"},
	TypeSixYear:    {Unit: UnitYears, Count: 6, Label: "Every 6 Years"},
}

// IntervalFor resolves a schedule type to its interval.
func IntervalFor(scheduleType string) (Interval, error) {
	iv, ok := table[scheduleType]
	if !ok {
		return Interval{}, fmt.Errorf("%w: %q", ErrUnknownScheduleType, scheduleType)
	}
	return iv, nil
}

// Known reports whether scheduleType is a valid cadence key.
func Known(scheduleType string) bool {
	_, ok := table[scheduleType]
	return ok
}

// Types returns all schedule type keys. Order is unspecified.
func Types() []string {
	tt := make([]string, 0, len(table))
	for k := range table {
		tt = append(tt, k)
	}
	return tt
}

// Advance returns the run following prev for the given schedule type.
//
// Day intervals add whole days. Month and year intervals add to the calendar
// field, preserving day-of-month and clamping to the last valid day of the
// target month (Jan 31 + 1 month = Feb 28, or Feb 29 in a leap year).
//
// Advance is pure: the caller decides what prev is. The materializer always
// passes the schedule's stored next-run, never "now", so a late tick does not
// drift the cadence.
func Advance(prev time.Time, scheduleType string) (time.Time, error) {
	iv, err := IntervalFor(scheduleType)
	if err != nil {
		return time.Time{}, err
	}

	switch iv.Unit {
	case UnitDays:
		return prev.AddDate(0, 0, iv.Count), nil
	case UnitMonths:
		return addMonthsClamped(prev, iv.Count), nil
	case UnitYears:
		return addMonthsClamped(prev, iv.Count*12), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q has unsupported unit %v", ErrUnknownScheduleType, scheduleType, iv.Unit)
}

// addMonthsClamped adds months preserving day-of-month where valid.
// time.AddDate normalizes overflow (Jan 31 + 1 month = Mar 2/3), which is
// exactly the drift this avoids.
func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	// Normalize the target year/month via a day-1 date, which cannot overflow.
	anchor := time.Date(y, m, 1, 0, 0, 0, 0, t.Location()).AddDate(0, months, 0)
	ty, tm, _ := anchor.Date()

	if last := daysIn(ty, tm, t.Location()); d > last {
		d = last
	}
	return time.Date(ty, tm, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
