package updatemgr

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultCheckWindowGrace = time.Hour

// checkSchedule evaluates a recurring check window parsed from a device
// policy CheckWindow. The window opens at each cron trigger and stays open
// for the grace duration.
type checkSchedule struct {
	location *time.Location
	cron     cron.Schedule
	grace    time.Duration
}

func parseCheckSchedule(window *CheckWindow) (*checkSchedule, error) {
	s := &checkSchedule{}

	if window.TimeZone != "" {
		loc, err := time.LoadLocation(window.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("%w: time zone: %v", ErrInvalidCheckWindow, err)
		}
		s.location = loc
	} else {
		s.location = time.Local
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	cronExpr, err := parser.Parse(window.At)
	if err != nil {
		return nil, fmt.Errorf("%w: cron expression: %v", ErrInvalidCheckWindow, err)
	}
	s.cron = cronExpr

	s.grace = window.GraceDuration
	if s.grace <= 0 {
		s.grace = defaultCheckWindowGrace
	}

	return s, nil
}

// lastWindow returns the most recent trigger at or before now and the end of
// its grace period. The trigger interval is derived from two consecutive
// future runs.
func (s *checkSchedule) lastWindow(now time.Time) (time.Time, time.Time) {
	local := now.In(s.location)
	next := s.cron.Next(local)
	second := s.cron.Next(next)
	interval := second.Sub(next)
	lastRun := s.cron.Next(local.Add(-interval))
	return lastRun, lastRun.Add(s.grace)
}

func (s *checkSchedule) isOpen(now time.Time) bool {
	local := now.In(s.location)
	lastRun, graceEnd := s.lastWindow(now)
	return local.Equal(lastRun) || (local.After(lastRun) && !local.After(graceEnd))
}

// nextOpen returns the time the window next opens; now itself when the
// window is currently open.
func (s *checkSchedule) nextOpen(now time.Time) time.Time {
	if s.isOpen(now) {
		return now
	}
	return s.cron.Next(now.In(s.location))
}
