package observations

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// ClockTime is a time of day in minutes after midnight.
type ClockTime int

// ParseClockTime parses "HH:MM".
func ParseClockTime(s string) (ClockTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("%w: time of day %q is not HH:MM", ErrConfiguration, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: invalid hour in %q", ErrConfiguration, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: invalid minute in %q", ErrConfiguration, s)
	}
	return ClockTime(h*60 + m), nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Interval is a time-of-day window [Start, End). When End is before Start the
// window wraps past midnight; equal bounds select nothing.
type Interval struct {
	Start ClockTime
	End   ClockTime
}

// ParseInterval parses two "HH:MM" bounds.
func ParseInterval(start, end string) (Interval, error) {
	s, err := ParseClockTime(start)
	if err != nil {
		return Interval{}, err
	}
	e, err := ParseClockTime(end)
	if err != nil {
		return Interval{}, err
	}
	return Interval{Start: s, End: e}, nil
}

// Contains reports whether the time of day of t, in t's own location, falls in the window.
func (iv Interval) Contains(t time.Time) bool {
	sec := t.Hour()*3600 + t.Minute()*60 + t.Second()
	start := int(iv.Start) * 60
	end := int(iv.End) * 60
	switch {
	case start < end:
		return sec >= start && sec < end
	case start > end:
		return sec >= start || sec < end
	default:
		return false
	}
}

func (iv Interval) String() string {
	return iv.Start.String() + "-" + iv.End.String()
}

// StartEndHours builds the "HH:MM" bounds of a window starting at startHour and lasting
// interval minutes. The end wraps around midnight.
func StartEndHours(startHour, interval int) (string, string, error) {
	if startHour < 0 || startHour > 23 {
		return "", "", fmt.Errorf("%w: hour must be in [0, 23], got %d", ErrConfiguration, startHour)
	}
	if interval < 0 {
		return "", "", fmt.Errorf("%w: interval must be >= 0 minutes, got %d", ErrConfiguration, interval)
	}
	end := ClockTime((startHour*60 + interval) % minutesPerDay)
	return ClockTime(startHour * 60).String(), end.String(), nil
}

// HourlyIntervals returns one window per hour of the day, each interval minutes long.
func HourlyIntervals(interval int) ([]Interval, error) {
	out := make([]Interval, 0, 24)
	for h := 0; h < 24; h++ {
		start, end, err := StartEndHours(h, interval)
		if err != nil {
			return nil, err
		}
		iv, err := ParseInterval(start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, nil
}
