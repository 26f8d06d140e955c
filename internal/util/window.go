package util

import (
	"fmt"
	"time"
)

// Window is a daily HH:MM range. An empty bound is open; a range whose end
// precedes its start wraps past midnight.
type Window struct {
	Start    string
	End      string
	Timezone string
}

func (w Window) Unrestricted() bool {
	return w.Start == "" && w.End == ""
}

// Contains reports whether now falls inside the window.
func (w Window) Contains(now time.Time) (bool, error) {
	if w.Unrestricted() {
		return true, nil
	}
	loc := now.Location()
	if w.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(w.Timezone); err != nil {
			return false, fmt.Errorf("invalid timezone: %w", err)
		}
	}
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	start, err := minuteOfDay(w.Start)
	if err != nil {
		return false, fmt.Errorf("invalid window start: %w", err)
	}
	end, err := minuteOfDay(w.End)
	if err != nil {
		return false, fmt.Errorf("invalid window end: %w", err)
	}
	switch {
	case w.End == "":
		return minute >= start, nil
	case w.Start == "":
		return minute <= end, nil
	case end > start:
		return minute >= start && minute <= end, nil
	default:
		return minute >= start || minute <= end, nil
	}
}

func minuteOfDay(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
