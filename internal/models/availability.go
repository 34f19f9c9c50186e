package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ClockTime is a wall-clock time of day in minutes after midnight.
// 24:00 is allowed so a window can run up to the end of the day.
type ClockTime int

// ParseClock parses "HH:MM".
func ParseClock(s string) (ClockTime, error) {
	var h, m int
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("invalid clock time %q: expected HH:MM", s)
	}
	if _, err := fmt.Sscanf(s, "%02d:%02d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid clock time %q: out of range", s)
	}
	return ClockTime(h*60 + m), nil
}

// MustClock is ParseClock for literals.
func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf returns the wall-clock minute of t in t's location.
func ClockOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) Valid() bool {
	return c >= 0 && c <= MinutesPerDay
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Value stores the clock as zero-padded text so the natural key compares lexically.
func (c ClockTime) Value() (driver.Value, error) {
	return c.String(), nil
}

func (c *ClockTime) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into ClockTime", src)
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// AvailabilityWindow is a recurring weekly interval in the provider's timezone.
type AvailabilityWindow struct {
	ID         int64     `json:"id"`
	ProviderID int64     `json:"provider_id"`
	DayOfWeek  int       `json:"day_of_week"` // 0 = Sunday, matches time.Weekday
	StartTime  ClockTime `json:"start_time"`
	EndTime    ClockTime `json:"end_time"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Contains reports whether [start, end) lies inside the window.
func (w AvailabilityWindow) Contains(start, end ClockTime) bool {
	return w.StartTime <= start && end <= w.EndTime
}

// Slot is a bookable start offered to clients.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Covers reports whether [start, end) lies inside the union of the enabled
// windows. Overlapping or touching windows merge into one bookable span.
func Covers(windows []AvailabilityWindow, start, end ClockTime) bool {
	spans := make([][2]ClockTime, 0, len(windows))
	for _, w := range windows {
		if w.Enabled {
			spans = append(spans, [2]ClockTime{w.StartTime, w.EndTime})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i][0] < spans[j][0] })

	var merged [][2]ClockTime
	for _, s := range spans {
		n := len(merged)
		if n > 0 && s[0] <= merged[n-1][1] {
			if s[1] > merged[n-1][1] {
				merged[n-1][1] = s[1]
			}
			continue
		}
		merged = append(merged, s)
	}

	for _, m := range merged {
		if m[0] <= start && end <= m[1] {
			return true
		}
	}
	return false
}
