package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time expressed as seconds since local midnight.
// Values compare with plain integer operators.
type TimeOfDay int

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM or HH:MM:SS", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	sec := 0
	if len(parts) == 3 {
		sec, err = strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return 0, fmt.Errorf("invalid second in %q", s)
		}
	}
	return TimeOfDay(h*3600 + m*60 + sec), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 3600 }
func (t TimeOfDay) Minute() int { return int(t) / 60 % 60 }
func (t TimeOfDay) Second() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
}

// WeekdayMask is a bit-set over ISO weekdays 1..7 (Monday=1 .. Sunday=7).
// The persisted form is a string of decimal digits, e.g. "13" = Mon+Wed.
// Digit 0 is rejected: Sunday is always 7.
type WeekdayMask uint8

// ParseWeekdayMask parses the stored digit-string form.
func ParseWeekdayMask(s string) (WeekdayMask, error) {
	var m WeekdayMask
	for _, r := range strings.TrimSpace(s) {
		if r < '1' || r > '7' {
			return 0, fmt.Errorf("invalid weekday %q in mask %q (want 1-7, Monday=1)", r, s)
		}
		m |= 1 << (r - '1')
	}
	return m, nil
}

// Contains reports whether ISO weekday d (1..7) is in the mask.
func (m WeekdayMask) Contains(d int) bool {
	if d < 1 || d > 7 {
		return false
	}
	return m&(1<<(d-1)) != 0
}

func (m WeekdayMask) IsEmpty() bool { return m == 0 }

func (m WeekdayMask) String() string {
	var b strings.Builder
	for d := 1; d <= 7; d++ {
		if m.Contains(d) {
			b.WriteByte(byte('0' + d))
		}
	}
	return b.String()
}

// ISOWeekday converts Go's Sunday=0 weekday to ISO Monday=1..Sunday=7.
func ISOWeekday(w time.Weekday) int {
	if w == time.Sunday {
		return 7
	}
	return int(w)
}
