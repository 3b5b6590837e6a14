// Package clock converts between UTC instants and the configured local
// wall clock. Rule times of day are local; everything else in the engine
// is UTC, so this package owns every zone crossing.
package clock

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultZoneName is used when the configured zone is missing or unknown.
const DefaultZoneName = "Asia/Taipei"

// Zone resolves local time-of-day and weekday for a configured IANA zone.
// Methods take the instant explicitly so a whole evaluation pass can use a
// single "now".
type Zone struct {
	loc *time.Location
}

// NewZone loads the named IANA zone, falling back to DefaultZoneName on an
// empty or unknown name. The fallback is logged, never fatal.
func NewZone(name string, log zerolog.Logger) *Zone {
	name = strings.TrimSpace(name)
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return &Zone{loc: loc}
		}
		log.Warn().Str("zone", name).Str("fallback", DefaultZoneName).Msg("unknown timezone, using fallback")
	}
	loc, err := time.LoadLocation(DefaultZoneName)
	if err != nil {
		// tzdata is broken; last resort that keeps the engine running.
		log.Error().Err(err).Msg("default timezone unavailable, using UTC")
		loc = time.UTC
	}
	return &Zone{loc: loc}
}

func (z *Zone) Location() *time.Location { return z.loc }

// Local returns at's local time-of-day and ISO weekday (Monday=1..Sunday=7).
func (z *Zone) Local(at time.Time) (TimeOfDay, int) {
	l := at.In(z.loc)
	tod := TimeOfDay(l.Hour()*3600 + l.Minute()*60 + l.Second())
	return tod, ISOWeekday(l.Weekday())
}

// DayAt combines at's local calendar date with the given time-of-day and
// returns the corresponding UTC instant. The result is only meaningful for
// comparisons within the same evaluation pass, since it always pins the
// instant's own local date.
func (z *Zone) DayAt(at time.Time, tod TimeOfDay) time.Time {
	l := at.In(z.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), tod.Hour(), tod.Minute(), tod.Second(), 0, z.loc).UTC()
}
