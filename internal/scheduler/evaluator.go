package scheduler

import (
	"time"

	"boardnotify/internal/clock"
	"boardnotify/internal/storage"
)

// tickLocked runs one evaluation pass over the working set and replaces it
// with the retained rules. Eviction is decided here, before any dispatch is
// attempted: once rules leave the set the moment they come due, and
// daily/weekly rules leave only when their window closes.
//
// Caller holds s.mu.
func (s *Service) tickLocked(now time.Time, tod clock.TimeOfDay, weekday int) []DueEvent {
	var due []DueEvent
	kept := make([]storage.NotifyRule, 0, len(s.set))

	for _, r := range s.set {
		switch {
		case r.Mode == storage.RunOnce:
			if now.Before(r.StartAt) {
				// Not yet due; the window-expiry check does not apply to once rules.
				kept = append(kept, r)
				continue
			}
			// Single-fire: evicted regardless of how dispatch goes.
			due = append(due, DueEvent{Rule: r})

		case !now.Before(r.StopAt):
			// Window closed; never fires again.
			s.log.Debug().Int64("rule", r.ID).Time("stop_at", r.StopAt).Msg("evicting expired rule")

		case r.Mode == storage.RunDaily:
			if s.recurringDueLocked(r, now, tod) {
				due = append(due, DueEvent{Rule: r})
			}
			kept = append(kept, r)

		case r.Mode == storage.RunWeekly:
			if r.Weekdays.Contains(weekday) && s.recurringDueLocked(r, now, tod) {
				due = append(due, DueEvent{Rule: r})
			}
			kept = append(kept, r)

		default:
			// Unknown modes never fire; drop them so they don't linger.
			s.log.Warn().Int64("rule", r.ID).Int("mode", int(r.Mode)).Msg("evicting rule with unknown mode")
		}
	}

	s.set = kept
	return due
}

// recurringDueLocked applies the shared daily/weekly firing condition:
// inside the window, past today's local time_at, and not already fired on
// this UTC calendar date.
func (s *Service) recurringDueLocked(r storage.NotifyRule, now time.Time, tod clock.TimeOfDay) bool {
	if now.Before(r.StartAt) {
		return false
	}
	// Guard against a time-of-day whose UTC projection predates the window
	// (e.g. a window opening later today than the rule's local fire time).
	if s.zone.DayAt(now, r.TimeAt).Before(r.StartAt) {
		return false
	}
	if tod < r.TimeAt {
		return false
	}
	// Once-per-day debounce on UTC calendar dates.
	return r.LastExecuted == nil || utcDateBefore(*r.LastExecuted, now)
}

// markExecutedLocked mirrors a persisted last_executed into the working-set
// snapshot so later ticks on the same day see the debounce. Caller holds s.mu.
func (s *Service) markExecutedLocked(id int64, at time.Time) {
	for i := range s.set {
		if s.set[i].ID == id {
			t := at
			s.set[i].LastExecuted = &t
			return
		}
	}
}

// clearExecutedLocked is the in-memory side of a manual reset.
func (s *Service) clearExecutedLocked(id int64) {
	for i := range s.set {
		if s.set[i].ID == id {
			s.set[i].LastExecuted = nil
			return
		}
	}
}

// utcDateBefore reports whether a's UTC calendar date precedes b's.
func utcDateBefore(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	if ay != by {
		return ay < by
	}
	if am != bm {
		return am < bm
	}
	return ad < bd
}
