package storage

import (
	"errors"
	"time"

	"boardnotify/internal/clock"
)

// ErrNotFound is returned when a referenced row no longer exists.
var ErrNotFound = errors.New("not found")

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// RunMode selects a rule's recurrence semantics.
type RunMode int

const (
	RunOnce   RunMode = 0 // fires at most once, at start_at
	RunDaily  RunMode = 1 // fires once per UTC day at time_at
	RunWeekly RunMode = 2 // like RunDaily, gated on the weekday mask
)

func (m RunMode) Valid() bool { return m >= RunOnce && m <= RunWeekly }

func (m RunMode) String() string {
	switch m {
	case RunOnce:
		return "once"
	case RunDaily:
		return "daily"
	case RunWeekly:
		return "weekly"
	default:
		return "unknown"
	}
}

// NotifyRule is a recurrence definition, denormalized with the owning
// user's external handle at load time. Values are snapshots: the working
// set holds copies, not live rows.
type NotifyRule struct {
	ID       int64
	UserID   int64
	Username string // external push handle, joined from users

	CategoryID int64
	ItemID     int64
	ProgressID int64

	Mode    RunMode
	StartAt time.Time // UTC
	StopAt  time.Time // UTC

	TimeAt   clock.TimeOfDay   // local; required for daily/weekly
	Weekdays clock.WeekdayMask // required non-empty for weekly
	RunCode  int64             // opaque payload selector

	LastExecuted *time.Time // UTC; nil if never fired
}

// ProgressDetails is the resolved human-readable target of a rule.
type ProgressDetails struct {
	CategoryName string
	ItemName     string
	ProgressName string
	Content      string
}
