package scheduler

import (
	"context"
	"time"

	"boardnotify/internal/clock"
	"boardnotify/internal/delivery"
	"boardnotify/internal/push"
	"boardnotify/internal/storage"
)

// Config tunes the evaluation loop.
//
// LoadSlack widens the candidate-load window on both sides to absorb tick
// granularity and clock skew. The 10m default is tuned for the 60s
// interval; scale it along with CheckInterval.
type Config struct {
	CheckInterval time.Duration // default 60s
	LoadSlack     time.Duration // default 10m
	// ReloadSpec is a cron spec (robfig/cron, descriptors allowed) for
	// periodic working-set refreshes between admin-triggered ones.
	// Default "@every 10m"; "off" disables the cadence.
	ReloadSpec string
}

func (c Config) withDefaults() Config {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 60 * time.Second
	}
	if c.LoadSlack <= 0 {
		c.LoadSlack = 10 * time.Minute
	}
	if c.ReloadSpec == "" {
		c.ReloadSpec = "@every 10m"
	}
	return c
}

// RuleStore is the persistence boundary for notify rules.
type RuleStore interface {
	LoadCandidates(ctx context.Context, now time.Time, slack time.Duration) ([]storage.NotifyRule, error)
	RecordExecuted(ctx context.Context, id int64, at *time.Time) (bool, error)
}

// TaskData resolves the human-readable target of a rule at fire time.
type TaskData interface {
	ResolveDetails(ctx context.Context, categoryID, itemID, progressID int64) (storage.ProgressDetails, error)
}

// Deps are the collaborators the service drives.
type Deps struct {
	Rules    RuleStore
	Tasks    TaskData
	Pusher   push.Pusher
	Registry *delivery.Registry
	Zone     *clock.Zone
}

// DueEvent is a rule that satisfied its firing condition during a tick.
// The snapshot carries everything the dispatcher needs.
type DueEvent struct {
	Rule storage.NotifyRule
}

// Status is the admin-facing state summary.
type Status struct {
	Running    bool      `json:"running"`
	WorkingSet int       `json:"working_set"`
	LastTick   time.Time `json:"last_tick,omitzero"`
	LastReload time.Time `json:"last_reload,omitzero"`
}
