package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"boardnotify/internal/clock"
	"boardnotify/internal/delivery"
	"boardnotify/internal/push"
	"boardnotify/internal/storage"
)

// Service owns the working set and the evaluation loop.
type Service struct {
	log      zerolog.Logger
	rules    RuleStore
	tasks    TaskData
	pusher   push.Pusher
	registry *delivery.Registry
	zone     *clock.Zone
	now      func() time.Time

	mu         sync.Mutex // guards cfg, set, lastTick, lastReload
	cfg        Config
	set        []storage.NotifyRule
	lastTick   time.Time
	lastReload time.Time

	// Lifecycle state is guarded separately so Stop never has to wait on
	// the working-set mutex, which an in-flight reload may hold.
	lifeMu        sync.Mutex
	stopCh        chan struct{}
	doneCh        chan struct{}
	cr            *cron.Cron
	refreshCancel context.CancelFunc
}

func New(cfg Config, d Deps, log zerolog.Logger) *Service {
	return &Service{
		log:      log,
		rules:    d.Rules,
		tasks:    d.Tasks,
		pusher:   d.Pusher,
		registry: d.Registry,
		zone:     d.Zone,
		now:      time.Now,
		cfg:      cfg.withDefaults(),
	}
}

// Apply updates the loop tuning. Interval and slack take effect at the next
// wake-up; a changed reload cadence applies on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// Start performs the initial load and launches the loop. Calling it while
// already running is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.lifeMu.Lock()
	if s.stopCh != nil {
		s.lifeMu.Unlock()
		return
	}
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	s.stopCh, s.doneCh = stopCh, doneCh

	// Cadence refreshes run under their own context so Stop can abort one
	// that is stuck in storage.
	refreshCtx, refreshCancel := context.WithCancel(ctx)
	s.refreshCancel = refreshCancel

	s.mu.Lock()
	// A failed initial load starts the loop with an empty set; the reload
	// cadence or an admin refresh picks the rules up later.
	if err := s.reloadLocked(ctx); err != nil {
		s.log.Warn().Err(err).Msg("initial rule load failed")
	}
	loaded := len(s.set)
	interval := s.cfg.CheckInterval
	spec := s.cfg.ReloadSpec
	s.mu.Unlock()

	if spec != "off" {
		cr := cron.New()
		_, err := cr.AddFunc(spec, func() {
			if err := s.Refresh(refreshCtx); err != nil {
				s.log.Warn().Err(err).Msg("scheduled refresh failed")
			}
		})
		if err != nil {
			s.log.Error().Err(err).Str("spec", spec).Msg("invalid reload spec, cadence disabled")
		} else {
			cr.Start()
			s.cr = cr
		}
	}
	s.lifeMu.Unlock()

	go s.loop(ctx, stopCh, doneCh)
	s.log.Info().Int("rules", loaded).Dur("interval", interval).Msg("scheduler started")
}

// Stop signals the loop, aborts any in-flight cadence refresh, and waits
// bounded by ctx. A tick already past its refresh is never cancelled; the
// loop observes the stop at its next sleep boundary.
func (s *Service) Stop(ctx context.Context) {
	s.lifeMu.Lock()
	if s.stopCh == nil {
		s.lifeMu.Unlock()
		return
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	cr, refreshCancel := s.cr, s.refreshCancel
	s.stopCh, s.doneCh, s.cr, s.refreshCancel = nil, nil, nil, nil
	s.lifeMu.Unlock()

	close(stopCh)
	refreshCancel()

	var cronDone <-chan struct{}
	if cr != nil {
		cronDone = cr.Stop().Done()
	} else {
		closed := make(chan struct{})
		close(closed)
		cronDone = closed
	}

	select {
	case <-doneCh:
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out; loop exits at next wake-up")
		return
	}
	select {
	case <-cronDone:
		s.log.Info().Msg("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out draining the reload cadence")
	}
}

// Refresh replaces the working set wholesale from storage. Safe to call at
// any time; it serializes against the loop's ticks.
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked(ctx)
}

// ResetRule clears last_executed in storage and in the working-set copy,
// re-arming the rule. Returns storage.ErrNotFound for an unknown id.
func (s *Service) ResetRule(ctx context.Context, id int64) error {
	ok, err := s.rules.RecordExecuted(ctx, id, nil)
	if err != nil {
		return fmt.Errorf("reset rule %d: %w", id, err)
	}
	if !ok {
		return storage.ErrNotFound
	}
	s.mu.Lock()
	s.clearExecutedLocked(id)
	s.mu.Unlock()
	return nil
}

func (s *Service) Status() Status {
	s.lifeMu.Lock()
	running := s.stopCh != nil
	s.lifeMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:    running,
		WorkingSet: len(s.set),
		LastTick:   s.lastTick,
		LastReload: s.lastReload,
	}
}

// reloadLocked is the only way entries enter the working set. On error the
// prior set stays intact. Caller holds s.mu.
func (s *Service) reloadLocked(ctx context.Context) error {
	now := s.now().UTC()
	rules, err := s.rules.LoadCandidates(ctx, now, s.cfg.LoadSlack)
	if err != nil {
		return fmt.Errorf("load candidates: %w", err)
	}
	s.set = rules
	s.lastReload = now
	s.log.Debug().Int("rules", len(rules)).Msg("working set reloaded")
	return nil
}

func (s *Service) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Any("panic", r).Str("stack", string(debug.Stack())).Msg("panic in scheduler loop")
		}
	}()

	for {
		s.runTick(ctx)

		s.mu.Lock()
		interval := s.cfg.CheckInterval
		s.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runTick evaluates the working set once and dispatches whatever came due.
// A single "now" is used for the whole pass.
func (s *Service) runTick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	tod, weekday := s.zone.Local(now)
	due := s.tickLocked(now, tod, weekday)
	for _, ev := range due {
		s.dispatchLocked(ctx, ev, now)
	}
	s.lastTick = now
	if len(due) > 0 {
		s.log.Debug().Int("due", len(due)).Int("working_set", len(s.set)).Msg("tick dispatched")
	}
}
