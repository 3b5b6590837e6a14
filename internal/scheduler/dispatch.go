package scheduler

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"boardnotify/internal/delivery"
	"boardnotify/internal/storage"
)

// dispatchLocked delivers one due event: external push first, then the
// local fan-out. Every failure is confined to this event; eviction was
// already decided by the evaluator, so nothing here changes working-set
// membership. Caller holds s.mu.
func (s *Service) dispatchLocked(ctx context.Context, ev DueEvent, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Int64("rule", ev.Rule.ID).Any("panic", r).Str("stack", string(debug.Stack())).Msg("panic dispatching notification")
		}
	}()

	r := ev.Rule
	log := s.log.With().Int64("rule", r.ID).Int64("user", r.UserID).Logger()

	if !s.pusher.ValidAddress(r.Username) {
		log.Warn().Str("address", r.Username).Msg("malformed delivery address, dropping notification")
		return
	}

	det, err := s.tasks.ResolveDetails(ctx, r.CategoryID, r.ItemID, r.ProgressID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn().Msg("notification target no longer exists, dropping")
		} else {
			log.Error().Err(err).Msg("resolving notification target")
		}
		return
	}

	// Best-effort: a failed external push must not block local delivery.
	if err := s.pusher.Push(ctx, r.Username, det.Content); err != nil {
		log.Warn().Err(err).Msg("external push failed")
	}

	if ok, err := s.rules.RecordExecuted(ctx, r.ID, &now); err != nil {
		// At-least-once: the rule may refire after a restart.
		log.Error().Err(err).Msg("recording execution time")
	} else if !ok {
		log.Warn().Msg("rule row deleted while in flight")
	}
	s.markExecutedLocked(r.ID, now)

	n := s.registry.Publish(r.UserID, delivery.Event{
		RuleID:     r.ID,
		CategoryID: r.CategoryID,
		ItemID:     r.ItemID,
		ProgressID: r.ProgressID,
		FiredAt:    now,
	})
	log.Info().Str("mode", r.Mode.String()).Int64("run_code", r.RunCode).Int("devices", n).Msg("notification fired")
}
