package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"boardnotify/internal/clock"
	"boardnotify/internal/delivery"
	"boardnotify/internal/storage"
)

func TestDispatchMalformedAddressAborted(t *testing.T) {
	f := newFixture(t)
	now := *f.now
	r := baseRule(1, storage.RunOnce, now.Add(-time.Minute), now.Add(time.Hour))
	r.Username = "not-a-line-id"
	f.rules.rules = []storage.NotifyRule{r}

	ch := f.reg.Connect(7, "phone")
	f.refresh(t)
	f.svc.runTick(context.Background())

	if len(f.pusher.sent()) != 0 {
		t.Fatal("pushed despite malformed address")
	}
	if len(f.rules.records()) != 0 {
		t.Fatal("recorded execution despite aborted dispatch")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := ch.Receive(ctx); ok {
		t.Fatal("published locally despite aborted dispatch")
	}
	// Eviction of a due once rule does not depend on dispatch outcome.
	if st := f.svc.Status(); st.WorkingSet != 0 {
		t.Fatalf("once rule retained after aborted dispatch: %+v", st)
	}
}

func TestDispatchMissingTargetAborted(t *testing.T) {
	f := newFixture(t)
	now := *f.now
	r := baseRule(1, storage.RunDaily, now.Add(-48*time.Hour), now.Add(48*time.Hour))
	r.TimeAt = mustTOD(t, "09:00")
	f.rules.rules = []storage.NotifyRule{r}
	f.tasks.resolveErr = storage.ErrNotFound

	f.refresh(t)
	f.svc.runTick(context.Background())

	if len(f.pusher.sent()) != 0 || len(f.rules.records()) != 0 {
		t.Fatal("dispatch side effects despite missing target")
	}
	// Working-set membership is unaffected by the failure.
	if st := f.svc.Status(); st.WorkingSet != 1 {
		t.Fatalf("rule evicted on missing target: %+v", st)
	}

	// Once the target exists again, the rule fires normally.
	f.tasks.resolveErr = nil
	f.svc.runTick(context.Background())
	if len(f.pusher.sent()) != 1 {
		t.Fatal("rule did not recover after target reappeared")
	}
}

func TestDispatchPushFailureStillDeliversLocally(t *testing.T) {
	f := newFixture(t)
	now := *f.now
	f.rules.rules = []storage.NotifyRule{baseRule(1, storage.RunOnce, now.Add(-time.Minute), now.Add(time.Hour))}
	f.pusher.pushErr = errors.New("line api unreachable")

	ch := f.reg.Connect(7, "phone")
	f.refresh(t)
	f.svc.runTick(context.Background())

	// Execution is recorded and the local fan-out still happens.
	if recs := f.rules.records(); len(recs) != 1 {
		t.Fatalf("recorded = %+v", recs)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if ev, ok := ch.Receive(ctx); !ok || ev.RuleID != 1 {
		t.Fatalf("local delivery missing: (%+v, %v)", ev, ok)
	}
}

func TestDispatchRecordFailureDoesNotAbortTick(t *testing.T) {
	f := newFixture(t)
	now := *f.now
	f.rules.rules = []storage.NotifyRule{
		baseRule(1, storage.RunOnce, now.Add(-time.Minute), now.Add(time.Hour)),
		baseRule(2, storage.RunOnce, now.Add(-time.Minute), now.Add(time.Hour)),
	}
	f.rules.recErr = errors.New("storage unavailable")

	f.refresh(t)
	f.svc.runTick(context.Background())

	// Both rules were pushed even though neither execution persisted.
	if got := f.pusher.sent(); len(got) != 2 {
		t.Fatalf("pushes = %+v", got)
	}
	if st := f.svc.Status(); st.WorkingSet != 0 {
		t.Fatalf("once rules retained: %+v", st)
	}
}

func TestResetRuleReArmsDaily(t *testing.T) {
	f := newFixture(t)
	now := *f.now
	fired := now.Add(-time.Hour)
	r := baseRule(4, storage.RunDaily, now.Add(-48*time.Hour), now.Add(48*time.Hour))
	r.TimeAt = mustTOD(t, "09:00")
	r.LastExecuted = &fired
	f.rules.rules = []storage.NotifyRule{r}
	f.refresh(t)

	// Debounced: already fired today.
	f.svc.runTick(context.Background())
	if len(f.pusher.sent()) != 0 {
		t.Fatal("debounce did not hold")
	}

	if err := f.svc.ResetRule(context.Background(), 4); err != nil {
		t.Fatalf("ResetRule: %v", err)
	}
	recs := f.rules.records()
	if len(recs) != 1 || recs[0].id != 4 || recs[0].at != nil {
		t.Fatalf("reset persisted = %+v, want nil instant", recs)
	}

	f.svc.runTick(context.Background())
	if len(f.pusher.sent()) != 1 {
		t.Fatal("reset rule did not refire")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	f := newFixture(t)
	now := *f.now
	f.rules.rules = []storage.NotifyRule{baseRule(1, storage.RunOnce, now.Add(-time.Minute), now.Add(time.Hour))}
	f.svc.Apply(Config{CheckInterval: 10 * time.Millisecond, ReloadSpec: "off"})

	ctx := context.Background()
	f.svc.Start(ctx)
	f.svc.Start(ctx) // idempotent

	if st := f.svc.Status(); !st.Running {
		t.Fatalf("status after start: %+v", st)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(f.pusher.sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(f.pusher.sent()) == 0 {
		t.Fatal("loop never dispatched")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	f.svc.Stop(stopCtx)
	f.svc.Stop(stopCtx) // idempotent
	if st := f.svc.Status(); st.Running {
		t.Fatalf("status after stop: %+v", st)
	}
}

// stickyRules answers the initial load immediately and then blocks every
// later load until its context is cancelled, simulating a hung database.
type stickyRules struct {
	mu       sync.Mutex
	loads    int
	once     sync.Once
	released chan struct{}
}

func (r *stickyRules) LoadCandidates(ctx context.Context, _ time.Time, _ time.Duration) ([]storage.NotifyRule, error) {
	r.mu.Lock()
	r.loads++
	first := r.loads == 1
	r.mu.Unlock()
	if first {
		return nil, nil
	}
	<-ctx.Done()
	r.once.Do(func() { close(r.released) })
	return nil, ctx.Err()
}

func (r *stickyRules) RecordExecuted(context.Context, int64, *time.Time) (bool, error) {
	return true, nil
}

func (r *stickyRules) loadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}

func TestStopCancelsStuckCadenceRefresh(t *testing.T) {
	t.Parallel()
	rules := &stickyRules{released: make(chan struct{})}
	svc := New(Config{CheckInterval: time.Hour, ReloadSpec: "@every 1s"}, Deps{
		Rules:    rules,
		Tasks:    &fakeTasks{},
		Pusher:   &fakePusher{},
		Registry: delivery.NewRegistry(16, zerolog.Nop()),
		Zone:     clock.NewZone("UTC", zerolog.Nop()),
	}, zerolog.Nop())

	svc.Start(context.Background())

	// Wait until the cadence refresh is in flight and wedged.
	deadline := time.Now().Add(5 * time.Second)
	for rules.loadCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("cadence refresh never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	begin := time.Now()
	svc.Stop(stopCtx)
	if elapsed := time.Since(begin); elapsed > 1500*time.Millisecond {
		t.Fatalf("Stop took %v with a wedged refresh", elapsed)
	}

	select {
	case <-rules.released:
	case <-time.After(time.Second):
		t.Fatal("stuck load was never cancelled")
	}
	if st := svc.Status(); st.Running {
		t.Fatalf("status after stop: %+v", st)
	}
}
