package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"boardnotify/internal/clock"
	"boardnotify/internal/delivery"
	"boardnotify/internal/scheduler"
	"boardnotify/internal/storage"
)

const testSecret = "server-test-secret"

type stubRules struct{ known map[int64]bool }

func (s *stubRules) LoadCandidates(context.Context, time.Time, time.Duration) ([]storage.NotifyRule, error) {
	return nil, nil
}

func (s *stubRules) RecordExecuted(_ context.Context, id int64, _ *time.Time) (bool, error) {
	return s.known[id], nil
}

type stubTasks struct{}

func (stubTasks) ResolveDetails(context.Context, int64, int64, int64) (storage.ProgressDetails, error) {
	return storage.ProgressDetails{}, nil
}

type stubPusher struct{}

func (stubPusher) ValidAddress(string) bool                   { return true }
func (stubPusher) Push(context.Context, string, string) error { return nil }

type fixture struct {
	srv      *Server
	registry *delivery.Registry
	ts       *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.Nop()
	registry := delivery.NewRegistry(16, log)
	sched := scheduler.New(scheduler.Config{ReloadSpec: "off"}, scheduler.Deps{
		Rules:    &stubRules{known: map[int64]bool{7: true}},
		Tasks:    stubTasks{},
		Pusher:   stubPusher{},
		Registry: registry,
		Zone:     clock.NewZone("UTC", log),
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := New(Config{JWTSecret: testSecret}, sched, registry, ctx, log)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { sched.Stop(context.Background()) })
	return &fixture{srv: srv, registry: registry, ts: ts}
}

func signToken(t *testing.T, uid int64, admin bool, secret string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: uid,
		Admin:  admin,
	})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func doRequest(t *testing.T, f *fixture, method, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.ts.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthzIsOpen(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if resp := doRequest(t, f, http.MethodGet, "/healthz", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

func TestAuthRejection(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if resp := doRequest(t, f, http.MethodGet, "/events/stream", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", resp.StatusCode)
	}
	if resp := doRequest(t, f, http.MethodGet, "/events/stream", "not-a-jwt"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d", resp.StatusCode)
	}
	wrongKey := signToken(t, 1, false, "other-secret")
	if resp := doRequest(t, f, http.MethodGet, "/events/stream", wrongKey); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong-key token status = %d", resp.StatusCode)
	}
}

func TestAdminGate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	user := signToken(t, 1, false, testSecret)
	if resp := doRequest(t, f, http.MethodGet, "/admin/notify/status", user); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin status = %d", resp.StatusCode)
	}

	admin := signToken(t, 1, true, testSecret)
	resp := doRequest(t, f, http.MethodGet, "/admin/notify/status", admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin status = %d", resp.StatusCode)
	}
	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if body.Scheduler.Running {
		t.Fatal("scheduler reported running before start")
	}
}

func TestAdminLifecycleAndReset(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	admin := signToken(t, 1, true, testSecret)

	if resp := doRequest(t, f, http.MethodPost, "/admin/notify/start", admin); resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	if resp := doRequest(t, f, http.MethodPost, "/admin/notify/refresh", admin); resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d", resp.StatusCode)
	}

	if resp := doRequest(t, f, http.MethodPost, "/admin/notify/rules/7/reset", admin); resp.StatusCode != http.StatusOK {
		t.Fatalf("reset known rule status = %d", resp.StatusCode)
	}
	if resp := doRequest(t, f, http.MethodPost, "/admin/notify/rules/999/reset", admin); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("reset unknown rule status = %d", resp.StatusCode)
	}
	if resp := doRequest(t, f, http.MethodPost, "/admin/notify/rules/zero/reset", admin); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("reset bad id status = %d", resp.StatusCode)
	}

	if resp := doRequest(t, f, http.MethodPost, "/admin/notify/stop", admin); resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
}

func TestStreamDeliversPublishedEvents(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	token := signToken(t, 42, false, testSecret)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.ts.URL+"/events/stream?device_id=phone", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := f.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// Wait for the handler to register its channel before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for f.registry.Stats().Channels == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	fired := time.Date(2024, 1, 2, 9, 5, 0, 0, time.UTC)
	if n := f.registry.Publish(42, delivery.Event{RuleID: 3, CategoryID: 1, ItemID: 2, ProgressID: 4, FiredAt: fired}); n != 1 {
		t.Fatalf("Publish reached %d channels", n)
	}

	rd := bufio.NewReader(resp.Body)
	var data string
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			break
		}
	}

	var frame streamFrame
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	if frame.Type != "notify" || frame.Message.RuleID != 3 || !frame.Message.FiredAt.Equal(fired) {
		t.Fatalf("frame = %+v", frame)
	}
}
