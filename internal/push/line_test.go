package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

const alnum32 = "abcdefghijklmnopqrstuvwxyz012345"

func TestLineValidAddress(t *testing.T) {
	t.Parallel()
	p, err := newLine(LineConfig{AccessToken: "tok"}, 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("newLine: %v", err)
	}
	tests := []struct {
		addr string
		want bool
	}{
		{addr: "U" + alnum32, want: true},
		{addr: "U" + strings.ToUpper(alnum32), want: true},
		{addr: "u" + alnum32, want: false},            // lowercase prefix
		{addr: "U" + alnum32[:31], want: false},       // too short
		{addr: "U" + alnum32 + "x", want: false},      // too long
		{addr: "U" + alnum32[:31] + "_", want: false}, // non-alnum
		{addr: "", want: false},
	}
	for _, tt := range tests {
		if got := p.ValidAddress(tt.addr); got != tt.want {
			t.Errorf("ValidAddress(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestLinePushRequestShape(t *testing.T) {
	t.Parallel()
	addr := "U" + alnum32

	var got linePushRequest
	var auth, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := newLine(LineConfig{AccessToken: "tok", Endpoint: srv.URL}, 100, zerolog.Nop())
	if err != nil {
		t.Fatalf("newLine: %v", err)
	}
	if err := p.Push(context.Background(), addr, "hello"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if auth != "Bearer tok" {
		t.Fatalf("Authorization = %q", auth)
	}
	if contentType != "application/json" {
		t.Fatalf("Content-Type = %q", contentType)
	}
	if got.To != addr || len(got.Messages) != 1 || got.Messages[0].Type != "text" || got.Messages[0].Text != "hello" {
		t.Fatalf("request body = %+v", got)
	}
}

func TestLinePushErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"The property, 'to', is invalid"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p, err := newLine(LineConfig{AccessToken: "tok", Endpoint: srv.URL}, 100, zerolog.Nop())
	if err != nil {
		t.Fatalf("newLine: %v", err)
	}
	err = p.Push(context.Background(), "U"+alnum32, "hello")
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("Push error = %v, want status 400", err)
	}

	if err := p.Push(context.Background(), "not-an-id", "hello"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("Push bad addr error = %v, want ErrInvalidAddress", err)
	}
}

func TestOpenSelectsChannel(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Channel: "line"}, zerolog.Nop()); err == nil {
		t.Fatal("line without token should fail")
	}
	p, err := Open(Config{Channel: "line", Line: LineConfig{AccessToken: "tok"}}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open(line): %v", err)
	}
	if _, ok := p.(*linePusher); !ok {
		t.Fatalf("Open(line) = %T", p)
	}

	p, err = Open(Config{Channel: "none"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open(none): %v", err)
	}
	if !p.ValidAddress("anything") {
		t.Fatal("nop pusher should accept any address")
	}
	if err := p.Push(context.Background(), "x", "y"); err != nil {
		t.Fatalf("nop Push: %v", err)
	}

	if _, err := Open(Config{Channel: "carrier-pigeon"}, zerolog.Nop()); err == nil {
		t.Fatal("unknown channel should fail")
	}
}
