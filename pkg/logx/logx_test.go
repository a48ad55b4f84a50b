package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "test"))
	log.Debug("hidden")
	log.Info("hello", Int("n", 2), Err(errors.New("boom")), Duration("took", time.Second))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m["message"] != "hello" || m["comp"] != "test" || m["n"] != float64(2) || m["err"] != "boom" {
		t.Fatalf("unexpected line: %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller = %q", c)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Error("nothing happens", String("k", "v"))
	if Nop().IsZero() {
		t.Fatalf("Nop is an explicit logger")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"  padded  ", 10, "padded"},
		{"abcdefghijklmnop", 12, "abcdefghi..."},
		{"abcdefghij", 4, "abcd"},
		{"unbounded", 0, "unbounded"},
	}
	for _, tc := range cases {
		if got := Truncate(tc.in, tc.n); got != tc.want {
			t.Fatalf("Truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

type chanSender chan string

func (c chanSender) SendLog(_ context.Context, text string) error {
	c <- text
	return nil
}

func TestOwnerSinkMirrorsWarnings(t *testing.T) {
	t.Parallel()

	svc, log := New(Config{Level: "debug", File: FileConfig{}}, nil)
	defer svc.Close()

	got := make(chanSender, 4)
	svc.SetSender(got)
	svc.Apply(Config{
		Level: "debug",
		Owner: OwnerConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	})

	log.Info("routine")
	log.Warn("tier update failed", String("target", "t1"))

	select {
	case msg := <-got:
		if !strings.HasPrefix(msg, "[WARN] tier update failed") || !strings.Contains(msg, "- target=t1") {
			t.Fatalf("owner line = %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("owner sink received nothing")
	}
	select {
	case msg := <-got:
		t.Fatalf("unexpected extra owner line %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOwnerSinkSkipsLocalLines(t *testing.T) {
	t.Parallel()

	svc, log := New(Config{Level: "debug"}, nil)
	defer svc.Close()

	got := make(chanSender, 16)
	svc.SetSender(got)
	svc.Apply(Config{
		Level: "debug",
		Owner: OwnerConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100},
	})

	for i := 0; i < 5; i++ {
		log.Warn("delivery attempt failed", Int("attempt", i), Local())
	}
	log.Error("session loop stopped")

	select {
	case msg := <-got:
		if !strings.HasPrefix(msg, "[ERROR] session loop stopped") {
			t.Fatalf("owner line = %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("owner sink received nothing")
	}
	select {
	case msg := <-got:
		t.Fatalf("unexpected extra owner line %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
