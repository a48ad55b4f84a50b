package ops

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "feedwatch/pkg/logx"
)

func get(t *testing.T, h http.Handler, path string, header map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	b, _ := io.ReadAll(rec.Body)
	return rec.Code, string(b)
}

func TestRouterEndpoints(t *testing.T) {
	t.Parallel()

	h := Router(Config{}, Deps{
		Status:  func() any { return map[string]int{"targets": 3} },
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("m 1")) }),
	})

	if code, body := get(t, h, "/healthz", nil); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz = %d %q", code, body)
	}
	if code, body := get(t, h, "/status", nil); code != http.StatusOK || !strings.Contains(body, `"targets": 3`) {
		t.Fatalf("status = %d %q", code, body)
	}
	if code, body := get(t, h, "/metrics", nil); code != http.StatusOK || body != "m 1" {
		t.Fatalf("metrics = %d %q", code, body)
	}
	if code, _ := get(t, h, "/debug/pprof/", nil); code != http.StatusNotFound {
		t.Fatalf("pprof should be off, got %d", code)
	}
}

func TestRouterHealthFailure(t *testing.T) {
	t.Parallel()

	h := Router(Config{}, Deps{Health: func() error { return errors.New("loop stalled") }})
	if code, body := get(t, h, "/healthz", nil); code != http.StatusServiceUnavailable || !strings.Contains(body, "loop stalled") {
		t.Fatalf("healthz = %d %q", code, body)
	}
}

func TestRouterToken(t *testing.T) {
	t.Parallel()

	h := Router(Config{Token: "s3cret", Pprof: true}, Deps{})
	if code, _ := get(t, h, "/healthz", nil); code != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", code)
	}
	if code, _ := get(t, h, "/healthz", map[string]string{"Authorization": "Bearer nope"}); code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", code)
	}
	if code, _ := get(t, h, "/healthz", map[string]string{"Authorization": "Bearer s3cret"}); code != http.StatusOK {
		t.Fatalf("bearer token: %d", code)
	}
	if code, _ := get(t, h, "/debug/pprof/cmdline?token=s3cret", nil); code != http.StatusOK {
		t.Fatalf("query token: %d", code)
	}
}

func TestServerRefusesInsecureBind(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Deps{}, logx.Nop())
	if err := s.serveOnce(context.Background()); err == nil {
		t.Fatalf("expected refusal for non-loopback bind without token")
	}
}

func TestServerStartStop(t *testing.T) {
	t.Parallel()

	s := New(Config{}, Deps{}, logx.Nop())
	ctx := context.Background()
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})

	var addr string
	deadline := time.Now().Add(3 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		addr = s.Addr()
	}
	if addr == "" {
		t.Fatalf("server did not start")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	s.Reconfigure(stopCtx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatalf("server still bound after disable")
	}
}
