package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"feedwatch/internal/transport"
	logx "feedwatch/pkg/logx"
)

type apiCall struct {
	method string
	params map[string]any
}

func fakeBotAPI(t *testing.T, fail bool) (*httptest.Server, func() []apiCall) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []apiCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]
		params := map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&params)
		mu.Lock()
		calls = append(calls, apiCall{method: method, params: params})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if fail {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100}}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []apiCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]apiCall(nil), calls...)
	}
}

func dest() transport.Destination {
	return transport.Destination{
		Name:          "main",
		Channel:       transport.ChannelTelegram,
		Credential:    "123:abc",
		DestinationID: "-100",
		ThreadID:      5,
		Enabled:       true,
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tr := New(Config{}, logx.Nop())
	d := dest()
	d.Credential = " "
	if err := tr.Validate(d); !errors.Is(err, transport.ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
	if err := tr.Validate(dest()); err != nil {
		t.Fatalf("valid destination rejected: %v", err)
	}
}

func TestSendHTMLAndPhoto(t *testing.T) {
	t.Parallel()

	srv, calls := fakeBotAPI(t, false)
	tr := New(Config{APIURL: srv.URL, HTTPTimeout: 5 * time.Second}, logx.Nop())
	ctx := context.Background()

	if err := tr.Send(ctx, dest(), transport.Payload{Kind: transport.KindHTML, Text: "<b>hi</b>"}); err != nil {
		t.Fatalf("send html: %v", err)
	}
	if err := tr.Send(ctx, dest(), transport.Payload{Kind: transport.KindPhoto, Text: "cap", ImageURL: "https://img.example/x.jpg"}); err != nil {
		t.Fatalf("send photo: %v", err)
	}

	got := calls()
	if len(got) != 2 {
		t.Fatalf("expected 2 api calls, got %d", len(got))
	}
	if got[0].method != "sendMessage" || got[0].params["parse_mode"] != "HTML" {
		t.Fatalf("first call = %+v", got[0])
	}
	if got[1].method != "sendPhoto" || got[1].params["photo"] != "https://img.example/x.jpg" {
		t.Fatalf("second call = %+v", got[1])
	}
}

func TestSendSurfacesAPIError(t *testing.T) {
	t.Parallel()

	srv, _ := fakeBotAPI(t, true)
	tr := New(Config{APIURL: srv.URL}, logx.Nop())
	err := tr.Send(context.Background(), dest(), transport.Payload{Kind: transport.KindText, Text: "x"})
	if err == nil {
		t.Fatalf("expected error from failing api")
	}
}

func TestSendHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	srv, calls := fakeBotAPI(t, false)
	tr := New(Config{APIURL: srv.URL}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tr.Send(ctx, dest(), transport.Payload{Kind: transport.KindText, Text: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(calls()) != 0 {
		t.Fatalf("no request expected after cancel")
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()

	short := "hello"
	if got := splitText(short, 10, false); len(got) != 1 || got[0] != short {
		t.Fatalf("short text split: %v", got)
	}

	long := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitText(long, 10, false)
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("newline split: %q", got)
	}

	html := strings.Repeat("x", 7) + "<b>yy</b>"
	for _, c := range splitText(html, 9, true) {
		if strings.Count(c, "<") != strings.Count(c, ">") {
			t.Fatalf("chunk cuts a tag: %q", c)
		}
	}
}

func TestRequestTimeout(t *testing.T) {
	t.Parallel()

	cases := []struct {
		attempt, want time.Duration
	}{
		{0, 0},
		{200 * time.Millisecond, 100 * time.Millisecond},
		{2 * time.Second, 1500 * time.Millisecond},
		{15 * time.Second, 13500 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := RequestTimeout(tc.attempt); got != tc.want {
			t.Fatalf("RequestTimeout(%v) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestSlowRequestDoesNotLandAfterAttempt(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		delivered int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(300 * time.Millisecond):
			mu.Lock()
			delivered++
			mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100}}}`))
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)

	attempt := 200 * time.Millisecond
	tr := New(Config{APIURL: srv.URL, HTTPTimeout: RequestTimeout(attempt)}, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), attempt)
	defer cancel()
	if err := tr.Send(ctx, dest(), transport.Payload{Kind: transport.KindHTML, Text: "hi"}); err == nil {
		t.Fatalf("expected the slow request to fail")
	}

	time.Sleep(400 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if delivered != 0 {
		t.Fatalf("abandoned request delivered %d message(s)", delivered)
	}
}
