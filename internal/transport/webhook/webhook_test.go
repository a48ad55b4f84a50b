package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"feedwatch/internal/transport"
	logx "feedwatch/pkg/logx"
)

func TestSendSignsBody(t *testing.T) {
	t.Parallel()

	var gotSig, wantSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		wantSig = Sign("s3cret", b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := New(time.Second, logx.Nop())
	d := transport.Destination{Name: "hook", Channel: transport.ChannelWebhook, Credential: "s3cret", DestinationID: srv.URL}
	if err := tr.Send(context.Background(), d, transport.Payload{Kind: transport.KindText, Text: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotSig == "" || gotSig != wantSig {
		t.Fatalf("signature mismatch: got %q want %q", gotSig, wantSig)
	}
}

func TestSendNon2xxIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := New(time.Second, logx.Nop())
	d := transport.Destination{Name: "hook", Credential: "k", DestinationID: srv.URL}
	if err := tr.Send(context.Background(), d, transport.Payload{Kind: transport.KindText, Text: "x"}); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tr := New(0, logx.Nop())
	cases := []transport.Destination{
		{Name: "a", DestinationID: "https://example.com/hook"},
		{Name: "b", Credential: "k", DestinationID: "ftp://example.com"},
		{Name: "c", Credential: "k", DestinationID: ""},
	}
	for _, d := range cases {
		if err := tr.Validate(d); !errors.Is(err, transport.ErrNoCredential) {
			t.Fatalf("%s: expected ErrNoCredential, got %v", d.Name, err)
		}
	}
}
