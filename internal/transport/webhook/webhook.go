// Package webhook delivers notifications as signed JSON POSTs.
//
// DestinationID is the endpoint URL; Credential is the shared secret used to
// sign the body (HMAC-SHA256, hex, in the X-Feedwatch-Signature header).
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"feedwatch/internal/transport"
	logx "feedwatch/pkg/logx"
)

const SignatureHeader = "X-Feedwatch-Signature"

type Transport struct {
	client *http.Client
	log    logx.Logger
}

func New(timeout time.Duration, log logx.Logger) *Transport {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Transport{
		client: &http.Client{Timeout: timeout},
		log:    log.With(logx.String("comp", "transport.webhook")),
	}
}

type body struct {
	Destination string `json:"destination"`
	Kind        string `json:"kind"`
	Text        string `json:"text"`
	ImageURL    string `json:"image_url,omitempty"`
	ThreadID    int    `json:"thread_id,omitempty"`
	SentAt      string `json:"sent_at"`
}

func (t *Transport) Validate(d transport.Destination) error {
	if strings.TrimSpace(d.Credential) == "" {
		return fmt.Errorf("%w: signing secret for %s", transport.ErrNoCredential, d.Name)
	}
	u, err := url.Parse(strings.TrimSpace(d.DestinationID))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: invalid webhook url for %s", transport.ErrNoCredential, d.Name)
	}
	return nil
}

func (t *Transport) Send(ctx context.Context, d transport.Destination, p transport.Payload) error {
	if err := t.Validate(d); err != nil {
		return err
	}
	b, err := json.Marshal(body{
		Destination: d.Name,
		Kind:        string(p.Kind),
		Text:        p.Text,
		ImageURL:    p.ImageURL,
		ThreadID:    d.ThreadID,
		SentAt:      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSpace(d.DestinationID), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(d.Credential, b))

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook %s: http %d: %s", d.Name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	_, _ = m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}
