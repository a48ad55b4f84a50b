package app

import (
	"context"
	"errors"
	"html"
	"strings"
	"sync"

	"feedwatch/internal/transport"
)

var errOwnerUnset = errors.New("owner channel not configured")

// ownerChannel carries operator traffic: alerts, digests and mirrored log
// lines. The destination is swapped on config reload.
type ownerChannel struct {
	tr transport.Transport

	mu    sync.RWMutex
	dst   transport.Destination
	ready bool
}

func newOwnerChannel(tr transport.Transport) *ownerChannel {
	return &ownerChannel{tr: tr}
}

// set installs d and reports why it cannot be used, if so. An unusable owner
// leaves alerts and digests log-only.
func (o *ownerChannel) set(d transport.Destination) error {
	err := o.tr.Validate(d)
	o.mu.Lock()
	o.dst, o.ready = d, err == nil
	o.mu.Unlock()
	return err
}

func (o *ownerChannel) destination() (transport.Destination, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.dst, o.ready
}

func (o *ownerChannel) send(ctx context.Context, p transport.Payload) error {
	d, ok := o.destination()
	if !ok {
		return errOwnerUnset
	}
	return o.tr.Send(ctx, d, p)
}

// SendLog implements logx.Sender.
func (o *ownerChannel) SendLog(ctx context.Context, text string) error {
	return o.send(ctx, transport.Payload{Kind: transport.KindText, Text: text})
}

// Raise implements alert.Raiser.
func (o *ownerChannel) Raise(ctx context.Context, title, body string) error {
	var b strings.Builder
	b.WriteString("⚠️ <b>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</b>")
	if body = strings.TrimSpace(body); body != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(body))
	}
	return o.send(ctx, transport.Payload{Kind: transport.KindHTML, Text: b.String()})
}

func (o *ownerChannel) SendText(ctx context.Context, text string) error {
	return o.send(ctx, transport.Payload{Kind: transport.KindText, Text: text})
}
