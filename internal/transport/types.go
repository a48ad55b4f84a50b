// Package transport defines the notification delivery contract and the
// destination model shared by the dispatcher and the concrete channels.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoCredential means a destination lacks a credential its channel
	// requires. Such a destination is disabled for the run.
	ErrNoCredential = errors.New("transport: missing credential")
	// ErrUnsupported means no transport is registered for a channel.
	ErrUnsupported = errors.New("transport: unsupported channel")
)

type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelWebhook  Channel = "webhook"
)

type Format string

const (
	FormatRich  Format = "rich"
	FormatPlain Format = "plain"
)

// Destination is one configured notification endpoint. Read-only at runtime.
type Destination struct {
	Name          string
	Channel       Channel
	Credential    string
	DestinationID string
	ThreadID      int
	Enabled       bool
	Format        Format
}

func (d Destination) String() string {
	return fmt.Sprintf("%s(%s)", d.Name, d.Channel)
}

type PayloadKind string

const (
	KindText  PayloadKind = "text"
	KindHTML  PayloadKind = "html"
	KindPhoto PayloadKind = "photo" // Text is an HTML caption
)

// Payload is a rendered notification in one concrete format.
type Payload struct {
	Kind     PayloadKind
	Text     string
	ImageURL string
}

// Transport delivers payloads over one channel.
type Transport interface {
	// Validate reports whether d carries what this channel needs, without
	// any network call.
	Validate(d Destination) error
	Send(ctx context.Context, d Destination, p Payload) error
}

// Mux routes by Destination.Channel.
type Mux map[Channel]Transport

func (m Mux) get(ch Channel) (Transport, error) {
	t, ok := m[Channel(strings.ToLower(string(ch)))]
	if !ok || t == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ch)
	}
	return t, nil
}

func (m Mux) Validate(d Destination) error {
	t, err := m.get(d.Channel)
	if err != nil {
		return err
	}
	return t.Validate(d)
}

func (m Mux) Send(ctx context.Context, d Destination, p Payload) error {
	t, err := m.get(d.Channel)
	if err != nil {
		return err
	}
	return t.Send(ctx, d, p)
}
