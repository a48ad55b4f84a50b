// Package telegram delivers notifications through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"feedwatch/internal/transport"
	logx "feedwatch/pkg/logx"
)

const (
	textLimit    = 4000
	CaptionLimit = 1024
)

type Config struct {
	// APIURL overrides the Bot API base URL (tests, local bot API servers).
	APIURL string
	// HTTPTimeout bounds a single Bot API request. Default 15s.
	HTTPTimeout time.Duration
}

// Transport sends to any number of bots; one client per token is cached.
type Transport struct {
	cfg Config
	log logx.Logger

	mu   sync.Mutex
	bots map[string]*tele.Bot
}

func New(cfg Config, log logx.Logger) *Transport {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}
	return &Transport{
		cfg:  cfg,
		log:  log.With(logx.String("comp", "transport.telegram")),
		bots: map[string]*tele.Bot{},
	}
}

// RequestTimeout is the Bot API request bound for a delivery attempt bounded
// by attempt. It is shorter than the attempt, so a slow request is cut off on
// the wire and cannot land after a fallback was sent.
func RequestTimeout(attempt time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	margin := max(attempt/10, 500*time.Millisecond)
	if margin >= attempt {
		return attempt / 2
	}
	return attempt - margin
}

// SetHTTPTimeout changes the request bound. Cached clients are dropped and
// rebuilt on the next send.
func (t *Transport) SetHTTPTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if d == t.cfg.HTTPTimeout {
		return
	}
	t.cfg.HTTPTimeout = d
	t.bots = map[string]*tele.Bot{}
}

func (t *Transport) Validate(d transport.Destination) error {
	if strings.TrimSpace(d.Credential) == "" {
		return fmt.Errorf("%w: bot token for %s", transport.ErrNoCredential, d.Name)
	}
	if strings.TrimSpace(d.DestinationID) == "" {
		return fmt.Errorf("%w: chat id for %s", transport.ErrNoCredential, d.Name)
	}
	return nil
}

func (t *Transport) bot(token string) (*tele.Bot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.bots[token]; ok {
		return b, nil
	}
	// Offline skips the getMe round trip; the bot is only used for sending.
	b, err := tele.NewBot(tele.Settings{
		URL:     t.cfg.APIURL,
		Token:   token,
		Client:  &http.Client{Timeout: t.cfg.HTTPTimeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	t.bots[token] = b
	return b, nil
}

// chatRef addresses a chat by numeric id or @username.
type chatRef string

func (c chatRef) Recipient() string { return string(c) }

// Send delivers p. Long text is split into several messages; the call fails
// on the first chunk that fails.
func (t *Transport) Send(ctx context.Context, d transport.Destination, p transport.Payload) error {
	if err := t.Validate(d); err != nil {
		return err
	}
	b, err := t.bot(strings.TrimSpace(d.Credential))
	if err != nil {
		return err
	}
	to := chatRef(strings.TrimSpace(d.DestinationID))

	switch p.Kind {
	case transport.KindPhoto:
		if strings.TrimSpace(p.ImageURL) == "" {
			return errors.New("photo payload without image url")
		}
		photo := &tele.Photo{File: tele.FromURL(p.ImageURL), Caption: clampRunes(p.Text, CaptionLimit)}
		return call(ctx, func() error {
			_, err := b.Send(to, photo, &tele.SendOptions{ParseMode: tele.ModeHTML, ThreadID: d.ThreadID})
			return err
		})
	case transport.KindHTML, transport.KindText:
		mode := tele.ParseMode("")
		if p.Kind == transport.KindHTML {
			mode = tele.ModeHTML
		}
		for _, chunk := range splitText(p.Text, textLimit, mode == tele.ModeHTML) {
			opts := &tele.SendOptions{ParseMode: mode, DisableWebPagePreview: true, ThreadID: d.ThreadID}
			if err := call(ctx, func() error {
				_, err := b.Send(to, chunk, opts)
				return err
			}); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown payload kind %q", p.Kind)
	}
}

// call runs a blocking Bot API request and gives up when ctx ends first.
// telebot does not take a context, so the abandoned request finishes in the
// background bounded by the HTTP client timeout. Callers keep that timeout
// below their own deadline (see RequestTimeout); otherwise an abandoned
// request may still deliver.
func call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func clampRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-1]) + "…"
}

// splitText splits long messages into chunks Telegram accepts. It prefers
// newline boundaries and, for HTML, avoids cutting inside a tag.
func splitText(s string, limit int, html bool) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if html && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
