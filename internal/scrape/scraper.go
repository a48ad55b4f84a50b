// Package scrape is the headless-browser collaborator that turns a target page
// into discovered items. Page-specific extraction lives in a configurable JS
// function; this package only drives the browser and decodes its output.
package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"feedwatch/internal/model"
	logx "feedwatch/pkg/logx"
)

// DefaultExtractScript reads elements annotated with data-item-* attributes.
// Deployments override it per site through scraper.extract_script. The script
// must return JSON.stringify of an array of
// {id, author, text, age, image, permalink}.
const DefaultExtractScript = `() => JSON.stringify(
  Array.from(document.querySelectorAll('[data-item-id]')).map(el => ({
    id: el.getAttribute('data-item-id') || '',
    author: (el.querySelector('[data-item-author]') || {}).textContent || '',
    text: (el.querySelector('[data-item-text]') || {}).textContent || '',
    age: (el.querySelector('[data-item-age]') || {}).textContent || '',
    image: ((el.querySelector('img[data-item-image]') || {}).src) || '',
    permalink: ((el.querySelector('a[data-item-link]') || {}).href) || '',
  }))
)`

const pageCloseTimeout = 5 * time.Second

type Config struct {
	BrowserBin    string
	Headless      bool
	UserDataDir   string
	WaitSelector  string
	ExtractScript string
	SettleDelay   time.Duration
}

// Scraper owns one browser and serves one navigation at a time.
type Scraper struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

func New(cfg Config, log logx.Logger) *Scraper {
	if strings.TrimSpace(cfg.ExtractScript) == "" {
		cfg.ExtractScript = DefaultExtractScript
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	return &Scraper{cfg: cfg, log: log.With(logx.String("comp", "scrape"))}
}

func (s *Scraper) ensureBrowserLocked(ctx context.Context) (*rod.Browser, error) {
	if s.browser != nil {
		return s.browser, nil
	}
	l := launcher.New().Headless(s.cfg.Headless)
	if s.cfg.BrowserBin != "" {
		l = l.Bin(s.cfg.BrowserBin)
	}
	if s.cfg.UserDataDir != "" {
		l = l.UserDataDir(s.cfg.UserDataDir)
	}
	u, err := launch(ctx, l)
	if err != nil {
		return nil, err
	}
	b := rod.New().Context(ctx).ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	// The connection outlives this fetch.
	b = b.Context(context.Background())
	s.browser = b
	s.lnch = l
	s.log.Info("browser launched", logx.Bool("headless", s.cfg.Headless))
	return b, nil
}

type launchResult struct {
	url string
	err error
}

// launch starts the browser, giving up when ctx is done. A launch that
// completes after that is killed in the background.
func launch(ctx context.Context, l *launcher.Launcher) (string, error) {
	done := make(chan launchResult, 1)
	go func() {
		u, err := l.Launch()
		done <- launchResult{url: u, err: err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("launch browser: %w", r.err)
		}
		return r.url, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				l.Kill()
				l.Cleanup()
			}
		}()
		return "", fmt.Errorf("launch browser: %w", ctx.Err())
	}
}

func (s *Scraper) resetLocked() {
	if s.browser != nil {
		_ = s.browser.Close()
		s.browser = nil
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
		s.lnch = nil
	}
}

// FetchItems loads the target page and returns the items the extract script
// finds. Any failure returns an error and no items; a browser-level failure
// also drops the browser so the next call relaunches it.
func (s *Scraper) FetchItems(ctx context.Context, t model.Target) ([]model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.ensureBrowserLocked(ctx)
	if err != nil {
		return nil, err
	}
	p, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("browser unusable; relaunching on next fetch", logx.Err(err))
			s.resetLocked()
		}
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), pageCloseTimeout)
		defer cancel()
		_ = p.Context(cctx).Close()
	}()

	if err := p.Navigate(t.URL); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", t.URL, err)
	}
	if err := p.WaitLoad(); err != nil {
		s.log.Debug("wait load failed", logx.String("url", t.URL), logx.Err(err))
	}
	if sel := strings.TrimSpace(s.cfg.WaitSelector); sel != "" {
		if _, err := p.Element(sel); err != nil {
			return nil, fmt.Errorf("wait for %q: %w", sel, err)
		}
	}
	if s.cfg.SettleDelay > 0 {
		timer := time.NewTimer(s.cfg.SettleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	res, err := p.Eval(s.cfg.ExtractScript)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return decodeItems(res.Value.Str(), t.ID)
}

// Close shuts the browser down.
func (s *Scraper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	return nil
}

type rawItem struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	Age       string `json:"age"`
	Image     string `json:"image"`
	Permalink string `json:"permalink"`
}

func decodeItems(raw, targetID string) ([]model.Item, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("extract script returned nothing")
	}
	var in []rawItem
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, fmt.Errorf("decode extract output: %w", err)
	}
	out := make([]model.Item, 0, len(in))
	for _, r := range in {
		it := model.Item{
			TargetID:  targetID,
			ItemID:    strings.TrimSpace(r.ID),
			Author:    strings.Join(strings.Fields(r.Author), " "),
			Text:      strings.TrimSpace(r.Text),
			AgeText:   strings.TrimSpace(r.Age),
			ImageURL:  strings.TrimSpace(r.Image),
			Permalink: strings.TrimSpace(r.Permalink),
		}
		if it.ItemID == "" && it.Author == "" && it.Text == "" {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}
