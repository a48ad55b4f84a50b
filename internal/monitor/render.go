package monitor

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"feedwatch/internal/dispatch"
	"feedwatch/internal/model"
)

const (
	maxHTMLLen = 3500
	// captionLimit is the Bot API limit for photo captions.
	captionLimit = 1024
	ellipsis     = "…"
)

var strict = bluemonday.StrictPolicy()

// Render builds the HTML and plain variants of one item notification.
// Scraped text is stripped of markup before it is embedded.
func Render(t model.Target, it model.Item) dispatch.Message {
	author := clean(it.Author)
	if author == "" {
		author = "someone"
	}
	text := clean(it.Text)
	age := clean(it.AgeText)
	link := strings.TrimSpace(it.Permalink)
	if link == "" {
		link = t.URL
	}

	var head strings.Builder
	head.WriteString("💬 <b>")
	head.WriteString(html.EscapeString(author))
	head.WriteString("</b> on <a href=\"")
	head.WriteString(html.EscapeString(link))
	head.WriteString("\">")
	head.WriteString(html.EscapeString(t.Name()))
	head.WriteString("</a>\n")

	var foot string
	if age != "" {
		foot = "\n<i>" + html.EscapeString(age) + "</i>"
	}

	limit := maxHTMLLen
	if it.ImageURL != "" {
		limit = captionLimit
	}
	budget := limit - utf8.RuneCountInString(head.String()) - utf8.RuneCountInString(foot)
	body := clampEscaped(html.EscapeString(text), budget)

	var plain strings.Builder
	plain.WriteString(author)
	plain.WriteString(" on ")
	plain.WriteString(t.Name())
	plain.WriteString("\n")
	plain.WriteString(text)
	if age != "" {
		plain.WriteString("\n(")
		plain.WriteString(age)
		plain.WriteString(")")
	}
	plain.WriteString("\n")
	plain.WriteString(link)

	return dispatch.Message{
		HTML:     head.String() + body + foot,
		Plain:    plain.String(),
		ImageURL: strings.TrimSpace(it.ImageURL),
	}
}

// clean strips markup and returns plain text with entities decoded.
func clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}

// clampEscaped cuts escaped HTML text to at most n runes without splitting an
// entity, appending an ellipsis when anything was dropped.
func clampEscaped(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	keep := n - utf8.RuneCountInString(ellipsis)
	if keep <= 0 {
		return ""
	}
	cut := s
	count := 0
	for i := range s {
		if count == keep {
			cut = s[:i]
			break
		}
		count++
	}
	if amp := strings.LastIndexByte(cut, '&'); amp >= 0 && !strings.Contains(cut[amp:], ";") {
		cut = cut[:amp]
	}
	return cut + ellipsis
}
