// Package chat projects the messages of one thread into a View and carries
// out the viewer's actions on them: send, like and delete.
package chat

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Message is a stored chat message. The short json names are the ones
// existing data already uses.
type Message struct {
	ID         string `json:"-"`
	AuthorIcon string `json:"uI"`
	AuthorName string `json:"uN"`
	Date       string `json:"date"`
	HTML       string `json:"html"`
	LikeCount  int64  `json:"likeCount"`
	UID        string `json:"uid,omitempty"`
}

// Item is a Message as rendered for the current viewer.
type Item struct {
	Message
	Text      string
	Deletable bool
}

var (
	ugc    = bluemonday.UGCPolicy()
	strict = bluemonday.StrictPolicy()

	lineBreaks = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|li|pre|blockquote|h[1-6])>`)
	blankRuns  = regexp.MustCompile(`\n{3,}`)
)

// Sanitize strips markup that is unsafe to render.
func Sanitize(body string) string {
	return strings.TrimSpace(ugc.Sanitize(body))
}

// PlainText renders body for a terminal: block ends become newlines and
// every tag is dropped.
func PlainText(body string) string {
	s := lineBreaks.ReplaceAllString(body, "\n")
	s = html.UnescapeString(strict.Sanitize(s))

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	s = strings.Join(lines, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
