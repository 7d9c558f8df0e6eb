// Package chat narrates incidents to a human channel. Every incident gets
// one thread; status updates and approval questions are posted into it.
package chat

import (
	"context"
	"strings"
)

// Style is the formatting applied to a message segment.
type Style int

const (
	Plain Style = iota
	Bold
	Code
	Italic
	CodeBlock
)

// Segment is a run of text sharing one style.
type Segment struct {
	Text  string `json:"text"`
	Style Style  `json:"style"`
}

// Message is an ordered list of segments.
type Message []Segment

// Text builds a message from a single plain segment.
func Text(s string) Message { return Message{{Text: s}} }

// Add appends a segment and returns the message.
func (m Message) Add(style Style, text string) Message {
	return append(m, Segment{Text: text, Style: style})
}

// Line appends a plain newline-terminated segment.
func (m Message) Line(text string) Message {
	return append(m, Segment{Text: text + "\n"})
}

// Markdown renders the message in chat markdown.
func (m Message) Markdown() string {
	var b strings.Builder
	for _, s := range m {
		switch s.Style {
		case Bold:
			b.WriteString("*" + s.Text + "*")
		case Code:
			b.WriteString("`" + s.Text + "`")
		case Italic:
			b.WriteString("_" + s.Text + "_")
		case CodeBlock:
			b.WriteString("```\n" + s.Text + "\n```\n")
		default:
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

// Channel posts messages to threads. Posting with an empty thread id
// starts a new thread; the returned id identifies the thread posted to.
type Channel interface {
	Post(ctx context.Context, threadID string, msg Message) (string, error)
}

// Discard is a Channel that drops every message.
type Discard struct{}

// Post implements Channel.
func (Discard) Post(_ context.Context, threadID string, _ Message) (string, error) {
	return threadID, nil
}
