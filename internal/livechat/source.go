// Package livechat ingests viewer messages from a live-stream chat feed and
// turns them into prompt batches.
package livechat

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrFeedDead = errors.New("live chat feed is not alive")

// Message is one viewer chat line.
type Message struct {
	Author string
	Text   string
}

// Source is a single connection to a chat feed. A Source that stops being
// alive is never revived; the loop dials a new one.
type Source interface {
	IsAlive() bool
	// Poll returns messages that arrived since the previous call, in
	// arrival order. It does not block waiting for new messages.
	Poll(ctx context.Context) ([]Message, error)
	Terminate()
}

// Dialer opens a fresh Source.
type Dialer func(ctx context.Context) (Source, error)

// Batch is the most recent messages of one poll, oldest first.
type Batch struct {
	Messages []Message
	// Dropped counts older messages of the same poll left out of the batch.
	Dropped int
}

func newBatch(msgs []Message, size int) Batch {
	if size <= 0 || len(msgs) <= size {
		out := make([]Message, len(msgs))
		copy(out, msgs)
		return Batch{Messages: out}
	}
	out := make([]Message, size)
	copy(out, msgs[len(msgs)-size:])
	return Batch{Messages: out, Dropped: len(msgs) - size}
}

// Prompt renders the batch as newline separated "author: text" lines.
func (b Batch) Prompt() string {
	lines := make([]string, len(b.Messages))
	for i, m := range b.Messages {
		lines[i] = fmt.Sprintf("%s: %s", m.Author, m.Text)
	}
	return strings.Join(lines, "\n")
}
