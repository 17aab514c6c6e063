package model

import (
	"encoding/json"
	"strings"
)

// Actions are the animation cues paired with a reply.
type Actions struct {
	Expression string `json:"expression"`
	Motion     string `json:"motion,omitempty"`
}

// DefaultActions are used when a reply carries none.
var DefaultActions = Actions{Expression: "happy", Motion: "idle"}

// OrDefault fills missing cues from DefaultActions.
func (a Actions) OrDefault() Actions {
	if a.Expression == "" {
		a.Expression = DefaultActions.Expression
	}
	if a.Motion == "" {
		a.Motion = DefaultActions.Motion
	}
	return a
}

// ReplyEvent is one unit of generated output to be spoken.
type ReplyEvent struct {
	Text    string   `json:"text"`
	Actions *Actions `json:"actions,omitempty"`
}

// ResolvedActions returns the event's actions with defaults applied.
func (e ReplyEvent) ResolvedActions() Actions {
	if e.Actions == nil {
		return DefaultActions
	}
	return e.Actions.OrDefault()
}

// ParseReply interprets model output. Output shaped like a ReplyEvent is
// decoded as one, a fenced JSON block included; anything else is plain text.
func ParseReply(content string) ReplyEvent {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	if strings.HasPrefix(trimmed, "{") {
		var ev ReplyEvent
		if err := json.Unmarshal([]byte(trimmed), &ev); err == nil && ev.Text != "" {
			return ev
		}
	}
	return ReplyEvent{Text: strings.TrimSpace(content)}
}
