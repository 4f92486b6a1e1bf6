// Package events publishes message lifecycle events to a broker.
package events

import (
	"context"
	"sort"
	"strings"
	"time"
)

const (
	MessageCreated  = "message.created"
	MessageEdited   = "message.edited"
	MessageDeleted  = "message.deleted"
	MessageReaction = "message.reaction"
	MessageSeen     = "message.seen"
)

type Event struct {
	Type       string    `json:"type"`
	MessageID  string    `json:"messageId,omitempty"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	At         time.Time `json:"at"`
	Data       any       `json:"data,omitempty"`
}

// Key groups events of one conversation so brokers keep them ordered.
func (e Event) Key() string {
	pair := []string{e.SenderID, e.ReceiverID}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }
