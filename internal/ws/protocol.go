package ws

import (
	"encoding/json"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
	"github.com/fathima-sithara/messaging-service/internal/models"
)

// Inbound event names.
const (
	EvSendMessage    = "send-message"
	EvEditMessage    = "edit-message"
	EvDeleteMessage  = "delete-message"
	EvAddReaction    = "add-reaction"
	EvRemoveReaction = "remove-reaction"
	EvSeen           = "seen"
	EvTyping         = "typing"
	EvStopTyping     = "stop-typing"
	EvFetchMessages  = "fetch-messages"
	EvSearchMessages = "search-messages"
	EvForwardMessage = "forward-message"
	EvPresence       = "presence"
)

// Outbound event names.
const (
	OutMessageSent     = "message-sent"
	OutPrivateMessage  = "private-message"
	OutMessageEdited   = "message-edited"
	OutMessageDeleted  = "message-deleted"
	OutReactionAdded   = "reaction-added"
	OutReactionRemoved = "reaction-removed"
	OutMessagesSeen    = "messages-seen"
	OutOldMessages     = "old-messages"
	OutSearchResults   = "search-results"
	OutUserOnline      = "user-online"
	OutUserOffline     = "user-offline"
	OutPresence        = "presence"
	OutAck             = "ack"
	OutError           = "error"
)

// Envelope is one inbound frame.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Outbound is one frame sent to a client.
type Outbound struct {
	Type      string    `json:"type"`
	RequestID string    `json:"requestId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	At        time.Time `json:"at"`
}

type ErrorPayload struct {
	Code      string              `json:"code"`
	Message   string              `json:"message"`
	Event     string              `json:"event,omitempty"`
	RequestID string              `json:"requestId,omitempty"`
	Fields    []apperr.FieldError `json:"fields,omitempty"`
}

type AckPayload struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type sendPayload struct {
	ReceiverID  string             `json:"receiverId" validate:"required,notblank"`
	Message     string             `json:"message"`
	MessageType models.MessageType `json:"messageType"`
	Attachment  *models.Attachment `json:"attachment"`
	ReplyTo     string             `json:"replyTo"`
}

// body picks the tagged variant. Storage keys are never taken from clients.
func (p sendPayload) body() (models.Body, error) {
	if p.Attachment == nil {
		if p.MessageType != "" && p.MessageType != models.TypeText {
			return nil, apperr.Validation("attachment is required for " + string(p.MessageType) + " messages")
		}
		return models.TextBody{Text: p.Message}, nil
	}
	if p.MessageType == models.TypeText {
		return nil, apperr.Validation("text messages cannot carry an attachment")
	}
	a := *p.Attachment
	a.Key, a.ThumbnailKey = "", ""
	kind := p.MessageType
	if kind == "" {
		kind = models.TypeFile
	}
	return models.AttachmentBody{Kind: kind, Attachment: a, Caption: p.Message}, nil
}

type editPayload struct {
	MessageID  string `json:"messageId" validate:"required"`
	NewMessage string `json:"newMessage" validate:"required,notblank"`
}

type deletePayload struct {
	MessageID string `json:"messageId" validate:"required"`
	DeleteFor string `json:"deleteFor" validate:"required,oneof=self everyone"`
}

type reactionPayload struct {
	MessageID string `json:"messageId" validate:"required"`
	Emoji     string `json:"emoji"`
}

type seenPayload struct {
	UserID     string   `json:"userId" validate:"required,notblank"`
	MessageIDs []string `json:"messageIds"`
}

type typingPayload struct {
	ReceiverID string `json:"receiverId" validate:"required,notblank"`
}

type fetchPayload struct {
	UserID string `json:"userId" validate:"required,notblank"`
	Page   int    `json:"page" validate:"gte=0"`
	Limit  int    `json:"limit" validate:"gte=0"`
}

type searchPayload struct {
	Query  string `json:"query" validate:"required,notblank"`
	UserID string `json:"userId"`
	Page   int    `json:"page" validate:"gte=0"`
}

type forwardPayload struct {
	MessageID   string   `json:"messageId" validate:"required"`
	ReceiverIDs []string `json:"receiverIds" validate:"required,min=1,max=20"`
}

type presencePayload struct {
	UserID string `json:"userId" validate:"required,notblank"`
}
