package models

import (
	"strings"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
)

// DeletedPlaceholder replaces the text of a message deleted for everyone.
const DeletedPlaceholder = "This message was deleted"

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeFile     MessageType = "file"
	TypeDocument MessageType = "document"
	TypeAudio    MessageType = "audio"
	TypeVideo    MessageType = "video"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeFile, TypeDocument, TypeAudio, TypeVideo:
		return true
	}
	return false
}

// Attachment describes a blob stored by the blob store gateway.
type Attachment struct {
	URL          string `bson:"url" json:"url"`
	Key          string `bson:"key,omitempty" json:"key,omitempty"`
	OriginalName string `bson:"originalName,omitempty" json:"originalName,omitempty"`
	Size         int64  `bson:"size" json:"size"`
	MimeType     string `bson:"mimeType,omitempty" json:"mimeType,omitempty"`
	Thumbnail    string `bson:"thumbnail,omitempty" json:"thumbnail,omitempty"`
	ThumbnailKey string `bson:"thumbnailKey,omitempty" json:"-"`
}

type Reaction struct {
	UserID    string    `bson:"userId" json:"userId"`
	Emoji     string    `bson:"emoji" json:"emoji"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// DeletionMark hides a message from one user's views.
type DeletionMark struct {
	UserID    string    `bson:"userId" json:"userId"`
	DeletedAt time.Time `bson:"deletedAt" json:"deletedAt"`
}

type Message struct {
	ID         string      `bson:"_id" json:"id"`
	SenderID   string      `bson:"senderId" json:"senderId"`
	ReceiverID string      `bson:"receiverId" json:"receiverId"`
	Type       MessageType `bson:"messageType" json:"messageType"`
	Text       string      `bson:"message,omitempty" json:"message,omitempty"`
	File       *Attachment `bson:"file,omitempty" json:"file,omitempty"`
	Image      *Attachment `bson:"image,omitempty" json:"image,omitempty"`

	Delivered   bool       `bson:"delivered" json:"delivered"`
	DeliveredAt *time.Time `bson:"deliveredAt,omitempty" json:"deliveredAt,omitempty"`
	Seen        bool       `bson:"seen" json:"seen"`
	SeenAt      *time.Time `bson:"seenAt,omitempty" json:"seenAt,omitempty"`

	Edited          bool       `bson:"edited" json:"edited"`
	EditedAt        *time.Time `bson:"editedAt,omitempty" json:"editedAt,omitempty"`
	OriginalMessage string     `bson:"originalMessage,omitempty" json:"originalMessage,omitempty"`

	Deleted    bool           `bson:"deleted" json:"deleted"`
	DeletedAt  *time.Time     `bson:"deletedAt,omitempty" json:"deletedAt,omitempty"`
	DeletedFor []DeletionMark `bson:"deletedFor" json:"deletedFor"`

	ReplyTo       string     `bson:"replyTo,omitempty" json:"replyTo,omitempty"`
	ForwardedFrom string     `bson:"forwardedFrom,omitempty" json:"forwardedFrom,omitempty"`
	Reactions     []Reaction `bson:"reactions" json:"reactions"`

	Version   int64     `bson:"version" json:"version"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// NewMessage builds an unsaved message from a body variant.
func NewMessage(senderID, receiverID string, body Body, replyTo string) (*Message, error) {
	if strings.TrimSpace(senderID) == "" || strings.TrimSpace(receiverID) == "" {
		return nil, apperr.Validation("sender and receiver are required")
	}
	if body == nil {
		return nil, apperr.Validation("message body is required")
	}
	if err := body.validate(); err != nil {
		return nil, err
	}
	m := &Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		ReplyTo:    replyTo,
		DeletedFor: []DeletionMark{},
		Reactions:  []Reaction{},
	}
	body.apply(m)
	return m, nil
}

// Body returns the tagged body of a stored message. Tombstoned messages read as text.
func (m *Message) Body() Body {
	switch {
	case m.Image != nil:
		return AttachmentBody{Kind: m.Type, Attachment: *m.Image, Caption: m.Text}
	case m.File != nil:
		return AttachmentBody{Kind: m.Type, Attachment: *m.File, Caption: m.Text}
	default:
		return TextBody{Text: m.Text}
	}
}

// Attachment returns whichever attachment the message carries.
func (m *Message) Attachment() *Attachment {
	if m.Image != nil {
		return m.Image
	}
	return m.File
}

func (m *Message) IsParticipant(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Counterpart returns the other side of the conversation as seen by userID.
func (m *Message) Counterpart(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

func (m *Message) DeletedForUser(userID string) bool {
	for _, d := range m.DeletedFor {
		if d.UserID == userID {
			return true
		}
	}
	return false
}

// Tombstone clears content irreversibly.
func (m *Message) Tombstone(now time.Time) {
	m.Deleted = true
	m.DeletedAt = &now
	m.Text = DeletedPlaceholder
	m.File = nil
	m.Image = nil
	m.OriginalMessage = ""
	m.Reactions = []Reaction{}
	m.UpdatedAt = now
}

// SetReaction replaces any reaction by the same user.
func (m *Message) SetReaction(r Reaction) {
	m.RemoveReaction(r.UserID)
	m.Reactions = append(m.Reactions, r)
}

func (m *Message) RemoveReaction(userID string) {
	out := m.Reactions[:0]
	for _, r := range m.Reactions {
		if r.UserID != userID {
			out = append(out, r)
		}
	}
	m.Reactions = out
}

// Clone returns a deep copy so callers can't alias store state.
func (m *Message) Clone() *Message {
	c := *m
	if m.File != nil {
		f := *m.File
		c.File = &f
	}
	if m.Image != nil {
		i := *m.Image
		c.Image = &i
	}
	c.DeletedFor = append([]DeletionMark{}, m.DeletedFor...)
	c.Reactions = append([]Reaction{}, m.Reactions...)
	return &c
}

// Status is the delivery view of a message.
type Status struct {
	MessageID   string     `json:"messageId"`
	Delivered   bool       `json:"delivered"`
	DeliveredAt *time.Time `json:"deliveredAt"`
	Seen        bool       `json:"seen"`
	SeenAt      *time.Time `json:"seenAt"`
}

func (m *Message) Status() Status {
	return Status{
		MessageID:   m.ID,
		Delivered:   m.Delivered,
		DeliveredAt: m.DeliveredAt,
		Seen:        m.Seen,
		SeenAt:      m.SeenAt,
	}
}
