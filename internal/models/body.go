package models

import (
	"strings"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
)

// Body is either a TextBody or an AttachmentBody.
type Body interface {
	MessageType() MessageType
	validate() error
	apply(m *Message)
}

type TextBody struct {
	Text string
}

func (TextBody) MessageType() MessageType { return TypeText }

func (b TextBody) validate() error {
	if strings.TrimSpace(b.Text) == "" {
		return apperr.Validation("message text is required")
	}
	return nil
}

func (b TextBody) apply(m *Message) {
	m.Type = TypeText
	m.Text = b.Text
}

// AttachmentBody carries a stored blob and an optional caption.
type AttachmentBody struct {
	Kind       MessageType
	Attachment Attachment
	Caption    string
}

func (b AttachmentBody) MessageType() MessageType { return b.Kind }

func (b AttachmentBody) validate() error {
	if b.Kind == TypeText || !b.Kind.Valid() {
		return apperr.Validation("unsupported attachment type " + string(b.Kind))
	}
	if b.Attachment.URL == "" && b.Attachment.Key == "" {
		return apperr.Validation("attachment url or key is required")
	}
	return nil
}

func (b AttachmentBody) apply(m *Message) {
	a := b.Attachment
	m.Type = b.Kind
	m.Text = b.Caption
	if b.Kind == TypeImage {
		m.Image = &a
		return
	}
	m.File = &a
}
