package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
	"github.com/fathima-sithara/messaging-service/internal/events"
	"github.com/fathima-sithara/messaging-service/internal/models"
	"github.com/fathima-sithara/messaging-service/internal/storage"
)

type DeleteScope string

const (
	ScopeSelf     DeleteScope = "self"
	ScopeEveryone DeleteScope = "everyone"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
	SearchPageSize  = 20
	MaxForward      = 20
)

type MessageService struct {
	d Deps
}

func NewMessageService(d Deps) *MessageService {
	d.fill()
	return &MessageService{d: d}
}

// Send stores a new message. The delivered flag is set when the receiver is
// online at the time of sending.
func (s *MessageService) Send(ctx context.Context, senderID, receiverID string, body models.Body, replyTo string) (*models.Message, error) {
	m, err := models.NewMessage(senderID, receiverID, body, replyTo)
	if err != nil {
		return nil, err
	}
	if replyTo != "" {
		parent, err := s.d.Store.Get(ctx, replyTo)
		if errors.Is(err, apperr.ErrNotFound) || (err == nil && !parent.IsParticipant(senderID)) {
			return nil, apperr.NotFound("replied message not found")
		}
		if err != nil {
			return nil, err
		}
	}
	out, err := s.insert(ctx, m)
	if err != nil {
		return nil, err
	}
	s.present(ctx, out)
	return out, nil
}

func (s *MessageService) insert(ctx context.Context, m *models.Message) (*models.Message, error) {
	now := s.d.Now().UTC()
	m.CreatedAt = now
	if s.d.Presence != nil && s.d.Presence.IsOnline(m.ReceiverID) {
		m.Delivered = true
		m.DeliveredAt = &now
	}
	if err := s.d.Store.Insert(ctx, m); err != nil {
		return nil, err
	}
	s.d.Metrics.Messages.WithLabelValues(string(m.Type)).Inc()
	publish(s.d, s.event(events.MessageCreated, m, m.Clone()))
	return m, nil
}

// present fills read URLs of private attachments. Stored documents only keep
// object keys; signed URLs expire and are never persisted.
func (s *MessageService) present(ctx context.Context, ms ...*models.Message) {
	if s.d.Blobs == nil {
		return
	}
	for _, m := range ms {
		a := m.Attachment()
		if a == nil {
			continue
		}
		if a.URL == "" && a.Key != "" {
			a.URL = s.sign(ctx, a.Key)
		}
		if a.Thumbnail == "" && a.ThumbnailKey != "" {
			a.Thumbnail = s.sign(ctx, a.ThumbnailKey)
		}
	}
}

func (s *MessageService) sign(ctx context.Context, key string) string {
	u, err := s.d.Blobs.Sign(ctx, key)
	if err != nil {
		s.d.Log.Warn("sign blob url failed", zap.String("key", key), zap.Error(err))
		return ""
	}
	return u
}

func (s *MessageService) event(typ string, m *models.Message, data any) events.Event {
	return events.Event{
		Type:       typ,
		MessageID:  m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		At:         s.d.Now().UTC(),
		Data:       data,
	}
}

// Upload stores an attachment and sends it as a message. The blobs are
// removed again when the message cannot be created.
func (s *MessageService) Upload(ctx context.Context, senderID, receiverID string, kind models.MessageType, filename, declaredMIME string, data []byte, caption, replyTo string) (*models.Message, error) {
	if s.d.Blobs == nil {
		return nil, apperr.Upstream("blob store not configured", nil)
	}
	if strings.TrimSpace(receiverID) == "" {
		return nil, apperr.Validation("receiverId is required")
	}
	if _, err := storage.PolicyFor(string(kind)); err != nil {
		return nil, err
	}
	mimeType := storage.DetectMIME(declaredMIME, data)
	a, err := s.d.Blobs.Upload(ctx, kind, filename, mimeType, data)
	if err != nil {
		return nil, err
	}
	m, err := s.Send(ctx, senderID, receiverID, models.AttachmentBody{Kind: kind, Attachment: a, Caption: caption}, replyTo)
	if err != nil {
		s.dropBlobs(ctx, a.Key, a.ThumbnailKey)
		return nil, err
	}
	return m, nil
}

// load fetches a message the caller takes part in. Non-participants get
// Forbidden.
func (s *MessageService) load(ctx context.Context, id, userID string) (*models.Message, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("messageId is required")
	}
	m, err := s.d.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.IsParticipant(userID) {
		return nil, apperr.Forbidden("not a participant of this conversation")
	}
	return m, nil
}

// Edit replaces the text of a text message. Only the sender may edit, and only
// the first edit records the original text.
func (s *MessageService) Edit(ctx context.Context, id, requester, newText string) (*models.Message, error) {
	if strings.TrimSpace(newText) == "" {
		return nil, apperr.Validation("newMessage is required")
	}
	m, err := s.d.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.SenderID != requester {
		return nil, apperr.Forbidden("only the sender can edit this message")
	}
	if m.Deleted {
		return nil, apperr.InvalidState("message was deleted")
	}
	if m.Type != models.TypeText {
		return nil, apperr.InvalidState("only text messages can be edited")
	}
	original := ""
	if !m.Edited {
		original = m.Text
	}
	out, err := s.d.Store.Edit(ctx, id, m.Version, newText, original, s.d.Now().UTC())
	if err != nil {
		return nil, err
	}
	publish(s.d, s.event(events.MessageEdited, out, out))
	return out, nil
}

// Delete hides a message for the requester (self) or tombstones it for both
// participants (everyone, sender only).
func (s *MessageService) Delete(ctx context.Context, id, requester string, scope DeleteScope) (*models.Message, error) {
	switch scope {
	case ScopeSelf:
		if _, err := s.load(ctx, id, requester); err != nil {
			return nil, err
		}
		out, err := s.d.Store.DeleteFor(ctx, id, requester, s.d.Now().UTC())
		if err != nil {
			return nil, err
		}
		s.present(ctx, out)
		return out, nil
	case ScopeEveryone:
	default:
		return nil, apperr.Validation("deleteFor must be self or everyone")
	}

	m, err := s.d.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.SenderID != requester {
		return nil, apperr.Forbidden("only the sender can delete this message for everyone")
	}
	if m.Deleted {
		return m, nil
	}
	var keys []string
	// forwarded copies share the source's blobs and never remove them
	if a := m.Attachment(); a != nil && m.ForwardedFrom == "" {
		keys = append(keys, a.Key, a.ThumbnailKey)
	}
	out, err := s.d.Store.Tombstone(ctx, id, m.Version, s.d.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.dropBlobs(ctx, keys...)
	publish(s.d, s.event(events.MessageDeleted, out, map[string]string{"deleteFor": string(ScopeEveryone)}))
	return out, nil
}

func (s *MessageService) dropBlobs(ctx context.Context, keys ...string) {
	if s.d.Blobs == nil || len(keys) == 0 {
		return
	}
	if err := s.d.Blobs.Delete(ctx, keys...); err != nil {
		s.d.Log.Warn("blob cleanup failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// AddReaction sets the user's single reaction on a message, replacing any
// earlier one.
func (s *MessageService) AddReaction(ctx context.Context, id, userID, emoji string) (*models.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, apperr.Validation("emoji is required")
	}
	m, err := s.load(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if m.Deleted {
		return nil, apperr.InvalidState("message was deleted")
	}
	out, err := s.d.Store.SetReaction(ctx, id, models.Reaction{UserID: userID, Emoji: emoji, CreatedAt: s.d.Now().UTC()})
	if err != nil {
		return nil, err
	}
	publish(s.d, s.event(events.MessageReaction, out, out.Reactions))
	return out, nil
}

func (s *MessageService) RemoveReaction(ctx context.Context, id, userID string) (*models.Message, error) {
	if _, err := s.load(ctx, id, userID); err != nil {
		return nil, err
	}
	out, err := s.d.Store.RemoveReaction(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	publish(s.d, s.event(events.MessageReaction, out, out.Reactions))
	return out, nil
}

// MarkSeen flags messages from fromUser to reader as seen, limited to ids when
// any are given. It returns the ids that changed.
func (s *MessageService) MarkSeen(ctx context.Context, reader, fromUser string, ids []string) ([]string, error) {
	if strings.TrimSpace(fromUser) == "" {
		return nil, apperr.Validation("userId is required")
	}
	changed, err := s.d.Store.MarkSeen(ctx, reader, fromUser, ids, s.d.Now().UTC())
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		publish(s.d, events.Event{
			Type:       events.MessageSeen,
			SenderID:   fromUser,
			ReceiverID: reader,
			At:         s.d.Now().UTC(),
			Data:       changed,
		})
	}
	return changed, nil
}

// MarkDelivered flips pending inbound messages of receiver to delivered.
func (s *MessageService) MarkDelivered(ctx context.Context, receiver string) (int64, error) {
	return s.d.Store.MarkDelivered(ctx, receiver, s.d.Now().UTC())
}

func pageWindow(page, limit, def, max int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return page, limit, (page - 1) * limit
}

// reverse turns a newest-first slice into display order.
func reverse(ms []*models.Message) []*models.Message {
	for i, j := 0, len(ms)-1; i < j; i, j = i+1, j-1 {
		ms[i], ms[j] = ms[j], ms[i]
	}
	return ms
}

// Conversation returns one page of the messages between caller and other,
// oldest first within the page. Page 1 holds the newest messages.
func (s *MessageService) Conversation(ctx context.Context, caller, other string, page, limit int) (models.Page, error) {
	if strings.TrimSpace(other) == "" {
		return models.Page{}, apperr.Validation("userId is required")
	}
	page, limit, skip := pageWindow(page, limit, DefaultPageSize, MaxPageSize)
	ms, total, err := s.d.Store.Conversation(ctx, caller, other, skip, limit)
	if err != nil {
		return models.Page{}, err
	}
	s.present(ctx, ms...)
	// a full page reports more even when it ends exactly at total
	return models.Page{
		Messages: reverse(ms),
		Page:     page,
		HasMore:  len(ms) == limit,
		Total:    total,
	}, nil
}

// Search matches query as a literal, case-insensitive substring. An empty
// other searches every conversation of the caller.
func (s *MessageService) Search(ctx context.Context, caller, other, query string, page int) (models.Page, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.Page{}, apperr.Validation("query is required")
	}
	page, limit, skip := pageWindow(page, SearchPageSize, SearchPageSize, SearchPageSize)
	ms, total, err := s.d.Store.Search(ctx, caller, other, query, skip, limit)
	if err != nil {
		return models.Page{}, err
	}
	s.present(ctx, ms...)
	return models.Page{
		Messages: ms,
		Page:     page,
		HasMore:  len(ms) == limit,
		Total:    total,
	}, nil
}

// Forward copies a message to each receiver with forwardedFrom set.
func (s *MessageService) Forward(ctx context.Context, requester, id string, receivers []string) ([]*models.Message, error) {
	seen := make(map[string]bool, len(receivers))
	targets := make([]string, 0, len(receivers))
	for _, r := range receivers {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		targets = append(targets, r)
	}
	if len(targets) == 0 {
		return nil, apperr.Validation("receiverIds is required")
	}
	if len(targets) > MaxForward {
		return nil, apperr.Validation("too many receivers")
	}
	src, err := s.load(ctx, id, requester)
	if err != nil {
		return nil, err
	}
	if src.Deleted {
		return nil, apperr.InvalidState("message was deleted")
	}
	if src.DeletedForUser(requester) {
		return nil, apperr.NotFound("message not found")
	}

	out := make([]*models.Message, 0, len(targets))
	for _, r := range targets {
		m, err := models.NewMessage(requester, r, src.Body(), "")
		if err != nil {
			return out, err
		}
		m.ForwardedFrom = src.ID
		saved, err := s.insert(ctx, m)
		if err != nil {
			return out, err
		}
		s.present(ctx, saved)
		out = append(out, saved)
	}
	return out, nil
}

func (s *MessageService) Status(ctx context.Context, requester, id string) (models.Status, error) {
	m, err := s.load(ctx, id, requester)
	if err != nil {
		return models.Status{}, err
	}
	return m.Status(), nil
}

// Get returns a message visible to the requester with fresh attachment URLs.
func (s *MessageService) Get(ctx context.Context, requester, id string) (*models.Message, error) {
	m, err := s.load(ctx, id, requester)
	if err != nil {
		return nil, err
	}
	if m.DeletedForUser(requester) {
		return nil, apperr.NotFound("message not found")
	}
	s.present(ctx, m)
	return m, nil
}
