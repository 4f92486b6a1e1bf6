package ws

import (
	"time"

	"github.com/fathima-sithara/messaging-service/internal/models"
	"github.com/fathima-sithara/messaging-service/internal/service"
)

// Fan-out rules, shared with the REST layer.

type deletedEvent struct {
	MessageID string              `json:"messageId"`
	DeleteFor service.DeleteScope `json:"deleteFor"`
	Message   *models.Message     `json:"message,omitempty"`
}

type reactionEvent struct {
	MessageID string            `json:"messageId"`
	UserID    string            `json:"userId"`
	Emoji     string            `json:"emoji,omitempty"`
	Reactions []models.Reaction `json:"reactions"`
}

type seenEvent struct {
	ReaderID   string    `json:"readerId"`
	MessageIDs []string  `json:"messageIds"`
	SeenAt     time.Time `json:"seenAt"`
}

type typingEvent struct {
	UserID string `json:"userId"`
}

// NotifySent delivers a new message to the sender and receiver rooms.
func (srv *Server) NotifySent(m *models.Message, requestID string) {
	srv.emit(m.SenderID, OutMessageSent, requestID, m)
	if m.ReceiverID != m.SenderID {
		srv.emit(m.ReceiverID, OutPrivateMessage, "", m)
	}
}

func (srv *Server) NotifyEdited(m *models.Message) {
	srv.both(m, OutMessageEdited, m)
}

// NotifyDeleted tells both sides about a tombstone, or only the requester
// about a self delete.
func (srv *Server) NotifyDeleted(m *models.Message, scope service.DeleteScope, requester string) {
	if scope == service.ScopeSelf {
		srv.emit(requester, OutMessageDeleted, "", deletedEvent{MessageID: m.ID, DeleteFor: scope})
		return
	}
	srv.both(m, OutMessageDeleted, deletedEvent{MessageID: m.ID, DeleteFor: scope, Message: m})
}

func (srv *Server) NotifyReaction(m *models.Message, userID, emoji string, added bool) {
	typ := OutReactionRemoved
	if added {
		typ = OutReactionAdded
	}
	srv.both(m, typ, reactionEvent{MessageID: m.ID, UserID: userID, Emoji: emoji, Reactions: m.Reactions})
}

// NotifySeen tells the original sender which of its messages were read.
func (srv *Server) NotifySeen(senderID, readerID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	srv.emit(senderID, OutMessagesSeen, "", seenEvent{ReaderID: readerID, MessageIDs: ids, SeenAt: srv.now()})
}

func (srv *Server) both(m *models.Message, typ string, payload any) {
	srv.emit(m.SenderID, typ, "", payload)
	if m.ReceiverID != m.SenderID {
		srv.emit(m.ReceiverID, typ, "", payload)
	}
}
