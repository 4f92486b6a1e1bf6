package ws

import (
	"context"
	"encoding/json"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
	"github.com/fathima-sithara/messaging-service/internal/service"
	"github.com/fathima-sithara/messaging-service/internal/validate"
)

// decode unmarshals and validates an event payload.
func decode(env Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return validate.Struct(dst)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return apperr.Wrap(apperr.ErrValidation, "malformed payload", err)
	}
	return validate.Struct(dst)
}

func (srv *Server) ack(s *Session, env Envelope, data any) {
	srv.reply(s, OutAck, env.RequestID, AckPayload{Event: env.Type, Data: data})
}

func (srv *Server) onSendMessage(ctx context.Context, s *Session, env Envelope) error {
	var p sendPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	body, err := p.body()
	if err != nil {
		return err
	}
	m, err := srv.Messages.Send(ctx, s.userID, p.ReceiverID, body, p.ReplyTo)
	if err != nil {
		return err
	}
	srv.NotifySent(m, env.RequestID)
	srv.ack(s, env, map[string]string{"messageId": m.ID})
	return nil
}

func (srv *Server) onEditMessage(ctx context.Context, s *Session, env Envelope) error {
	var p editPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	m, err := srv.Messages.Edit(ctx, p.MessageID, s.userID, p.NewMessage)
	if err != nil {
		return err
	}
	srv.NotifyEdited(m)
	srv.ack(s, env, map[string]string{"messageId": m.ID})
	return nil
}

func (srv *Server) onDeleteMessage(ctx context.Context, s *Session, env Envelope) error {
	var p deletePayload
	if err := decode(env, &p); err != nil {
		return err
	}
	scope := service.DeleteScope(p.DeleteFor)
	m, err := srv.Messages.Delete(ctx, p.MessageID, s.userID, scope)
	if err != nil {
		return err
	}
	srv.NotifyDeleted(m, scope, s.userID)
	srv.ack(s, env, map[string]string{"messageId": m.ID, "deleteFor": p.DeleteFor})
	return nil
}

func (srv *Server) onAddReaction(ctx context.Context, s *Session, env Envelope) error {
	var p reactionPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	m, err := srv.Messages.AddReaction(ctx, p.MessageID, s.userID, p.Emoji)
	if err != nil {
		return err
	}
	srv.NotifyReaction(m, s.userID, p.Emoji, true)
	srv.ack(s, env, map[string]string{"messageId": m.ID})
	return nil
}

func (srv *Server) onRemoveReaction(ctx context.Context, s *Session, env Envelope) error {
	var p reactionPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	m, err := srv.Messages.RemoveReaction(ctx, p.MessageID, s.userID)
	if err != nil {
		return err
	}
	srv.NotifyReaction(m, s.userID, "", false)
	srv.ack(s, env, map[string]string{"messageId": m.ID})
	return nil
}

func (srv *Server) onSeen(ctx context.Context, s *Session, env Envelope) error {
	var p seenPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	ids, err := srv.Messages.MarkSeen(ctx, s.userID, p.UserID, p.MessageIDs)
	if err != nil {
		return err
	}
	srv.NotifySeen(p.UserID, s.userID, ids)
	srv.ack(s, env, map[string]any{"count": len(ids), "messageIds": ids})
	return nil
}

// onTyping relays typing and stop-typing to the target only.
func (srv *Server) onTyping(_ context.Context, s *Session, env Envelope) error {
	var p typingPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	if p.ReceiverID == s.userID {
		return nil
	}
	srv.emit(p.ReceiverID, env.Type, "", typingEvent{UserID: s.userID})
	return nil
}

func (srv *Server) onFetchMessages(ctx context.Context, s *Session, env Envelope) error {
	var p fetchPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	page, err := srv.Messages.Conversation(ctx, s.userID, p.UserID, p.Page, p.Limit)
	if err != nil {
		return err
	}
	srv.reply(s, OutOldMessages, env.RequestID, page)
	return nil
}

func (srv *Server) onSearchMessages(ctx context.Context, s *Session, env Envelope) error {
	var p searchPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	page, err := srv.Messages.Search(ctx, s.userID, p.UserID, p.Query, p.Page)
	if err != nil {
		return err
	}
	srv.reply(s, OutSearchResults, env.RequestID, page)
	return nil
}

func (srv *Server) onForwardMessage(ctx context.Context, s *Session, env Envelope) error {
	var p forwardPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	copies, err := srv.Messages.Forward(ctx, s.userID, p.MessageID, p.ReceiverIDs)
	for _, m := range copies {
		srv.NotifySent(m, env.RequestID)
	}
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(copies))
	for _, m := range copies {
		ids = append(ids, m.ID)
	}
	srv.ack(s, env, map[string]any{"messageIds": ids})
	return nil
}

func (srv *Server) onPresence(_ context.Context, s *Session, env Envelope) error {
	var p presencePayload
	if err := decode(env, &p); err != nil {
		return err
	}
	srv.reply(s, OutPresence, env.RequestID, srv.Presence.Get(p.UserID))
	return nil
}
