package api

import (
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
	"github.com/fathima-sithara/messaging-service/internal/models"
	"github.com/fathima-sithara/messaging-service/internal/presence"
	"github.com/fathima-sithara/messaging-service/internal/service"
	"github.com/fathima-sithara/messaging-service/internal/storage"
	"github.com/fathima-sithara/messaging-service/internal/validate"
)

// Notifier fans REST writes out to the realtime rooms.
type Notifier interface {
	NotifySent(m *models.Message, requestID string)
	NotifyEdited(m *models.Message)
	NotifyDeleted(m *models.Message, scope service.DeleteScope, requester string)
	NotifyReaction(m *models.Message, userID, emoji string, added bool)
	NotifySeen(senderID, readerID string, ids []string)
}

type PresenceReader interface {
	Get(userID string) presence.Entry
}

type MessageHandler struct {
	msgs     *service.MessageService
	dir      *service.DirectoryService
	presence PresenceReader
	notify   Notifier
}

func NewMessageHandler(msgs *service.MessageService, dir *service.DirectoryService, p PresenceReader, n Notifier) *MessageHandler {
	return &MessageHandler{msgs: msgs, dir: dir, presence: p, notify: n}
}

// parse decodes the JSON body into dst and validates it.
func parse(c *fiber.Ctx, dst any) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(dst); err != nil {
			return apperr.Wrap(apperr.ErrValidation, "invalid request body", err)
		}
	}
	return validate.Struct(dst)
}

func (h *MessageHandler) Conversation(c *fiber.Ctx) error {
	page, err := h.msgs.Conversation(c.UserContext(), callerID(c), c.Params("userId"), c.QueryInt("page", 1), c.QueryInt("limit", service.DefaultPageSize))
	if err != nil {
		return JSONError(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, page)
}

type sendRequest struct {
	ReceiverID string `json:"receiverId" validate:"required,notblank"`
	Message    string `json:"message" validate:"required,notblank"`
	ReplyTo    string `json:"replyTo"`
}

func (h *MessageHandler) Send(c *fiber.Ctx) error {
	var req sendRequest
	if err := parse(c, &req); err != nil {
		return JSONError(c, err)
	}
	m, err := h.msgs.Send(c.UserContext(), callerID(c), req.ReceiverID, models.TextBody{Text: req.Message}, req.ReplyTo)
	if err != nil {
		return JSONError(c, err)
	}
	h.notify.NotifySent(m, "")
	return JSONSuccess(c, fiber.StatusCreated, fiber.Map{"message": m})
}

// Upload accepts multipart fields file, receiverId, message and replyTo.
func (h *MessageHandler) Upload(c *fiber.Ctx) error {
	policy, err := storage.PolicyFor(c.Params("kind"))
	if err != nil {
		return JSONError(c, err)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return JSONError(c, apperr.Validation("file is required"))
	}
	if fh.Size > policy.MaxBytes {
		return JSONError(c, policy.Check(fh.Size, ""))
	}
	f, err := fh.Open()
	if err != nil {
		return JSONError(c, apperr.Internal(err))
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, policy.MaxBytes+1))
	if err != nil {
		return JSONError(c, apperr.Internal(err))
	}

	m, err := h.msgs.Upload(c.UserContext(), callerID(c),
		strings.TrimSpace(c.FormValue("receiverId")),
		policy.Kind, fh.Filename, fh.Header.Get(fiber.HeaderContentType), data,
		c.FormValue("message"), c.FormValue("replyTo"))
	if err != nil {
		return JSONError(c, err)
	}
	h.notify.NotifySent(m, "")
	return JSONSuccess(c, fiber.StatusCreated, fiber.Map{"success": true, "message": m})
}

type editRequest struct {
	NewMessage string `json:"newMessage" validate:"required,notblank"`
}

func (h *MessageHandler) Edit(c *fiber.Ctx) error {
	var req editRequest
	if err := parse(c, &req); err != nil {
		return JSONError(c, err)
	}
	m, err := h.msgs.Edit(c.UserContext(), c.Params("messageId"), callerID(c), req.NewMessage)
	if err != nil {
		return JSONError(c, err)
	}
	h.notify.NotifyEdited(m)
	return JSONSuccess(c, fiber.StatusOK, m)
}

type deleteRequest struct {
	DeleteFor string `json:"deleteFor" validate:"required,oneof=self everyone"`
}

func (h *MessageHandler) Delete(c *fiber.Ctx) error {
	var req deleteRequest
	if err := parse(c, &req); err != nil {
		return JSONError(c, err)
	}
	scope := service.DeleteScope(req.DeleteFor)
	m, err := h.msgs.Delete(c.UserContext(), c.Params("messageId"), callerID(c), scope)
	if err != nil {
		return JSONError(c, err)
	}
	h.notify.NotifyDeleted(m, scope, callerID(c))
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"success": true, "deletedFor": scope, "messageId": m.ID})
}

type reactRequest struct {
	Emoji string `json:"emoji" validate:"required,notblank"`
}

func (h *MessageHandler) AddReaction(c *fiber.Ctx) error {
	var req reactRequest
	if err := parse(c, &req); err != nil {
		return JSONError(c, err)
	}
	m, err := h.msgs.AddReaction(c.UserContext(), c.Params("messageId"), callerID(c), req.Emoji)
	if err != nil {
		return JSONError(c, err)
	}
	h.notify.NotifyReaction(m, callerID(c), req.Emoji, true)
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"messageId": m.ID, "reactions": m.Reactions})
}

func (h *MessageHandler) RemoveReaction(c *fiber.Ctx) error {
	m, err := h.msgs.RemoveReaction(c.UserContext(), c.Params("messageId"), callerID(c))
	if err != nil {
		return JSONError(c, err)
	}
	h.notify.NotifyReaction(m, callerID(c), "", false)
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"messageId": m.ID, "reactions": m.Reactions})
}

type seenRequest struct {
	MessageIDs []string `json:"messageIds"`
}

// MarkSeen marks inbound messages from :userId as seen, optionally limited to messageIds.
func (h *MessageHandler) MarkSeen(c *fiber.Ctx) error {
	var req seenRequest
	if err := parse(c, &req); err != nil {
		return JSONError(c, err)
	}
	from := c.Params("userId")
	ids, err := h.msgs.MarkSeen(c.UserContext(), callerID(c), from, req.MessageIDs)
	if err != nil {
		return JSONError(c, err)
	}
	h.notify.NotifySeen(from, callerID(c), ids)
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"count": len(ids), "messageIds": ids})
}

func (h *MessageHandler) UnreadCount(c *fiber.Ctx) error {
	n, err := h.dir.UnreadCount(c.UserContext(), callerID(c))
	if err != nil {
		return JSONError(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"unreadCount": n})
}

func (h *MessageHandler) Recent(c *fiber.Ctx) error {
	convs, err := h.dir.Recent(c.UserContext(), callerID(c), c.QueryInt("limit", service.DefaultRecentLimit))
	if err != nil {
		return JSONError(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"conversations": convs})
}

func (h *MessageHandler) Search(c *fiber.Ctx) error {
	page, err := h.msgs.Search(c.UserContext(), callerID(c), c.Query("userId"), c.Query("query"), c.QueryInt("page", 1))
	if err != nil {
		return JSONError(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, page)
}

type forwardRequest struct {
	ReceiverIDs []string `json:"receiverIds" validate:"required,min=1,max=20"`
}

func (h *MessageHandler) Forward(c *fiber.Ctx) error {
	var req forwardRequest
	if err := parse(c, &req); err != nil {
		return JSONError(c, err)
	}
	copies, err := h.msgs.Forward(c.UserContext(), callerID(c), c.Params("messageId"), req.ReceiverIDs)
	for _, m := range copies {
		h.notify.NotifySent(m, "")
	}
	if err != nil {
		return JSONError(c, err)
	}
	return JSONSuccess(c, fiber.StatusCreated, fiber.Map{"messages": copies})
}

func (h *MessageHandler) Status(c *fiber.Ctx) error {
	st, err := h.msgs.Status(c.UserContext(), callerID(c), c.Params("messageId"))
	if err != nil {
		return JSONError(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, st)
}

func (h *MessageHandler) Message(c *fiber.Ctx) error {
	m, err := h.msgs.Get(c.UserContext(), callerID(c), c.Params("messageId"))
	if err != nil {
		return JSONError(c, err)
	}
	return JSONSuccess(c, fiber.StatusOK, m)
}

// ContactsPresence reports presence for the caller's recent counterparts.
func (h *MessageHandler) ContactsPresence(c *fiber.Ctx) error {
	convs, err := h.dir.Recent(c.UserContext(), callerID(c), c.QueryInt("limit", service.DefaultRecentLimit))
	if err != nil {
		return JSONError(c, err)
	}
	out := make([]presence.Entry, 0, len(convs))
	for _, cv := range convs {
		out = append(out, h.presence.Get(cv.OtherUserID))
	}
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"contacts": out})
}

func (h *MessageHandler) Presence(c *fiber.Ctx) error {
	e := h.presence.Get(c.Params("userId"))
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"userId": e.UserID, "status": e.Status, "lastSeen": e.LastSeen})
}
