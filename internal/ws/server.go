// Package ws runs the realtime session protocol over websocket connections.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
	"github.com/fathima-sithara/messaging-service/internal/auth"
	"github.com/fathima-sithara/messaging-service/internal/hub"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
	"github.com/fathima-sithara/messaging-service/internal/presence"
	"github.com/fathima-sithara/messaging-service/internal/service"
)

type Config struct {
	PingInterval    time.Duration
	WriteDeadline   time.Duration
	PongWait        time.Duration
	IdleAfter       time.Duration
	MaxMessageSize  int64
	SendBuffer      int
	EventsPerSecond int
	EventTimeout    time.Duration
}

func (c *Config) fill() {
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.WriteDeadline <= 0 {
		c.WriteDeadline = 10 * time.Second
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = 2 * c.PingInterval
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.EventTimeout <= 0 {
		c.EventTimeout = 15 * time.Second
	}
}

type Deps struct {
	Messages  *service.MessageService
	Directory *service.DirectoryService
	Presence  *presence.Registry
	Hub       *hub.Hub
	Verifier  auth.Verifier
	Log       *zap.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

type handlerFunc func(ctx context.Context, s *Session, env Envelope) error

type Server struct {
	Deps
	cfg      Config
	handlers map[string]handlerFunc
}

func NewServer(d Deps, cfg Config) *Server {
	cfg.fill()
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New(nil)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	srv := &Server{Deps: d, cfg: cfg}
	srv.handlers = map[string]handlerFunc{
		EvSendMessage:    srv.onSendMessage,
		EvEditMessage:    srv.onEditMessage,
		EvDeleteMessage:  srv.onDeleteMessage,
		EvAddReaction:    srv.onAddReaction,
		EvRemoveReaction: srv.onRemoveReaction,
		EvSeen:           srv.onSeen,
		EvTyping:         srv.onTyping,
		EvStopTyping:     srv.onTyping,
		EvFetchMessages:  srv.onFetchMessages,
		EvSearchMessages: srv.onSearchMessages,
		EvForwardMessage: srv.onForwardMessage,
		EvPresence:       srv.onPresence,
	}
	return srv
}

func (srv *Server) now() time.Time { return srv.Now().UTC() }

// Serve runs one session until the client goes away or is kicked. It blocks.
func (srv *Server) Serve(conn Conn, token string) {
	s := newSession(srv, conn)

	userID, err := srv.Verifier.Verify(token)
	if err != nil {
		srv.rejectHandshake(conn, err)
		s.setState(StateDisconnected)
		return
	}
	s.userID = userID
	s.setState(StateAuthenticated)

	srv.join(s)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump()
	}()

	s.readPump(func(data []byte) { srv.dispatch(s, data) })

	s.Kick()
	<-writerDone
	srv.leave(s)
}

func (srv *Server) rejectHandshake(conn Conn, err error) {
	if !errors.Is(err, apperr.ErrUnauthenticated) {
		err = apperr.Wrap(apperr.ErrUnauthenticated, "invalid token", err)
	}
	b, _ := json.Marshal(Outbound{
		Type:    OutError,
		Payload: ErrorPayload{Code: apperr.Code(err), Message: apperr.Message(err)},
		At:      srv.now(),
	})
	_ = conn.SetWriteDeadline(time.Now().Add(srv.cfg.WriteDeadline))
	_ = conn.WriteMessage(websocket.TextMessage, b)
	_ = conn.Close()
	srv.Metrics.Events.WithLabelValues("handshake", "rejected").Inc()
}

// join registers the session, flips pending inbound messages to delivered
// and tells recent counterparts the user came online.
func (srv *Server) join(s *Session) {
	s.sessionID = srv.Hub.Join(s.userID, s)
	first := srv.Presence.Connect(s.userID, s.sessionID)
	s.lastSeen.Store(srv.now().UnixNano())
	s.setState(StateJoined)

	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.EventTimeout)
	defer cancel()
	if n, err := srv.Messages.MarkDelivered(ctx, s.userID); err != nil {
		srv.Log.Warn("mark delivered failed", zap.String("user_id", s.userID), zap.Error(err))
	} else if n > 0 {
		srv.Log.Debug("messages delivered on join", zap.String("user_id", s.userID), zap.Int64("count", n))
	}
	if first {
		srv.broadcastPresence(ctx, s.userID, OutUserOnline)
	}
	srv.Log.Info("session joined", zap.String("user_id", s.userID), zap.String("session_id", s.sessionID))
}

func (srv *Server) leave(s *Session) {
	srv.Hub.Leave(s.userID, s.sessionID)
	last := srv.Presence.Disconnect(s.userID, s.sessionID)
	s.setState(StateDisconnected)
	if last {
		ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.EventTimeout)
		defer cancel()
		srv.broadcastPresence(ctx, s.userID, OutUserOffline)
	}
	srv.Log.Info("session closed", zap.String("user_id", s.userID), zap.String("session_id", s.sessionID))
}

func (srv *Server) broadcastPresence(ctx context.Context, userID, typ string) {
	peers, err := srv.Directory.Counterparts(ctx, userID)
	if err != nil {
		srv.Log.Warn("presence broadcast skipped", zap.String("user_id", userID), zap.Error(err))
		return
	}
	entry := srv.Presence.Get(userID)
	for _, p := range peers {
		srv.emit(p, typ, "", entry)
	}
}

// dispatch handles one inbound frame. Failures are reported to the issuing
// session and never end it.
func (srv *Server) dispatch(s *Session, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		srv.fail(s, Envelope{}, apperr.Validation("malformed event"))
		return
	}
	h, ok := srv.handlers[env.Type]
	if !ok {
		srv.fail(s, env, apperr.Validation("unknown event "+env.Type))
		return
	}
	if !s.allow() {
		srv.fail(s, env, apperr.New(apperr.ErrRateLimited, "too many events"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.EventTimeout)
	defer cancel()
	if err := h(ctx, s, env); err != nil {
		srv.fail(s, env, err)
		return
	}
	srv.Metrics.Events.WithLabelValues(env.Type, "ok").Inc()
}

func (srv *Server) fail(s *Session, env Envelope, err error) {
	event := env.Type
	if event == "" {
		event = "unknown"
	}
	if apperr.KindOf(err) == apperr.ErrInternal {
		srv.Log.Error("event failed", zap.String("event", event), zap.String("user_id", s.userID), zap.Error(err))
	} else {
		srv.Log.Debug("event rejected", zap.String("event", event), zap.String("user_id", s.userID), zap.Error(err))
	}
	if _, known := srv.handlers[event]; !known {
		event = "unknown"
	}
	srv.Metrics.Events.WithLabelValues(event, apperr.Code(err)).Inc()
	srv.reply(s, OutError, env.RequestID, ErrorPayload{
		Code:      apperr.Code(err),
		Message:   apperr.Message(err),
		Event:     env.Type,
		RequestID: env.RequestID,
		Fields:    apperr.Fields(err),
	})
}

func (srv *Server) frame(typ, requestID string, payload any) []byte {
	b, err := json.Marshal(Outbound{Type: typ, RequestID: requestID, Payload: payload, At: srv.now()})
	if err != nil {
		srv.Log.Error("marshal outbound", zap.String("type", typ), zap.Error(err))
		return nil
	}
	return b
}

// reply sends to the issuing session only.
func (srv *Server) reply(s *Session, typ, requestID string, payload any) {
	b := srv.frame(typ, requestID, payload)
	if b == nil {
		return
	}
	if !s.Enqueue(b) {
		srv.Metrics.DroppedDeliveries.Inc()
		srv.Log.Warn("reply dropped", zap.String("user_id", s.userID), zap.String("type", typ))
	}
}

// emit sends to every session of userID.
func (srv *Server) emit(userID, typ, requestID string, payload any) {
	srv.Hub.Emit(userID, Outbound{Type: typ, RequestID: requestID, Payload: payload, At: srv.now()})
}

// Shutdown ends every live session.
func (srv *Server) Shutdown() { srv.Hub.KickAll() }
