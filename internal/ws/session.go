package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateActive
	StateIdle
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Conn is the part of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Session is one connected client.
type Session struct {
	conn      Conn
	srv       *Server
	userID    string
	sessionID string

	state    atomic.Int32
	lastSeen atomic.Int64 // unix nanos of the last inbound frame

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter
}

func newSession(srv *Server, conn Conn) *Session {
	s := &Session{
		conn: conn,
		srv:  srv,
		send: make(chan []byte, srv.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	if srv.cfg.EventsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(srv.cfg.EventsPerSecond), srv.cfg.EventsPerSecond*2)
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.srv.Log.Debug("session state",
			zap.String("user_id", s.userID),
			zap.String("session_id", s.sessionID),
			zap.Stringer("from", prev),
			zap.Stringer("to", st))
	}
}

func (s *Session) UserID() string { return s.userID }

// Enqueue implements hub.Sink.
func (s *Session) Enqueue(b []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- b:
		return true
	default:
		return false
	}
}

// Kick implements hub.Sink.
func (s *Session) Kick() {
	s.closeOnce.Do(func() { close(s.done) })
}

// touch records inbound activity and wakes an idle session.
func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
	switch s.State() {
	case StateJoined, StateIdle:
		s.setState(StateActive)
	}
}

// checkIdle moves an active session to idle after a quiet period.
func (s *Session) checkIdle(now time.Time) {
	if s.srv.cfg.IdleAfter <= 0 {
		return
	}
	st := s.State()
	if st != StateActive && st != StateJoined {
		return
	}
	if now.Sub(time.Unix(0, s.lastSeen.Load())) >= s.srv.cfg.IdleAfter {
		s.setState(StateIdle)
	}
}

func (s *Session) allow() bool {
	return s.limiter == nil || s.limiter.Allow()
}

func (s *Session) readPump(handle func(data []byte)) {
	cfg := s.srv.cfg
	s.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.srv.Log.Debug("read failed", zap.String("user_id", s.userID), zap.Error(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		s.touch(s.srv.now())
		handle(data)
	}
}

func (s *Session) writePump() {
	cfg := s.srv.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case b := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteDeadline))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				s.Kick()
				return
			}
		case <-ticker.C:
			s.checkIdle(s.srv.now())
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteDeadline)); err != nil {
				s.Kick()
				return
			}
		case <-s.done:
			s.flush()
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

// flush writes whatever is already queued.
func (s *Session) flush() {
	for {
		select {
		case b := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.srv.cfg.WriteDeadline))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		default:
			return
		}
	}
}
