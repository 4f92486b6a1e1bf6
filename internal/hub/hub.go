// Package hub keeps one delivery room per user; every live session of that
// user is a member.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/metrics"
)

// Sink is one session's outbound queue.
type Sink interface {
	// Enqueue must not block; it returns false when the queue is full or closed.
	Enqueue(b []byte) bool
	// Kick asks the session to terminate.
	Kick()
}

type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Sink
	log   *zap.Logger
	m     *metrics.Metrics
}

func New(log *zap.Logger, m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Hub{rooms: make(map[string]map[string]Sink), log: log, m: m}
}

// Join adds sink to the user's room and returns the new session id.
func (h *Hub) Join(userID string, sink Sink) string {
	id := uuid.NewString()
	h.mu.Lock()
	room, ok := h.rooms[userID]
	if !ok {
		room = make(map[string]Sink)
		h.rooms[userID] = room
	}
	room[id] = sink
	h.mu.Unlock()
	h.m.Sessions.Inc()
	return id
}

// Leave removes a session; it reports whether the session was present.
func (h *Hub) Leave(userID, sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[userID]
	if !ok {
		return false
	}
	if _, ok := room[sessionID]; !ok {
		return false
	}
	delete(room, sessionID)
	if len(room) == 0 {
		delete(h.rooms, userID)
	}
	h.m.Sessions.Dec()
	return true
}

// Emit marshals v once and delivers it to every session of userID. Sessions
// that cannot take the event are removed and kicked. It returns the number of
// sessions that accepted the event.
func (h *Hub) Emit(userID string, v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.Error("marshal event", zap.String("user_id", userID), zap.Error(err))
		return 0
	}
	return h.deliver(userID, b)
}

func (h *Hub) deliver(userID string, b []byte) int {
	h.mu.RLock()
	room := h.rooms[userID]
	targets := make(map[string]Sink, len(room))
	for id, s := range room {
		targets[id] = s
	}
	h.mu.RUnlock()

	delivered := 0
	var failed []string
	for id, s := range targets {
		if s.Enqueue(b) {
			delivered++
			continue
		}
		failed = append(failed, id)
		h.m.DroppedDeliveries.Inc()
		h.log.Warn("dropping slow session", zap.String("user_id", userID), zap.String("session_id", id))
		s.Kick()
	}
	for _, id := range failed {
		h.Leave(userID, id)
	}
	return delivered
}

func (h *Hub) sessions(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}

// KickAll asks every session to terminate.
func (h *Hub) KickAll() {
	h.mu.RLock()
	var all []Sink
	for _, room := range h.rooms {
		for _, s := range room {
			all = append(all, s)
		}
	}
	h.mu.RUnlock()
	for _, s := range all {
		s.Kick()
	}
}
