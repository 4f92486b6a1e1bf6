// Package presence tracks which users hold a live session in this process.
package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Status string

const (
	Online  Status = "online"
	Offline Status = "offline"
)

// Entry is the presence state of one user. Entries outlive disconnects so
// last-seen stays queryable.
type Entry struct {
	UserID   string    `json:"userId"`
	Status   Status    `json:"status"`
	Sessions int       `json:"sessions"`
	LastSeen time.Time `json:"lastSeen"`
}

// Mirror receives presence changes for visibility outside the process.
type Mirror interface {
	SetOnline(ctx context.Context, userID, sessionID string, at time.Time) error
	SetOffline(ctx context.Context, userID, sessionID string, at time.Time, last bool) error
	Close() error
}

// ErrUnknown is returned by lookups for users with no recorded presence.
var ErrUnknown = errors.New("presence: unknown user")

// lookuper is a Mirror that can also answer for users connected to other instances.
type lookuper interface {
	Lookup(ctx context.Context, userID string) (Entry, error)
}

type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	mirror   Mirror
	log      *zap.Logger
	now      func() time.Time
	mirrorTO time.Duration
}

type entry struct {
	sessions map[string]struct{}
	lastSeen time.Time
}

type Option func(*Registry)

func WithMirror(m Mirror) Option { return func(r *Registry) { r.mirror = m } }

func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

func NewRegistry(log *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		entries:  make(map[string]*entry),
		log:      log,
		now:      time.Now,
		mirrorTO: 2 * time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	return r
}

// Connect registers a session and marks the user online. It reports whether
// this is the user's first live session.
func (r *Registry) Connect(userID, sessionID string) bool {
	now := r.now().UTC()
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok {
		e = &entry{sessions: make(map[string]struct{})}
		r.entries[userID] = e
	}
	first := len(e.sessions) == 0
	e.sessions[sessionID] = struct{}{}
	e.lastSeen = now
	r.mu.Unlock()

	if r.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.mirrorTO)
		defer cancel()
		if err := r.mirror.SetOnline(ctx, userID, sessionID, now); err != nil {
			r.log.Warn("presence mirror online failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return first
}

// Disconnect drops a session. It reports whether the user went offline.
func (r *Registry) Disconnect(userID, sessionID string) bool {
	now := r.now().UTC()
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if _, live := e.sessions[sessionID]; !live {
		r.mu.Unlock()
		return false
	}
	delete(e.sessions, sessionID)
	e.lastSeen = now
	last := len(e.sessions) == 0
	r.mu.Unlock()

	if r.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.mirrorTO)
		defer cancel()
		if err := r.mirror.SetOffline(ctx, userID, sessionID, now, last); err != nil {
			r.log.Warn("presence mirror offline failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return last
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[userID]
	return ok && len(e.sessions) > 0
}

// Get returns the entry for userID. Users this process has never seen are
// read from the mirror when it supports lookups; otherwise they read as
// offline with a zero last-seen.
func (r *Registry) Get(userID string) Entry {
	r.mu.RLock()
	e, ok := r.entries[userID]
	if ok {
		st := Offline
		if len(e.sessions) > 0 {
			st = Online
		}
		out := Entry{UserID: userID, Status: st, Sessions: len(e.sessions), LastSeen: e.lastSeen}
		r.mu.RUnlock()
		return out
	}
	r.mu.RUnlock()
	return r.lookup(userID)
}

func (r *Registry) lookup(userID string) Entry {
	unknown := Entry{UserID: userID, Status: Offline}
	l, ok := r.mirror.(lookuper)
	if !ok {
		return unknown
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.mirrorTO)
	defer cancel()
	e, err := l.Lookup(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrUnknown) {
			r.log.Warn("presence mirror lookup failed", zap.String("user_id", userID), zap.Error(err))
		}
		return unknown
	}
	return e
}

func (r *Registry) Close() error {
	if r.mirror != nil {
		return r.mirror.Close()
	}
	return nil
}
