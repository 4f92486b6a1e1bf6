package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
	"github.com/fathima-sithara/messaging-service/internal/models"
)

// MemoryStore is a process-local Store used by tests and local runs without Mongo.
type MemoryStore struct {
	mu   sync.Mutex
	msgs map[string]*models.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{msgs: make(map[string]*models.Message)}
}

func (s *MemoryStore) Insert(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp(m)
	s.msgs[m.ID] = m.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, apperr.NotFound("message not found")
	}
	return m.Clone(), nil
}

// mutate applies fn to the stored message under the lock.
func (s *MemoryStore) mutate(id string, fn func(m *models.Message) error) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, apperr.NotFound("message not found")
	}
	work := m.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	s.msgs[id] = work
	return work.Clone(), nil
}

func (s *MemoryStore) Edit(_ context.Context, id string, version int64, text, original string, at time.Time) (*models.Message, error) {
	return s.mutate(id, func(m *models.Message) error {
		if m.Version != version || m.Deleted {
			return apperr.Conflict("message changed, reload and retry")
		}
		if original != "" {
			m.OriginalMessage = original
		}
		m.Text = text
		m.Edited = true
		m.EditedAt = &at
		m.UpdatedAt = at
		m.Version++
		return nil
	})
}

func (s *MemoryStore) Tombstone(_ context.Context, id string, version int64, at time.Time) (*models.Message, error) {
	return s.mutate(id, func(m *models.Message) error {
		if m.Version != version {
			return apperr.Conflict("message changed, reload and retry")
		}
		m.Tombstone(at)
		m.Version++
		return nil
	})
}

func (s *MemoryStore) DeleteFor(_ context.Context, id, userID string, at time.Time) (*models.Message, error) {
	return s.mutate(id, func(m *models.Message) error {
		if m.DeletedForUser(userID) {
			return nil
		}
		m.DeletedFor = append(m.DeletedFor, models.DeletionMark{UserID: userID, DeletedAt: at})
		m.UpdatedAt = at
		return nil
	})
}

func (s *MemoryStore) SetReaction(_ context.Context, id string, r models.Reaction) (*models.Message, error) {
	return s.mutate(id, func(m *models.Message) error {
		if m.Deleted {
			return apperr.InvalidState("message was deleted")
		}
		m.SetReaction(r)
		m.UpdatedAt = r.CreatedAt
		return nil
	})
}

func (s *MemoryStore) RemoveReaction(_ context.Context, id, userID string) (*models.Message, error) {
	return s.mutate(id, func(m *models.Message) error {
		m.RemoveReaction(userID)
		return nil
	})
}

func (s *MemoryStore) MarkSeen(_ context.Context, reader, sender string, ids []string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	found := []string{}
	for _, m := range s.sorted(func(m *models.Message) bool {
		return m.ReceiverID == reader && m.SenderID == sender && !m.Seen && (len(ids) == 0 || want[m.ID])
	}, false) {
		m.Seen = true
		m.SeenAt = &at
		if !m.Delivered || m.DeliveredAt == nil {
			m.DeliveredAt = &at
		}
		m.Delivered = true
		m.UpdatedAt = at
		found = append(found, m.ID)
	}
	return found, nil
}

func (s *MemoryStore) MarkDelivered(_ context.Context, receiver string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.msgs {
		if m.ReceiverID == receiver && !m.Delivered {
			m.Delivered = true
			m.DeliveredAt = &at
			m.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

// sorted returns live pointers matching keep, newest first unless asc is set.
// Callers must hold the lock.
func (s *MemoryStore) sorted(keep func(m *models.Message) bool, asc bool) []*models.Message {
	out := make([]*models.Message, 0)
	for _, m := range s.msgs {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if asc {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if asc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
	return out
}

func (s *MemoryStore) page(keep func(m *models.Message) bool, skip, limit int) ([]*models.Message, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sorted(keep, false)
	total := int64(len(all))
	if skip > len(all) {
		skip = len(all)
	}
	end := skip + limit
	if end > len(all) {
		end = len(all)
	}
	out := make([]*models.Message, 0, end-skip)
	for _, m := range all[skip:end] {
		out = append(out, m.Clone())
	}
	return out, total
}

func inPair(m *models.Message, a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

func (s *MemoryStore) Conversation(_ context.Context, caller, other string, skip, limit int) ([]*models.Message, int64, error) {
	out, total := s.page(func(m *models.Message) bool {
		return inPair(m, caller, other) && !m.DeletedForUser(caller)
	}, skip, limit)
	return out, total, nil
}

func (s *MemoryStore) Search(_ context.Context, caller, other, query string, skip, limit int) ([]*models.Message, int64, error) {
	q := strings.ToLower(query)
	out, total := s.page(func(m *models.Message) bool {
		if other != "" && !inPair(m, caller, other) {
			return false
		}
		if other == "" && !m.IsParticipant(caller) {
			return false
		}
		return !m.Deleted && !m.DeletedForUser(caller) && strings.Contains(strings.ToLower(m.Text), q)
	}, skip, limit)
	return out, total, nil
}

func (s *MemoryStore) Recent(_ context.Context, userID string, limit int) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := map[string]int{}
	convs := []models.Conversation{}
	for _, m := range s.sorted(func(m *models.Message) bool {
		return m.IsParticipant(userID) && !m.DeletedForUser(userID)
	}, false) {
		other := m.Counterpart(userID)
		i, ok := index[other]
		if !ok {
			i = len(convs)
			index[other] = i
			convs = append(convs, models.Conversation{OtherUserID: other, LastMessage: m.Clone()})
		}
		if m.ReceiverID == userID && !m.Seen && !m.Deleted {
			convs[i].UnreadCount++
		}
	}
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i].LastMessage, convs[j].LastMessage
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

func (s *MemoryStore) UnreadCount(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.msgs {
		if m.ReceiverID == userID && !m.Seen && !m.Deleted && !m.DeletedForUser(userID) {
			n++
		}
	}
	return n, nil
}
