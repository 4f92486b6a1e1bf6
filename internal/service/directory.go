package service

import (
	"context"

	"github.com/fathima-sithara/messaging-service/internal/models"
	"github.com/fathima-sithara/messaging-service/internal/repository"
)

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
)

// DirectoryService derives conversation summaries from stored messages.
type DirectoryService struct {
	store repository.Store
}

func NewDirectoryService(store repository.Store) *DirectoryService {
	return &DirectoryService{store: store}
}

// Recent returns one entry per counterpart, newest conversation first.
func (s *DirectoryService) Recent(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	return s.store.Recent(ctx, userID, limit)
}

// Counterparts lists the users userID recently talked to.
func (s *DirectoryService) Counterparts(ctx context.Context, userID string) ([]string, error) {
	convs, err := s.store.Recent(ctx, userID, MaxRecentLimit)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(convs))
	for _, c := range convs {
		if c.OtherUserID != userID {
			out = append(out, c.OtherUserID)
		}
	}
	return out, nil
}

func (s *DirectoryService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.store.UnreadCount(ctx, userID)
}
