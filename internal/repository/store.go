package repository

import (
	"context"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/models"
)

// Store persists messages. Every mutation is atomic on a single document.
//
// Edit and Tombstone are conditional on the version the caller read; a
// mismatch returns apperr.ErrConflict. Missing documents return apperr.ErrNotFound.
type Store interface {
	Insert(ctx context.Context, m *models.Message) error
	Get(ctx context.Context, id string) (*models.Message, error)

	Edit(ctx context.Context, id string, version int64, text, original string, at time.Time) (*models.Message, error)
	Tombstone(ctx context.Context, id string, version int64, at time.Time) (*models.Message, error)
	DeleteFor(ctx context.Context, id, userID string, at time.Time) (*models.Message, error)

	SetReaction(ctx context.Context, id string, r models.Reaction) (*models.Message, error)
	RemoveReaction(ctx context.Context, id, userID string) (*models.Message, error)

	MarkSeen(ctx context.Context, reader, sender string, ids []string, at time.Time) ([]string, error)
	MarkDelivered(ctx context.Context, receiver string, at time.Time) (int64, error)

	// Conversation returns messages between caller and other, newest first,
	// skipping those the caller deleted for themselves.
	Conversation(ctx context.Context, caller, other string, skip, limit int) ([]*models.Message, int64, error)
	// Search matches text case-insensitively as a literal substring. An empty
	// other searches every conversation of the caller.
	Search(ctx context.Context, caller, other, query string, skip, limit int) ([]*models.Message, int64, error)

	Recent(ctx context.Context, userID string, limit int) ([]models.Conversation, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}
