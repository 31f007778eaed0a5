package storage

import (
	"context"
	"time"

	"github.com/xaenox/replydesk/internal/models"
)

// AssignmentStore persists claims. Implementations must make Claim an atomic
// check-then-write on the (thread, message) key.
type AssignmentStore interface {
	// Claim writes a when the slot is empty, released, or already held by
	// a.AssignedTo. It reports false with the blocking claim otherwise.
	Claim(ctx context.Context, a models.Assignment) (models.Assignment, bool, error)
	// Replace writes a unconditionally and returns the claim it displaced.
	Replace(ctx context.Context, a models.Assignment) (*models.Assignment, error)
	Release(ctx context.Context, key models.Key) error
	Get(ctx context.Context, key models.Key) (*models.Assignment, error)
	ActiveByThread(ctx context.Context, threadID string) ([]models.Assignment, error)
	// DeleteOlderThan drops every claim assigned before cutoff, active or not.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, threadID string, limit int) ([]*models.Message, error)
}

type Storage interface {
	AssignmentStore
	MessageStore
	Close() error
}
