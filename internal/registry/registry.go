// Package registry arbitrates which staff member is the active responder on a
// conversation. A claim is keyed by (thread, message); at most one active
// claim exists per key, and claims older than the expiry window are dropped
// by the sweep.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/replydesk/internal/models"
	"github.com/xaenox/replydesk/internal/storage"
	"go.uber.org/zap"
)

const (
	DefaultExpiry        = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

var (
	ErrInvalidKey  = errors.New("thread id and message id are required")
	ErrInvalidUser = errors.New("user id is required")
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

type Registry struct {
	store  storage.AssignmentStore
	clock  Clock
	expiry time.Duration
	logger *zap.Logger
}

type Option func(*Registry)

func WithClock(c Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithExpiry sets how long a claim lives before the sweep drops it.
func WithExpiry(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.expiry = d
		}
	}
}

func New(store storage.AssignmentStore, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		clock:  SystemClock(),
		expiry: DefaultExpiry,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Expiry() time.Duration { return r.expiry }

func (r *Registry) newAssignment(key models.Key, userID string) models.Assignment {
	return models.Assignment{
		ID:         uuid.NewString(),
		ThreadID:   key.ThreadID,
		MessageID:  key.MessageID,
		AssignedTo: userID,
		AssignedAt: r.clock.Now().UTC(),
		IsActive:   true,
	}
}

func validate(key models.Key, userID string) error {
	if !key.Valid() {
		return ErrInvalidKey
	}
	if userID == "" {
		return ErrInvalidUser
	}
	return nil
}

// Assign claims the key for userID. It succeeds when the key is free, was
// released, or is already held by userID (which refreshes AssignedAt). A
// claim held by someone else is left untouched and reported in Current with
// Assigned=false; that is an outcome, not an error.
func (r *Registry) Assign(ctx context.Context, threadID, messageID, userID string) (models.AssignResult, error) {
	key := models.Key{ThreadID: threadID, MessageID: messageID}
	if err := validate(key, userID); err != nil {
		return models.AssignResult{}, err
	}

	stored, ok, err := r.store.Claim(ctx, r.newAssignment(key, userID))
	if err != nil {
		return models.AssignResult{}, fmt.Errorf("assign %s: %w", key, err)
	}

	if ok {
		r.logger.Debug("claim created",
			zap.String("thread_id", threadID),
			zap.String("message_id", messageID),
			zap.String("user_id", userID))
	} else {
		r.logger.Debug("claim rejected",
			zap.String("thread_id", threadID),
			zap.String("message_id", messageID),
			zap.String("user_id", userID),
			zap.String("holder", stored.AssignedTo))
	}
	return models.AssignResult{Assigned: ok, Current: stored}, nil
}

// TakeOver replaces whatever claim is on the key with one for userID.
func (r *Registry) TakeOver(ctx context.Context, threadID, messageID, userID string) (models.AssignResult, error) {
	key := models.Key{ThreadID: threadID, MessageID: messageID}
	if err := validate(key, userID); err != nil {
		return models.AssignResult{}, err
	}

	a := r.newAssignment(key, userID)
	previous, err := r.store.Replace(ctx, a)
	if err != nil {
		return models.AssignResult{}, fmt.Errorf("take over %s: %w", key, err)
	}
	if previous != nil && !previous.IsActive {
		previous = nil
	}

	fields := []zap.Field{
		zap.String("thread_id", threadID),
		zap.String("message_id", messageID),
		zap.String("user_id", userID),
	}
	if previous != nil {
		fields = append(fields, zap.String("previous_holder", previous.AssignedTo))
	}
	r.logger.Debug("claim taken over", fields...)

	return models.AssignResult{Assigned: true, Current: a, Previous: previous}, nil
}

// Release marks the claim inactive. Missing or already released keys are a no-op.
func (r *Registry) Release(ctx context.Context, threadID, messageID string) error {
	key := models.Key{ThreadID: threadID, MessageID: messageID}
	if !key.Valid() {
		return ErrInvalidKey
	}
	if err := r.store.Release(ctx, key); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// Status reports the thread's active claim as seen by viewer. When several
// messages of the thread are claimed, the most recent claim wins, ties going
// to the smallest message id.
func (r *Registry) Status(ctx context.Context, threadID, viewer string) (models.Status, error) {
	if threadID == "" {
		return models.Status{}, ErrInvalidKey
	}

	active, err := r.store.ActiveByThread(ctx, threadID)
	if err != nil {
		return models.Status{}, fmt.Errorf("status %s: %w", threadID, err)
	}

	current, ok := pick(active)
	if !ok {
		return models.Status{}, nil
	}

	at := current.AssignedAt
	return models.Status{
		IsAssigned:  true,
		AssignedTo:  current.AssignedTo,
		AssignedAt:  &at,
		MessageID:   current.MessageID,
		CanTakeOver: current.AssignedTo != viewer,
	}, nil
}

func pick(active []models.Assignment) (models.Assignment, bool) {
	var (
		best  models.Assignment
		found bool
	)
	for _, a := range active {
		if !a.IsActive {
			continue
		}
		if !found ||
			a.AssignedAt.After(best.AssignedAt) ||
			(a.AssignedAt.Equal(best.AssignedAt) && a.MessageID < best.MessageID) {
			best, found = a, true
		}
	}
	return best, found
}

// Sweep drops every claim, active or released, whose AssignedAt is older than
// the expiry window. It is idempotent and silent.
func (r *Registry) Sweep(ctx context.Context) (int64, error) {
	cutoff := r.clock.Now().UTC().Add(-r.expiry)
	removed, err := r.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	return removed, nil
}
