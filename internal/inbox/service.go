package inbox

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/xaenox/replydesk/internal/collision"
	"github.com/xaenox/replydesk/internal/models"
	"github.com/xaenox/replydesk/internal/registry"
	"github.com/xaenox/replydesk/internal/storage"
	"go.uber.org/zap"
)

var (
	ErrReplyBlocked = errors.New("reply blocked: conversation is handled by someone else")
	ErrEmptyReply   = errors.New("reply body is empty")
)

// BlockedError names the staff member whose claim stopped a reply.
type BlockedError struct {
	ThreadID string
	Holder   string
}

func (e *BlockedError) Error() string {
	return ErrReplyBlocked.Error() + " (" + e.Holder + ")"
}

func (e *BlockedError) Is(target error) bool { return target == ErrReplyBlocked }

// Service sends staff replies. Every reply must pass the auto-assign gate
// before anything is stored.
type Service struct {
	claims   *collision.Service
	messages storage.MessageStore
	logger   *zap.Logger
	clock    registry.Clock
	newID    func() string
}

type Option func(*Service)

// WithClock stamps replies with c. Pass the registry's clock so claims and
// replies share one time source.
func WithClock(c registry.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func NewService(claims *collision.Service, messages storage.MessageStore, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		claims:   claims,
		messages: messages,
		logger:   logger,
		clock:    registry.SystemClock(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ReplyInput struct {
	ThreadID string
	// ReplyTo is the guest message being answered. When empty a synthetic
	// id is generated, so the claim only guards this one reply.
	ReplyTo string
	Body    string
}

// SendReply passes the reply gate for the current user and appends the reply.
// The gate blocks when someone else holds the thread or the answered message;
// a blocked send stores nothing.
func (s *Service) SendReply(ctx context.Context, in ReplyInput) (*models.Message, error) {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, ErrEmptyReply
	}

	replyTo := in.ReplyTo
	if replyTo == "" {
		replyTo = s.newID()
	}
	log := s.logger.With(
		zap.String("thread_id", in.ThreadID),
		zap.String("reply_to", replyTo),
	)

	res, err := s.claims.ClaimForReply(ctx, in.ThreadID, replyTo)
	if err != nil {
		log.Error("failed to claim reply", zap.Error(err))
		return nil, err
	}
	if !res.Assigned {
		log.Info("reply blocked", zap.String("holder", res.Current.AssignedTo))
		return nil, &BlockedError{ThreadID: in.ThreadID, Holder: res.Current.AssignedTo}
	}

	msg := &models.Message{
		ID:        s.newID(),
		ThreadID:  in.ThreadID,
		AuthorID:  res.Current.AssignedTo,
		Body:      body,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.messages.AppendMessage(ctx, msg); err != nil {
		log.Error("failed to append reply", zap.Error(err))
		return nil, err
	}

	log.Info("reply sent", zap.String("message_id", msg.ID), zap.String("author_id", msg.AuthorID))
	return msg, nil
}

// Messages returns the last limit replies of the thread, oldest first.
func (s *Service) Messages(ctx context.Context, threadID string, limit int) ([]*models.Message, error) {
	return s.messages.ListMessages(ctx, threadID, limit)
}
