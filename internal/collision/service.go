// Package collision applies the inbox's claim policies on top of the
// registry: who may reply, explicit "assign to me" and "take over", and the
// auto-assign gate in front of every reply. It also turns registry outcomes
// into notifications, which the registry itself never sends.
package collision

import (
	"context"
	"fmt"

	"github.com/xaenox/replydesk/internal/models"
	"github.com/xaenox/replydesk/internal/notify"
	"github.com/xaenox/replydesk/internal/registry"
	"go.uber.org/zap"
)

type Service struct {
	registry *registry.Registry
	notifier notify.Notifier
	logger   *zap.Logger
}

func NewService(reg *registry.Registry, notifier notify.Notifier, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		registry: reg,
		notifier: notifier,
		logger:   logger,
	}
}

// AssignToMe claims the message for the current user.
func (s *Service) AssignToMe(ctx context.Context, threadID, messageID string) (models.AssignResult, error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return models.AssignResult{}, err
	}

	res, err := s.registry.Assign(ctx, threadID, messageID, userID)
	if err != nil {
		return models.AssignResult{}, err
	}

	if res.Assigned {
		s.notify(ctx, assignedNotification(res.Current))
	} else {
		s.notify(ctx, blockedNotification(res.Current, userID))
	}
	return res, nil
}

// ClaimForReply is the gate in front of every reply. The current user must be
// allowed to compose in the thread (nobody holds it, or they do) and must win
// the claim on messageID. A blocked result carries the holder in Current and
// raises a blocked notification; the reply must not be sent.
func (s *Service) ClaimForReply(ctx context.Context, threadID, messageID string) (models.AssignResult, error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return models.AssignResult{}, err
	}

	status, ok, err := s.Interaction(ctx, threadID)
	if err != nil {
		return models.AssignResult{}, err
	}
	if !ok {
		holder := models.Assignment{
			ThreadID:   threadID,
			MessageID:  status.MessageID,
			AssignedTo: status.AssignedTo,
			IsActive:   true,
		}
		if status.AssignedAt != nil {
			holder.AssignedAt = *status.AssignedAt
		}
		s.notify(ctx, blockedNotification(holder, userID))
		return models.AssignResult{Assigned: false, Current: holder}, nil
	}

	return s.AssignToMe(ctx, threadID, messageID)
}

// AutoAssignOnReply gates a reply: false means another staff member holds
// the thread or the message and the reply must not be sent.
func (s *Service) AutoAssignOnReply(ctx context.Context, threadID, messageID string) (bool, error) {
	res, err := s.ClaimForReply(ctx, threadID, messageID)
	if err != nil {
		return false, err
	}
	return res.Assigned, nil
}

// TakeOver replaces the current claimant with the current user.
func (s *Service) TakeOver(ctx context.Context, threadID, messageID string) (models.AssignResult, error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return models.AssignResult{}, err
	}

	res, err := s.registry.TakeOver(ctx, threadID, messageID, userID)
	if err != nil {
		return models.AssignResult{}, err
	}

	s.notify(ctx, takenOverNotification(res))
	return res, nil
}

// Release ends the claim on the message.
func (s *Service) Release(ctx context.Context, threadID, messageID string) error {
	if err := s.registry.Release(ctx, threadID, messageID); err != nil {
		return err
	}

	actor, _ := UserFromContext(ctx)
	s.notify(ctx, models.Notification{
		Kind:      models.NotificationReleased,
		Severity:  models.SeverityInfo,
		ThreadID:  threadID,
		MessageID: messageID,
		Actor:     actor,
		Text:      fmt.Sprintf("Conversation %s released", threadID),
	})
	return nil
}

// Status reports the thread's claim as seen by the current user.
func (s *Service) Status(ctx context.Context, threadID string) (models.Status, error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return models.Status{}, err
	}
	return s.registry.Status(ctx, threadID, userID)
}

// CanInteract reports whether the current user may compose in the thread:
// nobody holds it, or the current user does.
func (s *Service) CanInteract(ctx context.Context, threadID string) (bool, error) {
	_, ok, err := s.Interaction(ctx, threadID)
	return ok, err
}

// Interaction returns the thread status together with CanInteract's answer.
func (s *Service) Interaction(ctx context.Context, threadID string) (models.Status, bool, error) {
	status, err := s.Status(ctx, threadID)
	if err != nil {
		return models.Status{}, false, err
	}
	userID, _ := UserFromContext(ctx)
	return status, !status.IsAssigned || status.IsAssignedTo(userID), nil
}

func (s *Service) notify(ctx context.Context, n models.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("failed to deliver assignment notification",
			zap.Error(err),
			zap.String("kind", string(n.Kind)),
			zap.String("thread_id", n.ThreadID))
	}
}

func assignedNotification(a models.Assignment) models.Notification {
	return models.Notification{
		Kind:      models.NotificationAssigned,
		Severity:  models.SeveritySuccess,
		ThreadID:  a.ThreadID,
		MessageID: a.MessageID,
		Actor:     a.AssignedTo,
		Holder:    a.AssignedTo,
		Text:      fmt.Sprintf("Conversation %s assigned to %s", a.ThreadID, a.AssignedTo),
		At:        a.AssignedAt,
	}
}

func blockedNotification(holder models.Assignment, actor string) models.Notification {
	return models.Notification{
		Kind:      models.NotificationBlocked,
		Severity:  models.SeverityWarning,
		ThreadID:  holder.ThreadID,
		MessageID: holder.MessageID,
		Actor:     actor,
		Holder:    holder.AssignedTo,
		Text:      fmt.Sprintf("Message already assigned to %s", holder.AssignedTo),
		At:        holder.AssignedAt,
	}
}

func takenOverNotification(res models.AssignResult) models.Notification {
	n := models.Notification{
		Kind:      models.NotificationTakenOver,
		Severity:  models.SeveritySuccess,
		ThreadID:  res.Current.ThreadID,
		MessageID: res.Current.MessageID,
		Actor:     res.Current.AssignedTo,
		Holder:    res.Current.AssignedTo,
		Text:      fmt.Sprintf("%s took over conversation %s", res.Current.AssignedTo, res.Current.ThreadID),
		At:        res.Current.AssignedAt,
	}
	if res.Previous != nil && res.Previous.AssignedTo != res.Current.AssignedTo {
		n.Text = fmt.Sprintf("%s took over conversation %s from %s",
			res.Current.AssignedTo, res.Current.ThreadID, res.Previous.AssignedTo)
	}
	return n
}
