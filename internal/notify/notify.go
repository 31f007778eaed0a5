// Package notify delivers assignment outcomes to people and other services.
// Delivery is fire-and-forget from the caller's point of view: errors are
// returned for logging but never change an assignment decision.
package notify

import (
	"context"
	"errors"

	"github.com/xaenox/replydesk/internal/models"
	"go.uber.org/zap"
)

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, n models.Notification) error

func (f Func) Notify(ctx context.Context, n models.Notification) error {
	return f(ctx, n)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, models.Notification) error { return nil }

// Multi fans a notification out to every sink and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n models.Notification) error {
	fields := []zap.Field{
		zap.String("kind", string(n.Kind)),
		zap.String("thread_id", n.ThreadID),
		zap.String("message_id", n.MessageID),
		zap.String("actor", n.Actor),
	}
	if n.Holder != "" {
		fields = append(fields, zap.String("holder", n.Holder))
	}

	if n.Severity == models.SeverityWarning {
		l.logger.Warn(n.Text, fields...)
	} else {
		l.logger.Info(n.Text, fields...)
	}
	return nil
}
