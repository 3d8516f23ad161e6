package services

import (
	"context"

	"github.com/shutterfeed/backend/internal/pkg/logger"
)

// Notifier delivers a plain-text message to one recipient.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogNotifier writes messages to the log instead of sending them. Used when no
// mail provider is configured.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log.With("component", "LogNotifier")}
}

func (n *LogNotifier) Send(ctx context.Context, to, subject, body string) error {
	n.log.Info("outbound mail", "to", to, "subject", subject, "body", body)
	return nil
}
