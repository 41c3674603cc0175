package mailer

import (
	"context"

	"go.uber.org/zap"
)

// Message is a plain-text email to a single recipient.
type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

// Mailer delivers email messages. Delivery is best-effort: callers treat a
// returned error as a logged-and-dropped failure, never as a request failure.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Console logs messages instead of delivering them. Used in development and
// whenever outbound mail is disabled.
type Console struct {
	logger *zap.Logger
}

// NewConsole builds the console mailer.
func NewConsole(logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{logger: logger}
}

// Send writes the message to the log.
func (m *Console) Send(_ context.Context, msg Message) error {
	m.logger.Info("outbound email",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}
