package notify

import (
	"context"

	"github.com/hackgods/dental-queue-scheduling/pkg/logging"
)

// ConsoleSender writes the message to the log. It never fails and is the
// last channel in the fallback order.
type ConsoleSender struct {
	logger *logging.Logger
}

func NewConsoleSender(logger *logging.Logger) *ConsoleSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &ConsoleSender{logger: logger}
}

func (s *ConsoleSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("console notification",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
		"attachments", len(msg.Attachments),
	)
	return nil
}
