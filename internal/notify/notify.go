package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Sender delivers a notification to a recipient. Delivery is fire-and-forget
// from the core's perspective: monetary operations never depend on a Send
// succeeding.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender is the default Sender: it records the notification and drops it.
// Wire an SMTP-backed implementation in deployments that deliver real mail.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) Send(_ context.Context, to, subject, _ string) error {
	log.Info().
		Str("to", to).
		Str("subject", subject).
		Msg("notification dispatched")
	return nil
}

// BestEffort sends asynchronously and only logs failures. Use for
// confirmations that must never block or roll back the primary operation.
// A nil sender drops the notification.
func BestEffort(sender Sender, to, subject, body string) {
	if sender == nil {
		return
	}
	go func() {
		if err := sender.Send(context.Background(), to, subject, body); err != nil {
			log.Error().
				Err(err).
				Str("to", to).
				Str("subject", subject).
				Msg("failed to send notification")
		}
	}()
}
