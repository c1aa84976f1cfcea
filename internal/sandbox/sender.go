package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Sender satisfies the dispatcher's sender contract by writing messages to
// the capture store instead of the provider. Ids are locally generated and
// play the role of provider message ids.
type Sender struct {
	storage *Storage
	logger  *slog.Logger
}

// NewSender creates a sandbox sender.
func NewSender(storage *Storage, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sender{
		storage: storage,
		logger:  logger.With("component", "sandbox_sender"),
	}
}

// Send captures one chunk and returns the generated message id.
func (s *Sender) Send(ctx context.Context, from string, to []string, subject, html string) (string, error) {
	msg := &Message{
		ID:         uuid.New().String(),
		From:       from,
		To:         to,
		Subject:    subject,
		HTML:       html,
		CapturedAt: time.Now(),
	}
	if err := s.storage.Save(ctx, msg); err != nil {
		return "", fmt.Errorf("capture message: %w", err)
	}

	s.logger.Info("sandbox captured email",
		"id", msg.ID,
		"from", from,
		"recipients", len(to),
		"subject", subject,
	)
	return msg.ID, nil
}
