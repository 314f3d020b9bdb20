package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sabi-money/sabi-server/internal/logger"
	"github.com/sabi-money/sabi-server/internal/model"
	"github.com/sabi-money/sabi-server/internal/sealbox"
)

// ShareConsumer drains helper share submissions from the relay into the
// recovery coordinator. Helpers publish to the coordinator's transport key,
// so one subscription covers every in-flight recovery.
type ShareConsumer struct {
	gateway        model.MessageGateway
	recovery       *Recovery
	coordinatorPub sealbox.PublicKey
	logger         *logger.Logger
}

func NewShareConsumer(gateway model.MessageGateway, recovery *Recovery, coordinatorPub sealbox.PublicKey, logger *logger.Logger) *ShareConsumer {
	return &ShareConsumer{
		gateway:        gateway,
		recovery:       recovery,
		coordinatorPub: coordinatorPub,
		logger:         logger,
	}
}

// Run consumes relay messages until the context is cancelled or the
// subscription channel closes.
func (c *ShareConsumer) Run(ctx context.Context) error {
	messages, err := c.gateway.Subscribe(ctx, c.coordinatorPub.String())
	if err != nil {
		return fmt.Errorf("failed to subscribe to relay: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := c.recovery.SubmitShare(ctx, msg.SenderPubKey, msg.Ciphertext); err != nil {
				// Submissions that cannot be attributed to an active recovery
				// are dropped; the helper retries through the relay.
				if errors.Is(err, model.ErrNotFound) ||
					errors.Is(err, model.ErrInvalidInput) ||
					errors.Is(err, model.ErrExpired) {
					c.logger.Warn("dropped relay share submission", "sender", msg.SenderPubKey, "error", err)
					continue
				}
				c.logger.Error("failed to submit relay share", "sender", msg.SenderPubKey, "error", err)
			}
		}
	}
}
