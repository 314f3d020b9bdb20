package service

import (
	"context"
	"time"

	"github.com/sabi-money/sabi-server/internal/logger"
)

// Sweeper periodically expires recovery requests stuck past their deadline.
type Sweeper struct {
	recovery *Recovery
	interval time.Duration
	batch    int
	logger   *logger.Logger
}

func NewSweeper(recovery *Recovery, interval time.Duration, batch int, logger *logger.Logger) *Sweeper {
	return &Sweeper{
		recovery: recovery,
		interval: interval,
		batch:    batch,
		logger:   logger,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := s.recovery.ExpireStale(ctx, s.batch)
			if err != nil {
				s.logger.Error("recovery sweep failed", "error", err)
				continue
			}
			if expired > 0 {
				s.logger.Info("recovery sweep expired requests", "count", expired)
			}
		}
	}
}
