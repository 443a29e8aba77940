package syncer

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

type runner interface {
	Run(ctx context.Context) (*Result, error)
}

// Scheduler triggers a reconciliation pass at a fixed interval. It is the
// periodic caller from the engine's point of view; manual triggers still go
// through the engine directly and win any race via the pass-in-flight guard.
type Scheduler struct {
	run      runner
	interval time.Duration
	logger   *log.Logger
}

// NewScheduler creates a Scheduler driving the given engine.
func NewScheduler(engine *Engine, interval time.Duration, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New()
	}
	return &Scheduler{run: engine, interval: interval, logger: logger}
}

// Start blocks, running passes until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := s.run.Run(ctx)
			if errors.Is(err, ErrPassInFlight) {
				continue
			}
			if err != nil {
				s.logger.WithError(err).Error("scheduled reconciliation failed")
				continue
			}
			if result.Synced+result.Failed > 0 {
				s.logger.WithFields(log.Fields{
					"synced": result.Synced,
					"failed": result.Failed,
				}).Info("scheduled reconciliation complete")
			}
		}
	}
}
