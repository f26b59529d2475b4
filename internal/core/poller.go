package core

// poller.go keeps the snapshot fresh in the background.
//
// The poller refreshes once at start, then on every tick until the context
// is cancelled. A failed refresh is logged and retried on the next tick;
// the previously committed snapshot keeps serving in the meantime.

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultPollInterval is used when ServiceConfig.PollInterval is zero.
const DefaultPollInterval = 5 * time.Minute

// StartPoller runs the refresh loop. It blocks until ctx is cancelled.
func (s *Service) StartPoller(ctx context.Context) {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	slog.Info("poller started", "interval", interval.String(), "source", s.cfg.SourceID)

	s.poll(ctx, TriggerStartup)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("poller stopped")
			return
		case <-ticker.C:
			s.poll(ctx, TriggerPoll)
		}
	}
}

func (s *Service) poll(ctx context.Context, trigger string) {
	_, err := s.Refresh(ctx, trigger)
	if err == nil || errors.Is(err, ErrStaleSnapshot) || ctx.Err() != nil {
		return
	}
	if _, curErr := s.store.Current(); curErr == nil {
		slog.Warn("serving previous snapshot after failed refresh", "trigger", trigger)
	}
}
