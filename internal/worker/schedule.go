package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"
)

// Scheduler triggers a drain whenever a cron expression is due, for
// deployments that have no external cron calling the HTTP endpoint.
type Scheduler struct {
	Drainer *Drainer
	Expr    string
	Logger  zerolog.Logger

	gron *gronx.Gronx
}

func NewScheduler(drainer *Drainer, expr string, logger zerolog.Logger) (*Scheduler, error) {
	gron := gronx.New()
	if !gron.IsValid(expr) {
		return nil, fmt.Errorf("invalid cron expression %q", expr)
	}
	return &Scheduler{Drainer: drainer, Expr: expr, Logger: logger, gron: gron}, nil
}

// Run checks the expression at the start of every minute until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := time.Now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case t := <-timer.C:
			if _, err := s.Tick(ctx, t.Truncate(time.Minute)); err != nil {
				s.Logger.Error().Err(err).Msg("scheduled drain failed")
			}
		}
	}
}

// Tick drains once if the expression is due at t and reports whether it ran.
func (s *Scheduler) Tick(ctx context.Context, t time.Time) (bool, error) {
	due, err := s.gron.IsDue(s.Expr, t)
	if err != nil {
		return false, fmt.Errorf("evaluate cron expression: %w", err)
	}
	if !due {
		return false, nil
	}
	summary, err := s.Drainer.Drain(ctx)
	if err != nil {
		return true, err
	}
	s.Logger.Info().
		Int("processed", summary.Processed).
		Int64("remaining", summary.Remaining).
		Msg("scheduled drain finished")
	return true, nil
}
