// Package housekeeping schedules periodic cleanup of ended call sessions.
package housekeeping

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/soyeahso/callbridge/internal/logging"
)

// SweepFunc removes ended sessions and returns how many were removed.
type SweepFunc func(ctx context.Context) int

// Sweeper runs a SweepFunc on a cron schedule.
type Sweeper struct {
	cron     *cron.Cron
	schedule string
	sweep    SweepFunc
	log      *logging.Logger
}

// NewSweeper registers sweep on schedule. Standard cron expressions and
// descriptors such as "@every 5m" are accepted.
func NewSweeper(schedule string, sweep SweepFunc, log *logging.Logger) (*Sweeper, error) {
	s := &Sweeper{
		cron:     cron.New(),
		schedule: schedule,
		sweep:    sweep,
		log:      log.Sub("housekeeping"),
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// RunOnce sweeps immediately.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	n := s.sweep(ctx)
	s.log.Debug().Int("removed", n).Msg("sweep completed")
	return n
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running sweep to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("session sweeper started")
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info().Msg("session sweeper stopped")
	return nil
}
