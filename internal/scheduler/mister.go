package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"vivarium/internal/config"
	"vivarium/pkg/logging"
)

const misterJob = "mister_cycle"

// Aeration sets both fans to a preset. *devices.AerationController
// satisfies it.
type Aeration interface {
	SetMaxSpeed(ctx context.Context) error
	SetDefaultSpeed(ctx context.Context) error
}

// MisterScheduler runs the mister once a day with the fans at full speed.
type MisterScheduler struct {
	mister   Switch
	aeration Aeration
	planner  DailyPlanner
	runAt    time.Duration
	duration time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	logger   logging.Logger
}

func NewMisterScheduler(mister Switch, aeration Aeration, planner DailyPlanner, cfg config.MisterConfig, logger logging.Logger) (*MisterScheduler, error) {
	runAt, err := config.ParseClock(cfg.RunAt)
	if err != nil {
		return nil, fmt.Errorf("mister.run_at: %w", err)
	}
	return &MisterScheduler{
		mister:   mister,
		aeration: aeration,
		planner:  planner,
		runAt:    runAt,
		duration: cfg.Duration(),
		sleep:    sleepContext,
		logger:   logger,
	}, nil
}

// Schedule registers the daily cycle.
func (s *MisterScheduler) Schedule() error {
	if err := s.planner.ScheduleDaily(misterJob, s.runAt, s.RunCycle); err != nil {
		return fmt.Errorf("failed to schedule mister: %w", err)
	}
	s.logger.Info(context.Background(), "[MISTER_SCHEDULE] Daily mister scheduled", logging.Fields{
		"run_at":   clockString(s.runAt),
		"duration": s.duration.String(),
	})
	return nil
}

// RunCycle raises aeration to max, mists for the configured duration, then
// turns the mister off and returns the fans to their default speed. The
// closing steps run even when ctx is cancelled during the wait.
func (s *MisterScheduler) RunCycle(ctx context.Context) error {
	s.logger.Info(ctx, "[MISTER_CYCLE_START] Mister cycle started", logging.Fields{
		"duration": s.duration.String(),
	})

	var result *multierror.Error
	if err := s.aeration.SetMaxSpeed(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("aeration max: %w", err))
	}

	if err := s.mister.Toggle(ctx, true); err != nil {
		result = multierror.Append(result, fmt.Errorf("mister on: %w", err))
	} else if err := s.sleep(ctx, s.duration); err != nil {
		result = multierror.Append(result, err)
	}

	closing := context.WithoutCancel(ctx)
	if err := s.mister.Toggle(closing, false); err != nil {
		result = multierror.Append(result, fmt.Errorf("mister off: %w", err))
	}
	if err := s.aeration.SetDefaultSpeed(closing); err != nil {
		result = multierror.Append(result, fmt.Errorf("aeration default: %w", err))
	}

	if err := result.ErrorOrNil(); err != nil {
		s.logger.Error(ctx, "[MISTER_CYCLE_ERROR] Mister cycle finished with errors", logging.Fields{}, err)
		return err
	}
	s.logger.Info(ctx, "[MISTER_CYCLE_COMPLETE] Mister cycle finished", logging.Fields{})
	return nil
}
