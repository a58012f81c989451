// Package scheduler runs the periodic overdue-ticket sweep.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	sweepBatch   = 200
	sweepTimeout = time.Minute
)

type OverdueNotifier interface {
	NotifyOverdue(ctx context.Context, batch int) (int, error)
}

type Scheduler struct {
	s       gocron.Scheduler
	overdue OverdueNotifier
	log     *zap.Logger
}

func New(overdue OverdueNotifier, interval time.Duration, clock clockwork.Clock, log *zap.Logger) (*Scheduler, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	sch := &Scheduler{s: s, overdue: overdue, log: log}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(sch.sweep),
		gocron.WithName("overdue-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("scheduler: overdue job: %w", err)
	}
	return sch, nil
}

// Run starts the jobs and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.s.Start()
	s.log.Info("scheduler started")
	<-ctx.Done()
	return s.s.Shutdown()
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	for {
		n, err := s.overdue.NotifyOverdue(ctx, sweepBatch)
		if err != nil {
			s.log.Error("overdue sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			s.log.Info("overdue tickets notified", zap.Int("count", n))
		}
		if n < sweepBatch {
			return
		}
	}
}
