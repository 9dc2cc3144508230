package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-co-op/gocron/v2"

	"medsnap-backend/internal/shared/telemetry"
)

const (
	DefaultCron = "17 3 * * *"
	jobName     = "reconcile"
)

// Scheduler runs a Pass on a cron expression.
type Scheduler struct {
	scheduler gocron.Scheduler
	job       gocron.Job
}

// NewScheduler registers pass under cronExpr. Overlapping runs are skipped.
func NewScheduler(ctx context.Context, pass *Pass, cronExpr string) (*Scheduler, error) {
	if pass == nil {
		return nil, fmt.Errorf("reconcile: pass is nil")
	}
	cronExpr = strings.TrimSpace(cronExpr)
	if cronExpr == "" {
		cronExpr = DefaultCron
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	j, err := s.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func(ctx context.Context) {
			if _, err := pass.Run(ctx); err != nil {
				telemetry.Error("reconcile.failed", map[string]any{"error": err.Error()})
			}
		}, ctx),
		gocron.WithName(jobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule reconcile %q: %w", cronExpr, err)
	}
	return &Scheduler{scheduler: s, job: j}, nil
}

// Start begins scheduling.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	next, _ := s.job.NextRun()
	telemetry.Info("reconcile.scheduled", map[string]any{"next_run": next})
}

// Shutdown stops the scheduler and waits for a running pass.
func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}
