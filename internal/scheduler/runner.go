package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/clawinfra/deskclaw/internal/skills"
)

// SkillRunner is what the scheduler needs from the skill layer; satisfied
// by *skills.Manager.
type SkillRunner interface {
	ExecuteSkill(ctx context.Context, skillID string, params map[string]any) (*skills.Result, error)
}

// jobRunner drives one job on its schedule until stopped.
type jobRunner struct {
	job    *Job
	runner SkillRunner
	logger *slog.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

func newJobRunner(job *Job, runner SkillRunner, logger *slog.Logger) *jobRunner {
	return &jobRunner{
		job:    job,
		runner: runner,
		logger: logger.With("job", job.ID),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (r *jobRunner) start(ctx context.Context) {
	defer close(r.doneCh)

	nextRun, err := r.job.NextRun(time.Now())
	if err != nil {
		r.logger.Error("failed to calculate next run", "error", err)
		return
	}
	r.job.State.NextRunAt = nextRun
	r.logger.Info("job runner started", "skill", r.job.SkillID, "next_run", nextRun.Format(time.RFC3339))

	// Interval jobs tick at their own period; cron jobs poll every minute
	// and compare against the computed next-run time.
	var tick time.Duration
	if r.job.Schedule.Kind == "interval" {
		tick = time.Duration(r.job.Schedule.IntervalMs) * time.Millisecond
	} else {
		tick = time.Minute
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case now := <-ticker.C:
			due := r.job.Schedule.Kind == "interval" || !now.Before(r.job.State.NextRunAt)
			if !due {
				continue
			}

			r.runOnce(ctx)

			if next, err := r.job.NextRun(time.Now()); err == nil {
				r.job.State.NextRunAt = next
			}
		}
	}
}

func (r *jobRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

// runOnce executes the job's skill and folds the outcome into job state.
func (r *jobRunner) runOnce(ctx context.Context) {
	start := time.Now()
	r.job.State.LastRunAt = start
	r.job.State.RunCount++

	result, err := r.runner.ExecuteSkill(ctx, r.job.SkillID, r.job.Params)
	switch {
	case err != nil:
		r.job.State.ErrorCount++
		r.job.State.LastError = err.Error()
		r.logger.Error("scheduled skill faulted", "skill", r.job.SkillID, "error", err)
	case result != nil && !result.Success:
		r.job.State.ErrorCount++
		r.job.State.LastError = result.Error
		r.logger.Warn("scheduled skill failed", "skill", r.job.SkillID, "error", result.Error)
	default:
		r.job.State.LastError = ""
		r.logger.Info("scheduled skill completed",
			"skill", r.job.SkillID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
