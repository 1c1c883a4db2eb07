// Package scheduler runs skills on a schedule: fixed intervals or standard
// cron expressions, each job bound to one skill invocation.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clawinfra/deskclaw/internal/config"
)

// Job is one scheduled skill invocation.
type Job struct {
	ID       string                `json:"id"`
	Name     string                `json:"name"`
	Schedule config.ScheduleConfig `json:"schedule"`
	SkillID  string                `json:"skillId"`
	Params   map[string]any        `json:"params,omitempty"`
	Enabled  bool                  `json:"enabled"`
	State    JobState              `json:"state"`
}

// JobState tracks execution history for one job.
type JobState struct {
	LastRunAt  time.Time `json:"lastRunAt,omitempty"`
	NextRunAt  time.Time `json:"nextRunAt,omitempty"`
	RunCount   int64     `json:"runCount"`
	ErrorCount int64     `json:"errorCount"`
	LastError  string    `json:"lastError,omitempty"`
}

// FromConfig converts a config job entry.
func FromConfig(c config.SchedulerJobConfig) *Job {
	return &Job{
		ID:       c.ID,
		Name:     c.Name,
		Schedule: c.Schedule,
		SkillID:  c.SkillID,
		Params:   c.Params,
		Enabled:  c.Enabled,
	}
}

// Validate checks the job configuration.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID required")
	}
	if j.Name == "" {
		return fmt.Errorf("job name required")
	}
	if j.SkillID == "" {
		return fmt.Errorf("job %s: skillId required", j.ID)
	}

	switch j.Schedule.Kind {
	case "interval":
		if j.Schedule.IntervalMs <= 0 {
			return fmt.Errorf("job %s: intervalMs must be positive", j.ID)
		}
	case "cron":
		if j.Schedule.Expr == "" {
			return fmt.Errorf("job %s: cron expression required", j.ID)
		}
		if _, err := cron.ParseStandard(j.Schedule.Expr); err != nil {
			return fmt.Errorf("job %s: invalid cron expression: %w", j.ID, err)
		}
	default:
		return fmt.Errorf("job %s: unknown schedule kind %q (use interval or cron)", j.ID, j.Schedule.Kind)
	}

	return nil
}

// NextRun calculates the next run time after from.
func (j *Job) NextRun(from time.Time) (time.Time, error) {
	switch j.Schedule.Kind {
	case "interval":
		return from.Add(time.Duration(j.Schedule.IntervalMs) * time.Millisecond), nil

	case "cron":
		schedule, err := cron.ParseStandard(j.Schedule.Expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron: %w", err)
		}
		return schedule.Next(from), nil

	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", j.Schedule.Kind)
	}
}
