package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/clawinfra/deskclaw/internal/config"
	"github.com/clawinfra/deskclaw/internal/skills"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// countingRunner records skill executions.
type countingRunner struct {
	mu     sync.Mutex
	calls  []string
	fail   bool
	params map[string]any
}

func (r *countingRunner) ExecuteSkill(ctx context.Context, skillID string, params map[string]any) (*skills.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, skillID)
	r.params = params
	if r.fail {
		return skills.Fail("scheduled run failed", "boom"), nil
	}
	return skills.Ok("done"), nil
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func intervalJob(id string, ms int64) *Job {
	return &Job{
		ID:       id,
		Name:     id,
		Schedule: config.ScheduleConfig{Kind: "interval", IntervalMs: ms},
		SkillID:  "screen_capture",
		Params:   map[string]any{"format": "png"},
		Enabled:  true,
	}
}

func TestJobValidate(t *testing.T) {
	good := intervalJob("j1", 1000)
	if err := good.Validate(); err != nil {
		t.Errorf("valid job rejected: %v", err)
	}

	cronJob := &Job{
		ID:       "j2",
		Name:     "nightly",
		Schedule: config.ScheduleConfig{Kind: "cron", Expr: "0 3 * * *"},
		SkillID:  "task_tracker",
		Enabled:  true,
	}
	if err := cronJob.Validate(); err != nil {
		t.Errorf("valid cron job rejected: %v", err)
	}

	bad := []*Job{
		{Name: "x", SkillID: "s", Schedule: config.ScheduleConfig{Kind: "interval", IntervalMs: 1}},
		{ID: "a", SkillID: "s", Schedule: config.ScheduleConfig{Kind: "interval", IntervalMs: 1}},
		{ID: "a", Name: "x", Schedule: config.ScheduleConfig{Kind: "interval", IntervalMs: 1}},
		{ID: "a", Name: "x", SkillID: "s", Schedule: config.ScheduleConfig{Kind: "interval"}},
		{ID: "a", Name: "x", SkillID: "s", Schedule: config.ScheduleConfig{Kind: "cron", Expr: "not a cron"}},
		{ID: "a", Name: "x", SkillID: "s", Schedule: config.ScheduleConfig{Kind: "monthly"}},
	}
	for i, job := range bad {
		if err := job.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestNextRun(t *testing.T) {
	from := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

	j := intervalJob("j1", 5000)
	next, err := j.NextRun(from)
	if err != nil {
		t.Fatal(err)
	}
	if next.Sub(from) != 5*time.Second {
		t.Errorf("interval next = %v", next)
	}

	c := &Job{
		ID: "c", Name: "c", SkillID: "s",
		Schedule: config.ScheduleConfig{Kind: "cron", Expr: "0 3 * * *"},
	}
	next, err = c.NextRun(from)
	if err != nil {
		t.Fatal(err)
	}
	if next.Hour() != 3 || !next.After(from) {
		t.Errorf("cron next = %v", next)
	}
}

func TestSchedulerRunsIntervalJob(t *testing.T) {
	runner := &countingRunner{}
	s := New(runner, testLogger())

	if err := s.AddJob(intervalJob("fast", 20)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	deadline := time.After(2 * time.Second)
	for runner.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("job ran %d times, want >= 2", runner.count())
		case <-time.After(10 * time.Millisecond):
		}
	}
	s.Stop()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.calls[0] != "screen_capture" {
		t.Errorf("wrong skill executed: %v", runner.calls)
	}
	if runner.params["format"] != "png" {
		t.Errorf("job params not passed through: %v", runner.params)
	}
}

func TestSchedulerRejectsDuplicateJob(t *testing.T) {
	s := New(&countingRunner{}, testLogger())
	if err := s.AddJob(intervalJob("dup", 1000)); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob(intervalJob("dup", 1000)); err == nil {
		t.Error("duplicate job ID must be rejected")
	}
}

func TestSchedulerRemoveJob(t *testing.T) {
	s := New(&countingRunner{}, testLogger())
	_ = s.AddJob(intervalJob("gone", 1000))

	if err := s.RemoveJob("gone"); err != nil {
		t.Errorf("RemoveJob: %v", err)
	}
	if err := s.RemoveJob("gone"); err == nil {
		t.Error("second removal must fail")
	}
	if len(s.Jobs()) != 0 {
		t.Error("job still listed after removal")
	}
}

func TestSchedulerRunNow(t *testing.T) {
	runner := &countingRunner{}
	s := New(runner, testLogger())
	_ = s.AddJob(intervalJob("manual", 60_000))

	if err := s.RunNow(context.Background(), "manual"); err != nil {
		t.Fatal(err)
	}
	if runner.count() != 1 {
		t.Errorf("RunNow executed %d times", runner.count())
	}
	if err := s.RunNow(context.Background(), "absent"); err == nil {
		t.Error("RunNow on unknown job must fail")
	}
}

func TestRunOnceTracksFailures(t *testing.T) {
	runner := &countingRunner{fail: true}
	s := New(runner, testLogger())
	job := intervalJob("failing", 60_000)
	_ = s.AddJob(job)

	_ = s.RunNow(context.Background(), "failing")
	if job.State.RunCount != 1 || job.State.ErrorCount != 1 {
		t.Errorf("state = %+v", job.State)
	}
	if job.State.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestLoadConfigSkipsInvalid(t *testing.T) {
	s := New(&countingRunner{}, testLogger())
	s.LoadConfig(config.SchedulerConfig{
		Enabled: true,
		Jobs: []config.SchedulerJobConfig{
			{ID: "ok", Name: "ok", SkillID: "s", Schedule: config.ScheduleConfig{Kind: "interval", IntervalMs: 1000}, Enabled: true},
			{ID: "broken", Name: "broken", SkillID: "", Schedule: config.ScheduleConfig{Kind: "interval", IntervalMs: 1000}},
		},
	})
	if len(s.Jobs()) != 1 {
		t.Errorf("jobs = %d, want 1 (invalid skipped)", len(s.Jobs()))
	}
}
