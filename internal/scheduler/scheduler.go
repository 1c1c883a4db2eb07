package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/clawinfra/deskclaw/internal/config"
)

// Scheduler owns the scheduled skill jobs and their runners.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	runners map[string]*jobRunner
	skills  SkillRunner
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler executing jobs through the given skill runner.
func New(skills SkillRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		jobs:    make(map[string]*Job),
		runners: make(map[string]*jobRunner),
		skills:  skills,
		logger:  logger.With("component", "scheduler"),
	}
}

// LoadConfig adds all jobs from the config section. Invalid jobs are
// skipped with a warning so one bad entry does not block the rest.
func (s *Scheduler) LoadConfig(cfg config.SchedulerConfig) {
	for _, jc := range cfg.Jobs {
		job := FromConfig(jc)
		if err := s.AddJob(job); err != nil {
			s.logger.Warn("skipping invalid scheduled job", "job", jc.ID, "error", err)
		}
	}
}

// Start launches runners for all enabled jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	for id, job := range s.jobs {
		if !job.Enabled {
			continue
		}
		runner := newJobRunner(job, s.skills, s.logger)
		s.runners[id] = runner
		go runner.start(s.ctx)
	}
	s.logger.Info("scheduler started", "active_jobs", len(s.runners))
}

// Stop halts all runners and waits for them to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	for _, runner := range s.runners {
		runner.stop()
	}
	s.runners = make(map[string]*jobRunner)
	s.logger.Info("scheduler stopped")
}

// AddJob validates and registers a job, starting it immediately when the
// scheduler is already running.
func (s *Scheduler) AddJob(job *Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job

	if s.ctx != nil && job.Enabled {
		runner := newJobRunner(job, s.skills, s.logger)
		s.runners[job.ID] = runner
		go runner.start(s.ctx)
	}
	return nil
}

// RemoveJob stops and removes a job.
func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	if runner, running := s.runners[id]; running {
		runner.stop()
		delete(s.runners, id)
	}
	delete(s.jobs, id)
	return nil
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.Lock()
	job, exists := s.jobs[id]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	runner := newJobRunner(job, s.skills, s.logger)
	runner.runOnce(ctx)
	return nil
}

// Jobs returns a snapshot of all registered jobs.
func (s *Scheduler) Jobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out
}
