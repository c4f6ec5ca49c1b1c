package triggers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SchedulerTrigger implements cron-based scheduling of workflow runs.
type SchedulerTrigger struct {
	cron   *cron.Cron
	runner *Runner
	logger *zap.Logger
	jobs   map[string]cron.EntryID
}

// ScheduleConfig holds scheduling configuration.
type ScheduleConfig struct {
	Jobs []JobConfig `yaml:"jobs"`
}

// JobConfig defines a scheduled job.
type JobConfig struct {
	Name      string                 `yaml:"name"`
	Schedule  string                 `yaml:"schedule"` // cron expression
	EventType string                 `yaml:"event_type"`
	Data      map[string]interface{} `yaml:"data"`
	Enabled   bool                   `yaml:"enabled"`
}

// NewSchedulerTrigger creates a new scheduler trigger bound to runner.
func NewSchedulerTrigger(runner *Runner, logger *zap.Logger) *SchedulerTrigger {
	return &SchedulerTrigger{
		cron:   cron.New(cron.WithSeconds()),
		runner: runner,
		logger: logger,
		jobs:   make(map[string]cron.EntryID),
	}
}

// Start begins the scheduler.
func (s *SchedulerTrigger) Start() error {
	s.logger.Info("scheduler trigger started")
	s.cron.Start()
	return nil
}

// Stop stops the scheduler.
func (s *SchedulerTrigger) Stop() error {
	s.cron.Stop()
	s.logger.Info("scheduler trigger stopped")
	return nil
}

// AddJob adds a new scheduled job.
func (s *SchedulerTrigger) AddJob(job JobConfig) error {
	if !job.Enabled {
		s.logger.Info("job disabled, skipping", zap.String("name", job.Name))
		return nil
	}

	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		s.executeJob(job)
	})
	if err != nil {
		return fmt.Errorf("add cron job %q: %w", job.Name, err)
	}

	s.jobs[job.Name] = entryID
	s.logger.Info("scheduled job added",
		zap.String("name", job.Name),
		zap.String("schedule", job.Schedule),
		zap.String("event_type", job.EventType))
	return nil
}

// RemoveJob removes a scheduled job.
func (s *SchedulerTrigger) RemoveJob(name string) error {
	entryID, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("job %q not found", name)
	}
	s.cron.Remove(entryID)
	delete(s.jobs, name)
	s.logger.Info("scheduled job removed", zap.String("name", name))
	return nil
}

func (s *SchedulerTrigger) executeJob(job JobConfig) {
	s.logger.Info("executing scheduled job", zap.String("name", job.Name), zap.String("event_type", job.EventType))

	inputs := map[string]interface{}{
		"job_name":     job.Name,
		"schedule":     job.Schedule,
		"execution_id": fmt.Sprintf("sched_%d", time.Now().UnixNano()),
	}
	for k, v := range job.Data {
		inputs[k] = v
	}

	s.runner.Dispatch(context.Background(), job.EventType, inputs)
}

// JobStatus reports a scheduled job's next/previous firing times.
type JobStatus struct {
	Name string    `json:"name"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

// ListJobs returns all scheduled jobs.
func (s *SchedulerTrigger) ListJobs() []JobStatus {
	entries := s.cron.Entries()
	var jobs []JobStatus
	for name, entryID := range s.jobs {
		for _, entry := range entries {
			if entry.ID == entryID {
				jobs = append(jobs, JobStatus{Name: name, Next: entry.Next, Prev: entry.Prev})
				break
			}
		}
	}
	return jobs
}

// UpdateJob replaces an existing job's schedule/config.
func (s *SchedulerTrigger) UpdateJob(job JobConfig) error {
	if _, exists := s.jobs[job.Name]; exists {
		if err := s.RemoveJob(job.Name); err != nil {
			return fmt.Errorf("remove existing job: %w", err)
		}
	}
	return s.AddJob(job)
}
