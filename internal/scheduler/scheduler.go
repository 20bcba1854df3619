package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/AdamTech2025/twitter-autobot/internal/coordinator"
	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

const pipelineJob = "pipeline"

// Trigger starts one Run from the given source.
type Trigger interface {
	Trigger(ctx context.Context, source types.TriggerSource) (*types.RunSummary, error)
}

// Job represents a scheduled task
type Job func(ctx context.Context) error

// Scheduler manages periodic tasks
type Scheduler struct {
	cron     *cron.Cron
	jobs     map[string]cron.EntryID
	timezone *time.Location
	timeout  time.Duration
	log      *logrus.Entry
}

// New creates a new scheduler with the given timezone. Each job run is
// bounded by timeout.
func New(timezone string, timeout time.Duration, log *logrus.Entry) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		jobs:     make(map[string]cron.EntryID),
		timezone: loc,
		timeout:  timeout,
		log:      log,
	}, nil
}

// AddJob adds a job with a cron schedule
// schedule format: "0 7 * * *" (at 7:00 AM daily)
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	entryID, err := s.cron.AddFunc(schedule, func() {
		if err := s.run(name, job); err != nil {
			s.log.WithError(err).WithField("job", name).Warn("job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.jobs[name] = entryID
	s.log.WithFields(logrus.Fields{"job": name, "schedule": schedule}).Info("added job")
	return nil
}

// AddPipelineJob schedules scheduled-source Runs on trigger. A tick that
// finds a Run already in progress is skipped, not queued.
func (s *Scheduler) AddPipelineJob(schedule string, trigger Trigger) error {
	return s.AddJob(pipelineJob, schedule, PipelineJob(trigger, s.log))
}

// ReschedulePipelineJob swaps the pipeline job onto a new cron expression.
// The current job is kept if schedule does not parse.
func (s *Scheduler) ReschedulePipelineJob(schedule string, trigger Trigger) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", pipelineJob, err)
	}
	s.RemoveJob(pipelineJob)
	return s.AddPipelineJob(schedule, trigger)
}

// Location is the timezone jobs are scheduled in.
func (s *Scheduler) Location() *time.Location { return s.timezone }

// PipelineJob adapts a Trigger to a Job.
func PipelineJob(trigger Trigger, log *logrus.Entry) Job {
	return func(ctx context.Context) error {
		summary, err := trigger.Trigger(ctx, types.TriggerScheduled)
		if errors.Is(err, coordinator.ErrRunInProgress) {
			log.Info("previous run still in progress, skipping tick")
			return nil
		}
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"run_id":    summary.RunID,
			"generated": summary.Count(types.OutcomeGenerated),
			"failed":    summary.Count(types.OutcomeFailedGeneration) + summary.Count(types.OutcomeFailedNotify),
			"skipped":   summary.Count(types.OutcomeSkipped),
		}).Info("scheduled run finished")
		return nil
	}
}

func (s *Scheduler) run(name string, job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	log := s.log.WithField("job", name)
	log.Info("starting job")
	start := time.Now()
	if err := job(ctx); err != nil {
		return err
	}
	log.WithField("elapsed", time.Since(start)).Info("job completed")
	return nil
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) {
	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		s.log.WithField("job", name).Info("removed job")
	}
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.log.Info("starting scheduler")
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	s.log.Info("stopping scheduler")
	return s.cron.Stop()
}

// ListJobs returns info about scheduled jobs
func (s *Scheduler) ListJobs() []JobInfo {
	entries := s.cron.Entries()
	infos := make([]JobInfo, 0, len(entries))

	for name, entryID := range s.jobs {
		for _, entry := range entries {
			if entry.ID == entryID {
				infos = append(infos, JobInfo{
					Name:    name,
					NextRun: entry.Next,
					LastRun: entry.Prev,
				})
				break
			}
		}
	}

	return infos
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}
