// Package scheduler runs the periodic cleanup jobs.
package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/notify"
	"github.com/trezcool/gradebook/core/user"
)

// Job is one named cleanup task.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) (int, error)
}

type Scheduler struct {
	cron    *cron.Cron
	jobs    []Job
	logger  core.Logger
	timeout time.Duration
}

// New registers the cleanup jobs of `conf`. A job still running when its next tick comes is skipped.
func New(conf *core.Config, users user.Repository, notes notify.Repository, logger core.Logger) (*Scheduler, error) {
	now := func() time.Time { return time.Now().UTC() }
	jobs := []Job{
		{
			Name: "deactivate-students",
			Spec: conf.Jobs.DeactivateSpec,
			Run: func(ctx context.Context) (int, error) {
				return users.DeactivateStudents(ctx, now().Add(-conf.Jobs.InactiveAfter))
			},
		},
		{
			Name: "clear-push-tokens",
			Spec: conf.Jobs.TokenCleanupSpec,
			Run: func(ctx context.Context) (int, error) {
				return users.ClearPushTokens(ctx, now().Add(-conf.Jobs.PushTokenTTL))
			},
		},
		{
			Name: "prune-notifications",
			Spec: conf.Jobs.NotificationPruneSpec,
			Run: func(ctx context.Context) (int, error) {
				return notes.DeleteOlderThan(ctx, now().Add(-conf.Jobs.NotificationRetention))
			},
		},
	}

	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		jobs:    jobs,
		logger:  logger,
		timeout: 10 * time.Minute,
	}
	for _, job := range jobs {
		job := job
		if _, err := s.cron.AddFunc(job.Spec, func() { s.run(context.Background(), job) }); err != nil {
			return nil, errors.Wrapf(err, "scheduling %s", job.Name)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jobs returns the registered jobs.
func (s *Scheduler) Jobs() []Job {
	return append([]Job(nil), s.jobs...)
}

// RunAll runs every job once, in order, and returns the first error.
func (s *Scheduler) RunAll(ctx context.Context) error {
	var firstErr error
	for _, job := range s.jobs {
		if err := s.run(ctx, job); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := job.Run(ctx)
	if err != nil {
		err = errors.Wrap(err, job.Name)
		s.logger.Error("cleanup job failed", err, map[string]interface{}{"job": job.Name})
		return err
	}
	s.logger.Info("cleanup job done", map[string]interface{}{"job": job.Name, "affected": n, "took": time.Since(start).String()})
	return nil
}

// cronLogger adapts core.Logger to cron.Logger.
type cronLogger struct {
	logger core.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kvMap(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, kvMap(keysAndValues))
}

func kvMap(kv []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			m[k] = kv[i+1]
		}
	}
	return m
}
