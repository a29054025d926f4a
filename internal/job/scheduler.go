// Package job schedules and runs the periodic fetch jobs.
package job

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/chrismostert/schraper/internal/config"
	"github.com/chrismostert/schraper/internal/database"
	"github.com/chrismostert/schraper/internal/logger"
)

// Runner is a single executable job.
type Runner interface {
	Run(ctx context.Context) error
}

// Deps carries everything a job needs to run.
type Deps struct {
	Store  database.Store
	Config *config.Config
	Logger logger.Logger
}

type job struct {
	kind     Kind
	interval time.Duration
	lastRan  *time.Time
	runner   Runner
}

// due reports whether the job should run. A job that never ran is always due.
func (j *job) due(now time.Time) bool {
	return j.lastRan == nil || now.Sub(*j.lastRan) >= j.interval
}

// Jobs holds the registered jobs and runs the ones that are due. Jobs run
// sequentially in registration order, so a scheduler is not safe for
// concurrent Poll calls.
type Jobs struct {
	deps    Deps
	jobs    []*job
	timeout time.Duration
}

// New creates an empty scheduler.
func New(deps Deps) *Jobs {
	return &Jobs{
		deps:    deps,
		timeout: deps.Config.Scheduler.JobTimeout,
	}
}

// Add registers the built-in runner for the given kind.
func (s *Jobs) Add(kind Kind, interval time.Duration) error {
	runner, err := newRunner(kind, s.deps)
	if err != nil {
		return err
	}
	s.AddRunner(kind, interval, runner)
	return nil
}

// AddRunner registers a custom runner under the given kind.
func (s *Jobs) AddRunner(kind Kind, interval time.Duration, runner Runner) {
	s.jobs = append(s.jobs, &job{kind: kind, interval: interval, runner: runner})
}

// Poll runs every due job once. A failing job is reported but does not stop
// the jobs after it, and only a successful run resets the job's interval.
func (s *Jobs) Poll(ctx context.Context) error {
	now := time.Now()

	var errs error
	for _, j := range s.jobs {
		if !j.due(now) {
			continue
		}
		if err := s.run(ctx, j); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("job %s: %w", j.kind, err))
			continue
		}
		ran := time.Now()
		j.lastRan = &ran
	}
	return errs
}

func (s *Jobs) run(ctx context.Context, j *job) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	log := s.deps.Logger.With(
		logger.String("job", string(j.kind)),
		logger.String("run_id", uuid.NewString()),
	)

	start := time.Now()
	log.Info("job started")
	if err := j.runner.Run(ctx); err != nil {
		log.Error("job failed",
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err),
		)
		return err
	}
	log.Info("job finished", logger.Duration("elapsed", time.Since(start)))
	return nil
}
