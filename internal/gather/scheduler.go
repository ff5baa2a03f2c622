package gather

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"macrostrat/internal/util"
)

var _ Gatherer = (*Scheduler)(nil)

// Scheduler runs a Gatherer on a cron schedule with a seconds field. A tick
// that arrives while the previous run is still going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	job     Gatherer
	spec    string
	ctx     context.Context
	running atomic.Bool
	runs    atomic.Int64
	log     *slog.Logger
}

// NewScheduler validates spec and prepares the schedule. Nothing runs until
// Run is called. log may be nil.
func NewScheduler(spec string, job Gatherer, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = util.Discard()
	}
	s := &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		job:  job,
		spec: spec,
		log:  log.With("gatherer", "scheduler", "job", job.Name()),
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Name returns the gatherer identifier.
func (s *Scheduler) Name() string { return "schedule:" + s.job.Name() }

// Runs returns how many times the job has completed.
func (s *Scheduler) Runs() int64 { return s.runs.Load() }

// Run starts the schedule and blocks until ctx is cancelled, then waits for
// an in-flight job to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	s.log.Info("scheduler started", "spec", s.spec)

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped", "runs", s.runs.Load())
	return nil
}

func (s *Scheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("previous run still in progress, skipping tick")
		return
	}
	defer s.running.Store(false)

	if err := s.job.Run(s.ctx); err != nil {
		s.log.Error("scheduled run failed", "error", err)
	}
	s.runs.Add(1)
}
