// Package scheduler triggers the pipeline and the seen-query purge on cron
// schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Defaults. Specs carry a leading seconds field.
const (
	DefaultPipelineSpec = "0 15 */5 * * *"
	DefaultClearSpec    = "0 0 0 * * *"
	DefaultTimezone     = "Asia/Almaty"
)

var specParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether spec is a six-field cron expression or descriptor.
func Validate(spec string) error {
	if _, err := specParser.Parse(spec); err != nil {
		return fmt.Errorf("cron spec %q: %w", spec, err)
	}
	return nil
}

// Config holds the trigger settings.
type Config struct {
	PipelineSpec string
	ClearSpec    string
	Timezone     string
	RunOnStart   bool
	ClearOnStart bool
}

// Task is one scheduled unit of work.
type Task func(ctx context.Context) error

// Scheduler owns the cron runner. Pipeline runs never overlap.
type Scheduler struct {
	cfg      Config
	cron     *cron.Cron
	loc      *time.Location
	logger   *slog.Logger
	mu       sync.Mutex
	ctx      context.Context
	started  bool
	pipeline cron.EntryID
	purge    cron.EntryID
	wg       sync.WaitGroup
}

// New builds a Scheduler. Empty specs and timezone fall back to the defaults.
func New(cfg Config, run, clear Task, logger *slog.Logger) (*Scheduler, error) {
	if run == nil || clear == nil {
		return nil, errors.New("scheduler: run and clear tasks are required")
	}
	if cfg.PipelineSpec == "" {
		cfg.PipelineSpec = DefaultPipelineSpec
	}
	if cfg.ClearSpec == "" {
		cfg.ClearSpec = DefaultClearSpec
	}
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load timezone %q: %w", cfg.Timezone, err)
	}

	cl := cronLogger{logger}
	s := &Scheduler{
		cfg:    cfg,
		loc:    loc,
		logger: logger,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
	}

	pipeline := cron.NewChain(cron.SkipIfStillRunning(cl)).Then(s.job("pipeline", run))
	if s.pipeline, err = s.cron.AddJob(cfg.PipelineSpec, pipeline); err != nil {
		return nil, fmt.Errorf("scheduler: pipeline spec %q: %w", cfg.PipelineSpec, err)
	}
	if s.purge, err = s.cron.AddJob(cfg.ClearSpec, s.job("clear-queries", clear)); err != nil {
		return nil, fmt.Errorf("scheduler: clear spec %q: %w", cfg.ClearSpec, err)
	}
	return s, nil
}

func (s *Scheduler) job(name string, task Task) cron.Job {
	return cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}

		start := time.Now()
		s.logger.Info("scheduled task started", "task", name)
		if err := task(ctx); err != nil {
			s.logger.Error("scheduled task failed", "task", name, "err", err, "duration", time.Since(start))
			return
		}
		s.logger.Info("scheduled task finished", "task", name, "duration", time.Since(start))
	})
}

// Start begins firing triggers. Tasks receive ctx; cancelling it makes
// further triggers no-ops. RunOnStart and ClearOnStart fire once in the
// background, the purge first.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler: already started")
	}
	s.ctx = ctx
	s.started = true
	s.cron.Start()

	s.logger.Info("scheduler started",
		"pipeline", s.cfg.PipelineSpec,
		"clear", s.cfg.ClearSpec,
		"timezone", s.loc.String(),
		"next_run", s.NextPipelineRun())

	if s.cfg.ClearOnStart || s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if s.cfg.ClearOnStart {
				s.cron.Entry(s.purge).WrappedJob.Run()
			}
			if s.cfg.RunOnStart {
				s.cron.Entry(s.pipeline).WrappedJob.Run()
			}
		}()
	}
	return nil
}

// TriggerPipeline runs the pipeline job now, unless a run is in progress.
// It blocks until the job returns or is skipped.
func (s *Scheduler) TriggerPipeline() {
	s.cron.Entry(s.pipeline).WrappedJob.Run()
}

// NextPipelineRun returns when the pipeline fires next, zero before Start.
func (s *Scheduler) NextPipelineRun() time.Time {
	return s.cron.Entry(s.pipeline).Next
}

// Stop halts the triggers and returns a context done once running jobs
// finish.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	s.started = false

	cronDone := s.cron.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		cancel()
	}()
	return ctx
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
