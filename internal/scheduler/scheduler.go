// Package scheduler runs the upload pipeline in the background, one run at a
// time, on an interval or on demand.
package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"networksurvey/uploader/internal/store"
	"networksurvey/uploader/internal/upload"
)

// Runner executes one upload run.
type Runner interface {
	Run(ctx context.Context) upload.Report
}

// RunLog persists run summaries.
type RunLog interface {
	InsertUploadRun(ctx context.Context, run store.UploadRun) error
}

type Options struct {
	Interval time.Duration
	// RetryInitial and RetryMax bound the backoff applied after a run asks
	// for a retry. Zero values pick one minute and the interval.
	RetryInitial time.Duration
	RetryMax     time.Duration
	// OnReport is called after every run, from the scheduler goroutine.
	OnReport func(upload.Report)
	Logger   *slog.Logger
}

// Scheduler owns the background execution context of the pipeline.
type Scheduler struct {
	runner   Runner
	runs     RunLog
	interval time.Duration
	onReport func(upload.Report)
	logger   *slog.Logger
	retry    *backoff.ExponentialBackOff
	trigger  chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	last    *upload.Report
	next    time.Time
}

func New(runner Runner, runs RunLog, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = time.Minute
	}
	if opts.RetryMax <= 0 || opts.RetryMax > opts.Interval {
		opts.RetryMax = opts.Interval
	}
	if opts.RetryInitial > opts.RetryMax {
		opts.RetryInitial = opts.RetryMax
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = opts.RetryInitial
	retry.MaxInterval = opts.RetryMax
	retry.MaxElapsedTime = 0
	retry.Reset()

	return &Scheduler{
		runner:   runner,
		runs:     runs,
		interval: opts.Interval,
		onReport: opts.OnReport,
		logger:   opts.Logger,
		retry:    retry,
		trigger:  make(chan struct{}, 1),
	}
}

// Run blocks until ctx is done, starting a run every interval and whenever
// Trigger is called. Cancelling ctx also stops a run in flight.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	s.setNext(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-s.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		report := s.runOnce(ctx)
		delay := s.delayAfter(report)
		s.setNext(time.Now().Add(delay))
		timer.Reset(delay)
	}
}

// Trigger asks for a run as soon as possible. It returns false if a request
// is already pending.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Cancel stops the run in flight after its current part. It returns false if
// no run is in progress.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Status describes the scheduler for the API.
type Status struct {
	Running bool           `json:"running"`
	NextRun time.Time      `json:"next_run"`
	Last    *upload.Report `json:"last,omitempty"`
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Running: s.running, NextRun: s.next, Last: s.last}
}

// LastReport returns the report of the most recent finished run.
func (s *Scheduler) LastReport() (upload.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return upload.Report{}, false
	}
	return *s.last, true
}

func (s *Scheduler) setNext(t time.Time) {
	s.mu.Lock()
	s.next = t
	s.mu.Unlock()
}

func (s *Scheduler) runOnce(ctx context.Context) upload.Report {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	report := s.runner.Run(runCtx)

	s.mu.Lock()
	s.cancel = nil
	s.running = false
	s.last = &report
	s.mu.Unlock()

	s.logger.Info("upload run complete", "run", report.RunID, "summary", report.Summary())

	if s.runs != nil {
		persistCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		err := s.runs.InsertUploadRun(persistCtx, runRecord(report))
		done()
		if err != nil {
			s.logger.Error("failed to persist upload run", "run", report.RunID, "error", err)
		}
	}

	if s.onReport != nil {
		s.onReport(report)
	}
	return report
}

func (s *Scheduler) delayAfter(report upload.Report) time.Duration {
	if report.Outcome != upload.OutcomeRetry {
		s.retry.Reset()
		return s.interval
	}
	d := s.retry.NextBackOff()
	if d == backoff.Stop {
		return s.interval
	}
	s.logger.Info("upload will be retried", "in", d.Round(time.Second))
	return d
}

func runRecord(report upload.Report) store.UploadRun {
	return store.UploadRun{
		RunID:           report.RunID,
		Outcome:         string(report.Outcome),
		StartedAt:       report.StartedAt,
		FinishedAt:      report.FinishedAt,
		RecordsUploaded: report.RecordsUploaded(),
		RecordsDeleted:  report.Deleted,
		Results:         report.Results.Map(),
	}
}
