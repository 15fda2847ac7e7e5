package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"networksurvey/uploader/internal/store"
	"networksurvey/uploader/internal/upload"
)

type fakeRunner struct {
	outcome  upload.Outcome
	block    bool
	started  chan struct{}
	calls    atomic.Int32
	active   atomic.Int32
	overlaps atomic.Int32
}

func newFakeRunner(outcome upload.Outcome) *fakeRunner {
	return &fakeRunner{outcome: outcome, started: make(chan struct{}, 16)}
}

func (r *fakeRunner) Run(ctx context.Context) upload.Report {
	if r.active.Add(1) > 1 {
		r.overlaps.Add(1)
	}
	defer r.active.Add(-1)

	n := r.calls.Add(1)
	r.started <- struct{}{}

	outcome := r.outcome
	if r.block {
		<-ctx.Done()
		outcome = upload.OutcomeCancelled
	} else {
		time.Sleep(5 * time.Millisecond)
	}

	now := time.Now()
	var results upload.Bundle
	results.SetAll(upload.ResultSuccess)
	return upload.Report{
		RunID:      string(rune('a' + n)),
		Outcome:    outcome,
		Results:    results,
		StartedAt:  now,
		FinishedAt: now,
	}
}

type memoryRunLog struct {
	mu   sync.Mutex
	runs []store.UploadRun
}

func (l *memoryRunLog) InsertUploadRun(_ context.Context, run store.UploadRun) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, run)
	return nil
}

func (l *memoryRunLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.runs)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

func TestScheduler(t *testing.T) {
	Convey("Scheduler", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		runLog := &memoryRunLog{}
		reports := make(chan upload.Report, 16)
		runner := newFakeRunner(upload.OutcomeSuccess)

		start := func() *Scheduler {
			s := New(runner, runLog, Options{
				Interval:     time.Hour,
				RetryInitial: 10 * time.Millisecond,
				RetryMax:     time.Second,
				OnReport:     func(r upload.Report) { reports <- r },
			})
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = s.Run(ctx)
			}()
			Reset(func() {
				cancel()
				<-done
			})
			return s
		}

		Convey("runs on demand and records the report", func() {
			s := start()
			_, ok := s.LastReport()
			So(ok, ShouldBeFalse)

			So(s.Trigger(), ShouldBeTrue)
			report := <-reports
			So(report.Outcome, ShouldEqual, upload.OutcomeSuccess)

			last, ok := s.LastReport()
			So(ok, ShouldBeTrue)
			So(last.RunID, ShouldEqual, report.RunID)
			So(waitFor(func() bool { return runLog.len() == 1 }), ShouldBeTrue)
			So(runLog.runs[0].Results, ShouldResemble, map[string]string{"opencellid": "success", "beacondb": "success"})

			status := s.Status()
			So(status.Running, ShouldBeFalse)
			So(status.NextRun.After(time.Now().Add(30*time.Minute)), ShouldBeTrue)
		})

		Convey("never overlaps runs", func() {
			s := start()
			for i := 0; i < 5; i++ {
				s.Trigger()
				<-reports
			}
			So(runner.calls.Load(), ShouldEqual, 5)
			So(runner.overlaps.Load(), ShouldEqual, 0)
		})

		Convey("cancels the run in flight", func() {
			runner.block = true
			s := start()
			So(s.Cancel(), ShouldBeFalse)

			s.Trigger()
			<-runner.started
			So(waitFor(func() bool { return s.Status().Running }), ShouldBeTrue)
			So(s.Cancel(), ShouldBeTrue)

			report := <-reports
			So(report.Outcome, ShouldEqual, upload.OutcomeCancelled)
		})

		Convey("retries with backoff after a retry outcome", func() {
			runner.outcome = upload.OutcomeRetry
			s := start()
			s.Trigger()

			<-reports
			second := <-reports
			So(second.Outcome, ShouldEqual, upload.OutcomeRetry)
			So(runner.calls.Load(), ShouldBeGreaterThanOrEqualTo, 2)
			So(s.Status().NextRun.Before(time.Now().Add(time.Minute)), ShouldBeTrue)
		})
	})
}

func TestDelayAfter(t *testing.T) {
	Convey("delayAfter", t, func() {
		s := New(newFakeRunner(upload.OutcomeSuccess), nil, Options{
			Interval:     time.Hour,
			RetryInitial: time.Second,
			RetryMax:     10 * time.Second,
		})

		Convey("waits the full interval after a normal run", func() {
			So(s.delayAfter(upload.Report{Outcome: upload.OutcomeSuccess}), ShouldEqual, time.Hour)
			So(s.delayAfter(upload.Report{Outcome: upload.OutcomeFailure}), ShouldEqual, time.Hour)
		})

		Convey("backs off exponentially up to the cap", func() {
			first := s.delayAfter(upload.Report{Outcome: upload.OutcomeRetry})
			So(first, ShouldBeBetweenOrEqual, 500*time.Millisecond, 1500*time.Millisecond)

			var d time.Duration
			for i := 0; i < 20; i++ {
				d = s.delayAfter(upload.Report{Outcome: upload.OutcomeRetry})
			}
			So(d, ShouldBeBetweenOrEqual, 5*time.Second, 15*time.Second)

			Convey("and starts over after a success", func() {
				s.delayAfter(upload.Report{Outcome: upload.OutcomeSuccess})
				again := s.delayAfter(upload.Report{Outcome: upload.OutcomeRetry})
				So(again, ShouldBeBetweenOrEqual, 500*time.Millisecond, 1500*time.Millisecond)
			})
		})
	})
}
