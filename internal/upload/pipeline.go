package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"networksurvey/uploader/internal/model"
)

// RecordStore is the store contract the pipeline drives.
type RecordStore interface {
	RecordSource
	MarkUploaded(ctx context.Context, kind model.RecordType, target model.UploadTarget, ids []int64) error
	DeleteFullyUploaded(ctx context.Context) (int64, error)
}

// Outcome is the run-level decision.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetry     Outcome = "retry"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// Progress is reported before each part is uploaded.
type Progress struct {
	RunID   string `json:"run_id"`
	Part    int    `json:"part"`
	Parts   int    `json:"parts"`
	Pending int    `json:"pending"`
	Message string `json:"message"`
}

// Observer receives per-request and per-run notifications, typically for metrics.
type Observer interface {
	UploadFinished(target model.UploadTarget, kind model.RecordType, result Result, records int)
	RunFinished(report Report)
}

// Options tunes a pipeline.
type Options struct {
	BatchSize    int
	RetryEnabled bool
	Progress     func(Progress)
	Observer     Observer
	Logger       *slog.Logger
}

// TargetMessage is the user-facing summary for one target.
type TargetMessage struct {
	Result      string `json:"result"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

// Report summarizes one pipeline run.
type Report struct {
	RunID      string                   `json:"run_id"`
	Outcome    Outcome                  `json:"outcome"`
	Results    Bundle                   `json:"results"`
	Parts      int                      `json:"parts"`
	PartsDone  int                      `json:"parts_done"`
	Uploaded   map[string]int           `json:"uploaded"`
	Deleted    int64                    `json:"deleted"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	Messages   map[string]TargetMessage `json:"messages"`
}

// RecordsUploaded is the sum of records accepted by every target.
func (r Report) RecordsUploaded() int {
	n := 0
	for _, v := range r.Uploaded {
		n += v
	}
	return n
}

// Summary is a one-line human readable description of the run.
func (r Report) Summary() string {
	return fmt.Sprintf("%s: %s records uploaded in %d of %d parts, %s deleted, took %s",
		r.Outcome,
		humanize.Comma(int64(r.RecordsUploaded())),
		r.PartsDone, r.Parts,
		humanize.Comma(r.Deleted),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
}

// Pipeline drives an upload run: select, send, mark, then clean up.
type Pipeline struct {
	store    RecordStore
	selector *Selector
	clients  [model.TargetCount]Client
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewPipeline builds a pipeline. clients must contain exactly one client per
// upload target.
func NewPipeline(store RecordStore, clients []Client, opts Options) (*Pipeline, error) {
	p := &Pipeline{
		store:    store,
		selector: NewSelector(store),
		opts:     opts,
		logger:   opts.Logger,
		now:      time.Now,
	}
	if p.opts.BatchSize <= 0 {
		p.opts.BatchSize = DefaultBatchSize
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	for _, c := range clients {
		target := c.Target()
		if p.clients[target] != nil {
			return nil, fmt.Errorf("duplicate client for %s", target)
		}
		p.clients[target] = c
	}
	for _, target := range model.Targets() {
		if p.clients[target] == nil {
			return nil, fmt.Errorf("no client for %s", target)
		}
	}
	return p, nil
}

func (p *Pipeline) anyEnabled() bool {
	for _, c := range p.clients {
		if c.Enabled() {
			return true
		}
	}
	return false
}

func (p *Pipeline) includeWifi() bool {
	return p.clients[model.TargetBeaconDB].Enabled()
}

// Run executes one upload run. Cancelling ctx stops the run before the next
// part; a part already in flight completes, including its marking.
func (p *Pipeline) Run(ctx context.Context) (report Report) {
	report = Report{
		RunID:     uuid.NewString(),
		StartedAt: p.now().UTC(),
		Uploaded:  make(map[string]int, model.TargetCount),
	}
	log := p.logger.With("run", report.RunID)
	work := context.WithoutCancel(ctx)

	defer func() {
		report.FinishedAt = p.now().UTC()
		report.Messages = messages(report.Results)
		log.Info("upload run finished", "outcome", report.Outcome, "results", report.Results.String(),
			"parts", report.Parts, "deleted", report.Deleted)
		if p.opts.Observer != nil {
			p.opts.Observer.RunFinished(report)
		}
	}()

	if !p.anyEnabled() {
		report.Results.SetAll(ResultUploadDisabled)
		report.Outcome = OutcomeSuccess
		return report
	}

	total, err := p.selector.Pending(work, p.includeWifi())
	if err != nil {
		log.Error("count pending records", "error", err)
		report.Results.SetAllFailure()
		report.Outcome = p.failureOutcome(report.Results)
		return report
	}

	if total == 0 {
		report.Results.SetAll(ResultNoData)
		p.cleanup(work, log, &report)
		if report.Outcome == "" {
			report.Outcome = OutcomeSuccess
		}
		return report
	}

	report.Parts = Parts(total, p.opts.BatchSize)
	log.Info("upload run started", "pending", total, "parts", report.Parts)

	for part := 1; part <= report.Parts; part++ {
		if ctx.Err() != nil {
			log.Info("upload run cancelled", "part", part)
			report.Results.SetAllCancelled()
			report.Outcome = OutcomeCancelled
			return report
		}

		p.progress(Progress{
			RunID:   report.RunID,
			Part:    part,
			Parts:   report.Parts,
			Pending: total,
			Message: fmt.Sprintf("Uploading part %d of %d (%s records pending)", part, report.Parts, humanize.Comma(int64(total))),
		})

		batch, err := p.selector.Select(work, p.opts.BatchSize, p.includeWifi())
		if err != nil {
			log.Error("select batch", "part", part, "error", err)
			var failed Bundle
			failed.SetAllFailure()
			report.Results.Merge(failed)
			report.Outcome = p.failureOutcome(report.Results)
			return report
		}
		if batch.Empty() {
			break
		}

		results := p.uploadBatch(work, log, batch, &report)
		report.Results.Merge(results)
		report.PartsDone = part
		total -= batch.Len()

		if !results.AllSuccessful() {
			report.Outcome = p.failureOutcome(report.Results)
			log.Warn("upload part failed", "part", part, "results", results.String(), "outcome", report.Outcome)
			return report
		}
	}

	p.cleanup(work, log, &report)
	if report.Outcome == "" {
		report.Outcome = OutcomeSuccess
	}
	return report
}

// uploadBatch sends every record-type group to both targets and marks what
// each target accepted. It returns the merged results for the part.
func (p *Pipeline) uploadBatch(ctx context.Context, log *slog.Logger, batch Batch, report *Report) Bundle {
	var merged Bundle
	for _, group := range batch.Groups {
		var groupResults Bundle
		for _, target := range model.Targets() {
			r, sent := p.uploadGroup(ctx, log, group, target)
			groupResults.Set(target, r)
			if r == ResultSuccess {
				report.Uploaded[target.String()] += sent
			}
		}
		merged.Merge(groupResults)
	}
	return merged
}

func (p *Pipeline) uploadGroup(ctx context.Context, log *slog.Logger, group Group, target model.UploadTarget) (Result, int) {
	if !group.Kind.AppliesTo(target) {
		return ResultUploadDisabled, 0
	}

	client := p.clients[target]
	var ids []int64
	var pending []model.Record
	for _, r := range group.Records {
		if r.Base().Uploaded(group.Kind, target) {
			continue
		}
		pending = append(pending, r)
		ids = append(ids, r.Base().ID)
	}

	var result Result
	switch {
	case !client.Enabled():
		result = ResultUploadDisabled
	case len(pending) == 0:
		return ResultSuccess, 0
	default:
		result = client.Upload(ctx, pending).UploadResult()
	}

	if p.opts.Observer != nil {
		p.opts.Observer.UploadFinished(target, group.Kind, result, len(pending))
	}
	log.Debug("sub-batch finished", "target", target, "type", group.Kind, "records", len(pending), "result", result)

	if result != ResultSuccess && result != ResultUploadDisabled {
		return result, 0
	}
	if err := p.store.MarkUploaded(ctx, group.Kind, target, ids); err != nil {
		log.Error("mark records uploaded", "target", target, "type", group.Kind, "error", err)
		return ResultFailure, 0
	}
	return result, len(pending)
}

func (p *Pipeline) cleanup(ctx context.Context, log *slog.Logger, report *Report) {
	deleted, err := p.store.DeleteFullyUploaded(ctx)
	if err != nil {
		log.Error("delete uploaded records", "error", err)
		var failed Bundle
		failed.SetAll(ResultDeleteFailed)
		report.Results.Merge(failed)
		report.Outcome = OutcomeFailure
		return
	}
	report.Deleted = deleted
}

func (p *Pipeline) failureOutcome(results Bundle) Outcome {
	if p.opts.RetryEnabled && results.Retryable() {
		return OutcomeRetry
	}
	return OutcomeFailure
}

func (p *Pipeline) progress(pr Progress) {
	if p.opts.Progress != nil {
		p.opts.Progress(pr)
	}
}

func messages(results Bundle) map[string]TargetMessage {
	out := make(map[string]TargetMessage, model.TargetCount)
	for _, target := range model.Targets() {
		r := results.Get(target)
		out[target.String()] = TargetMessage{
			Result:      r.String(),
			Message:     r.Message(),
			Description: r.Description(target),
		}
	}
	return out
}
