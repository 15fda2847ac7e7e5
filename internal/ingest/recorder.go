package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"networksurvey/uploader/internal/dedup"
	"networksurvey/uploader/internal/model"
)

// Store is the write side of the record store.
type Store interface {
	InsertRecords(ctx context.Context, records []model.Record) error
	InsertIngestionError(ctx context.Context, source, payload string, cause error) error
}

// Observer receives intake counts, typically for metrics.
type Observer interface {
	RecordsOffered(kind model.RecordType, offered, stored int)
	IngestError(source string)
}

// Recorder persists the records that pass the dedup filter.
type Recorder struct {
	filter   *dedup.Filter
	store    Store
	observer Observer
	logger   *slog.Logger
}

func NewRecorder(filter *dedup.Filter, store Store, observer Observer, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recorder{filter: filter, store: store, observer: observer, logger: logger}
}

// Filter exposes the dedup filter, mostly for status reporting.
func (r *Recorder) Filter() *dedup.Filter {
	return r.filter
}

// RecordCellular gates each subscription's records through its own dedup
// track and stores the survivors in one transaction. It returns the number
// of records written.
func (r *Recorder) RecordCellular(ctx context.Context, records []model.CellRecord) (int, error) {
	var order []int
	bySub := make(map[int][]model.CellRecord)
	for _, rec := range records {
		sub := rec.CellInfo().SubscriptionID
		if _, seen := bySub[sub]; !seen {
			order = append(order, sub)
		}
		bySub[sub] = append(bySub[sub], rec)
	}

	var accepted []model.Record
	for _, sub := range order {
		for _, rec := range r.filter.AcceptCellular(sub, bySub[sub]) {
			accepted = append(accepted, rec)
		}
	}

	r.observe(offeredCounts(records), accepted)
	if len(accepted) == 0 {
		r.logger.Debug("cellular scan not stored", "offered", len(records))
		return 0, nil
	}

	if err := r.store.InsertRecords(ctx, accepted); err != nil {
		return 0, fmt.Errorf("store cellular records: %w", err)
	}
	r.logger.Debug("cellular scan stored", "offered", len(records), "stored", len(accepted))
	return len(accepted), nil
}

// RecordWifi gates a whole beacon batch on its first record's fix.
func (r *Recorder) RecordWifi(ctx context.Context, records []*model.WifiRecord) (int, error) {
	kept := r.filter.AcceptWifi(records)

	accepted := make([]model.Record, 0, len(kept))
	for _, rec := range kept {
		accepted = append(accepted, rec)
	}

	r.observe(map[model.RecordType]int{model.RecordWifi: len(records)}, accepted)
	if len(accepted) == 0 {
		return 0, nil
	}

	if err := r.store.InsertRecords(ctx, accepted); err != nil {
		return 0, fmt.Errorf("store wifi records: %w", err)
	}
	r.logger.Debug("wifi scan stored", "offered", len(records), "stored", len(accepted))
	return len(accepted), nil
}

// RecordPayload decodes a raw scan and records it. Any failure is also
// written to the ingestion error log under source.
func (r *Recorder) RecordPayload(ctx context.Context, source string, channel Channel, deviceSerial string, payload []byte) (int, error) {
	n, err := r.recordPayload(ctx, channel, deviceSerial, payload)
	if err != nil {
		r.recordError(ctx, source, payload, err)
		return 0, err
	}
	return n, nil
}

func (r *Recorder) recordPayload(ctx context.Context, channel Channel, deviceSerial string, payload []byte) (int, error) {
	scan, err := DecodeScan(payload, channel, deviceSerial)
	if err != nil {
		return 0, err
	}
	switch channel {
	case ChannelWifi:
		return r.RecordWifi(ctx, scan.Wifi)
	default:
		return r.RecordCellular(ctx, scan.Cellular)
	}
}

func (r *Recorder) recordError(ctx context.Context, source string, payload []byte, cause error) {
	if r.observer != nil {
		r.observer.IngestError(source)
	}
	if err := r.store.InsertIngestionError(context.WithoutCancel(ctx), source, truncate(string(payload), 4096), cause); err != nil {
		r.logger.Error("failed to persist ingestion error", "source", source, "error", err)
	}
}

func (r *Recorder) observe(offered map[model.RecordType]int, accepted []model.Record) {
	if r.observer == nil {
		return
	}
	stored := make(map[model.RecordType]int, len(offered))
	for _, rec := range accepted {
		stored[rec.Kind()]++
	}
	for kind, n := range offered {
		r.observer.RecordsOffered(kind, n, stored[kind])
	}
}

func offeredCounts(records []model.CellRecord) map[model.RecordType]int {
	out := make(map[model.RecordType]int)
	for _, rec := range records {
		out[rec.Kind()]++
	}
	return out
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
