package upload

import (
	"context"
	"fmt"

	"networksurvey/uploader/internal/model"
)

// DefaultBatchSize is the number of records shipped per part.
const DefaultBatchSize = 100

// RecordSource is the read side of the record store used for batch selection.
type RecordSource interface {
	SelectForUpload(ctx context.Context, kind model.RecordType, limit int) ([]model.Record, error)
	CountForUpload(ctx context.Context, kind model.RecordType) (int, error)
}

// Group is the slice of a batch holding one record type.
type Group struct {
	Kind    model.RecordType
	Records []model.Record
}

// Batch is one part of an upload run, grouped by record type in upload order.
type Batch struct {
	Groups []Group
}

// Len returns the number of records in the batch.
func (b Batch) Len() int {
	n := 0
	for _, g := range b.Groups {
		n += len(g.Records)
	}
	return n
}

// Empty is true when no records were selected.
func (b Batch) Empty() bool {
	return b.Len() == 0
}

// Selector fills batches from a RecordSource.
type Selector struct {
	source RecordSource
}

func NewSelector(source RecordSource) *Selector {
	return &Selector{source: source}
}

func (s *Selector) kinds(includeWifi bool) []model.RecordType {
	out := make([]model.RecordType, 0, len(model.UploadOrder))
	for _, kind := range model.UploadOrder {
		if kind == model.RecordWifi && !includeWifi {
			continue
		}
		out = append(out, kind)
	}
	return out
}

// Select takes up to capacity pending records, exhausting each record type in
// upload order before moving to the next. CDMA never contributes.
func (s *Selector) Select(ctx context.Context, capacity int, includeWifi bool) (Batch, error) {
	var batch Batch
	remaining := capacity

	for _, kind := range s.kinds(includeWifi) {
		if remaining <= 0 {
			break
		}
		if kind == model.RecordCdma {
			continue
		}

		records, err := s.source.SelectForUpload(ctx, kind, remaining)
		if err != nil {
			return Batch{}, fmt.Errorf("select %s batch: %w", kind, err)
		}
		if len(records) == 0 {
			continue
		}
		if len(records) > remaining {
			records = records[:remaining]
		}

		batch.Groups = append(batch.Groups, Group{Kind: kind, Records: records})
		remaining -= len(records)
	}

	return batch, nil
}

// Pending counts every record eligible for selection.
func (s *Selector) Pending(ctx context.Context, includeWifi bool) (int, error) {
	total := 0
	for _, kind := range s.kinds(includeWifi) {
		if kind == model.RecordCdma {
			continue
		}
		n, err := s.source.CountForUpload(ctx, kind)
		if err != nil {
			return 0, fmt.Errorf("count pending %s: %w", kind, err)
		}
		total += n
	}
	return total, nil
}

// Parts is the number of batches needed for total records at size per batch.
func Parts(total, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}
