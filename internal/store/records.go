package store

import (
	"context"
	"database/sql"
	"fmt"

	"networksurvey/uploader/internal/model"
)

// markChunkSize bounds the number of ids bound into one UPDATE statement.
const markChunkSize = 500

// InsertRecords persists records of any uploadable type in one transaction
// and assigns their IDs. CDMA records are rejected.
func (s *Store) InsertRecords(ctx context.Context, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}

	return s.Transaction(ctx, func(tx *sql.Tx) error {
		stmts := make(map[model.RecordType]*sql.Stmt)
		defer func() {
			for _, stmt := range stmts {
				_ = stmt.Close()
			}
		}()

		for _, r := range records {
			t, err := tableFor(r.Kind())
			if err != nil {
				return fmt.Errorf("insert record: %w", err)
			}

			stmt, ok := stmts[t.kind]
			if !ok {
				stmt, err = tx.PrepareContext(ctx, t.insertStatement())
				if err != nil {
					return fmt.Errorf("prepare insert %s: %w", t.name, err)
				}
				stmts[t.kind] = stmt
			}

			args, err := values(r)
			if err != nil {
				return fmt.Errorf("insert record: %w", err)
			}

			res, err := stmt.ExecContext(ctx, args...)
			if err != nil {
				return fmt.Errorf("insert %s record: %w", t.kind, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("insert %s record id: %w", t.kind, err)
			}
			r.Base().ID = id
		}
		return nil
	})
}

// SelectForUpload returns at most limit records of kind that still miss at
// least one applicable upload marker, oldest first. CDMA always yields none.
func (s *Store) SelectForUpload(ctx context.Context, kind model.RecordType, limit int) ([]model.Record, error) {
	if s.db == nil {
		return nil, errNotInitialized
	}
	if kind == model.RecordCdma || limit <= 0 {
		return nil, nil
	}

	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, t.selectStatement(t.pendingClause()), limit)
	if err != nil {
		return nil, fmt.Errorf("query %s for upload: %w", t.name, err)
	}
	defer rows.Close()

	records := make([]model.Record, 0, limit)
	for rows.Next() {
		rs := newRowScanner(kind)
		if err := rows.Scan(rs.dests...); err != nil {
			return nil, fmt.Errorf("scan %s record: %w", kind, err)
		}
		records = append(records, rs.record())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s records: %w", kind, err)
	}

	return records, nil
}

// MarkUploaded sets the target's marker on the given records in one
// transaction. Markers are only ever set, never cleared.
func (s *Store) MarkUploaded(ctx context.Context, kind model.RecordType, target model.UploadTarget, ids []int64) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}
	col, err := t.markerColumn(target)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	return s.Transaction(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(ids); start += markChunkSize {
			end := start + markChunkSize
			if end > len(ids) {
				end = len(ids)
			}
			chunk := ids[start:end]

			args := make([]any, len(chunk))
			for i, id := range chunk {
				args[i] = id
			}

			query := fmt.Sprintf(`UPDATE %s SET %s = 1 WHERE id IN (%s);`, t.name, col, placeholders(len(chunk)))
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("mark %s uploaded to %s: %w", kind, target, err)
			}
		}
		return nil
	})
}

// DeleteFullyUploaded removes, in one transaction across every table, the
// records whose applicable upload markers are all set.
func (s *Store) DeleteFullyUploaded(ctx context.Context) (int64, error) {
	var deleted int64
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		deleted = 0
		for _, t := range tables {
			res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s;`, t.name, t.doneClause()))
			if err != nil {
				return fmt.Errorf("delete uploaded %s: %w", t.kind, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("delete uploaded %s: %w", t.kind, err)
			}
			deleted += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Count returns the number of stored records of kind.
func (s *Store) Count(ctx context.Context, kind model.RecordType) (int, error) {
	return s.count(ctx, kind, "")
}

// CountForUpload returns the number of records of kind still missing a marker.
func (s *Store) CountForUpload(ctx context.Context, kind model.RecordType) (int, error) {
	if kind == model.RecordCdma {
		return 0, nil
	}
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	return s.count(ctx, kind, t.pendingClause())
}

func (s *Store) count(ctx context.Context, kind model.RecordType, where string) (int, error) {
	if s.db == nil {
		return 0, errNotInitialized
	}
	if kind == model.RecordCdma {
		return 0, nil
	}
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t.name)
	if where != "" {
		query += " WHERE " + where
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query+";").Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return n, nil
}

// TypeCounts summarizes one record table.
type TypeCounts struct {
	Type    string `json:"type"`
	Total   int    `json:"total"`
	Pending int    `json:"pending"`
}

// Counts returns totals and pending counts for every stored record type.
func (s *Store) Counts(ctx context.Context) ([]TypeCounts, error) {
	out := make([]TypeCounts, 0, len(tables))
	for _, t := range tables {
		total, err := s.Count(ctx, t.kind)
		if err != nil {
			return nil, err
		}
		pending, err := s.CountForUpload(ctx, t.kind)
		if err != nil {
			return nil, err
		}
		out = append(out, TypeCounts{Type: t.kind.String(), Total: total, Pending: pending})
	}
	return out, nil
}
