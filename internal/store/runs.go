package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// UploadRun is the persisted summary of one upload pipeline run.
type UploadRun struct {
	RunID           string            `json:"run_id"`
	Outcome         string            `json:"outcome"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	RecordsUploaded int               `json:"records_uploaded"`
	RecordsDeleted  int64             `json:"records_deleted"`
	Results         map[string]string `json:"results"`
}

// InsertUploadRun stores a run summary.
func (s *Store) InsertUploadRun(ctx context.Context, run UploadRun) error {
	if s.db == nil {
		return errNotInitialized
	}

	results, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("encode run results: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO upload_runs (run_id, outcome, started_at, finished_at, records_uploaded, records_deleted, results)
		 VALUES (?, ?, ?, ?, ?, ?, ?);`,
		run.RunID,
		run.Outcome,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.RecordsUploaded,
		run.RecordsDeleted,
		string(results),
	)
	if err != nil {
		return fmt.Errorf("insert upload run: %w", err)
	}
	return nil
}

// RecentUploadRuns returns the most recent runs, newest first.
func (s *Store) RecentUploadRuns(ctx context.Context, limit int) ([]UploadRun, error) {
	if s.db == nil {
		return nil, errNotInitialized
	}

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT run_id, outcome, started_at, finished_at, records_uploaded, records_deleted, results
		 FROM upload_runs
		 ORDER BY started_at DESC
		 LIMIT ?;`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query upload runs: %w", err)
	}
	defer rows.Close()

	var runs []UploadRun
	for rows.Next() {
		var (
			run                  UploadRun
			startedStr, finished string
			resultsRaw           string
		)
		if err := rows.Scan(&run.RunID, &run.Outcome, &startedStr, &finished, &run.RecordsUploaded, &run.RecordsDeleted, &resultsRaw); err != nil {
			return nil, fmt.Errorf("scan upload run: %w", err)
		}

		run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedStr)
		run.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)

		if err := json.Unmarshal([]byte(resultsRaw), &run.Results); err != nil {
			return nil, fmt.Errorf("decode run results: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upload runs: %w", err)
	}

	return runs, nil
}
