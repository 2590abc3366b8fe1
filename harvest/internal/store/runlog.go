package store

import (
	"context"
	"fmt"
)

// RunLog records one stage execution.
type RunLog struct {
	ID         string `json:"id"`
	Seq        int64  `json:"seq"`
	Stage      string `json:"stage"`
	Trigger    string `json:"trigger"`
	Transport  string `json:"transport"`
	RequestID  string `json:"request_id,omitempty"`
	Parameters string `json:"parameters,omitempty"`
	Status     string `json:"status"` // "success" or "error"
	Error      string `json:"error,omitempty"`
	Result     string `json:"result,omitempty"` // JSON summary of the stage result
	StartedAt  int64  `json:"started_at"`
	DurationMs int64  `json:"duration_ms"`
}

// InsertRunLog appends an entry. ID, status and start time are filled in
// when empty.
func (s *Store) InsertRunLog(ctx context.Context, e *RunLog) error {
	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.StartedAt == 0 {
		e.StartedAt = s.nowMillis()
	}
	if e.Status == "" {
		e.Status = "success"
		if e.Error != "" {
			e.Status = "error"
		}
	}
	err := retry(ctx, func() error {
		return s.DB.QueryRowContext(ctx,
			`INSERT INTO run_log (id, stage, triggered_by, transport, request_id, parameters, status,
			error_message, result, started_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING seq`,
			e.ID, e.Stage, e.Trigger, e.Transport, e.RequestID, e.Parameters, e.Status,
			e.Error, e.Result, e.StartedAt, e.DurationMs,
		).Scan(&e.Seq)
	})
	if err != nil {
		return fmt.Errorf("insert run log: %w", err)
	}
	return nil
}

// ListRunLogs returns the latest entries, newest first.
func (s *Store) ListRunLogs(ctx context.Context, limit int) ([]*RunLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT seq, id, stage, triggered_by, transport, request_id, parameters, status,
		error_message, result, started_at, duration_ms
		FROM run_log ORDER BY started_at DESC, seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list run log: %w", err)
	}
	defer rows.Close()

	var out []*RunLog
	for rows.Next() {
		var e RunLog
		if err := rows.Scan(&e.Seq, &e.ID, &e.Stage, &e.Trigger, &e.Transport, &e.RequestID,
			&e.Parameters, &e.Status, &e.Error, &e.Result, &e.StartedAt, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
