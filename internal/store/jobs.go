package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kiln/internal/queue"
)

const jobColumns = "id, job_type, priority, status, progress, stage, payload_json, result_json, error_message, created_at, started_at, completed_at"

// JobRecord is the persisted projection of a queue job.
type JobRecord struct {
	ID          string
	Type        string
	Priority    queue.Priority
	Status      queue.Status
	Progress    float64
	Stage       string
	Payload     map[string]any
	Result      map[string]any
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// SaveJob upserts the mirror row for a job.
func (s *Store) SaveJob(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return errors.New("job is nil")
	}

	payloadJSON, err := marshalMap(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	resultJSON, err := marshalMap(job.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, job_type, priority, status, progress, stage, payload_json,
            result_json, error_message, created_at, started_at, completed_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            progress = excluded.progress,
            stage = excluded.stage,
            result_json = excluded.result_json,
            error_message = excluded.error_message,
            started_at = excluded.started_at,
            completed_at = excluded.completed_at,
            updated_at = excluded.updated_at`,
		job.ID,
		job.Type,
		int(job.Priority),
		string(job.Status),
		job.Progress,
		nullableString(job.Stage),
		nullableString(payloadJSON),
		nullableString(resultJSON),
		nullableString(job.Error),
		job.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		now,
	)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// DeleteJob removes the mirror row for a job.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// GetJob fetches a mirrored job row by id, or nil when absent.
func (s *Store) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	record, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return record, nil
}

// RecentJobs returns up to limit mirrored jobs, newest first.
func (s *Store) RecentJobs(ctx context.Context, limit int) ([]*JobRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent jobs: %w", err)
	}
	defer rows.Close()

	var records []*JobRecord
	for rows.Next() {
		record, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*JobRecord, error) {
	var (
		id           string
		jobType      string
		priority     int64
		statusStr    string
		progress     float64
		stage        sql.NullString
		payloadJSON  sql.NullString
		resultJSON   sql.NullString
		errorMessage sql.NullString
		createdRaw   sql.NullString
		startedRaw   sql.NullString
		completedRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&jobType,
		&priority,
		&statusStr,
		&progress,
		&stage,
		&payloadJSON,
		&resultJSON,
		&errorMessage,
		&createdRaw,
		&startedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	record := &JobRecord{
		ID:          id,
		Type:        jobType,
		Priority:    queue.Priority(priority),
		Status:      queue.Status(statusStr),
		Progress:    progress,
		Stage:       stage.String,
		Error:       errorMessage.String,
		StartedAt:   parseTime(startedRaw),
		CompletedAt: parseTime(completedRaw),
	}
	if created := parseTime(createdRaw); created != nil {
		record.CreatedAt = *created
	}
	if payloadJSON.Valid && payloadJSON.String != "" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &record.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &record.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return record, nil
}

func marshalMap(value map[string]any) (string, error) {
	if len(value) == 0 {
		return "", nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
