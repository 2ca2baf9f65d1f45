package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vidbrief/vidbrief/internal/common"
)

// SQLiteStore persists job records in a SQLite database. It implements the
// same whole-record replace semantics as MemoryStore via upserts.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY in concurrent access.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, common.SQLiteBusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		video_name TEXT NOT NULL,
		video_size_bytes INTEGER NOT NULL,
		callback_url TEXT,
		upload_path TEXT,
		status TEXT NOT NULL,
		current_step TEXT NOT NULL DEFAULT '',
		progress INTEGER NOT NULL DEFAULT 0,
		duration TEXT NOT NULL DEFAULT '',
		error_message TEXT,
		submitted_at TEXT NOT NULL,
		completed_at TEXT,
		result_json TEXT
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, job Job) error {
	if job.ID == "" {
		return errors.New("job.ID is required")
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}
	var result *string
	if job.Result != nil {
		b, err := json.Marshal(job.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		v := string(b)
		result = &v
	}
	var completed *string
	if job.CompletedAt != nil {
		v := job.CompletedAt.UTC().Format(time.RFC3339Nano)
		completed = &v
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, video_name, video_size_bytes, callback_url, upload_path, status,
			current_step, progress, duration, error_message, submitted_at, completed_at, result_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			video_name = excluded.video_name,
			video_size_bytes = excluded.video_size_bytes,
			callback_url = excluded.callback_url,
			upload_path = excluded.upload_path,
			status = excluded.status,
			current_step = excluded.current_step,
			progress = excluded.progress,
			duration = excluded.duration,
			error_message = excluded.error_message,
			submitted_at = excluded.submitted_at,
			completed_at = excluded.completed_at,
			result_json = excluded.result_json`,
		job.ID, job.VideoName, job.VideoSizeBytes, job.CallbackURL, job.UploadPath, string(job.Status),
		job.CurrentStep, job.Progress, job.Duration, job.ErrorMessage,
		job.SubmittedAt.UTC().Format(time.RFC3339Nano), completed, result,
	)
	if err != nil {
		return fmt.Errorf("put job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Job, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, video_name, video_size_bytes, callback_url, upload_path, status,
			current_step, progress, duration, error_message, submitted_at, completed_at, result_json
		 FROM jobs WHERE id = ?`, id)

	var job Job
	var cb, upload, errMsg, submitted, completed, result sql.NullString
	var status string

	if err := row.Scan(
		&job.ID,
		&job.VideoName,
		&job.VideoSizeBytes,
		&cb,
		&upload,
		&status,
		&job.CurrentStep,
		&job.Progress,
		&job.Duration,
		&errMsg,
		&submitted,
		&completed,
		&result,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, false, nil
		}
		return Job{}, false, fmt.Errorf("scan job: %w", err)
	}

	job.Status = Status(status)
	if cb.Valid {
		v := cb.String
		job.CallbackURL = &v
	}
	if upload.Valid {
		v := upload.String
		job.UploadPath = &v
	}
	if errMsg.Valid {
		v := errMsg.String
		job.ErrorMessage = &v
	}
	if submitted.Valid {
		if t, err := time.Parse(time.RFC3339Nano, submitted.String); err == nil {
			job.SubmittedAt = t
		}
	}
	if completed.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completed.String); err == nil {
			job.CompletedAt = &t
		}
	}
	if result.Valid && result.String != "" {
		var r ProcessingResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			// A completed record without its result would break the status
			// contract; report the corruption instead.
			return Job{}, false, fmt.Errorf("decode result for %s: %w", job.ID, err)
		}
		job.Result = &r
	}

	return job, true, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
