package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/Saymandev/Advanced-Poss-sub004/internal/config"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	key TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	saved_at INTEGER NOT NULL,
	ttl_millis INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS queue_tasks (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	payload TEXT NOT NULL,
	status TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queue_tasks_status ON queue_tasks(status);
CREATE INDEX IF NOT EXISTS idx_queue_tasks_created_at ON queue_tasks(created_at);

CREATE TABLE IF NOT EXISTS session (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	access_token TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	user_json TEXT
);
`

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(cfg config.StorageConfig) (*SQLiteStore, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("storage file_path is required")
	}

	db, err := sql.Open("sqlite", cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}

	// modernc sqlite is single-writer; serialize access through one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable wal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	logger.Log.Info("Opened local store", zap.String("path", cfg.FilePath))

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ── Snapshots ────────────────────────────────────────────────

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	query := `INSERT INTO snapshots (key, data, saved_at, ttl_millis)
			  VALUES (?, ?, ?, ?)
			  ON CONFLICT(key) DO UPDATE SET
			  data = excluded.data,
			  saved_at = excluded.saved_at,
			  ttl_millis = excluded.ttl_millis`

	_, err := s.db.ExecContext(ctx, query,
		snap.Key,
		string(snap.Data),
		snap.SavedAt.UnixMilli(),
		snap.TTL.Milliseconds(),
	)
	return err
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, key string) (*Snapshot, error) {
	query := `SELECT key, data, saved_at, ttl_millis FROM snapshots WHERE key = ?`

	row := s.db.QueryRowContext(ctx, query, key)

	var snap Snapshot
	var data string
	var savedAt, ttlMillis int64
	err := row.Scan(&snap.Key, &data, &savedAt, &ttlMillis)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap.Data = []byte(data)
	snap.SavedAt = time.UnixMilli(savedAt)
	snap.TTL = time.Duration(ttlMillis) * time.Millisecond
	return &snap, nil
}

func (s *SQLiteStore) ClearSnapshots(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots`)
	return err
}

// ── Queue ────────────────────────────────────────────────────

func (s *SQLiteStore) EnqueueTask(ctx context.Context, task *QueuedTask) error {
	query := `INSERT INTO queue_tasks (id, kind, payload, status, retry_count, last_error, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.Kind,
		string(task.Payload),
		task.Status,
		task.RetryCount,
		task.LastError,
		task.CreatedAt.UnixMilli(),
		task.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*QueuedTask, error) {
	query := `SELECT id, kind, payload, status, retry_count, last_error, created_at, updated_at
			  FROM queue_tasks WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListReplayableTasks returns every task a drain should attempt, oldest first.
// Failed tasks stay replayable: failure is informational, not a dead letter.
// Tasks stranded in 'syncing' by a crash are picked up again as well.
func (s *SQLiteStore) ListReplayableTasks(ctx context.Context) ([]*QueuedTask, error) {
	query := `SELECT id, kind, payload, status, retry_count, last_error, created_at, updated_at
			  FROM queue_tasks
			  WHERE status IN (?, ?, ?)
			  ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, StatusPending, StatusFailed, StatusSyncing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*QueuedTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) MarkTaskSyncing(ctx context.Context, id string) error {
	query := `UPDATE queue_tasks SET status = ?, updated_at = ? WHERE id = ?`
	_, err := s.db.ExecContext(ctx, query, StatusSyncing, time.Now().UnixMilli(), id)
	return err
}

func (s *SQLiteStore) MarkTaskFailed(ctx context.Context, id string, errMsg string) error {
	query := `UPDATE queue_tasks
			  SET status = ?, retry_count = retry_count + 1, last_error = ?, updated_at = ?
			  WHERE id = ?`
	_, err := s.db.ExecContext(ctx, query, StatusFailed, errMsg, time.Now().UnixMilli(), id)
	return err
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue_tasks WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) CountQueuedTasks(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_tasks`).Scan(&count)
	return count, err
}

// ── Session mirror ───────────────────────────────────────────

func (s *SQLiteStore) SaveSession(ctx context.Context, sess *Session) error {
	query := `INSERT INTO session (id, access_token, refresh_token, user_json)
			  VALUES (1, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET
			  access_token = excluded.access_token,
			  refresh_token = excluded.refresh_token,
			  user_json = excluded.user_json`

	var user any
	if len(sess.User) > 0 {
		user = string(sess.User)
	}
	_, err := s.db.ExecContext(ctx, query, sess.AccessToken, sess.RefreshToken, user)
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context) (*Session, error) {
	query := `SELECT access_token, refresh_token, user_json FROM session WHERE id = 1`

	var sess Session
	var user sql.NullString
	err := s.db.QueryRowContext(ctx, query).Scan(&sess.AccessToken, &sess.RefreshToken, &user)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if user.Valid {
		sess.User = []byte(user.String)
	}
	return &sess, nil
}

func (s *SQLiteStore) ClearSession(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE id = 1`)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*QueuedTask, error) {
	var task QueuedTask
	var payload string
	var createdAt, updatedAt int64
	err := row.Scan(
		&task.ID,
		&task.Kind,
		&payload,
		&task.Status,
		&task.RetryCount,
		&task.LastError,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Payload = []byte(payload)
	task.CreatedAt = time.UnixMilli(createdAt)
	task.UpdatedAt = time.UnixMilli(updatedAt)
	return &task, nil
}
