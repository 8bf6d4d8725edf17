package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrEmpty is returned by the Next* pickers when no matching job exists.
	ErrEmpty = errors.New("queue: no job ready")
	// ErrNotFound is returned when a job ID does not exist.
	ErrNotFound = errors.New("queue: job not found")
)

// Store persists jobs in SQLite. Active jobs (everything not yet delivered)
// live in the jobs table; terminal ones are relocated to the sent or failed
// archive, so exactly one live copy of a job ID ever exists.
//
// The database runs in WAL mode with a single connection; the gateway is a
// single process and SQLite allows one writer anyway.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the job database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("job store schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func ensureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  status TEXT NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT '',
  payload BLOB NOT NULL,
  bulk_id TEXT,
  bulk_index INTEGER,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_pick ON jobs(kind, status, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_bulk ON jobs(bulk_id, bulk_index);
CREATE TABLE IF NOT EXISTS sent (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  status TEXT NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT '',
  payload BLOB NOT NULL,
  bulk_id TEXT,
  bulk_index INTEGER,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS failed (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  status TEXT NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT '',
  payload BLOB NOT NULL,
  bulk_id TEXT,
  bulk_index INTEGER,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}

// jobPayload is the JSON shape stored in the payload column.
type jobPayload struct {
	SMS     *SMSPayload     `json:"sms,omitempty"`
	Inbound *InboundPayload `json:"inbound,omitempty"`
	Voice   *VoicePayload   `json:"voice,omitempty"`
}

func marshalPayload(j Job) ([]byte, error) {
	return json.Marshal(jobPayload{SMS: j.SMS, Inbound: j.Inbound, Voice: j.Voice})
}

const jobColumns = "id,kind,status,attempts,last_error,payload,created_at,updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var raw []byte
	if err := row.Scan(&j.ID, &j.Kind, &j.Status, &j.Attempts, &j.LastError, &raw, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return Job{}, err
	}
	var p jobPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Job{}, fmt.Errorf("decode payload of job %s: %w", j.ID, err)
	}
	j.SMS, j.Inbound, j.Voice = p.SMS, p.Inbound, p.Voice
	return j, nil
}

// Insert persists a new job.
func (s *Store) Insert(ctx context.Context, j Job) error {
	return s.insert(ctx, s.db, j)
}

// InsertBatch persists a set of jobs atomically. Used for bulk batches so a
// crash mid-accept never leaves a partial batch.
func (s *Store) InsertBatch(ctx context.Context, jobs []Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, j := range jobs {
		if err := s.insert(ctx, tx, j); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insert(ctx context.Context, db execer, j Job) error {
	if err := j.validate(); err != nil {
		return err
	}
	raw, err := marshalPayload(j)
	if err != nil {
		return err
	}
	var bulkID sql.NullString
	var bulkIndex sql.NullInt64
	if j.Kind == KindBulkItem && j.SMS != nil {
		bulkID = sql.NullString{String: j.SMS.BulkID, Valid: true}
		bulkIndex = sql.NullInt64{Int64: int64(j.SMS.BulkIndex), Valid: true}
	}
	_, err = db.ExecContext(ctx, `
INSERT INTO jobs (id,kind,status,attempts,last_error,payload,bulk_id,bulk_index,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.Kind, j.Status, j.Attempts, j.LastError, raw, bulkID, bulkIndex, j.CreatedAt, j.UpdatedAt)
	return err
}

// Update rewrites a job's mutable fields (status, attempts, error, payload).
func (s *Store) Update(ctx context.Context, j Job) error {
	raw, err := marshalPayload(j)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE jobs SET status=?, attempts=?, last_error=?, payload=?, updated_at=?
WHERE id=?`,
		j.Status, j.Attempts, j.LastError, raw, time.Now().UTC(), j.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the active job with the given ID.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id=?", id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// List returns every active job, oldest first.
func (s *Store) List(ctx context.Context) ([]Job, error) {
	return s.list(ctx, "SELECT "+jobColumns+" FROM jobs ORDER BY created_at ASC")
}

// ListSent returns successfully completed jobs, newest first.
func (s *Store) ListSent(ctx context.Context) ([]Job, error) {
	return s.list(ctx, "SELECT "+jobColumns+" FROM sent ORDER BY updated_at DESC")
}

// ListFailed returns permanently failed jobs, newest first.
func (s *Store) ListFailed(ctx context.Context) ([]Job, error) {
	return s.list(ctx, "SELECT "+jobColumns+" FROM failed ORDER BY updated_at DESC")
}

func (s *Store) list(ctx context.Context, query string) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Remove deletes an active job.
func (s *Store) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id=?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear deletes every active job.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM jobs")
	return err
}

// ClearSent deletes the sent archive.
func (s *Store) ClearSent(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sent")
	return err
}

// ClearFailed deletes the failed archive.
func (s *Store) ClearFailed(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM failed")
	return err
}

// MoveToSent archives a completed job: removed from jobs, inserted into
// sent in one transaction.
func (s *Store) MoveToSent(ctx context.Context, j Job) error {
	j.Status = StatusSent
	return s.moveTo(ctx, "sent", j)
}

// MoveToFailed relocates a permanently failed job to the failed archive,
// keeping its terminal status (failed, parse_failed, webhook_max_retries).
func (s *Store) MoveToFailed(ctx context.Context, j Job) error {
	return s.moveTo(ctx, "failed", j)
}

func (s *Store) moveTo(ctx context.Context, table string, j Job) error {
	raw, err := marshalPayload(j)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM jobs WHERE id=?", j.ID); err != nil {
		return err
	}
	var bulkID sql.NullString
	var bulkIndex sql.NullInt64
	if j.Kind == KindBulkItem && j.SMS != nil {
		bulkID = sql.NullString{String: j.SMS.BulkID, Valid: true}
		bulkIndex = sql.NullInt64{Int64: int64(j.SMS.BulkIndex), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO `+table+` (id,kind,status,attempts,last_error,payload,bulk_id,bulk_index,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.Kind, j.Status, j.Attempts, j.LastError, raw, bulkID, bulkIndex, j.CreatedAt, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) first(ctx context.Context, query string, args ...any) (Job, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrEmpty
	}
	return j, err
}

// NextInbound returns the oldest unprocessed inbound message.
func (s *Store) NextInbound(ctx context.Context) (Job, error) {
	return s.first(ctx, "SELECT "+jobColumns+` FROM jobs
WHERE kind=? AND status=? ORDER BY created_at ASC LIMIT 1`, KindInbound, StatusReceivedRaw)
}

// NextInboundRetry returns the oldest inbound message whose webhook delivery
// failed and is still within the retry budget.
func (s *Store) NextInboundRetry(ctx context.Context, maxAttempts int) (Job, error) {
	return s.first(ctx, "SELECT "+jobColumns+` FROM jobs
WHERE kind=? AND status=? AND attempts < ? ORDER BY created_at ASC LIMIT 1`,
		KindInbound, StatusWebhookSendFailed, maxAttempts)
}

// NextVoice returns the oldest pending voice-call job of any kind.
func (s *Store) NextVoice(ctx context.Context) (Job, error) {
	return s.first(ctx, "SELECT "+jobColumns+` FROM jobs
WHERE kind IN (?,?,?) AND status=? ORDER BY created_at ASC LIMIT 1`,
		KindVoiceTTS, KindVoiceAudio, KindVoiceRealtime, StatusPending)
}

// NextSingle returns the oldest pending single outbound SMS.
func (s *Store) NextSingle(ctx context.Context) (Job, error) {
	return s.first(ctx, "SELECT "+jobColumns+` FROM jobs
WHERE kind=? AND status=? ORDER BY created_at ASC LIMIT 1`, KindSingle, StatusPending)
}

// NextBulk returns the pending bulk item with the smallest bulk index at or
// beyond the cursor. ErrEmpty means no pending bulk work from the cursor on.
func (s *Store) NextBulk(ctx context.Context, cursor int) (Job, error) {
	return s.first(ctx, "SELECT "+jobColumns+` FROM jobs
WHERE kind=? AND status=? AND bulk_index >= ?
ORDER BY bulk_index ASC, created_at ASC LIMIT 1`, KindBulkItem, StatusPending, cursor)
}
