package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/vrfrelay/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/vrfrelay/internal/services/oracle/storage"
	"github.com/louisbranch/vrfrelay/internal/services/oracle/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed oracle requests and completion log.
type Store struct {
	sqlDB *sql.DB
}

// Open opens an oracle SQLite store and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// The relay writes requests while the fulfiller and feed poll; a single
	// connection serializes them instead of surfacing SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlitemigrate.Apply(context.Background(), sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// PutRequest stores a newly accepted request.
func (s *Store) PutRequest(ctx context.Context, rec storage.RequestRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	rec.RequestID = strings.TrimSpace(rec.RequestID)
	if rec.RequestID == "" {
		return fmt.Errorf("request id is required")
	}
	if rec.NumWords <= 0 {
		return fmt.Errorf("num words must be greater than zero")
	}
	if rec.Status == "" {
		rec.Status = storage.RequestPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO oracle_requests (
	request_id,
	tx_ref,
	num_words,
	callback_gas_limit,
	status,
	created_at
) VALUES (?, ?, ?, ?, ?, ?)
`,
		rec.RequestID,
		rec.TxRef,
		rec.NumWords,
		rec.CallbackGasLimit,
		rec.Status,
		rec.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put request: %w", err)
	}
	return nil
}

// GetRequest loads one request by ID.
func (s *Store) GetRequest(ctx context.Context, requestID string) (storage.RequestRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.RequestRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT request_id, tx_ref, num_words, callback_gas_limit, status, created_at, fulfilled_at
FROM oracle_requests
WHERE request_id = ?
`, strings.TrimSpace(requestID))
	rec, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.RequestRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.RequestRecord{}, fmt.Errorf("get request: %w", err)
	}
	return rec, nil
}

// ListPendingRequests lists oldest-first pending requests created at or
// before createdBefore.
func (s *Store) ListPendingRequests(ctx context.Context, createdBefore time.Time, limit int) ([]storage.RequestRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT request_id, tx_ref, num_words, callback_gas_limit, status, created_at, fulfilled_at
FROM oracle_requests
WHERE status = ? AND created_at <= ?
ORDER BY created_at ASC, request_id ASC
LIMIT ?
`, storage.RequestPending, createdBefore.UTC().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()

	records := make([]storage.RequestRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return records, nil
}

// FulfillRequest marks a pending request fulfilled and appends its
// completion record atomically.
func (s *Store) FulfillRequest(ctx context.Context, requestID string, payload []byte, at time.Time) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return 0, fmt.Errorf("request id is required")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin fulfill: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE oracle_requests
SET status = ?, fulfilled_at = ?
WHERE request_id = ? AND status = ?
`, storage.RequestFulfilled, at.UTC().UnixMilli(), requestID, storage.RequestPending)
	if err != nil {
		return 0, fmt.Errorf("mark fulfilled: %w", err)
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark fulfilled: %w", err)
	}
	if changed == 0 {
		return 0, fmt.Errorf("request %s is not pending: %w", requestID, storage.ErrNotFound)
	}

	seq, err := appendCompletion(ctx, tx, requestID, payload, at)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit fulfill: %w", err)
	}
	return seq, nil
}

// AppendCompletion appends a completion record without checking request
// state, which lets callers replay deliveries.
func (s *Store) AppendCompletion(ctx context.Context, requestID string, payload []byte, at time.Time) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	if strings.TrimSpace(requestID) == "" {
		return 0, fmt.Errorf("request id is required")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return appendCompletion(ctx, s.sqlDB, strings.TrimSpace(requestID), payload, at)
}

// LatestSeq returns the highest completion sequence, or zero for an empty log.
func (s *Store) LatestSeq(ctx context.Context) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var seq int64
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM completion_log`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("latest seq: %w", err)
	}
	return seq, nil
}

// ListCompletionsAfter lists completion records with seq greater than afterSeq.
func (s *Store) ListCompletionsAfter(ctx context.Context, afterSeq int64, limit int) ([]storage.CompletionRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT seq, request_id, payload, created_at
FROM completion_log
WHERE seq > ?
ORDER BY seq ASC
LIMIT ?
`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	defer rows.Close()

	var records []storage.CompletionRecord
	for rows.Next() {
		var rec storage.CompletionRecord
		var createdAt int64
		if err := rows.Scan(&rec.Seq, &rec.RequestID, &rec.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completions: %w", err)
	}
	return records, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func appendCompletion(ctx context.Context, db execer, requestID string, payload []byte, at time.Time) (int64, error) {
	if payload == nil {
		payload = []byte{}
	}
	res, err := db.ExecContext(ctx, `
INSERT INTO completion_log (request_id, payload, created_at) VALUES (?, ?, ?)
`, requestID, payload, at.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("append completion: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append completion: %w", err)
	}
	return seq, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (storage.RequestRecord, error) {
	var rec storage.RequestRecord
	var createdAt int64
	var fulfilledAt sql.NullInt64
	if err := row.Scan(
		&rec.RequestID,
		&rec.TxRef,
		&rec.NumWords,
		&rec.CallbackGasLimit,
		&rec.Status,
		&createdAt,
		&fulfilledAt,
	); err != nil {
		return storage.RequestRecord{}, err
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	if fulfilledAt.Valid {
		rec.FulfilledAt = time.UnixMilli(fulfilledAt.Int64).UTC()
	}
	return rec, nil
}

var (
	_ storage.RequestStore  = (*Store)(nil)
	_ storage.CompletionLog = (*Store)(nil)
)
