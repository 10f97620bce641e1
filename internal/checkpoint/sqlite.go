package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a durable Store backed by SQLite. Writes for different
// threads never conflict; same-thread writes are serialized by the
// orchestrator's single-threaded loop, so SQLite's write lock is never
// contended in practice.
type SQLiteStore struct {
	db *sql.DB
}

// timeLayout is fixed-width so lexicographic comparison of stored
// timestamps matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the
// schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		thread_id     TEXT NOT NULL,
		checkpoint_id TEXT NOT NULL,
		parent_id     TEXT,
		state         TEXT NOT NULL,
		metadata      TEXT,
		created_at    TEXT NOT NULL,
		PRIMARY KEY (thread_id, checkpoint_id)
	);
	CREATE TABLE IF NOT EXISTS checkpoint_writes (
		thread_id     TEXT NOT NULL,
		checkpoint_id TEXT NOT NULL,
		idx           INTEGER NOT NULL,
		channel       TEXT NOT NULL,
		value         TEXT,
		created_at    TEXT NOT NULL,
		PRIMARY KEY (thread_id, checkpoint_id, idx)
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_created
		ON checkpoints (thread_id, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, threadID, checkpointID string) (*Tuple, error) {
	query := `SELECT checkpoint_id, parent_id, state, metadata, created_at
		FROM checkpoints WHERE thread_id = ?`
	args := []any{threadID}
	if checkpointID != "" {
		query += ` AND checkpoint_id = ?`
		args = append(args, checkpointID)
	} else {
		query += ` ORDER BY created_at DESC LIMIT 1`
	}

	tuple, err := s.scanTuple(ctx, threadID, query, args...)
	if err != nil || tuple == nil {
		return tuple, err
	}

	writes, err := s.loadWrites(ctx, threadID, tuple.Checkpoint.ID)
	if err != nil {
		return nil, err
	}
	tuple.PendingWrites = writes
	return tuple, nil
}

func (s *SQLiteStore) List(ctx context.Context, threadID string, limit int, before string) ([]Tuple, error) {
	query := `SELECT checkpoint_id, parent_id, state, metadata, created_at
		FROM checkpoints WHERE thread_id = ?`
	args := []any{threadID}

	if before != "" {
		query += ` AND created_at < (SELECT created_at FROM checkpoints
			WHERE thread_id = ? AND checkpoint_id = ?)`
		args = append(args, threadID, before)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for %s: %w", threadID, err)
	}
	defer rows.Close()

	var tuples []Tuple
	for rows.Next() {
		tuple, err := scanRow(rows, threadID)
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, *tuple)
	}
	return tuples, rows.Err()
}

func (s *SQLiteStore) Put(ctx context.Context, threadID string, cp Checkpoint, md Metadata) error {
	metadata, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	createdAt := cp.CreatedAt.UTC()
	if cp.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, checkpoint_id, parent_id, state, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (thread_id, checkpoint_id) DO UPDATE
		 SET parent_id = excluded.parent_id,
		     state = excluded.state,
		     metadata = excluded.metadata`,
		threadID, cp.ID, cp.ParentID, string(cp.State), string(metadata),
		createdAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("put checkpoint %s/%s: %w", threadID, cp.ID, err)
	}
	return nil
}

func (s *SQLiteStore) PutWrites(ctx context.Context, threadID, checkpointID string, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin writes tx: %w", err)
	}
	defer tx.Rollback()

	// Writes for an unknown checkpoint are dropped, matching MemoryStore.
	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?`,
		threadID, checkpointID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check checkpoint %s/%s: %w", threadID, checkpointID, err)
	}
	if exists == 0 {
		return nil
	}

	now := time.Now().UTC().Format(timeLayout)
	for _, write := range writes {
		if write.Value == nil {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO checkpoint_writes (thread_id, checkpoint_id, idx, channel, value, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (thread_id, checkpoint_id, idx) DO UPDATE
			 SET channel = excluded.channel, value = excluded.value`,
			threadID, checkpointID, write.Idx, write.Channel, string(write.Value), now,
		)
		if err != nil {
			return fmt.Errorf("put write %s/%s[%d]: %w", threadID, checkpointID, write.Idx, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteThread(ctx context.Context, threadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback()

	// Writes first so a failure never strands orphaned rows behind a
	// deleted checkpoint.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM checkpoint_writes WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete writes for %s: %w", threadID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete checkpoints for %s: %w", threadID, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) scanTuple(ctx context.Context, threadID, query string, args ...any) (*Tuple, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get checkpoint for %s: %w", threadID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRow(rows, threadID)
}

func scanRow(rows *sql.Rows, threadID string) (*Tuple, error) {
	var (
		cp        Checkpoint
		parentID  sql.NullString
		state     string
		metadata  sql.NullString
		createdAt string
	)
	if err := rows.Scan(&cp.ID, &parentID, &state, &metadata, &createdAt); err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}

	cp.ParentID = parentID.String
	cp.State = json.RawMessage(state)
	if ts, err := time.Parse(timeLayout, createdAt); err == nil {
		cp.CreatedAt = ts
	}

	tuple := &Tuple{ThreadID: threadID, Checkpoint: cp}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &tuple.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return tuple, nil
}

func (s *SQLiteStore) loadWrites(ctx context.Context, threadID, checkpointID string) ([]Write, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, channel, value FROM checkpoint_writes
		 WHERE thread_id = ? AND checkpoint_id = ? ORDER BY idx ASC`,
		threadID, checkpointID,
	)
	if err != nil {
		return nil, fmt.Errorf("load writes for %s/%s: %w", threadID, checkpointID, err)
	}
	defer rows.Close()

	var writes []Write
	for rows.Next() {
		var (
			write Write
			value sql.NullString
		)
		if err := rows.Scan(&write.Idx, &write.Channel, &value); err != nil {
			return nil, fmt.Errorf("scan write: %w", err)
		}
		if value.Valid {
			write.Value = json.RawMessage(value.String)
		}
		writes = append(writes, write)
	}
	return writes, rows.Err()
}
