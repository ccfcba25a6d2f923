package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/agentplane/internal/store"
)

// opTimeout bounds every archive operation.
const opTimeout = 5 * time.Second

// SQLiteArchive implements Archive on a single SQLite file.
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLiteArchive opens (or creates) the archive at dbPath. Parent
// directories are created if needed. WAL mode, a busy timeout, and
// foreign keys are enabled.
func NewSQLiteArchive(ctx context.Context, dbPath string) (*SQLiteArchive, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// Note: modernc.org/sqlite does not support _foreign_keys in the
	// connection string; it is enabled with a PRAGMA below.
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return initArchive(ctx, db)
}

// NewMemoryArchive creates an in-memory archive for testing. A shared
// cache lets multiple connections see the same database.
func NewMemoryArchive(ctx context.Context) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}
	return initArchive(ctx, db)
}

// initArchive applies connection settings and the schema.
func initArchive(ctx context.Context, db *sql.DB) (*SQLiteArchive, error) {
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	// One connection for primary queries, one for subqueries.
	db.SetMaxOpenConns(2)

	a := &SQLiteArchive{db: db}
	if err := a.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return a, nil
}

// initSchema creates all required tables if they don't exist.
func (a *SQLiteArchive) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		replica_id TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		task_count INTEGER NOT NULL,
		payload TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_replica_created
		ON snapshots(replica_id, created_at);

	CREATE TABLE IF NOT EXISTS checkpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		reason TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_task ON checkpoints(task_id, created_at);

	CREATE TABLE IF NOT EXISTS handoffs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		summary TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_handoffs_task ON handoffs(task_id, created_at);
	`

	_, err := a.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

// SaveSnapshot persists a full store export as a JSON payload and
// returns the generated snapshot id.
func (a *SQLiteArchive) SaveSnapshot(ctx context.Context, snap store.Snapshot) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	payload, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, replica_id, task_count, payload)
		VALUES (?, ?, ?, ?)
	`, id, snap.ReplicaID, len(snap.Tasks), string(payload))
	if err != nil {
		return "", fmt.Errorf("failed to save snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

// LatestSnapshot returns the newest snapshot for the replica (any
// replica when replicaID is empty), or ErrNoSnapshot.
func (a *SQLiteArchive) LatestSnapshot(ctx context.Context, replicaID string) (store.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT payload FROM snapshots
		WHERE (? = '' OR replica_id = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`
	var payload string
	err := a.db.QueryRowContext(ctx, query, replicaID, replicaID).Scan(&payload)
	if err == sql.ErrNoRows {
		return store.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("failed to query latest snapshot: %w", err)
	}
	return decodeSnapshot(payload)
}

// GetSnapshot returns one archived snapshot by id.
func (a *SQLiteArchive) GetSnapshot(ctx context.Context, id string) (store.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var payload string
	err := a.db.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return store.Snapshot{}, fmt.Errorf("snapshot %q: %w", id, ErrNoSnapshot)
	}
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("failed to query snapshot: %w", err)
	}
	return decodeSnapshot(payload)
}

// decodeSnapshot parses an archived payload. Unknown enum values fail
// here, at the deserialization boundary.
func decodeSnapshot(payload string) (store.Snapshot, error) {
	var snap store.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return store.Snapshot{}, fmt.Errorf("failed to decode snapshot payload: %w", err)
	}
	return snap, nil
}

// ListSnapshots returns snapshot metadata, newest first.
func (a *SQLiteArchive) ListSnapshots(ctx context.Context) ([]SnapshotRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, replica_id, created_at, task_count
		FROM snapshots
		ORDER BY created_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	records := []SnapshotRecord{}
	for rows.Next() {
		var rec SnapshotRecord
		if err := rows.Scan(&rec.ID, &rec.ReplicaID, &rec.CreatedAt, &rec.Tasks); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return records, nil
}

// PruneSnapshots deletes all but the newest keep snapshots and returns
// how many rows were removed.
func (a *SQLiteArchive) PruneSnapshots(ctx context.Context, keep int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if keep < 0 {
		keep = 0
	}
	res, err := a.db.ExecContext(ctx, `
		DELETE FROM snapshots WHERE id NOT IN (
			SELECT id FROM snapshots ORDER BY created_at DESC, rowid DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned rows: %w", err)
	}
	return int(n), nil
}

// AppendCheckpoint records one checkpoint row and returns its id.
func (a *SQLiteArchive) AppendCheckpoint(ctx context.Context, taskID, agentID, reason string) (int64, error) {
	return a.appendRow(ctx, `INSERT INTO checkpoints (task_id, agent_id, reason) VALUES (?, ?, ?)`,
		taskID, agentID, reason)
}

// AppendHandoff records one handoff summary row and returns its id.
func (a *SQLiteArchive) AppendHandoff(ctx context.Context, taskID, agentID, summary string) (int64, error) {
	return a.appendRow(ctx, `INSERT INTO handoffs (task_id, agent_id, summary) VALUES (?, ?, ?)`,
		taskID, agentID, summary)
}

// appendRow runs one append-only insert inside a serializable transaction.
func (a *SQLiteArchive) appendRow(ctx context.Context, query string, args ...any) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to append row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read row id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

// Checkpoints returns a task's checkpoint rows, oldest first.
func (a *SQLiteArchive) Checkpoints(ctx context.Context, taskID string) ([]CheckpointRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Double sort: created_at then id keeps order stable within a second.
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, task_id, agent_id, reason, created_at
		FROM checkpoints
		WHERE task_id = ?
		ORDER BY created_at ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	records := []CheckpointRecord{}
	for rows.Next() {
		var rec CheckpointRecord
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.AgentID, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}
	return records, nil
}

// Handoffs returns a task's handoff rows, oldest first.
func (a *SQLiteArchive) Handoffs(ctx context.Context, taskID string) ([]HandoffRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, task_id, agent_id, summary, created_at
		FROM handoffs
		WHERE task_id = ?
		ORDER BY created_at ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query handoffs: %w", err)
	}
	defer rows.Close()

	records := []HandoffRecord{}
	for rows.Next() {
		var rec HandoffRecord
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.AgentID, &rec.Summary, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan handoff row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating handoffs: %w", err)
	}
	return records, nil
}
