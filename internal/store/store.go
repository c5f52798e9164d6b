// Package store provides SQLite-backed persistence for antos.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
	_ "modernc.org/sqlite"
)

const (
	kernelSnapshot = "kernel"
	defaultWorld   = "default"
)

// Store provides access to the antos SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		name TEXT PRIMARY KEY,
		tick INTEGER NOT NULL,
		data TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS worlds (
		name TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		process_id INTEGER,
		tick INTEGER NOT NULL,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ticks (
		run_id TEXT PRIMARY KEY,
		tick INTEGER NOT NULL,
		ran INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		tasks INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		duration_ns INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_process_id ON decisions(process_id);
	CREATE INDEX IF NOT EXISTS idx_ticks_tick ON ticks(tick);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Snapshot Operations ---

// SaveSnapshot replaces the stored kernel snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (name, tick, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET tick = excluded.tick, data = excluded.data, updated_at = excluded.updated_at`,
		kernelSnapshot, snap.Tick, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the stored kernel snapshot, or nil if none was saved yet.
func (s *Store) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE name = ?`, kernelSnapshot).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	snap := &models.Snapshot{}
	if err := json.Unmarshal([]byte(data), snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// --- World Operations ---

// SaveWorld replaces the stored world state.
func (s *Store) SaveWorld(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO worlds (name, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		defaultWorld, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save world: %w", err)
	}
	return nil
}

// LoadWorld returns the stored world state, or nil if none was saved yet.
func (s *Store) LoadWorld(ctx context.Context) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM worlds WHERE name = ?`, defaultWorld).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query world: %w", err)
	}
	return []byte(data), nil
}

// --- Decision Operations ---

// WriteDecision writes a kernel decision record.
func (s *Store) WriteDecision(action, inputsHash, outcome string, pid models.ProcessID, tick uint64, details string) (*models.Decision, error) {
	d := &models.Decision{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		ProcessID:  pid,
		Tick:       tick,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO decisions (id, action, inputs_hash, outcome, process_id, tick, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Action, d.InputsHash, d.Outcome, d.ProcessID, d.Tick, d.Details, d.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert decision: %w", err)
	}
	return d, nil
}

// ListDecisions returns the most recent decisions first, optionally for one process.
func (s *Store) ListDecisions(ctx context.Context, pid models.ProcessID, limit int) ([]models.Decision, error) {
	query := `SELECT id, action, inputs_hash, outcome, process_id, tick, details, timestamp FROM decisions`
	var args []interface{}

	if pid != 0 {
		query += ` WHERE process_id = ?`
		args = append(args, pid)
	}
	query += ` ORDER BY timestamp DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []models.Decision
	for rows.Next() {
		var d models.Decision
		var details sql.NullString
		if err := rows.Scan(&d.ID, &d.Action, &d.InputsHash, &d.Outcome, &d.ProcessID, &d.Tick, &details, &d.Timestamp); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if details.Valid {
			d.Details = details.String
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Tick History ---

// RecordTick stores a tick summary and keeps at most keep entries (0 keeps all).
func (s *Store) RecordTick(ctx context.Context, sum models.TickSummary, keep int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ticks (run_id, tick, ran, skipped, failed, tasks, started_at, duration_ns) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.Tick, sum.Ran, sum.Skipped, sum.Failed, sum.Tasks, sum.StartedAt, int64(sum.Duration),
	)
	if err != nil {
		return fmt.Errorf("insert tick: %w", err)
	}

	if keep > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM ticks WHERE run_id NOT IN (SELECT run_id FROM ticks ORDER BY tick DESC, started_at DESC LIMIT ?)`,
			keep,
		)
		if err != nil {
			return fmt.Errorf("trim ticks: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListTicks returns the most recent tick summaries first.
func (s *Store) ListTicks(ctx context.Context, limit int) ([]models.TickSummary, error) {
	query := `SELECT run_id, tick, ran, skipped, failed, tasks, started_at, duration_ns FROM ticks ORDER BY tick DESC, started_at DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	var out []models.TickSummary
	for rows.Next() {
		var sum models.TickSummary
		var dur int64
		if err := rows.Scan(&sum.RunID, &sum.Tick, &sum.Ran, &sum.Skipped, &sum.Failed, &sum.Tasks, &sum.StartedAt, &dur); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		sum.Duration = time.Duration(dur)
		out = append(out, sum)
	}
	return out, rows.Err()
}
