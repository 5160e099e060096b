// Package store persists session histories in SQLite so a restarted daemon
// can pick up every operator's session where it was left.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rodline/procopt/internal/session"
	"github.com/rodline/procopt/pkg/logger"
	"github.com/rodline/procopt/pkg/models"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	desired_json TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS history (
	session_id   TEXT NOT NULL,
	depth        INTEGER NOT NULL,
	params_json  TEXT NOT NULL,
	report_json  TEXT,
	created_at   TEXT NOT NULL,
	PRIMARY KEY (session_id, depth),
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
`

// ErrNotFound is returned by Load for unknown sessions
var ErrNotFound = errors.New("session not stored")

// Store implements session.HistoryRecorder on SQLite
type Store struct {
	db *sql.DB
}

var _ session.HistoryRecorder = (*Store)(nil)

// NewStore opens a SQLite database and runs migrations
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// writes are serialized on one connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Init stores a new session, replacing any previous history under the same ID
func (s *Store) Init(ctx context.Context, id string, desired models.Triplet, root session.Entry) error {
	desiredJSON, err := json.Marshal(desired)
	if err != nil {
		return fmt.Errorf("marshal desired: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, desired_json, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET desired_json = excluded.desired_json, updated_at = excluded.updated_at`,
		id, string(desiredJSON), ts, ts,
	); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	if err := insertEntry(ctx, tx, id, 0, root); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Push stores entry at depth, dropping anything at or above it
func (s *Store) Push(ctx context.Context, id string, depth int, entry session.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE session_id = ? AND depth >= ?`, id, depth); err != nil {
		return fmt.Errorf("drop stale entries: %w", err)
	}
	if err := insertEntry(ctx, tx, id, depth, entry); err != nil {
		return err
	}
	if err := touch(ctx, tx, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Truncate keeps the first depth entries
func (s *Store) Truncate(ctx context.Context, id string, depth int) error {
	if depth < 1 {
		return fmt.Errorf("truncate: the root entry cannot be removed")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE session_id = ? AND depth >= ?`, id, depth); err != nil {
		return fmt.Errorf("truncate history: %w", err)
	}
	if err := touch(ctx, tx, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SetDesired updates the stored targets
func (s *Store) SetDesired(ctx context.Context, id string, desired models.Triplet) error {
	desiredJSON, err := json.Marshal(desired)
	if err != nil {
		return fmt.Errorf("marshal desired: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET desired_json = ?, updated_at = ? WHERE id = ?`,
		string(desiredJSON), now(), id)
	if err != nil {
		return fmt.Errorf("update desired: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Delete removes a session and its history
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List returns the stored session IDs, oldest first
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Load returns the desired targets and history of a session, root first
func (s *Store) Load(ctx context.Context, id string) (models.Triplet, []session.Entry, error) {
	var desired models.Triplet
	var desiredJSON string
	err := s.db.QueryRowContext(ctx, `SELECT desired_json FROM sessions WHERE id = ?`, id).Scan(&desiredJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return desired, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return desired, nil, fmt.Errorf("query session: %w", err)
	}
	if err := json.Unmarshal([]byte(desiredJSON), &desired); err != nil {
		return desired, nil, fmt.Errorf("unmarshal desired: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT depth, params_json, report_json, created_at FROM history WHERE session_id = ? ORDER BY depth`, id)
	if err != nil {
		return desired, nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var history []session.Entry
	for rows.Next() {
		var (
			depth      int
			paramsJSON string
			reportJSON sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&depth, &paramsJSON, &reportJSON, &createdAt); err != nil {
			return desired, nil, fmt.Errorf("scan history: %w", err)
		}
		if depth != len(history) {
			return desired, nil, fmt.Errorf("history of %s has a gap at depth %d", id, len(history))
		}

		var entry session.Entry
		entry.Params = &models.ParameterSet{}
		if err := json.Unmarshal([]byte(paramsJSON), entry.Params); err != nil {
			return desired, nil, fmt.Errorf("unmarshal parameters at depth %d: %w", depth, err)
		}
		if reportJSON.Valid {
			entry.Report = &models.StepReport{}
			if err := json.Unmarshal([]byte(reportJSON.String), entry.Report); err != nil {
				return desired, nil, fmt.Errorf("unmarshal report at depth %d: %w", depth, err)
			}
		}
		entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return desired, nil, err
	}
	if len(history) == 0 {
		return desired, nil, fmt.Errorf("session %s has no root entry", id)
	}
	return desired, history, nil
}

// RestoreAll loads every stored session into m. Sessions that fail to load
// are logged and skipped.
func (s *Store) RestoreAll(ctx context.Context, m *session.Manager) (int, error) {
	ids, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, id := range ids {
		desired, history, err := s.Load(ctx, id)
		if err == nil {
			_, err = m.Restore(id, desired, history)
		}
		if err != nil {
			logger.Warn("skipping stored session", "session_id", id, "error", err)
			continue
		}
		restored++
	}
	return restored, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, id string, depth int, entry session.Entry) error {
	paramsJSON, err := json.Marshal(entry.Params)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	var report any
	if entry.Report != nil {
		b, err := json.Marshal(entry.Report)
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		report = string(b)
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history (session_id, depth, params_json, report_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, depth, string(paramsJSON), report, created.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func touch(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now(), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
