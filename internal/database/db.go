package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/digitaldrywood/taskpulse/internal/auth"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

type DB struct {
	conn *sql.DB
}

func New(dataDir string) (*DB, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	dbPath := filepath.Join(dataDir, "taskpulse.db")
	conn, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %v", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set dialect: %v", err)
	}

	if err := goose.Up(db.conn, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %v", err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Session operations

// GetSession loads a session by id. A missing session yields nil, nil.
func (db *DB) GetSession(ctx context.Context, id string) (*auth.Session, error) {
	var (
		cred    auth.Credential
		state   string
		updated int64
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, oauth_state, updated_at
		FROM sessions WHERE id = ?
	`, id).Scan(&cred.AccessToken, &cred.RefreshToken, &state, &updated)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return auth.RestoreSession(id, cred, state, time.Unix(updated, 0)), nil
}

// SaveSession upserts the session and marks it clean.
func (db *DB) SaveSession(ctx context.Context, s *auth.Session) error {
	cred := s.Credential()
	now := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sessions (id, access_token, refresh_token, oauth_state, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			oauth_state = excluded.oauth_state,
			updated_at = excluded.updated_at
	`, s.ID, cred.AccessToken, cred.RefreshToken, s.State(), now.Unix())

	if err != nil {
		return err
	}
	s.UpdatedAt = now
	s.MarkClean()
	return nil
}

// TouchSession bumps the session's last-use time.
func (db *DB) TouchSession(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().Unix(), id)
	return err
}

func (db *DB) DeleteSession(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// PurgeSessions deletes sessions last used before cutoff.
func (db *DB) PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Service credential operations

// ServiceCredential returns the stored credential for name; ok is false
// when none was saved yet.
func (db *DB) ServiceCredential(ctx context.Context, name string) (auth.Credential, bool, error) {
	var cred auth.Credential
	err := db.conn.QueryRowContext(ctx, `
		SELECT access_token, refresh_token
		FROM service_credentials WHERE name = ?
	`, name).Scan(&cred.AccessToken, &cred.RefreshToken)

	if err == sql.ErrNoRows {
		return auth.Credential{}, false, nil
	}
	if err != nil {
		return auth.Credential{}, false, err
	}
	return cred, true, nil
}

func (db *DB) SaveServiceCredential(ctx context.Context, name string, cred auth.Credential) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO service_credentials (name, access_token, refresh_token, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			updated_at = excluded.updated_at
	`, name, cred.AccessToken, cred.RefreshToken, time.Now().Unix())
	return err
}

// Job run operations

func (db *DB) CreateRun(ctx context.Context, run *Run) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO job_runs (id, triggered_by, started_at, status)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.Trigger, run.StartedAt.UnixMilli(), run.Status)
	return err
}

func (db *DB) FinishRun(ctx context.Context, run *Run) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE job_runs SET finished_at = ?, status = ?, users_written = ?, error = ?
		WHERE id = ?
	`, run.FinishedAt.Time.UnixMilli(), run.Status, run.UsersWritten, run.Error, run.ID)
	return err
}

// RecentRuns returns up to limit runs, newest first.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, triggered_by, started_at, finished_at, status, users_written, error
		FROM job_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run      Run
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &run.Trigger, &started, &finished, &run.Status, &run.UsersWritten, &run.Error); err != nil {
			return nil, err
		}
		run.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			run.FinishedAt = sql.NullTime{Time: time.UnixMilli(finished.Int64), Valid: true}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Types

const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

type Run struct {
	ID           string
	Trigger      string
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	Status       string
	UsersWritten int
	Error        sql.NullString
}

// Duration is zero for unfinished runs.
func (r Run) Duration() time.Duration {
	if !r.FinishedAt.Valid {
		return 0
	}
	return r.FinishedAt.Time.Sub(r.StartedAt)
}
