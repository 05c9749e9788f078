package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/yunaamelia/debian-vps-workstation/pkg/engine"
	"github.com/yunaamelia/debian-vps-workstation/pkg/rollback"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is the single durable backend of the engine. It implements
// the rollback ledger store, the checkpoint store and the audit sink, and
// keeps run records for the status command.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database and enables WAL mode. Ledger appends must hit
// disk before the caller proceeds, so synchronous stays at FULL rather than
// the usual NORMAL.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// --- rollback ledger backend ---

// AppendAction durably records one compensating action.
func (s *SQLiteStore) AppendAction(ctx context.Context, installationID string, action *rollback.Action) error {
	query := `
		INSERT INTO rollback_actions (installation_id, sequence, owner, kind, payload, recorded_at, consumed)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`
	_, err := s.db.ExecContext(ctx, query,
		installationID,
		action.Sequence,
		action.Owner,
		string(action.Kind),
		string(action.Payload),
		action.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append rollback action: %w", err)
	}
	return nil
}

// ActionsByOwner returns one module's actions in ascending sequence order.
func (s *SQLiteStore) ActionsByOwner(ctx context.Context, installationID, owner string) ([]rollback.Action, error) {
	query := `
		SELECT sequence, owner, kind, payload, recorded_at, consumed
		FROM rollback_actions
		WHERE installation_id = ? AND owner = ?
		ORDER BY sequence ASC
	`
	return s.queryActions(ctx, query, installationID, owner)
}

// AllActions returns every action of an installation in ascending sequence
// order.
func (s *SQLiteStore) AllActions(ctx context.Context, installationID string) ([]rollback.Action, error) {
	query := `
		SELECT sequence, owner, kind, payload, recorded_at, consumed
		FROM rollback_actions
		WHERE installation_id = ?
		ORDER BY sequence ASC
	`
	return s.queryActions(ctx, query, installationID)
}

func (s *SQLiteStore) queryActions(ctx context.Context, query string, args ...interface{}) ([]rollback.Action, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollback actions: %w", err)
	}
	defer rows.Close()

	var actions []rollback.Action
	for rows.Next() {
		var a rollback.Action
		var kind, payload string
		if err := rows.Scan(&a.Sequence, &a.Owner, &kind, &payload, &a.RecordedAt, &a.Consumed); err != nil {
			return nil, fmt.Errorf("failed to scan rollback action: %w", err)
		}
		a.Kind = rollback.Kind(kind)
		a.Payload = json.RawMessage(payload)
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rollback actions: %w", err)
	}
	return actions, nil
}

// MarkConsumed flags a replayed action so it is never replayed again.
func (s *SQLiteStore) MarkConsumed(ctx context.Context, installationID string, sequence int64) error {
	query := `
		UPDATE rollback_actions
		SET consumed = 1
		WHERE installation_id = ? AND sequence = ?
	`
	result, err := s.db.ExecContext(ctx, query, installationID, sequence)
	if err != nil {
		return fmt.Errorf("failed to mark action consumed: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rollback action not found: sequence %d", sequence)
	}
	return nil
}

// MaxSequence returns the highest recorded sequence, 0 when empty.
func (s *SQLiteStore) MaxSequence(ctx context.Context, installationID string) (int64, error) {
	query := `
		SELECT COALESCE(MAX(sequence), 0)
		FROM rollback_actions
		WHERE installation_id = ?
	`
	var seq int64
	if err := s.db.QueryRowContext(ctx, query, installationID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read max sequence: %w", err)
	}
	return seq, nil
}

// --- checkpoint backend ---

// SaveCheckpoint durably records one completed batch.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *engine.Checkpoint) error {
	modules, err := json.Marshal(cp.CompletedModules)
	if err != nil {
		return fmt.Errorf("failed to encode completed modules: %w", err)
	}

	query := `
		INSERT INTO checkpoints (installation_id, ts, completed_batch_index, completed_modules, ledger_snapshot_ref)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		cp.InstallationID,
		cp.Timestamp,
		cp.CompletedBatchIndex,
		string(modules),
		cp.LedgerSnapshotRef,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the most recent checkpoint for an installation,
// or (nil, nil) when none exists.
func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, installationID string) (*engine.Checkpoint, error) {
	query := `
		SELECT installation_id, ts, completed_batch_index, completed_modules, ledger_snapshot_ref
		FROM checkpoints
		WHERE installation_id = ?
		ORDER BY id DESC
		LIMIT 1
	`
	cp := &engine.Checkpoint{}
	var modules string
	err := s.db.QueryRowContext(ctx, query, installationID).Scan(
		&cp.InstallationID,
		&cp.Timestamp,
		&cp.CompletedBatchIndex,
		&modules,
		&cp.LedgerSnapshotRef,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(modules), &cp.CompletedModules); err != nil {
		return nil, fmt.Errorf("failed to decode completed modules: %w", err)
	}
	return cp, nil
}

// --- run records ---

// CreateRun creates a new run record in the running state.
func (s *SQLiteStore) CreateRun(ctx context.Context, rec *RunRecord) error {
	query := `
		INSERT INTO runs (id, installation_id, status, dry_run, started_at, completed_at, error, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.InstallationID,
		rec.Status,
		rec.DryRun,
		rec.StartedAt,
		rec.CompletedAt,
		rec.Error,
		rec.Summary,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun records a run's terminal status, error and summary.
func (s *SQLiteStore) FinishRun(ctx context.Context, id, status string, errMsg, summary *string) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, summary = ?, completed_at = ?
		WHERE id = ?
	`
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, status, errMsg, summary, now, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// LatestRun returns the most recent run for an installation, or (nil, nil)
// when none exists.
func (s *SQLiteStore) LatestRun(ctx context.Context, installationID string) (*RunRecord, error) {
	query := `
		SELECT id, installation_id, status, dry_run, started_at, completed_at, error, summary
		FROM runs
		WHERE installation_id = ?
		ORDER BY started_at DESC
		LIMIT 1
	`
	rec := &RunRecord{}
	err := s.db.QueryRowContext(ctx, query, installationID).Scan(
		&rec.ID,
		&rec.InstallationID,
		&rec.Status,
		&rec.DryRun,
		&rec.StartedAt,
		&rec.CompletedAt,
		&rec.Error,
		&rec.Summary,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	return rec, nil
}

// ListRuns lists the most recent runs across installations.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, installation_id, status, dry_run, started_at, completed_at, error, summary
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var recs []*RunRecord
	for rows.Next() {
		rec := &RunRecord{}
		if err := rows.Scan(
			&rec.ID,
			&rec.InstallationID,
			&rec.Status,
			&rec.DryRun,
			&rec.StartedAt,
			&rec.CompletedAt,
			&rec.Error,
			&rec.Summary,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return recs, nil
}

// --- audit log ---

// RecordAudit appends one audit log entry.
func (s *SQLiteStore) RecordAudit(ctx context.Context, installationID, action, detail string) error {
	query := `
		INSERT INTO audit_log (installation_id, action, detail, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, installationID, action, detail, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit entries for an installation,
// newest first.
func (s *SQLiteStore) ListAudit(ctx context.Context, installationID string, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, installation_id, action, detail, created_at
		FROM audit_log
		WHERE installation_id = ?
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, installationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		if err := rows.Scan(&e.ID, &e.InstallationID, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}

// Interface conformance.
var (
	_ rollback.Store         = (*SQLiteStore)(nil)
	_ engine.CheckpointStore = (*SQLiteStore)(nil)
	_ engine.AuditSink       = (*SQLiteStore)(nil)
)
