// Package sqlite is the relational graph store. Saves run in IMMEDIATE
// transactions so the read-max/insert/prune/update sequence of one graph is
// serialized, and UNIQUE(graph_id, version) backs that up.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"knowgraph/application/ports"
	"knowgraph/domain/graph"
	"knowgraph/domain/versioning"
	"knowgraph/infrastructure/persistence/sqlite/migrations"
)

// Store implements ports.GraphRepository on SQLite
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

var _ ports.GraphRepository = (*Store)(nil)

// NewStore opens (or creates) the database at path and applies pending migrations
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	dsn := path + "?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:     db,
		path:   path,
		logger: logger,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// SchemaVersion returns the highest applied migration
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("getting schema version: %w", err)
	}
	return version, nil
}

func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	current, err := s.SchemaVersion(context.Background())
	if err != nil {
		return err
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_initial.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("starting migration %s: %w", name, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}

		s.logger.Debug("Applied migration", zap.String("file", name), zap.Int("version", version))
	}

	return nil
}

// WithinTx runs fn inside one IMMEDIATE transaction
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.GraphTx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &graphTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("Rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("committing transaction: %w", ports.ErrVersionConflict)
		}
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetCurrent retrieves the current row of a graph
func (s *Store) GetCurrent(ctx context.Context, graphID string) (*ports.CurrentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, created_by, version, format_version, data, updated_at
		FROM knowledge_graphs WHERE id = ?
	`, graphID)

	var rec ports.CurrentRecord
	var data string
	var updatedAt sql.NullTime
	if err := row.Scan(&rec.ID, &rec.Title, &rec.Description, &rec.CreatedBy,
		&rec.Version, &rec.FormatVersion, &data, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("graph %s: %w", graphID, ports.ErrGraphNotFound)
		}
		return nil, fmt.Errorf("scanning graph: %w", err)
	}

	rec.Data = []byte(data)
	if updatedAt.Valid {
		rec.UpdatedAt = updatedAt.Time
	}
	return &rec, nil
}

// ListHistory returns the snapshots of a graph, newest first
func (s *Store) ListHistory(ctx context.Context, graphID string) ([]versioning.VersionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, timestamp, checksum
		FROM knowledge_graph_history
		WHERE graph_id = ?
		ORDER BY version DESC
	`, graphID)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	entries := []versioning.VersionEntry{}
	for rows.Next() {
		var e versioning.VersionEntry
		var ts sql.NullTime
		if err := rows.Scan(&e.Version, &ts, &e.Checksum); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		if ts.Valid {
			e.Timestamp = ts.Time
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return entries, nil
}

// GetSnapshot retrieves one snapshot
func (s *Store) GetSnapshot(ctx context.Context, graphID string, version int) (*versioning.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, graph_id, version, format_version, checksum, data, timestamp
		FROM knowledge_graph_history
		WHERE graph_id = ? AND version = ?
	`, graphID, version)

	var snap versioning.Snapshot
	var data string
	var ts sql.NullTime
	if err := row.Scan(&snap.ID, &snap.GraphID, &snap.Version, &snap.FormatVersion,
		&snap.Checksum, &data, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("graph %s version %d: %w", graphID, version, ports.ErrVersionNotFound)
		}
		return nil, fmt.Errorf("scanning snapshot: %w", err)
	}

	snap.Data = []byte(data)
	if ts.Valid {
		snap.CreatedAt = ts.Time
	}
	return &snap, nil
}

// List returns a summary of every graph, most recently updated first
func (s *Store) List(ctx context.Context) ([]graph.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, created_by, version, updated_at
		FROM knowledge_graphs
		ORDER BY updated_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying graphs: %w", err)
	}
	defer rows.Close()

	summaries := []graph.Summary{}
	for rows.Next() {
		var sum graph.Summary
		var updatedAt sql.NullTime
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Description, &sum.CreatedBy,
			&sum.Version, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning graph summary: %w", err)
		}
		if updatedAt.Valid {
			sum.UpdatedAt = updatedAt.Time
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating graphs: %w", err)
	}
	return summaries, nil
}

// Delete removes the current row and all snapshots of a graph
func (s *Store) Delete(ctx context.Context, graphID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM knowledge_graph_history WHERE graph_id = ?", graphID)
	if err != nil {
		return 0, fmt.Errorf("deleting history: %w", err)
	}
	snapshots, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted history: %w", err)
	}

	res, err = tx.ExecContext(ctx, "DELETE FROM knowledge_graphs WHERE id = ?", graphID)
	if err != nil {
		return 0, fmt.Errorf("deleting graph: %w", err)
	}
	current, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted graph: %w", err)
	}

	if snapshots == 0 && current == 0 {
		return 0, fmt.Errorf("graph %s: %w", graphID, ports.ErrGraphNotFound)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing delete: %w", err)
	}
	return int(snapshots), nil
}

// Ping checks that the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// graphTx implements ports.GraphTx on a *sql.Tx
type graphTx struct {
	tx *sql.Tx
}

func (t *graphTx) LatestVersion(ctx context.Context, graphID string) (int, error) {
	var version int
	row := t.tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM knowledge_graph_history WHERE graph_id = ?", graphID)
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("reading latest version: %w", err)
	}
	return version, nil
}

func (t *graphTx) InsertSnapshot(ctx context.Context, snap versioning.Snapshot) error {
	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO knowledge_graph_history (id, graph_id, version, format_version, checksum, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, snap.ID, snap.GraphID, snap.Version, snap.FormatVersion, snap.Checksum, string(snap.Data), createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("graph %s version %d: %w", snap.GraphID, snap.Version, ports.ErrVersionConflict)
		}
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	return nil
}

func (t *graphTx) CountSnapshots(ctx context.Context, graphID string) (int, error) {
	var count int
	row := t.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM knowledge_graph_history WHERE graph_id = ?", graphID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("counting snapshots: %w", err)
	}
	return count, nil
}

func (t *graphTx) DeleteOldestSnapshot(ctx context.Context, graphID string) (int, error) {
	var oldest sql.NullInt64
	row := t.tx.QueryRowContext(ctx,
		"SELECT MIN(version) FROM knowledge_graph_history WHERE graph_id = ?", graphID)
	if err := row.Scan(&oldest); err != nil {
		return 0, fmt.Errorf("finding oldest snapshot: %w", err)
	}
	if !oldest.Valid {
		return 0, nil
	}

	_, err := t.tx.ExecContext(ctx,
		"DELETE FROM knowledge_graph_history WHERE graph_id = ? AND version = ?", graphID, oldest.Int64)
	if err != nil {
		return 0, fmt.Errorf("deleting oldest snapshot: %w", err)
	}
	return int(oldest.Int64), nil
}

func (t *graphTx) UpsertCurrent(ctx context.Context, rec ports.CurrentRecord) error {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO knowledge_graphs (id, title, description, created_by, version, format_version, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			created_by = excluded.created_by,
			version = excluded.version,
			format_version = excluded.format_version,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, rec.ID, rec.Title, rec.Description, rec.CreatedBy, rec.Version, rec.FormatVersion,
		string(rec.Data), updatedAt, updatedAt)
	if err != nil {
		return fmt.Errorf("upserting graph: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
