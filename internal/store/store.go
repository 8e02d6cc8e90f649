package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dshills/plugforge/internal/plugin"
)

const timeLayout = time.RFC3339Nano

// Entry is a stored descriptor with its lifecycle state.
type Entry struct {
	Descriptor *plugin.Descriptor
	State      plugin.State
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Filter narrows ListDescriptors. Zero fields match everything.
type Filter struct {
	State    *plugin.State
	Category string
	Language plugin.Language
}

// Store is a SQLite-backed descriptor catalog and execution index.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path. ":memory:" opens a private
// in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps writes serialized and in-memory databases shared
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS plugins (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  category TEXT NOT NULL,
  language TEXT NOT NULL,
  state TEXT NOT NULL,
  descriptor TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS executions (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  plugin_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL,
  error TEXT,
  timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS executions_plugin ON executions (plugin_id, seq);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SaveDescriptor inserts or replaces d. New plugins start in the analyzed
// state; an existing plugin keeps its state.
func (s *Store) SaveDescriptor(ctx context.Context, d *plugin.Descriptor) error {
	if d == nil {
		return errors.New("save descriptor: nil descriptor")
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("save descriptor: %w", err)
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}

	const stmt = `
INSERT INTO plugins (id, name, category, language, state, descriptor, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name=excluded.name,
  category=excluded.category,
  language=excluded.language,
  descriptor=excluded.descriptor,
  updated_at=excluded.updated_at;
`
	now := s.now().UTC().Format(timeLayout)
	_, err = s.db.ExecContext(ctx, stmt,
		d.ID,
		d.Name,
		d.Category,
		string(d.Language),
		plugin.StateAnalyzed.String(),
		string(data),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert plugin: %w", err)
	}
	return nil
}

// GetDescriptor returns the descriptor stored under id. A missing id
// yields an error wrapping plugin.ErrPluginNotFound.
func (s *Store) GetDescriptor(ctx context.Context, id string) (*plugin.Descriptor, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return entry.Descriptor, nil
}

// Get returns the stored entry for id.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT descriptor, state, created_at, updated_at FROM plugins WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plugin %s: %w", id, plugin.ErrPluginNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get plugin %s: %w", id, err)
	}
	return entry, nil
}

// ListDescriptors returns stored entries matching f, ordered by id.
func (s *Store) ListDescriptors(ctx context.Context, f Filter) ([]*Entry, error) {
	query := `SELECT descriptor, state, created_at, updated_at FROM plugins WHERE 1=1`
	var args []any
	if f.State != nil {
		query += ` AND state = ?`
		args = append(args, f.State.String())
	}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.Language != "" {
		query += ` AND language = ?`
		args = append(args, string(f.Language))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("list plugins: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// State returns the lifecycle state of id.
func (s *Store) State(ctx context.Context, id string) (plugin.State, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return plugin.StateUploaded, err
	}
	return entry.State, nil
}

// SetState moves id to next. Transitions the lifecycle does not allow
// fail with an error wrapping plugin.ErrInvalidTransition.
func (s *Store) SetState(ctx context.Context, id string, next plugin.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var name string
	err = tx.QueryRowContext(ctx, `SELECT state FROM plugins WHERE id = ?`, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("plugin %s: %w", id, plugin.ErrPluginNotFound)
	}
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	current, err := plugin.ParseState(name)
	if err != nil {
		return err
	}
	if current == next {
		return nil
	}
	if !current.CanTransition(next) {
		return fmt.Errorf("plugin %s: %w: %s -> %s", id, plugin.ErrInvalidTransition, current, next)
	}

	_, err = tx.ExecContext(ctx, `UPDATE plugins SET state = ?, updated_at = ? WHERE id = ?`,
		next.String(), s.now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	return tx.Commit()
}

// Delete removes id and its execution history.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM plugins WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete plugin: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("plugin %s: %w", id, plugin.ErrPluginNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE plugin_id = ?`, id); err != nil {
		return fmt.Errorf("delete executions: %w", err)
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var data, state, created, updated string
	if err := row.Scan(&data, &state, &created, &updated); err != nil {
		return nil, err
	}

	var d plugin.Descriptor
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	st, err := plugin.ParseState(state)
	if err != nil {
		return nil, err
	}
	entry := &Entry{Descriptor: &d, State: st}
	entry.CreatedAt, _ = time.Parse(timeLayout, created)
	entry.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return entry, nil
}
