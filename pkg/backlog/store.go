package backlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Config holds store configuration
type Config struct {
	Path   string
	Logger zerolog.Logger
}

// Store persists the item tree in SQLite
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewStore opens (creating if needed) the database at cfg.Path
func NewStore(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writes from concurrent runs.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Debug().Str("path", cfg.Path).Msg("Backlog store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			priority INTEGER NOT NULL,
			parent_id TEXT REFERENCES items(id) ON DELETE CASCADE,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_items_parent ON items(parent_id);
		CREATE INDEX IF NOT EXISTS idx_items_kind ON items(kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

const itemColumns = "id, kind, title, description, status, priority, parent_id, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		it        Item
		parentID  sql.NullString
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&it.ID, &it.Kind, &it.Title, &it.Description, &it.Status, &it.Priority, &parentID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	it.ParentID = parentID.String
	it.CreatedAt = time.UnixMilli(createdAt).UTC()
	it.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &it, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts a new draft item after checking the hierarchy
func (s *Store) Create(ctx context.Context, in NewItem) (*Item, error) {
	kind, ok := ParseKind(string(in.Kind))
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidItem, in.Kind)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", ErrInvalidItem)
	}
	priority := DefaultPriority
	if in.Priority != nil {
		priority = *in.Priority
	}
	if err := validatePriority(priority); err != nil {
		return nil, err
	}

	if err := s.checkParent(ctx, kind, in.ParentID); err != nil {
		return nil, err
	}

	id, err := newID(kind)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	item := &Item{
		ID:          id,
		Kind:        kind,
		Title:       title,
		Description: in.Description,
		Status:      StatusDraft,
		Priority:    priority,
		ParentID:    in.ParentID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.execWrite(ctx,
		"INSERT INTO items ("+itemColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		item.ID, item.Kind, item.Title, item.Description, item.Status, item.Priority,
		nullable(item.ParentID), now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert item: %w", err)
	}

	s.logger.Info().Str("item_id", item.ID).Str("kind", string(kind)).Msg("Item created")
	return item, nil
}

// execWrite runs a single write in its own transaction. database/sql never
// commits a transaction whose ctx is done, so a tool call that timed out
// cannot change the tree afterwards.
func (s *Store) execWrite(ctx context.Context, query string, args ...interface{}) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// checkParent verifies that parentID is a valid parent for an item of kind
func (s *Store) checkParent(ctx context.Context, kind Kind, parentID string) error {
	want, needsParent := kind.ParentKind()
	if !needsParent {
		if parentID != "" {
			return fmt.Errorf("%w: %s items cannot have a parent", ErrInvalidHierarchy, kind)
		}
		return nil
	}
	if parentID == "" {
		return fmt.Errorf("%w: %s items need a %s parent", ErrInvalidHierarchy, kind, want)
	}

	parent, err := s.Get(ctx, parentID)
	if err != nil {
		return err
	}
	if parent.Kind != want {
		return fmt.Errorf("%w: %s items belong under a %s, not a %s", ErrInvalidHierarchy, kind, want, parent.Kind)
	}
	return nil
}

// Get returns one item
func (s *Store) Get(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE id = ?", id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load item %s: %w", id, err)
	}
	return item, nil
}

// Exists reports whether an item with id is stored
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM items WHERE id = ?", id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns items matching the filter, oldest first
func (s *Store) List(ctx context.Context, f Filter) ([]*Item, error) {
	query := "SELECT " + itemColumns + " FROM items"
	var (
		where []string
		args  []interface{}
	)
	if f.ParentID != nil {
		if *f.ParentID == "" {
			where = append(where, "parent_id IS NULL")
		} else {
			where = append(where, "parent_id = ?")
			args = append(args, *f.ParentID)
		}
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	items := []*Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Update applies a patch and bumps updated_at
func (s *Store) Update(ctx context.Context, id string, p Patch) (*Item, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidItem)
	}

	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", ErrInvalidItem)
		}
		item.Title = title
	}
	if p.Description != nil {
		item.Description = *p.Description
	}
	if p.Status != nil {
		st, ok := ParseStatus(string(*p.Status))
		if !ok {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidItem, *p.Status)
		}
		item.Status = st
	}
	if p.Priority != nil {
		if err := validatePriority(*p.Priority); err != nil {
			return nil, err
		}
		item.Priority = *p.Priority
	}
	item.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)

	err = s.execWrite(ctx,
		"UPDATE items SET title = ?, description = ?, status = ?, priority = ?, updated_at = ? WHERE id = ?",
		item.Title, item.Description, item.Status, item.Priority, item.UpdatedAt.UnixMilli(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update item %s: %w", id, err)
	}

	s.logger.Info().Str("item_id", id).Msg("Item updated")
	return item, nil
}

// Move reparents an item under newParentID
func (s *Store) Move(ctx context.Context, id, newParentID string) (*Item, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if newParentID == id {
		return nil, fmt.Errorf("%w: an item cannot be its own parent", ErrInvalidHierarchy)
	}
	if err := s.checkParent(ctx, item.Kind, newParentID); err != nil {
		return nil, err
	}

	item.ParentID = newParentID
	item.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)
	err = s.execWrite(ctx,
		"UPDATE items SET parent_id = ?, updated_at = ? WHERE id = ?",
		nullable(newParentID), item.UpdatedAt.UnixMilli(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to move item %s: %w", id, err)
	}

	s.logger.Info().Str("item_id", id).Str("parent_id", newParentID).Msg("Item moved")
	return item, nil
}

// Delete removes an item and all of its descendants, returning every removed id
func (s *Store) Delete(ctx context.Context, id string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		WITH RECURSIVE subtree(id, depth) AS (
			SELECT id, 0 FROM items WHERE id = ?
			UNION ALL
			SELECT items.id, subtree.depth + 1 FROM items JOIN subtree ON items.parent_id = subtree.id
		)
		SELECT id FROM subtree ORDER BY depth DESC, id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to collect subtree of %s: %w", id, err)
	}
	var ids []string
	for rows.Next() {
		var child string
		if err := rows.Scan(&child); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, child)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	for _, child := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM items WHERE id = ?", child); err != nil {
			return nil, fmt.Errorf("failed to delete item %s: %w", child, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}

	s.logger.Info().Str("item_id", id).Int("deleted", len(ids)).Msg("Item deleted")
	return ids, nil
}
