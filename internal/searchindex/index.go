// Package searchindex maintains a SQLite mirror of the cached note
// collection so that search keeps working offline, with optional FTS5
// full-text matching.
package searchindex

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/laguz/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	tags       TEXT NOT NULL DEFAULT '',
	parent     TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notes_parent ON notes(parent);
`

// SearchResult is one search hit.
type SearchResult struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite mirror and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("searchindex: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("searchindex: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("searchindex: apply schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("searchindex: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// UpsertNote writes one note into the mirror.
func (db *DB) UpsertNote(n models.Note) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("searchindex: begin: %w", err)
	}
	defer tx.Rollback()

	if err := upsertTx(tx, n); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceAll rebuilds the mirror from a full note collection.
func (db *DB) ReplaceAll(notes []models.Note) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("searchindex: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM notes`); err != nil {
		return fmt.Errorf("searchindex: clear: %w", err)
	}
	ftsClear(tx)
	for _, n := range notes {
		if err := upsertTx(tx, n); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteNotes removes the given ids from the mirror.
func (db *DB) DeleteNotes(ids ...string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("searchindex: begin: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM notes WHERE id = ?`, id); err != nil {
			return fmt.Errorf("searchindex: delete %s: %w", id, err)
		}
		ftsDelete(tx, id)
	}
	return tx.Commit()
}

// RenameNote rewrites a note id and the parent references pointing at it,
// mirroring the cache-side id rewrite after server confirmation.
func (db *DB) RenameNote(oldID, newID string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("searchindex: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE notes SET id = ? WHERE id = ?`, newID, oldID); err != nil {
		return fmt.Errorf("searchindex: rename: %w", err)
	}
	if _, err := tx.Exec(`UPDATE notes SET parent = ? WHERE parent = ?`, newID, oldID); err != nil {
		return fmt.Errorf("searchindex: rename parents: %w", err)
	}
	ftsRename(tx, oldID, newID)
	return tx.Commit()
}

func upsertTx(tx *sql.Tx, n models.Note) error {
	plain := stripTags(n.Content)
	_, err := tx.Exec(`
		INSERT INTO notes (id, title, content, tags, parent, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			tags = excluded.tags,
			parent = excluded.parent,
			updated_at = excluded.updated_at
	`, n.ID, n.Title, plain, strings.Join(n.Tags, " "), n.Parent, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("searchindex: upsert %s: %w", n.ID, err)
	}
	return ftsUpsert(tx, n.ID, n.Title, plain, n.Tags)
}

var reTag = regexp.MustCompile(`<[^>]*>`)

// stripTags reduces rich-text HTML to indexable plain text.
func stripTags(html string) string {
	return strings.Join(strings.Fields(reTag.ReplaceAllString(html, " ")), " ")
}
