// Package sqlite stores captured notes in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/note-capture/note-capture/internal/domain/note"
)

// Open opens the database at path. ":memory:" is allowed.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NoteRepository implements note.Repository on SQLite.
type NoteRepository struct {
	db *sql.DB
}

var _ note.Repository = (*NoteRepository)(nil)

// NewNoteRepository creates the notes table if needed.
func NewNoteRepository(db *sql.DB) (*NoteRepository, error) {
	r := &NoteRepository{db: db}
	if err := r.initSchema(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *NoteRepository) initSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS notes (
			note_id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			media TEXT NOT NULL DEFAULT '[]',
			like_count INTEGER NOT NULL DEFAULT 0,
			comment_count INTEGER NOT NULL DEFAULT 0,
			collect_count INTEGER NOT NULL DEFAULT 0,
			share_count INTEGER NOT NULL DEFAULT 0,
			author_name TEXT NOT NULL DEFAULT '',
			author_id TEXT NOT NULL DEFAULT '',
			publish_time TEXT,
			note_url TEXT NOT NULL,
			capture_time INTEGER NOT NULL,
			source_type TEXT NOT NULL DEFAULT 'api',
			comments TEXT NOT NULL DEFAULT '[]'
		);
		CREATE INDEX IF NOT EXISTS idx_notes_capture_time ON notes (capture_time DESC);`,
	)
	if err != nil {
		return err
	}
	// Files created before comments were captured lack the column.
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('notes') WHERE name = 'comments'`).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		_, err = r.db.Exec(`ALTER TABLE notes ADD COLUMN comments TEXT NOT NULL DEFAULT '[]'`)
	}
	return err
}

const noteColumns = `note_id, title, content, media, like_count, comment_count, collect_count, share_count,
	author_name, author_id, publish_time, note_url, capture_time, source_type, comments`

func (r *NoteRepository) Save(ctx context.Context, n *note.Note) error {
	list := n.MediaList
	if list == nil {
		list = []note.MediaInfo{}
	}
	media, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode media: %w", err)
	}
	comments := n.Comments
	if comments == nil {
		comments = []note.Comment{}
	}
	encoded, err := json.Marshal(comments)
	if err != nil {
		return fmt.Errorf("failed to encode comments: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO notes (`+noteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (note_id) DO UPDATE SET
			title = excluded.title, content = excluded.content, media = excluded.media,
			like_count = excluded.like_count, comment_count = excluded.comment_count,
			collect_count = excluded.collect_count, share_count = excluded.share_count,
			author_name = excluded.author_name, author_id = excluded.author_id,
			publish_time = excluded.publish_time, note_url = excluded.note_url,
			capture_time = excluded.capture_time, source_type = excluded.source_type,
			comments = excluded.comments`,
		n.NoteID, n.Title, n.Content, string(media),
		n.Interaction.LikeCount, n.Interaction.CommentCount, n.Interaction.CollectCount, n.Interaction.ShareCount,
		n.AuthorName, n.AuthorID, n.PublishTime, n.NoteURL, n.CaptureTime.UTC().UnixNano(), n.SourceType,
		string(encoded),
	)
	return err
}

func (r *NoteRepository) GetByID(ctx context.Context, noteID string) (*note.Note, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE note_id = ?`, noteID)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

func (r *NoteRepository) List(ctx context.Context, limit, offset int) ([]*note.Note, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+noteColumns+` FROM notes
		ORDER BY capture_time DESC, rowid DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []*note.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner) (*note.Note, error) {
	var (
		n        note.Note
		media    string
		comments string
		publish  sql.NullString
		captured int64
	)
	if err := row.Scan(&n.NoteID, &n.Title, &n.Content, &media,
		&n.Interaction.LikeCount, &n.Interaction.CommentCount, &n.Interaction.CollectCount, &n.Interaction.ShareCount,
		&n.AuthorName, &n.AuthorID, &publish, &n.NoteURL, &captured, &n.SourceType, &comments); err != nil {
		return nil, err
	}
	n.MediaList = []note.MediaInfo{}
	if media != "" {
		if err := json.Unmarshal([]byte(media), &n.MediaList); err != nil {
			return nil, fmt.Errorf("failed to decode media: %w", err)
		}
	}
	if comments != "" && comments != "[]" {
		if err := json.Unmarshal([]byte(comments), &n.Comments); err != nil {
			return nil, fmt.Errorf("failed to decode comments: %w", err)
		}
	}
	if publish.Valid {
		p := publish.String
		n.PublishTime = &p
	}
	n.CaptureTime = time.Unix(0, captured).UTC()
	return &n, nil
}
