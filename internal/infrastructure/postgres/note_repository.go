package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/note-capture/note-capture/internal/domain/note"
)

const noteColumns = `note_id, title, content, media, like_count, comment_count, collect_count, share_count,
	author_name, author_id, publish_time, note_url, capture_time, source_type, comments`

// NoteRepository implements note.Repository.
type NoteRepository struct {
	pool *pgxpool.Pool
}

var _ note.Repository = (*NoteRepository)(nil)

func NewNoteRepository(pool *pgxpool.Pool) *NoteRepository {
	return &NoteRepository{pool: pool}
}

func (r *NoteRepository) Save(ctx context.Context, n *note.Note) error {
	media, err := encodeMedia(n.MediaList)
	if err != nil {
		return err
	}
	comments, err := encodeComments(n.Comments)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO notes (`+noteColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (note_id) DO UPDATE SET
			title=EXCLUDED.title, content=EXCLUDED.content, media=EXCLUDED.media,
			like_count=EXCLUDED.like_count, comment_count=EXCLUDED.comment_count,
			collect_count=EXCLUDED.collect_count, share_count=EXCLUDED.share_count,
			author_name=EXCLUDED.author_name, author_id=EXCLUDED.author_id,
			publish_time=EXCLUDED.publish_time, note_url=EXCLUDED.note_url,
			capture_time=EXCLUDED.capture_time, source_type=EXCLUDED.source_type,
			comments=EXCLUDED.comments
	`, n.NoteID, n.Title, n.Content, media,
		n.Interaction.LikeCount, n.Interaction.CommentCount, n.Interaction.CollectCount, n.Interaction.ShareCount,
		n.AuthorName, n.AuthorID, n.PublishTime, n.NoteURL, n.CaptureTime, n.SourceType, comments)
	return err
}

func (r *NoteRepository) GetByID(ctx context.Context, noteID string) (*note.Note, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+noteColumns+` FROM notes WHERE note_id=$1`, noteID)
	return scanNote(row)
}

func (r *NoteRepository) List(ctx context.Context, limit, offset int) ([]*note.Note, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+noteColumns+` FROM notes
		ORDER BY capture_time DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
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

func scanNote(row pgx.Row) (*note.Note, error) {
	var n note.Note
	var media, comments []byte
	if err := row.Scan(&n.NoteID, &n.Title, &n.Content, &media,
		&n.Interaction.LikeCount, &n.Interaction.CommentCount, &n.Interaction.CollectCount, &n.Interaction.ShareCount,
		&n.AuthorName, &n.AuthorID, &n.PublishTime, &n.NoteURL, &n.CaptureTime, &n.SourceType, &comments); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	list, err := decodeMedia(media)
	if err != nil {
		return nil, err
	}
	n.MediaList = list
	if n.Comments, err = decodeComments(comments); err != nil {
		return nil, err
	}
	n.CaptureTime = n.CaptureTime.UTC()
	return &n, nil
}

func encodeMedia(list []note.MediaInfo) ([]byte, error) {
	if list == nil {
		list = []note.MediaInfo{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("failed to encode media: %w", err)
	}
	return data, nil
}

func decodeMedia(data []byte) ([]note.MediaInfo, error) {
	list := []note.MediaInfo{}
	if len(data) == 0 {
		return list, nil
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to decode media: %w", err)
	}
	return list, nil
}

func encodeComments(list []note.Comment) ([]byte, error) {
	if list == nil {
		list = []note.Comment{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("failed to encode comments: %w", err)
	}
	return data, nil
}

// decodeComments returns nil for an empty list.
func decodeComments(data []byte) ([]note.Comment, error) {
	var list []note.Comment
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to decode comments: %w", err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list, nil
}
