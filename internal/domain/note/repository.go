package note

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import "context"

// Repository persists captured notes.
type Repository interface {
	// Save inserts the note or replaces the stored copy with the same NoteID.
	Save(ctx context.Context, n *Note) error
	// GetByID returns nil, nil when the note does not exist.
	GetByID(ctx context.Context, noteID string) (*Note, error)
	// List returns notes, most recently captured first.
	List(ctx context.Context, limit, offset int) ([]*Note, error)
}
