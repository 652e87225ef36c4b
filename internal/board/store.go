package board

import (
	"context"
	"io"
)

// Session is one document-store transaction. Commit and Abort resolve the
// transaction; End releases the session and must be called exactly once, on
// every exit path, after the transaction resolved. A Commit that returns an
// error leaves the transaction aborted.
type Session interface {
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
	End(ctx context.Context)
}

// Store is a transactional document store over the four collections the
// coordinator writes. Repository methods take a Session so writes join the
// caller's transaction; a nil Session means a plain non-transactional read.
type Store interface {
	Begin(ctx context.Context) (Session, error)

	Users() UserRepository
	Projects() ProjectRepository
	Tasks() TaskRepository
	Files() FileRepository
}

// ProjectUpdate lists the project fields to overwrite. Nil pointers leave
// the stored value untouched.
type ProjectUpdate struct {
	Title       *string
	Description *string
	FileID      *string
}

// TaskUpdate lists the task fields to overwrite. Nil pointers leave the
// stored value untouched.
type TaskUpdate struct {
	Title       *string
	Description *string
	FileID      *string
}

// UserRepository persists User records.
type UserRepository interface {
	FindByID(ctx context.Context, s Session, id string) (*User, error)
	Insert(ctx context.Context, s Session, u *User) error
}

// ProjectRepository persists Project records and maintains the ordered task
// reference list.
type ProjectRepository interface {
	FindByID(ctx context.Context, s Session, id string) (*Project, error)
	Insert(ctx context.Context, s Session, p *Project) error
	UpdateByID(ctx context.Context, s Session, id string, upd ProjectUpdate) error
	DeleteByID(ctx context.Context, s Session, id string) error

	// PushTask appends a task reference to the project's ordered task list.
	PushTask(ctx context.Context, s Session, projectID, taskID string) error
	// PullTask removes a task reference from the project's task list.
	PullTask(ctx context.Context, s Session, projectID, taskID string) error

	// List returns one page of projects ordered by creation time, plus the
	// total number of projects.
	List(ctx context.Context, page, limit int, asc bool) ([]*Project, int, error)
	// Search returns projects whose title contains query, case-insensitively.
	Search(ctx context.Context, query string) ([]*Project, error)
}

// TaskRepository persists Task records and implements the conditional
// claim update.
type TaskRepository interface {
	FindByID(ctx context.Context, s Session, id string) (*Task, error)
	Insert(ctx context.Context, s Session, t *Task) error
	UpdateByID(ctx context.Context, s Session, id string, upd TaskUpdate) error
	DeleteByID(ctx context.Context, s Session, id string) error

	// Claim binds the task to userID and moves it to in-progress, but only
	// if no performer is set. Returns ErrConflict when the task is already
	// claimed. The update is a single conditional document write, so two
	// concurrent claims cannot both succeed.
	Claim(ctx context.Context, taskID, userID string) error

	// SetStatus writes the task status; when clearPerformer is true the
	// performer reference is removed in the same write.
	SetStatus(ctx context.Context, s Session, taskID string, status Status, clearPerformer bool) error
}

// FileRepository persists File metadata records. File records carry no
// cross-entity policy of their own; ownership rules live in the coordinator.
type FileRepository interface {
	FindByID(ctx context.Context, s Session, id string) (*File, error)
	Insert(ctx context.Context, s Session, f *File) error
	DeleteByID(ctx context.Context, s Session, id string) error
}

// BlobStore is the external content store. It is not transactional: the
// coordinator sequences uploads and deletes around document-store commits
// so the two can never diverge.
type BlobStore interface {
	// Upload stores data and returns its content identifier.
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
	// Delete removes a blob. Deleting an absent identifier is not an error.
	Delete(ctx context.Context, contentID string) error
	// Open returns a reader for the blob's content.
	Open(ctx context.Context, contentID string) (io.ReadCloser, error)
}
