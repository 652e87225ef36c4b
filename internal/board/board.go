package board

import "time"

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in-progress"
	StatusClosed     Status = "closed"
)

// Valid reports whether s is one of the known task statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusClosed:
		return true
	}
	return false
}

// User is a registered account. Authentication is handled upstream; the
// coordinator only ever sees user IDs that an auth layer already verified.
type User struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Email     string    `json:"email" bson:"email"`
	CreatedAt time.Time `json:"created_at" bson:"createdAt"`
}

// Project owns an ordered set of tasks and, optionally, one attached file.
type Project struct {
	ID          string    `json:"id" bson:"_id"`
	Title       string    `json:"title" bson:"title"`
	Description string    `json:"description" bson:"description"`
	FileID      string    `json:"file_id,omitempty" bson:"fileId,omitempty"`
	TaskIDs     []string  `json:"task_ids" bson:"taskIds"`
	AuthorID    string    `json:"author_id" bson:"authorId"`
	CreatedAt   time.Time `json:"created_at" bson:"createdAt"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updatedAt"`
}

// Task belongs to exactly one project and may carry one attached file.
// PerformerID is set only while a user holds the claim on the task; an
// open task never has a performer.
type Task struct {
	ID          string    `json:"id" bson:"_id"`
	ProjectID   string    `json:"project_id" bson:"projectId"`
	Title       string    `json:"title" bson:"title"`
	Description string    `json:"description" bson:"description"`
	Status      Status    `json:"status" bson:"status"`
	FileID      string    `json:"file_id,omitempty" bson:"fileId,omitempty"`
	PerformerID string    `json:"performer_id,omitempty" bson:"performerId,omitempty"`
	CreatedAt   time.Time `json:"created_at" bson:"createdAt"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updatedAt"`
}

// File is the metadata record for one blob in the object store. Path holds
// the content identifier returned by the store on upload. A File is owned by
// exactly one project or task and lives and dies with its owner.
type File struct {
	ID           string    `json:"id" bson:"_id"`
	Path         string    `json:"path" bson:"path"`
	OriginalName string    `json:"original_name" bson:"originalName"`
	ContentType  string    `json:"content_type" bson:"contentType"`
	Size         int64     `json:"size" bson:"size"`
	CreatedAt    time.Time `json:"created_at" bson:"createdAt"`
}

// Upload is an already-validated binary payload attached to a create or
// update request.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// CreateUserInput holds the fields for registering a user.
type CreateUserInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateProjectInput holds the fields for creating a project.
type CreateProjectInput struct {
	Title       string
	Description string
	AuthorID    string
	Upload      *Upload
}

// UpdateProjectInput carries the mutable project fields. Empty strings leave
// the current value unchanged; a nil Upload keeps the current file.
type UpdateProjectInput struct {
	Title       string
	Description string
	Upload      *Upload
}

// CreateTaskInput holds the fields for creating a task under a project.
type CreateTaskInput struct {
	ProjectID   string
	Title       string
	Description string
	Upload      *Upload
}

// UpdateTaskInput carries the mutable task fields, with the same optionality
// rules as UpdateProjectInput.
type UpdateTaskInput struct {
	Title       string
	Description string
	Upload      *Upload
}

// ProjectView is a project with its references resolved for read responses.
type ProjectView struct {
	Project
	Author *User      `json:"author,omitempty"`
	File   *File      `json:"file,omitempty"`
	Tasks  []TaskView `json:"tasks,omitempty"`
}

// TaskView is a task with its references resolved for read responses.
type TaskView struct {
	Task
	File      *File `json:"file,omitempty"`
	Performer *User `json:"performer,omitempty"`
}

// ProjectPage is one page of a project listing.
type ProjectPage struct {
	Items []ProjectView `json:"items"`
	Total int           `json:"total"`
}
