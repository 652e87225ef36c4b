// Package sqlite implements board.Store on an embedded SQLite database.
// Sessions map onto SQL transactions; the ordered task-reference list of a
// project lives in a join table with an explicit position column.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"taskdesk/internal/board"
)

// Store implements board.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New opens the database at dbPath and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Serialized access keeps the single-writer model simple; modernc's
	// driver returns SQLITE_BUSY otherwise under concurrent transactions.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		file_id TEXT,
		author_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		file_id TEXT,
		performer_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		original_name TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS project_tasks (
		project_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (project_id, task_id)
	);
	CREATE INDEX IF NOT EXISTS idx_projects_created_at ON projects(created_at);
	CREATE INDEX IF NOT EXISTS idx_project_tasks_order ON project_tasks(project_id, position);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

type session struct {
	tx   *sql.Tx
	done bool
}

// Begin starts a SQL transaction wrapped as a board.Session.
func (s *Store) Begin(ctx context.Context) (board.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &session{tx: tx}, nil
}

func (sess *session) Commit(ctx context.Context) error {
	sess.done = true
	if err := sess.tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (sess *session) Abort(ctx context.Context) error {
	sess.done = true
	if err := sess.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

func (sess *session) End(ctx context.Context) {
	if !sess.done {
		sess.tx.Rollback()
		sess.done = true
	}
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns the transaction when a session is supplied, the bare connection
// otherwise.
func (s *Store) q(bs board.Session) (queryer, error) {
	if bs == nil {
		return s.db, nil
	}
	sess, ok := bs.(*session)
	if !ok {
		return nil, fmt.Errorf("session does not belong to this store")
	}
	return sess.tx, nil
}

func nullStr(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func (s *Store) Users() board.UserRepository       { return &userRepo{s} }
func (s *Store) Projects() board.ProjectRepository { return &projectRepo{s} }
func (s *Store) Tasks() board.TaskRepository       { return &taskRepo{s} }
func (s *Store) Files() board.FileRepository       { return &fileRepo{s} }

type userRepo struct{ s *Store }

func (r *userRepo) FindByID(ctx context.Context, bs board.Session, id string) (*board.User, error) {
	q, err := r.s.q(bs)
	if err != nil {
		return nil, err
	}

	var u board.User
	err = q.QueryRowContext(ctx,
		`SELECT id, name, email, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, board.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}

func (r *userRepo) Insert(ctx context.Context, bs board.Session, u *board.User) error {
	q, err := r.s.q(bs)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO users (id, name, email, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

type projectRepo struct{ s *Store }

func (r *projectRepo) FindByID(ctx context.Context, bs board.Session, id string) (*board.Project, error) {
	q, err := r.s.q(bs)
	if err != nil {
		return nil, err
	}

	p, err := scanProject(q.QueryRowContext(ctx,
		`SELECT id, title, description, file_id, author_id, created_at, updated_at
		 FROM projects WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if p.TaskIDs, err = r.taskIDs(ctx, q, id); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *projectRepo) taskIDs(ctx context.Context, q queryer, projectID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT task_id FROM project_tasks WHERE project_id = ? ORDER BY position`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task refs: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan task ref: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *projectRepo) Insert(ctx context.Context, bs board.Session, p *board.Project) error {
	q, err := r.s.q(bs)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO projects (id, title, description, file_id, author_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Description, nullStr(p.FileID), p.AuthorID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	for i, taskID := range p.TaskIDs {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO project_tasks (project_id, task_id, position) VALUES (?, ?, ?)`,
			p.ID, taskID, i,
		); err != nil {
			return fmt.Errorf("failed to insert task ref: %w", err)
		}
	}
	return nil
}

func (r *projectRepo) UpdateByID(ctx context.Context, bs board.Session, id string, upd board.ProjectUpdate) error {
	q, err := r.s.q(bs)
	if err != nil {
		return err
	}

	set := "updated_at = ?"
	args := []any{time.Now().UTC()}
	if upd.Title != nil {
		set += ", title = ?"
		args = append(args, *upd.Title)
	}
	if upd.Description != nil {
		set += ", description = ?"
		args = append(args, *upd.Description)
	}
	if upd.FileID != nil {
		set += ", file_id = ?"
		args = append(args, nullStr(*upd.FileID))
	}
	args = append(args, id)

	res, err := q.ExecContext(ctx, `UPDATE projects SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return requireAffected(res)
}

func (r *projectRepo) DeleteByID(ctx context.Context, bs board.Session, id string) error {
	q, err := r.s.q(bs)
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM project_tasks WHERE project_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task refs: %w", err)
	}
	return nil
}

func (r *projectRepo) PushTask(ctx context.Context, bs board.Session, projectID, taskID string) error {
	q, err := r.s.q(bs)
	if err != nil {
		return err
	}
	if err := r.exists(ctx, q, projectID); err != nil {
		return err
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO project_tasks (project_id, task_id, position)
		 VALUES (?, ?, (SELECT COALESCE(MAX(position) + 1, 0) FROM project_tasks WHERE project_id = ?))`,
		projectID, taskID, projectID,
	)
	if err != nil {
		return fmt.Errorf("failed to push task ref: %w", err)
	}
	return nil
}

func (r *projectRepo) PullTask(ctx context.Context, bs board.Session, projectID, taskID string) error {
	q, err := r.s.q(bs)
	if err != nil {
		return err
	}
	if err := r.exists(ctx, q, projectID); err != nil {
		return err
	}

	_, err = q.ExecContext(ctx,
		`DELETE FROM project_tasks WHERE project_id = ? AND task_id = ?`, projectID, taskID)
	if err != nil {
		return fmt.Errorf("failed to pull task ref: %w", err)
	}
	return nil
}

func (r *projectRepo) exists(ctx context.Context, q queryer, id string) error {
	var n int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projects WHERE id = ?`, id).Scan(&n); err != nil {
		return fmt.Errorf("failed to check project: %w", err)
	}
	if n == 0 {
		return board.ErrNotFound
	}
	return nil
}

func (r *projectRepo) List(ctx context.Context, page, limit int, asc bool) ([]*board.Project, int, error) {
	var total int
	if err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count projects: %w", err)
	}

	order := "DESC"
	if asc {
		order = "ASC"
	}
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT id, title, description, file_id, author_id, created_at, updated_at
		 FROM projects ORDER BY created_at `+order+` LIMIT ? OFFSET ?`,
		limit, (page-1)*limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	projects, err := collectProjects(rows)
	if err != nil {
		return nil, 0, err
	}
	for _, p := range projects {
		if p.TaskIDs, err = r.taskIDs(ctx, r.s.db, p.ID); err != nil {
			return nil, 0, err
		}
	}
	return projects, total, nil
}

func (r *projectRepo) Search(ctx context.Context, query string) ([]*board.Project, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT id, title, description, file_id, author_id, created_at, updated_at
		 FROM projects WHERE lower(title) LIKE '%' || lower(?) || '%'
		 ORDER BY created_at`,
		query,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search projects: %w", err)
	}
	defer rows.Close()
	return collectProjects(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*board.Project, error) {
	var p board.Project
	var fileID sql.NullString
	err := row.Scan(&p.ID, &p.Title, &p.Description, &fileID, &p.AuthorID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, board.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	p.FileID = fileID.String
	p.TaskIDs = []string{}
	return &p, nil
}

func collectProjects(rows *sql.Rows) ([]*board.Project, error) {
	var out []*board.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project rows: %w", err)
	}
	return out, nil
}

type taskRepo struct{ s *Store }

func (r *taskRepo) FindByID(ctx context.Context, bs board.Session, id string) (*board.Task, error) {
	q, err := r.s.q(bs)
	if err != nil {
		return nil, err
	}

	var t board.Task
	var fileID, performerID sql.NullString
	err = q.QueryRowContext(ctx,
		`SELECT id, project_id, title, description, status, file_id, performer_id, created_at, updated_at
		 FROM tasks WHERE id = ?`, id,
	).Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &fileID, &performerID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, board.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	t.FileID = fileID.String
	t.PerformerID = performerID.String
	return &t, nil
}

func (r *taskRepo) Insert(ctx context.Context, bs board.Session, t *board.Task) error {
	q, err := r.s.q(bs)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO tasks (id, project_id, title, description, status, file_id, performer_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Title, t.Description, t.Status, nullStr(t.FileID), nullStr(t.PerformerID), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (r *taskRepo) UpdateByID(ctx context.Context, bs board.Session, id string, upd board.TaskUpdate) error {
	q, err := r.s.q(bs)
	if err != nil {
		return err
	}

	set := "updated_at = ?"
	args := []any{time.Now().UTC()}
	if upd.Title != nil {
		set += ", title = ?"
		args = append(args, *upd.Title)
	}
	if upd.Description != nil {
		set += ", description = ?"
		args = append(args, *upd.Description)
	}
	if upd.FileID != nil {
		set += ", file_id = ?"
		args = append(args, nullStr(*upd.FileID))
	}
	args = append(args, id)

	res, err := q.ExecContext(ctx, `UPDATE tasks SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return requireAffected(res)
}

func (r *taskRepo) DeleteByID(ctx context.Context, bs board.Session, id string) error {
	q, err := r.s.q(bs)
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return requireAffected(res)
}

// Claim runs as one conditional UPDATE on the bare connection: the WHERE
// clause only matches while no performer is set, so concurrent claims
// cannot both take the task.
func (r *taskRepo) Claim(ctx context.Context, taskID, userID string) error {
	res, err := r.s.db.ExecContext(ctx,
		`UPDATE tasks SET performer_id = ?, status = ?, updated_at = ?
		 WHERE id = ? AND performer_id IS NULL`,
		userID, board.StatusInProgress, time.Now().UTC(), taskID,
	)
	if err != nil {
		return fmt.Errorf("failed to claim task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Nothing matched: either the task is gone or someone else holds it.
	var count int
	if err := r.s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE id = ?`, taskID).Scan(&count); err != nil {
		return fmt.Errorf("failed to check task: %w", err)
	}
	if count == 0 {
		return board.ErrNotFound
	}
	return fmt.Errorf("task already claimed: %w", board.ErrConflict)
}

func (r *taskRepo) SetStatus(ctx context.Context, bs board.Session, taskID string, status board.Status, clearPerformer bool) error {
	q, err := r.s.q(bs)
	if err != nil {
		return err
	}

	var res sql.Result
	if clearPerformer {
		res, err = q.ExecContext(ctx,
			`UPDATE tasks SET status = ?, performer_id = NULL, updated_at = ? WHERE id = ?`,
			status, time.Now().UTC(), taskID)
	} else {
		res, err = q.ExecContext(ctx,
			`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
			status, time.Now().UTC(), taskID)
	}
	if err != nil {
		return fmt.Errorf("failed to set task status: %w", err)
	}
	return requireAffected(res)
}

type fileRepo struct{ s *Store }

func (r *fileRepo) FindByID(ctx context.Context, bs board.Session, id string) (*board.File, error) {
	q, err := r.s.q(bs)
	if err != nil {
		return nil, err
	}

	var f board.File
	err = q.QueryRowContext(ctx,
		`SELECT id, path, original_name, content_type, size, created_at FROM files WHERE id = ?`, id,
	).Scan(&f.ID, &f.Path, &f.OriginalName, &f.ContentType, &f.Size, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, board.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find file: %w", err)
	}
	return &f, nil
}

func (r *fileRepo) Insert(ctx context.Context, bs board.Session, f *board.File) error {
	q, err := r.s.q(bs)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO files (id, path, original_name, content_type, size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.Path, f.OriginalName, f.ContentType, f.Size, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert file record: %w", err)
	}
	return nil
}

func (r *fileRepo) DeleteByID(ctx context.Context, bs board.Session, id string) error {
	q, err := r.s.q(bs)
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return board.ErrNotFound
	}
	return nil
}
