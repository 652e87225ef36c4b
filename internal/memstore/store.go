// Package memstore implements board.Store entirely in memory. Sessions are
// serialized by a store-level lock and roll back through an undo log, which
// gives the same commit/abort semantics as the persistent stores without
// any I/O. It backs single-process runs and the coordinator's failure-path
// tests, which inject errors into individual store operations.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/tidwall/btree"

	"taskdesk/internal/board"
)

type projectRef struct {
	createdAt time.Time
	id        string
}

func lessProjectRef(a, b projectRef) bool {
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.Before(b.createdAt)
	}
	return a.id < b.id
}

// Store holds the committed state of all four collections. Collection maps
// are safe for concurrent readers; the order index keeps projects sorted by
// creation time for paginated listing.
type Store struct {
	mu sync.RWMutex

	users    *xsync.MapOf[string, board.User]
	projects *xsync.MapOf[string, board.Project]
	tasks    *xsync.MapOf[string, board.Task]
	files    *xsync.MapOf[string, board.File]
	order    *btree.BTreeG[projectRef]

	failures *xsync.MapOf[string, error]
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:    xsync.NewMapOf[string, board.User](),
		projects: xsync.NewMapOf[string, board.Project](),
		tasks:    xsync.NewMapOf[string, board.Task](),
		files:    xsync.NewMapOf[string, board.File](),
		order:    btree.NewBTreeG(lessProjectRef),
		failures: xsync.NewMapOf[string, error](),
	}
}

// FailNext makes the next call of the named operation return err. Operation
// names follow "<collection>.<op>", e.g. "projects.insert", "tasks.delete",
// plus "begin" and "commit" for session lifecycle calls. The injected error
// is consumed by the first matching call.
func (s *Store) FailNext(op string, err error) {
	s.failures.Store(op, err)
}

func (s *Store) takeFailure(op string) error {
	if err, ok := s.failures.LoadAndDelete(op); ok {
		return err
	}
	return nil
}

type session struct {
	store *Store
	undo  []func()
	done  bool
}

// Begin opens a session. The store lock is held until the session ends, so
// sessions execute one at a time and no reader observes a half-applied
// transaction.
func (s *Store) Begin(ctx context.Context) (board.Session, error) {
	if err := s.takeFailure("begin"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &session{store: s}, nil
}

func (sess *session) Commit(ctx context.Context) error {
	if sess.done {
		return fmt.Errorf("session already resolved")
	}
	if err := sess.store.takeFailure("commit"); err != nil {
		sess.rollback()
		return err
	}
	sess.undo = nil
	sess.done = true
	sess.store.mu.Unlock()
	return nil
}

func (sess *session) Abort(ctx context.Context) error {
	if sess.done {
		return fmt.Errorf("session already resolved")
	}
	sess.rollback()
	return nil
}

func (sess *session) End(ctx context.Context) {
	if !sess.done {
		sess.rollback()
	}
}

// rollback replays the undo log in reverse and releases the store lock.
func (sess *session) rollback() {
	for i := len(sess.undo) - 1; i >= 0; i-- {
		sess.undo[i]()
	}
	sess.undo = nil
	sess.done = true
	sess.store.mu.Unlock()
}

func (sess *session) record(undo func()) {
	sess.undo = append(sess.undo, undo)
}

// asSession validates a board.Session handed back to a repository method.
func (s *Store) asSession(bs board.Session) (*session, error) {
	if bs == nil {
		return nil, nil
	}
	sess, ok := bs.(*session)
	if !ok || sess.store != s {
		return nil, fmt.Errorf("session does not belong to this store")
	}
	if sess.done {
		return nil, fmt.Errorf("session already resolved")
	}
	return sess, nil
}

// readLock acquires the read lock for sessionless calls. Calls inside a
// session already hold the write lock.
func (s *Store) readLock(sess *session) func() {
	if sess != nil {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

// writeLock acquires the write lock for sessionless mutating calls.
func (s *Store) writeLock(sess *session) func() {
	if sess != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Users() board.UserRepository       { return &userRepo{s} }
func (s *Store) Projects() board.ProjectRepository { return &projectRepo{s} }
func (s *Store) Tasks() board.TaskRepository       { return &taskRepo{s} }
func (s *Store) Files() board.FileRepository       { return &fileRepo{s} }

func cloneProject(p board.Project) board.Project {
	p.TaskIDs = slices.Clone(p.TaskIDs)
	return p
}

type userRepo struct{ s *Store }

func (r *userRepo) FindByID(ctx context.Context, bs board.Session, id string) (*board.User, error) {
	if err := r.s.takeFailure("users.find"); err != nil {
		return nil, err
	}
	sess, err := r.s.asSession(bs)
	if err != nil {
		return nil, err
	}
	defer r.s.readLock(sess)()

	u, ok := r.s.users.Load(id)
	if !ok {
		return nil, board.ErrNotFound
	}
	return &u, nil
}

func (r *userRepo) Insert(ctx context.Context, bs board.Session, u *board.User) error {
	if err := r.s.takeFailure("users.insert"); err != nil {
		return err
	}
	sess, err := r.s.asSession(bs)
	if err != nil {
		return err
	}
	defer r.s.writeLock(sess)()

	id := u.ID
	r.s.users.Store(id, *u)
	if sess != nil {
		sess.record(func() { r.s.users.Delete(id) })
	}
	return nil
}

type projectRepo struct{ s *Store }

func (r *projectRepo) FindByID(ctx context.Context, bs board.Session, id string) (*board.Project, error) {
	if err := r.s.takeFailure("projects.find"); err != nil {
		return nil, err
	}
	sess, err := r.s.asSession(bs)
	if err != nil {
		return nil, err
	}
	defer r.s.readLock(sess)()

	p, ok := r.s.projects.Load(id)
	if !ok {
		return nil, board.ErrNotFound
	}
	p = cloneProject(p)
	return &p, nil
}

func (r *projectRepo) Insert(ctx context.Context, bs board.Session, p *board.Project) error {
	if err := r.s.takeFailure("projects.insert"); err != nil {
		return err
	}
	sess, err := r.s.asSession(bs)
	if err != nil {
		return err
	}
	defer r.s.writeLock(sess)()

	stored := cloneProject(*p)
	ref := projectRef{createdAt: stored.CreatedAt, id: stored.ID}
	r.s.projects.Store(stored.ID, stored)
	r.s.order.Set(ref)
	if sess != nil {
		sess.record(func() {
			r.s.projects.Delete(stored.ID)
			r.s.order.Delete(ref)
		})
	}
	return nil
}

func (r *projectRepo) UpdateByID(ctx context.Context, bs board.Session, id string, upd board.ProjectUpdate) error {
	if err := r.s.takeFailure("projects.update"); err != nil {
		return err
	}
	sess, err := r.s.asSession(bs)
	if err != nil {
		return err
	}
	defer r.s.writeLock(sess)()

	return r.mutate(sess, id, func(p *board.Project) {
		if upd.Title != nil {
			p.Title = *upd.Title
		}
		if upd.Description != nil {
			p.Description = *upd.Description
		}
		if upd.FileID != nil {
			p.FileID = *upd.FileID
		}
		p.UpdatedAt = time.Now().UTC()
	})
}

func (r *projectRepo) DeleteByID(ctx context.Context, bs board.Session, id string) error {
	if err := r.s.takeFailure("projects.delete"); err != nil {
		return err
	}
	sess, err := r.s.asSession(bs)
	if err != nil {
		return err
	}
	defer r.s.writeLock(sess)()

	old, ok := r.s.projects.Load(id)
	if !ok {
		return board.ErrNotFound
	}
	ref := projectRef{createdAt: old.CreatedAt, id: old.ID}
	r.s.projects.Delete(id)
	r.s.order.Delete(ref)
	if sess != nil {
		sess.record(func() {
			r.s.projects.Store(id, old)
			r.s.order.Set(ref)
		})
	}
	return nil
}

func (r *projectRepo) PushTask(ctx context.Context, bs board.Session, projectID, taskID string) error {
	if err := r.s.takeFailure("projects.push"); err != nil {
		return err
	}
	sess, err := r.s.asSession(bs)
	if err != nil {
		return err
	}
	defer r.s.writeLock(sess)()

	return r.mutate(sess, projectID, func(p *board.Project) {
		p.TaskIDs = append(p.TaskIDs, taskID)
		p.UpdatedAt = time.Now().UTC()
	})
}

func (r *projectRepo) PullTask(ctx context.Context, bs board.Session, projectID, taskID string) error {
	if err := r.s.takeFailure("projects.pull"); err != nil {
		return err
	}
	sess, err := r.s.asSession(bs)
	if err != nil {
		return err
	}
	defer r.s.writeLock(sess)()

	return r.mutate(sess, projectID, func(p *board.Project) {
		p.TaskIDs = slices.DeleteFunc(p.TaskIDs, func(id string) bool { return id == taskID })
		p.UpdatedAt = time.Now().UTC()
	})
}

// mutate applies fn to a copy of the stored project and records the undo.
// Callers hold the appropriate lock.
func (r *projectRepo) mutate(sess *session, id string, fn func(p *board.Project)) error {
	old, ok := r.s.projects.Load(id)
	if !ok {
		return board.ErrNotFound
	}
	next := cloneProject(old)
	fn(&next)
	r.s.projects.Store(id, next)
	if sess != nil {
		sess.record(func() { r.s.projects.Store(id, old) })
	}
	return nil
}

func (r *projectRepo) List(ctx context.Context, page, limit int, asc bool) ([]*board.Project, int, error) {
	if err := r.s.takeFailure("projects.list"); err != nil {
		return nil, 0, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	total := r.s.order.Len()
	skip := (page - 1) * limit

	var out []*board.Project
	i := 0
	collect := func(ref projectRef) bool {
		if i >= skip+limit {
			return false
		}
		if i >= skip {
			if p, ok := r.s.projects.Load(ref.id); ok {
				p = cloneProject(p)
				out = append(out, &p)
			}
		}
		i++
		return true
	}
	if asc {
		r.s.order.Scan(collect)
	} else {
		r.s.order.Reverse(collect)
	}
	return out, total, nil
}

func (r *projectRepo) Search(ctx context.Context, query string) ([]*board.Project, error) {
	if err := r.s.takeFailure("projects.search"); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	needle := strings.ToLower(query)
	var out []*board.Project
	r.s.order.Scan(func(ref projectRef) bool {
		p, ok := r.s.projects.Load(ref.id)
		if ok && strings.Contains(strings.ToLower(p.Title), needle) {
			p = cloneProject(p)
			out = append(out, &p)
		}
		return true
	})
	return out, nil
}

type taskRepo struct{ s *Store }

func (r *taskRepo) FindByID(ctx context.Context, bs board.Session, id string) (*board.Task, error) {
	if err := r.s.takeFailure("tasks.find"); err != nil {
		return nil, err
	}
	sess, err := r.s.asSession(bs)
	if err != nil {
		return nil, err
	}
	defer r.s.readLock(sess)()

	t, ok := r.s.tasks.Load(id)
	if !ok {
		return nil, board.ErrNotFound
	}
	return &t, nil
}

func (r *taskRepo) Insert(ctx context.Context, bs board.Session, t *board.Task) error {
	if err := r.s.takeFailure("tasks.insert"); err != nil {
		return err
	}
	sess, err := r.s.asSession(bs)
	if err != nil {
		return err
	}
	defer r.s.writeLock(sess)()

	id := t.ID
	r.s.tasks.Store(id, *t)
	if sess != nil {
		sess.record(func() { r.s.tasks.Delete(id) })
	}
	return nil
}

func (r *taskRepo) UpdateByID(ctx context.Context, bs board.Session, id string, upd board.TaskUpdate) error {
	if err := r.s.takeFailure("tasks.update"); err != nil {
		return err
	}
	sess, err := r.s.asSession(bs)
	if err != nil {
		return err
	}
	defer r.s.writeLock(sess)()

	return r.mutate(sess, id, func(t *board.Task) {
		if upd.Title != nil {
			t.Title = *upd.Title
		}
		if upd.Description != nil {
			t.Description = *upd.Description
		}
		if upd.FileID != nil {
			t.FileID = *upd.FileID
		}
		t.UpdatedAt = time.Now().UTC()
	})
}

func (r *taskRepo) DeleteByID(ctx context.Context, bs board.Session, id string) error {
	if err := r.s.takeFailure("tasks.delete"); err != nil {
		return err
	}
	sess, err := r.s.asSession(bs)
	if err != nil {
		return err
	}
	defer r.s.writeLock(sess)()

	old, ok := r.s.tasks.Load(id)
	if !ok {
		return board.ErrNotFound
	}
	r.s.tasks.Delete(id)
	if sess != nil {
		sess.record(func() { r.s.tasks.Store(id, old) })
	}
	return nil
}

// Claim is the conditional claim-if-unclaimed update. It runs outside any
// session under the write lock, so concurrent claims serialize and exactly
// one of them finds the performer field empty.
func (r *taskRepo) Claim(ctx context.Context, taskID, userID string) error {
	if err := r.s.takeFailure("tasks.claim"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tasks.Load(taskID)
	if !ok {
		return board.ErrNotFound
	}
	if t.PerformerID != "" {
		return fmt.Errorf("already claimed by %s: %w", t.PerformerID, board.ErrConflict)
	}
	t.PerformerID = userID
	t.Status = board.StatusInProgress
	t.UpdatedAt = time.Now().UTC()
	r.s.tasks.Store(taskID, t)
	return nil
}

func (r *taskRepo) SetStatus(ctx context.Context, bs board.Session, taskID string, status board.Status, clearPerformer bool) error {
	if err := r.s.takeFailure("tasks.setstatus"); err != nil {
		return err
	}
	sess, err := r.s.asSession(bs)
	if err != nil {
		return err
	}
	defer r.s.writeLock(sess)()

	return r.mutate(sess, taskID, func(t *board.Task) {
		t.Status = status
		if clearPerformer {
			t.PerformerID = ""
		}
		t.UpdatedAt = time.Now().UTC()
	})
}

func (r *taskRepo) mutate(sess *session, id string, fn func(t *board.Task)) error {
	old, ok := r.s.tasks.Load(id)
	if !ok {
		return board.ErrNotFound
	}
	next := old
	fn(&next)
	r.s.tasks.Store(id, next)
	if sess != nil {
		sess.record(func() { r.s.tasks.Store(id, old) })
	}
	return nil
}

type fileRepo struct{ s *Store }

func (r *fileRepo) FindByID(ctx context.Context, bs board.Session, id string) (*board.File, error) {
	if err := r.s.takeFailure("files.find"); err != nil {
		return nil, err
	}
	sess, err := r.s.asSession(bs)
	if err != nil {
		return nil, err
	}
	defer r.s.readLock(sess)()

	f, ok := r.s.files.Load(id)
	if !ok {
		return nil, board.ErrNotFound
	}
	return &f, nil
}

func (r *fileRepo) Insert(ctx context.Context, bs board.Session, f *board.File) error {
	if err := r.s.takeFailure("files.insert"); err != nil {
		return err
	}
	sess, err := r.s.asSession(bs)
	if err != nil {
		return err
	}
	defer r.s.writeLock(sess)()

	id := f.ID
	r.s.files.Store(id, *f)
	if sess != nil {
		sess.record(func() { r.s.files.Delete(id) })
	}
	return nil
}

func (r *fileRepo) DeleteByID(ctx context.Context, bs board.Session, id string) error {
	if err := r.s.takeFailure("files.delete"); err != nil {
		return err
	}
	sess, err := r.s.asSession(bs)
	if err != nil {
		return err
	}
	defer r.s.writeLock(sess)()

	old, ok := r.s.files.Load(id)
	if !ok {
		return board.ErrNotFound
	}
	r.s.files.Delete(id)
	if sess != nil {
		sess.record(func() { r.s.files.Store(id, old) })
	}
	return nil
}
