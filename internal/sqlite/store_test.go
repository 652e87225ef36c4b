package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdesk/internal/board"
	"taskdesk/internal/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *sqlite.Store, id string) {
	t.Helper()
	require.NoError(t, s.Users().Insert(context.Background(), nil, &board.User{
		ID:        id,
		Name:      "Alex",
		Email:     "alex@example.com",
		CreatedAt: time.Now().UTC(),
	}))
}

func seedProject(t *testing.T, s *sqlite.Store, id, title string) {
	t.Helper()
	ts := time.Now().UTC()
	require.NoError(t, s.Projects().Insert(context.Background(), nil, &board.Project{
		ID:        id,
		Title:     title,
		TaskIDs:   []string{},
		AuthorID:  "author",
		CreatedAt: ts,
		UpdatedAt: ts,
	}))
}

func seedTask(t *testing.T, s *sqlite.Store, id, projectID string) {
	t.Helper()
	ts := time.Now().UTC()
	require.NoError(t, s.Tasks().Insert(context.Background(), nil, &board.Task{
		ID:        id,
		ProjectID: projectID,
		Title:     "task",
		Status:    board.StatusOpen,
		CreatedAt: ts,
		UpdatedAt: ts,
	}))
}

func TestUserRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1")

	u, err := s.Users().FindByID(context.Background(), nil, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alex@example.com", u.Email)

	_, err = s.Users().FindByID(context.Background(), nil, "missing")
	assert.ErrorIs(t, err, board.ErrNotFound)
}

func TestTransactionCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Begin(ctx)
	require.NoError(t, err)
	seedProjectInSession(t, s, sess, "p1")
	require.NoError(t, sess.Commit(ctx))
	sess.End(ctx)

	p, err := s.Projects().FindByID(ctx, nil, "p1")
	require.NoError(t, err)
	assert.Equal(t, "alpha", p.Title)
}

func TestTransactionAbortLeavesNoTrace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Begin(ctx)
	require.NoError(t, err)
	seedProjectInSession(t, s, sess, "p1")
	require.NoError(t, s.Files().Insert(ctx, sess, &board.File{
		ID: "f1", Path: "blob-1", OriginalName: "a.png",
		ContentType: "image/png", Size: 3, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, sess.Abort(ctx))
	sess.End(ctx)

	_, err = s.Projects().FindByID(ctx, nil, "p1")
	assert.ErrorIs(t, err, board.ErrNotFound)
	_, err = s.Files().FindByID(ctx, nil, "f1")
	assert.ErrorIs(t, err, board.ErrNotFound)
}

func seedProjectInSession(t *testing.T, s *sqlite.Store, sess board.Session, id string) {
	t.Helper()
	ts := time.Now().UTC()
	require.NoError(t, s.Projects().Insert(context.Background(), sess, &board.Project{
		ID:        id,
		Title:     "alpha",
		TaskIDs:   []string{},
		AuthorID:  "author",
		CreatedAt: ts,
		UpdatedAt: ts,
	}))
}

func TestPushAndPullTaskKeepOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "p1", "alpha")

	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, s.Projects().PushTask(ctx, nil, "p1", id))
	}
	require.NoError(t, s.Projects().PullTask(ctx, nil, "p1", "t2"))

	p, err := s.Projects().FindByID(ctx, nil, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t3"}, p.TaskIDs)
}

func TestPushTaskUnknownProject(t *testing.T) {
	s := newTestStore(t)
	err := s.Projects().PushTask(context.Background(), nil, "missing", "t1")
	assert.ErrorIs(t, err, board.ErrNotFound)
}

func TestUpdateProjectPartialFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "p1", "alpha")

	title := "renamed"
	require.NoError(t, s.Projects().UpdateByID(ctx, nil, "p1", board.ProjectUpdate{Title: &title}))

	p, err := s.Projects().FindByID(ctx, nil, "p1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", p.Title)
	assert.Empty(t, p.FileID, "untouched fields keep their values")
}

func TestListPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, s.Projects().Insert(ctx, nil, &board.Project{
			ID:        id,
			Title:     id,
			TaskIDs:   []string{},
			AuthorID:  "author",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base,
		}))
	}

	items, total, err := s.Projects().List(ctx, 2, 2, true)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 1)
	assert.Equal(t, "p3", items[0].ID)

	items, _, err = s.Projects().List(ctx, 1, 1, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "p3", items[0].ID)
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "p1", "eDocument")
	seedProject(t, s, "p2", "Billing")

	found, err := s.Projects().Search(ctx, "EDOC")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "p1", found[0].ID)
}

func TestClaimIsConditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "p1", "alpha")
	seedTask(t, s, "t1", "p1")

	require.NoError(t, s.Tasks().Claim(ctx, "t1", "u1"))

	err := s.Tasks().Claim(ctx, "t1", "u2")
	assert.ErrorIs(t, err, board.ErrConflict)

	task, err := s.Tasks().FindByID(ctx, nil, "t1")
	require.NoError(t, err)
	assert.Equal(t, "u1", task.PerformerID)
	assert.Equal(t, board.StatusInProgress, task.Status)
}

func TestClaimUnknownTask(t *testing.T) {
	s := newTestStore(t)
	err := s.Tasks().Claim(context.Background(), "missing", "u1")
	assert.ErrorIs(t, err, board.ErrNotFound)
}

func TestSetStatusClearsPerformer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "p1", "alpha")
	seedTask(t, s, "t1", "p1")
	require.NoError(t, s.Tasks().Claim(ctx, "t1", "u1"))

	require.NoError(t, s.Tasks().SetStatus(ctx, nil, "t1", board.StatusOpen, true))

	task, err := s.Tasks().FindByID(ctx, nil, "t1")
	require.NoError(t, err)
	assert.Equal(t, board.StatusOpen, task.Status)
	assert.Empty(t, task.PerformerID)

	// A cleared performer means the task is claimable again.
	require.NoError(t, s.Tasks().Claim(ctx, "t1", "u2"))
}

func TestDeleteByIDNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.Projects().DeleteByID(ctx, nil, "missing"), board.ErrNotFound)
	assert.ErrorIs(t, s.Tasks().DeleteByID(ctx, nil, "missing"), board.ErrNotFound)
	assert.ErrorIs(t, s.Files().DeleteByID(ctx, nil, "missing"), board.ErrNotFound)
}

func TestFileRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Files().Insert(ctx, nil, &board.File{
		ID: "f1", Path: "blob-1", OriginalName: "cover.png",
		ContentType: "image/png", Size: 42, CreatedAt: time.Now().UTC(),
	}))

	f, err := s.Files().FindByID(ctx, nil, "f1")
	require.NoError(t, err)
	assert.Equal(t, "blob-1", f.Path)
	assert.Equal(t, int64(42), f.Size)

	require.NoError(t, s.Files().DeleteByID(ctx, nil, "f1"))
	_, err = s.Files().FindByID(ctx, nil, "f1")
	assert.ErrorIs(t, err, board.ErrNotFound)
}
