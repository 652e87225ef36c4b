package fs_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdesk/internal/board"
	"taskdesk/internal/fs"
)

func TestUploadAndOpen(t *testing.T) {
	s := fs.NewStorage(t.TempDir())
	ctx := context.Background()

	id, err := s.Upload(ctx, []byte("blob content"), "image/png")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.True(t, s.Exists(id))

	rc, err := s.Open(ctx, id)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob content"), data)
}

func TestUploadsGetDistinctIDs(t *testing.T) {
	s := fs.NewStorage(t.TempDir())
	ctx := context.Background()

	first, err := s.Upload(ctx, []byte("a"), "image/png")
	require.NoError(t, err)
	second, err := s.Upload(ctx, []byte("a"), "image/png")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := fs.NewStorage(t.TempDir())
	ctx := context.Background()

	id, err := s.Upload(ctx, []byte("blob content"), "image/png")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))
	assert.False(t, s.Exists(id))

	// Retrying a delete, or deleting an identifier that never existed,
	// must not fail.
	require.NoError(t, s.Delete(ctx, id))
	require.NoError(t, s.Delete(ctx, "never-existed"))
}

func TestOpenMissingBlob(t *testing.T) {
	s := fs.NewStorage(t.TempDir())

	_, err := s.Open(context.Background(), "missing")
	assert.ErrorIs(t, err, board.ErrNotFound)
}
