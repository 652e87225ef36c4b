package board

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// CreateUser registers a user record. Credentials and sessions are owned by
// the upstream auth layer; the coordinator stores only the profile the
// entity graph references.
func (c *Coordinator) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	u := &User{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Email:     in.Email,
		CreatedAt: now(),
	}
	if err := c.store.Users().Insert(ctx, nil, u); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetUser returns one user record.
func (c *Coordinator) GetUser(ctx context.Context, userID string) (*User, error) {
	u, err := c.store.Users().FindByID(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}
	return u, nil
}

// OpenFile returns a file's metadata and a reader over its blob content.
func (c *Coordinator) OpenFile(ctx context.Context, fileID string) (*File, io.ReadCloser, error) {
	f, err := c.store.Files().FindByID(ctx, nil, fileID)
	if err != nil {
		return nil, nil, fmt.Errorf("file %s: %w", fileID, err)
	}
	rc, err := c.blobs.Open(ctx, f.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open blob %s: %w", f.Path, err)
	}
	return f, rc, nil
}
