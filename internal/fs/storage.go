// Package fs implements board.BlobStore on a local directory, standing in
// for the external CDN. Blobs are addressed by generated content
// identifiers; deletion is idempotent.
package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"taskdesk/internal/board"
)

// Storage stores blobs as flat files under dataDir.
type Storage struct {
	dataDir string
}

// NewStorage creates a blob store rooted at dataDir.
func NewStorage(dataDir string) *Storage {
	return &Storage{dataDir: dataDir}
}

// Upload writes the blob and returns its content identifier.
func (s *Storage) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	contentID := uuid.NewString()
	path := filepath.Join(s.dataDir, contentID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return contentID, nil
}

// Delete removes a blob. Deleting an absent identifier is not an error, so
// compensation deletes are safe to retry.
func (s *Storage) Delete(ctx context.Context, contentID string) error {
	if err := os.Remove(filepath.Join(s.dataDir, contentID)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// Open returns a reader for the blob content.
func (s *Storage) Open(ctx context.Context, contentID string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.dataDir, contentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", contentID, board.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// Exists reports whether a blob is present.
func (s *Storage) Exists(contentID string) bool {
	_, err := os.Stat(filepath.Join(s.dataDir, contentID))
	return !os.IsNotExist(err)
}
