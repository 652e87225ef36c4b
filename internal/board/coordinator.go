package board

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Coordinator executes every composite mutation of the project/task/file
// graph as one document-store transaction paired with explicit object-store
// compensation. It is the only writer of blobs and the only component that
// may create or destroy File records.
type Coordinator struct {
	store Store
	blobs BlobStore
}

// NewCoordinator creates a coordinator over the given stores.
func NewCoordinator(store Store, blobs BlobStore) *Coordinator {
	return &Coordinator{store: store, blobs: blobs}
}

// compensation collects blob deletions pending on the outcome of the open
// transaction. Blobs superseded by the transaction (replaced or removed
// files) go on the commit queue: they must survive an abort. Blobs uploaded
// by the transaction go on the abort queue: they must not be orphaned if
// the document writes never commit.
type compensation struct {
	onCommit []string
	onAbort  []string
}

func (c *compensation) deleteAfterCommit(contentID string) {
	c.onCommit = append(c.onCommit, contentID)
}

func (c *compensation) deleteAfterAbort(contentID string) {
	c.onAbort = append(c.onAbort, contentID)
}

// inTransaction runs fn inside a document-store session and resolves the
// pending compensation once the transaction settles. The session context is
// detached from request cancellation: a caller that disconnects mid-flight
// still gets a clean commit or abort.
func (c *Coordinator) inTransaction(ctx context.Context, fn func(ctx context.Context, s Session, comp *compensation) error) error {
	ctx = context.WithoutCancel(ctx)

	s, err := c.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	defer s.End(ctx)

	comp := &compensation{}
	if err := fn(ctx, s, comp); err != nil {
		if abortErr := s.Abort(ctx); abortErr != nil {
			slog.Error("transaction abort failed", "error", abortErr)
		}
		c.deleteBlobs(ctx, comp.onAbort)
		return err
	}

	if err := s.Commit(ctx); err != nil {
		c.deleteBlobs(ctx, comp.onAbort)
		return fmt.Errorf("commit: %w", err)
	}

	c.deleteBlobs(ctx, comp.onCommit)
	return nil
}

// deleteBlobs runs one compensation queue. Failures are logged and never
// propagated: a committed document change is not reversed over a failed
// blob delete, and an abort error must not mask the original failure. A
// blob left behind here stays reachable for an out-of-band sweep.
func (c *Coordinator) deleteBlobs(ctx context.Context, contentIDs []string) {
	for _, id := range contentIDs {
		if err := c.blobs.Delete(ctx, id); err != nil {
			slog.Error("blob compensation failed", "content_id", id, "error", err)
		}
	}
}

// createFile uploads the payload to the object store and inserts its File
// record in the open session. The upload happens before any chance of
// commit, so a committed record can never reference a missing blob; the
// fresh blob is queued for deletion should the transaction abort.
func (c *Coordinator) createFile(ctx context.Context, s Session, comp *compensation, up *Upload) (*File, error) {
	contentID, err := c.blobs.Upload(ctx, up.Data, up.ContentType)
	if err != nil {
		return nil, fmt.Errorf("upload blob: %w", err)
	}
	comp.deleteAfterAbort(contentID)

	f := &File{
		ID:           uuid.NewString(),
		Path:         contentID,
		OriginalName: up.Name,
		ContentType:  up.ContentType,
		Size:         int64(len(up.Data)),
		CreatedAt:    time.Now().UTC(),
	}
	if err := c.store.Files().Insert(ctx, s, f); err != nil {
		return nil, fmt.Errorf("insert file record: %w", err)
	}

	slog.Info("blob uploaded",
		"content_id", contentID,
		"name", up.Name,
		"size", humanize.Bytes(uint64(len(up.Data))))
	return f, nil
}

// removeFile deletes the File record in-session and queues its blob for
// post-commit deletion. The blob itself stays put until the transaction is
// known to have committed, since an abort must not lose it.
func (c *Coordinator) removeFile(ctx context.Context, s Session, comp *compensation, fileID string) error {
	f, err := c.store.Files().FindByID(ctx, s, fileID)
	if err != nil {
		return fmt.Errorf("find file %s: %w", fileID, err)
	}
	if err := c.store.Files().DeleteByID(ctx, s, fileID); err != nil {
		return fmt.Errorf("delete file record %s: %w", fileID, err)
	}
	comp.deleteAfterCommit(f.Path)
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}
