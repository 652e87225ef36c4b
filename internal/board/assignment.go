package board

import (
	"context"
	"fmt"
)

// ClaimTask binds the task to the acting user and moves it to in-progress.
// The claim is a single conditional document update: if the task already has
// a performer the call returns ErrConflict, so two concurrent claims on the
// same task resolve to exactly one winner without any locking.
func (c *Coordinator) ClaimTask(ctx context.Context, taskID, userID string) error {
	if _, err := c.store.Users().FindByID(ctx, nil, userID); err != nil {
		return fmt.Errorf("user %s: %w", userID, err)
	}
	if err := c.store.Tasks().Claim(ctx, taskID, userID); err != nil {
		return fmt.Errorf("claim task %s: %w", taskID, err)
	}
	return nil
}

// ChangeTaskStatus updates the task status on behalf of userID. Only the
// bound performer may change status. Moving a task back to open releases
// the claim; any other status keeps the performer bound.
func (c *Coordinator) ChangeTaskStatus(ctx context.Context, taskID, userID string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("status %q: %w", status, ErrConflict)
	}

	return c.inTransaction(ctx, func(ctx context.Context, s Session, _ *compensation) error {
		t, err := c.store.Tasks().FindByID(ctx, s, taskID)
		if err != nil {
			return fmt.Errorf("task %s: %w", taskID, err)
		}

		if t.PerformerID == "" {
			return fmt.Errorf("task %s is not assigned: %w", taskID, ErrConflict)
		}
		if t.PerformerID != userID {
			return fmt.Errorf("task %s is assigned to another user: %w", taskID, ErrConflict)
		}

		clearPerformer := status == StatusOpen
		if err := c.store.Tasks().SetStatus(ctx, s, taskID, status, clearPerformer); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		return nil
	})
}
