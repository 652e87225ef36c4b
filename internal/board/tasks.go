package board

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateTask inserts a new task under a project and appends its reference
// to the project's task list, all in one transaction. An attached upload
// follows the usual blob-before-commit protocol.
func (c *Coordinator) CreateTask(ctx context.Context, in CreateTaskInput) (*Task, error) {
	var created *Task
	err := c.inTransaction(ctx, func(ctx context.Context, s Session, comp *compensation) error {
		if _, err := c.store.Projects().FindByID(ctx, s, in.ProjectID); err != nil {
			return fmt.Errorf("project %s: %w", in.ProjectID, err)
		}

		ts := now()
		t := &Task{
			ID:          uuid.NewString(),
			ProjectID:   in.ProjectID,
			Title:       in.Title,
			Description: in.Description,
			Status:      StatusOpen,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		}

		if in.Upload != nil {
			f, err := c.createFile(ctx, s, comp, in.Upload)
			if err != nil {
				return err
			}
			t.FileID = f.ID
		}

		if err := c.store.Tasks().Insert(ctx, s, t); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		if err := c.store.Projects().PushTask(ctx, s, in.ProjectID, t.ID); err != nil {
			return fmt.Errorf("push task ref: %w", err)
		}
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateTask overwrites the provided task fields, replacing the attached
// file with the same protocol as UpdateProject.
func (c *Coordinator) UpdateTask(ctx context.Context, taskID string, in UpdateTaskInput) (*Task, error) {
	var updated *Task
	err := c.inTransaction(ctx, func(ctx context.Context, s Session, comp *compensation) error {
		cur, err := c.store.Tasks().FindByID(ctx, s, taskID)
		if err != nil {
			return fmt.Errorf("task %s: %w", taskID, err)
		}

		upd := TaskUpdate{}
		if in.Title != "" {
			upd.Title = &in.Title
		}
		if in.Description != "" {
			upd.Description = &in.Description
		}

		if in.Upload != nil {
			f, err := c.createFile(ctx, s, comp, in.Upload)
			if err != nil {
				return err
			}
			upd.FileID = &f.ID

			if cur.FileID != "" {
				if err := c.removeFile(ctx, s, comp, cur.FileID); err != nil {
					return err
				}
			}
		}

		if err := c.store.Tasks().UpdateByID(ctx, s, taskID, upd); err != nil {
			return fmt.Errorf("update task %s: %w", taskID, err)
		}

		updated, err = c.store.Tasks().FindByID(ctx, s, taskID)
		if err != nil {
			return fmt.Errorf("reload task %s: %w", taskID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTask removes the task, pulls its reference from the owning project,
// deletes its File record, and removes the blob after commit.
func (c *Coordinator) DeleteTask(ctx context.Context, taskID string) error {
	return c.inTransaction(ctx, func(ctx context.Context, s Session, comp *compensation) error {
		t, err := c.store.Tasks().FindByID(ctx, s, taskID)
		if err != nil {
			return fmt.Errorf("task %s: %w", taskID, err)
		}

		if err := c.store.Projects().PullTask(ctx, s, t.ProjectID, t.ID); err != nil {
			return fmt.Errorf("pull task ref: %w", err)
		}

		if t.FileID != "" {
			if err := c.removeFile(ctx, s, comp, t.FileID); err != nil {
				return err
			}
		}

		if err := c.store.Tasks().DeleteByID(ctx, s, taskID); err != nil {
			return fmt.Errorf("delete task %s: %w", taskID, err)
		}
		return nil
	})
}

// GetTask returns one task with its file and performer resolved.
func (c *Coordinator) GetTask(ctx context.Context, taskID string) (*TaskView, error) {
	t, err := c.store.Tasks().FindByID(ctx, nil, taskID)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, err)
	}
	return c.taskView(ctx, t)
}

func (c *Coordinator) taskView(ctx context.Context, t *Task) (*TaskView, error) {
	view := &TaskView{Task: *t}

	if t.FileID != "" {
		f, err := c.store.Files().FindByID(ctx, nil, t.FileID)
		if err != nil {
			return nil, fmt.Errorf("file %s: %w", t.FileID, err)
		}
		view.File = f
	}

	if t.PerformerID != "" {
		u, err := c.store.Users().FindByID(ctx, nil, t.PerformerID)
		switch {
		case err == nil:
			view.Performer = u
		case !errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("performer %s: %w", t.PerformerID, err)
		}
	}
	return view, nil
}
