package board

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateProject inserts a new project, together with its File record when an
// upload is attached, in one transaction.
func (c *Coordinator) CreateProject(ctx context.Context, in CreateProjectInput) (*Project, error) {
	var created *Project
	err := c.inTransaction(ctx, func(ctx context.Context, s Session, comp *compensation) error {
		if _, err := c.store.Users().FindByID(ctx, s, in.AuthorID); err != nil {
			return fmt.Errorf("author %s: %w", in.AuthorID, err)
		}

		ts := now()
		p := &Project{
			ID:          uuid.NewString(),
			Title:       in.Title,
			Description: in.Description,
			TaskIDs:     []string{},
			AuthorID:    in.AuthorID,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		}

		if in.Upload != nil {
			f, err := c.createFile(ctx, s, comp, in.Upload)
			if err != nil {
				return err
			}
			p.FileID = f.ID
		}

		if err := c.store.Projects().Insert(ctx, s, p); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateProject overwrites the provided project fields. A new upload
// replaces the existing file: the new blob is uploaded before commit, the
// old File record is deleted in the same transaction, and the old blob is
// removed only after the commit succeeds.
func (c *Coordinator) UpdateProject(ctx context.Context, projectID string, in UpdateProjectInput) (*Project, error) {
	var updated *Project
	err := c.inTransaction(ctx, func(ctx context.Context, s Session, comp *compensation) error {
		cur, err := c.store.Projects().FindByID(ctx, s, projectID)
		if err != nil {
			return fmt.Errorf("project %s: %w", projectID, err)
		}

		upd := ProjectUpdate{}
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

		if err := c.store.Projects().UpdateByID(ctx, s, projectID, upd); err != nil {
			return fmt.Errorf("update project %s: %w", projectID, err)
		}

		updated, err = c.store.Projects().FindByID(ctx, s, projectID)
		if err != nil {
			return fmt.Errorf("reload project %s: %w", projectID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteProject removes the project, every task it owns, every File record
// in that subtree, and, after the transaction commits, every blob those
// files referenced.
func (c *Coordinator) DeleteProject(ctx context.Context, projectID string) error {
	return c.inTransaction(ctx, func(ctx context.Context, s Session, comp *compensation) error {
		p, err := c.store.Projects().FindByID(ctx, s, projectID)
		if err != nil {
			return fmt.Errorf("project %s: %w", projectID, err)
		}

		for _, taskID := range p.TaskIDs {
			t, err := c.store.Tasks().FindByID(ctx, s, taskID)
			if err != nil {
				return fmt.Errorf("task %s: %w", taskID, err)
			}
			if t.FileID != "" {
				if err := c.removeFile(ctx, s, comp, t.FileID); err != nil {
					return err
				}
			}
			if err := c.store.Tasks().DeleteByID(ctx, s, taskID); err != nil {
				return fmt.Errorf("delete task %s: %w", taskID, err)
			}
		}

		if p.FileID != "" {
			if err := c.removeFile(ctx, s, comp, p.FileID); err != nil {
				return err
			}
		}

		if err := c.store.Projects().DeleteByID(ctx, s, projectID); err != nil {
			return fmt.Errorf("delete project %s: %w", projectID, err)
		}
		return nil
	})
}

// GetProject returns one project with its author, file and tasks resolved.
func (c *Coordinator) GetProject(ctx context.Context, projectID string) (*ProjectView, error) {
	p, err := c.store.Projects().FindByID(ctx, nil, projectID)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", projectID, err)
	}

	view, err := c.projectView(ctx, p)
	if err != nil {
		return nil, err
	}

	for _, taskID := range p.TaskIDs {
		t, err := c.store.Tasks().FindByID(ctx, nil, taskID)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", taskID, err)
		}
		tv, err := c.taskView(ctx, t)
		if err != nil {
			return nil, err
		}
		view.Tasks = append(view.Tasks, *tv)
	}
	return view, nil
}

// ListProjects returns one page of projects ordered by creation time, with
// authors and files resolved but task lists left as references.
func (c *Coordinator) ListProjects(ctx context.Context, page, limit int, asc bool) (*ProjectPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	projects, total, err := c.store.Projects().List(ctx, page, limit, asc)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	out := &ProjectPage{Items: []ProjectView{}, Total: total}
	for _, p := range projects {
		view, err := c.projectView(ctx, p)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, *view)
	}
	return out, nil
}

// SearchProjects returns projects whose title contains the query,
// case-insensitively, without resolving references.
func (c *Coordinator) SearchProjects(ctx context.Context, query string) ([]*Project, error) {
	projects, err := c.store.Projects().Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search projects: %w", err)
	}
	return projects, nil
}

func (c *Coordinator) projectView(ctx context.Context, p *Project) (*ProjectView, error) {
	view := &ProjectView{Project: *p}

	author, err := c.store.Users().FindByID(ctx, nil, p.AuthorID)
	switch {
	case err == nil:
		view.Author = author
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("author %s: %w", p.AuthorID, err)
	}

	if p.FileID != "" {
		f, err := c.store.Files().FindByID(ctx, nil, p.FileID)
		if err != nil {
			return nil, fmt.Errorf("file %s: %w", p.FileID, err)
		}
		view.File = f
	}
	return view, nil
}
