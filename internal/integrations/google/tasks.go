package google

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/api/tasks/v1"

	"assistant-agent/internal/domain"
)

const (
	defaultTaskList = "@default"
	maxTaskResults  = 100
)

func listOrDefault(listID string) string {
	if strings.TrimSpace(listID) == "" {
		return defaultTaskList
	}
	return listID
}

func (p *Provider) ListTaskLists(ctx context.Context) ([]domain.TaskList, error) {
	svc, err := p.tasksService(ctx)
	if err != nil {
		return nil, err
	}
	res, err := svc.Tasklists.List().MaxResults(maxTaskResults).Context(ctx).Do()
	if err != nil {
		return nil, mapErr("list task lists", err)
	}
	out := make([]domain.TaskList, 0, len(res.Items))
	for _, l := range res.Items {
		if l == nil {
			continue
		}
		out = append(out, domain.TaskList{ID: l.Id, Title: l.Title, Updated: l.Updated})
	}
	return out, nil
}

// ListTasks returns the tasks of a list. Completed tasks are hidden by the
// API unless both showCompleted and showHidden are set.
func (p *Provider) ListTasks(ctx context.Context, listID string, includeCompleted bool) ([]domain.Task, error) {
	svc, err := p.tasksService(ctx)
	if err != nil {
		return nil, err
	}
	res, err := svc.Tasks.List(listOrDefault(listID)).
		ShowCompleted(includeCompleted).
		ShowHidden(includeCompleted).
		MaxResults(maxTaskResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapErr("list tasks", err)
	}
	out := make([]domain.Task, 0, len(res.Items))
	for _, t := range res.Items {
		if t == nil || t.Deleted {
			continue
		}
		if !includeCompleted && t.Status == domain.TaskCompleted {
			continue
		}
		out = append(out, taskFromAPI(t))
	}
	return out, nil
}

func (p *Provider) CreateTask(ctx context.Context, listID string, in domain.TaskInput) (domain.Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return domain.Task{}, errors.New("google: create task: title is required")
	}
	svc, err := p.tasksService(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	created, err := svc.Tasks.Insert(listOrDefault(listID), &tasks.Task{
		Title: in.Title,
		Notes: in.Notes,
		Due:   in.Due,
	}).Context(ctx).Do()
	if err != nil {
		return domain.Task{}, mapErr("create task", err)
	}
	return taskFromAPI(created), nil
}

// UpdateTask patches the fields set in patch. Reopening a task clears its
// completion timestamp.
func (p *Provider) UpdateTask(ctx context.Context, listID, id string, patch domain.TaskPatch) (domain.Task, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Task{}, errors.New("google: update task: id is required")
	}
	svc, err := p.tasksService(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	t := &tasks.Task{}
	if patch.Title != nil {
		t.Title = *patch.Title
		t.ForceSendFields = append(t.ForceSendFields, "Title")
	}
	if patch.Notes != nil {
		t.Notes = *patch.Notes
		t.ForceSendFields = append(t.ForceSendFields, "Notes")
	}
	if patch.Due != nil {
		t.Due = *patch.Due
		if t.Due == "" {
			t.NullFields = append(t.NullFields, "Due")
		}
	}
	if patch.Status != nil {
		t.Status = *patch.Status
		if t.Status == domain.TaskNeedsAction {
			t.NullFields = append(t.NullFields, "Completed")
		}
	}
	updated, err := svc.Tasks.Patch(listOrDefault(listID), id, t).Context(ctx).Do()
	if err != nil {
		return domain.Task{}, mapErr("update task", err)
	}
	return taskFromAPI(updated), nil
}

func (p *Provider) DeleteTask(ctx context.Context, listID, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("google: delete task: id is required")
	}
	svc, err := p.tasksService(ctx)
	if err != nil {
		return err
	}
	if err := svc.Tasks.Delete(listOrDefault(listID), id).Context(ctx).Do(); err != nil {
		return mapErr("delete task", err)
	}
	return nil
}

func taskFromAPI(t *tasks.Task) domain.Task {
	return domain.Task{
		ID:      t.Id,
		Title:   t.Title,
		Notes:   t.Notes,
		Status:  t.Status,
		Due:     t.Due,
		Updated: t.Updated,
	}
}
