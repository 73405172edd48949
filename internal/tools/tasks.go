package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"assistant-agent/internal/domain"
)

type taskSummary struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Status string  `json:"status"`
	Due    *string `json:"due"`
	Notes  *string `json:"notes"`
}

type listTasksResult struct {
	Status        string        `json:"status"`
	Count         int           `json:"count"`
	ShowCompleted bool          `json:"show_completed"`
	Tasks         []taskSummary `json:"tasks"`
}

type createdTask struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Due   *string `json:"due"`
}

type createTaskResult struct {
	Status string      `json:"status"`
	Task   createdTask `json:"task"`
}

type completeTaskResult struct {
	Status         string `json:"status"`
	CompletedTitle string `json:"completed_title"`
}

type deleteTaskResult struct {
	Status       string `json:"status"`
	DeletedTitle string `json:"deleted_title"`
}

func (r *Registry) listTasks(ctx context.Context, a *ListTasksArgs) (any, error) {
	showCompleted := strings.EqualFold(strings.TrimSpace(a.ShowCompleted), "true")
	tasks, err := r.tasks.ListTasks(ctx, r.taskListID, showCompleted)
	if err != nil {
		return nil, err
	}
	return listTasksResult{
		Status:        statusOK,
		Count:         len(tasks),
		ShowCompleted: showCompleted,
		Tasks: lo.Map(tasks, func(t domain.Task, _ int) taskSummary {
			return taskSummary{
				ID:     t.ID,
				Title:  t.Title,
				Status: t.Status,
				Due:    optional(t.Due),
				Notes:  optional(t.Notes),
			}
		}),
	}, nil
}

func (r *Registry) createTask(ctx context.Context, a *CreateTaskArgs) (any, error) {
	if strings.TrimSpace(a.Title) == "" {
		return nil, errors.New("title is required")
	}
	in := domain.TaskInput{Title: a.Title, Notes: a.Notes}
	due := strings.TrimSpace(a.Due)
	if due != "" {
		d, err := time.Parse(dateLayout, due)
		if err != nil {
			return nil, fmt.Errorf("due %q must be YYYY-MM-DD", a.Due)
		}
		in.Due = midnightUTC(d)
	}
	task, err := r.tasks.CreateTask(ctx, r.taskListID, in)
	if err != nil {
		return nil, err
	}
	return createTaskResult{
		Status: statusOK,
		Task:   createdTask{ID: task.ID, Title: task.Title, Due: optional(due)},
	}, nil
}

func (r *Registry) completeTask(ctx context.Context, a *CompleteTaskArgs) (any, error) {
	match, err := r.findTask(ctx, a.Title, false)
	if err != nil {
		return nil, err
	}
	status := domain.TaskCompleted
	if _, err := r.tasks.UpdateTask(ctx, r.taskListID, match.ID, domain.TaskPatch{Status: &status}); err != nil {
		return nil, err
	}
	return completeTaskResult{Status: statusOK, CompletedTitle: match.Title}, nil
}

func (r *Registry) deleteTask(ctx context.Context, a *DeleteTaskArgs) (any, error) {
	match, err := r.findTask(ctx, a.Title, true)
	if err != nil {
		return nil, err
	}
	if err := r.tasks.DeleteTask(ctx, r.taskListID, match.ID); err != nil {
		return nil, err
	}
	return deleteTaskResult{Status: statusOK, DeletedTitle: match.Title}, nil
}

// findTask returns the first task whose title contains query, ignoring case.
// Completed tasks are searched only when includeCompleted is set.
func (r *Registry) findTask(ctx context.Context, query string, includeCompleted bool) (domain.Task, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return domain.Task{}, errors.New("title is required")
	}
	tasks, err := r.tasks.ListTasks(ctx, r.taskListID, includeCompleted)
	if err != nil {
		return domain.Task{}, err
	}
	match, ok := lo.Find(tasks, func(t domain.Task) bool {
		return containsFold(t.Title, q)
	})
	if !ok {
		return domain.Task{}, notFoundError{fmt.Sprintf("task %q not found", query)}
	}
	return match, nil
}

// midnightUTC renders the due instant the task API expects for a bare date.
func midnightUTC(d time.Time) string {
	return d.Format(dateLayout) + "T00:00:00.000Z"
}
