package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"assistant-agent/internal/domain"
)

type tasksResponse struct {
	Tasks  []domain.Task `json:"tasks"`
	Count  int           `json:"count"`
	ListID string        `json:"listId"`
}

type taskListsResponse struct {
	TaskLists []domain.TaskList `json:"taskLists"`
}

type taskResponse struct {
	Task    domain.Task `json:"task"`
	Message string      `json:"message,omitempty"`
}

type taskBody struct {
	Title  *string `json:"title"`
	Notes  *string `json:"notes"`
	Due    *string `json:"due"`
	Status *string `json:"status"`
	ListID string  `json:"listId"`
	Action string  `json:"action"`
}

func (s *Server) registerTasks(r *mux.Router) {
	r.HandleFunc("/api/tasks", s.listTasks).Methods(http.MethodGet)
	r.HandleFunc("/api/tasks", s.createTask).Methods(http.MethodPost)
	r.HandleFunc("/api/tasks/{id}", s.updateTask).Methods(http.MethodPut)
	r.HandleFunc("/api/tasks/{id}", s.taskAction).Methods(http.MethodPatch)
	r.HandleFunc("/api/tasks/{id}", s.deleteTask).Methods(http.MethodDelete)
}

func (s *Server) listID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return s.cfg.TaskListID
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("listsOnly") == "true" {
		lists, err := s.deps.Tasks.ListTaskLists(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, taskListsResponse{TaskLists: nonNil(lists)})
		return
	}
	listID := s.listID(q.Get("listId"))
	tasks, err := s.deps.Tasks.ListTasks(r.Context(), listID, q.Get("showCompleted") == "true")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasksResponse{Tasks: nonNil(tasks), Count: len(tasks), ListID: listID})
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var body taskBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Title == nil || strings.TrimSpace(*body.Title) == "" {
		s.writeError(w, r, invalid("title is required"))
		return
	}
	in := domain.TaskInput{Title: strings.TrimSpace(*body.Title)}
	if body.Notes != nil {
		in.Notes = *body.Notes
	}
	if body.Due != nil && *body.Due != "" {
		due, err := dueDate(*body.Due)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		in.Due = due
	}
	task, err := s.deps.Tasks.CreateTask(r.Context(), s.listID(body.ListID), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, taskResponse{Task: task})
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var body taskBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Status != nil && *body.Status != domain.TaskNeedsAction && *body.Status != domain.TaskCompleted {
		s.writeError(w, r, invalid("status must be needsAction or completed"))
		return
	}
	patch := domain.TaskPatch{Title: body.Title, Notes: body.Notes, Status: body.Status}
	if body.Due != nil {
		due := ""
		if *body.Due != "" {
			var err error
			if due, err = dueDate(*body.Due); err != nil {
				s.writeError(w, r, err)
				return
			}
		}
		patch.Due = &due
	}
	task, err := s.deps.Tasks.UpdateTask(r.Context(), s.listID(body.ListID), mux.Vars(r)["id"], patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Task: task})
}

// taskAction supports {"action":"complete"}.
func (s *Server) taskAction(w http.ResponseWriter, r *http.Request) {
	var body taskBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Action != "complete" {
		s.writeError(w, r, invalid("unknown action, use {\"action\":\"complete\"}"))
		return
	}
	status := domain.TaskCompleted
	task, err := s.deps.Tasks.UpdateTask(r.Context(), s.listID(body.ListID), mux.Vars(r)["id"], domain.TaskPatch{Status: &status})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Task: task, Message: "Task completed"})
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	listID := s.listID(r.URL.Query().Get("listId"))
	if err := s.deps.Tasks.DeleteTask(r.Context(), listID, mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Task deleted"})
}

// dueDate accepts YYYY-MM-DD or a full RFC 3339 timestamp. Tasks only keep the
// date, so a bare date becomes midnight UTC.
func dueDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if d, err := time.Parse(time.DateOnly, raw); err == nil {
		return d.Format("2006-01-02") + "T00:00:00.000Z", nil
	}
	if _, err := time.Parse(time.RFC3339, raw); err == nil {
		return raw, nil
	}
	return "", invalid("due must be YYYY-MM-DD")
}
