package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"assistant-agent/internal/domain"
	"assistant-agent/internal/usecase"
)

type remindersResponse struct {
	Reminders []domain.Reminder `json:"reminders"`
}

type reminderResponse struct {
	Reminder domain.Reminder `json:"reminder"`
}

type reminderLogsResponse struct {
	Logs []domain.ReminderLog `json:"logs"`
}

func (s *Server) registerReminders(r *mux.Router) {
	r.HandleFunc("/api/reminders", s.listReminders).Methods(http.MethodGet)
	r.HandleFunc("/api/reminders", s.createReminder).Methods(http.MethodPost)
	r.HandleFunc("/api/reminders/{id}", s.getReminder).Methods(http.MethodGet)
	r.HandleFunc("/api/reminders/{id}", s.updateReminder).Methods(http.MethodPut)
	r.HandleFunc("/api/reminders/{id}", s.deleteReminder).Methods(http.MethodDelete)
	r.HandleFunc("/api/reminders/{id}/logs", s.reminderLogs).Methods(http.MethodGet)
}

func (s *Server) listReminders(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Reminders.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, remindersResponse{Reminders: nonNil(list)})
}

func (s *Server) createReminder(w http.ResponseWriter, r *http.Request) {
	var in usecase.CreateReminderInput
	if err := decodeBody(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	rem, err := s.deps.Reminders.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reminderResponse{Reminder: rem})
}

func (s *Server) getReminder(w http.ResponseWriter, r *http.Request) {
	rem, err := s.deps.Reminders.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reminderResponse{Reminder: rem})
}

func (s *Server) updateReminder(w http.ResponseWriter, r *http.Request) {
	var patch domain.ReminderPatch
	if err := decodeBody(w, r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	rem, err := s.deps.Reminders.Update(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reminderResponse{Reminder: rem})
}

func (s *Server) deleteReminder(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Reminders.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Reminder deleted"})
}

func (s *Server) reminderLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, invalid("limit must be a positive integer"))
			return
		}
		limit = n
	}
	logs, err := s.deps.Reminders.Logs(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reminderLogsResponse{Logs: nonNil(logs)})
}
