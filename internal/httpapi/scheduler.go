package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"assistant-agent/internal/domain"
	"assistant-agent/internal/usecase"
)

type checkResponse struct {
	Triggered []domain.Reminder `json:"triggered"`
	CheckedAt time.Time         `json:"checkedAt"`
	Count     int               `json:"count"`
}

type tickReminders struct {
	Triggered []usecase.TriggeredReminder `json:"triggered"`
	Count     int                         `json:"count"`
}

type tickResponse struct {
	TickAt            time.Time     `json:"tickAt"`
	CalendarConnected bool          `json:"calendarConnected"`
	Reminders         tickReminders `json:"reminders"`
}

type briefingResponse struct {
	OK bool `json:"ok"`
	usecase.BriefingResult
}

func (s *Server) registerScheduler(r *mux.Router) {
	r.HandleFunc("/api/reminders/check", s.checkReminders).Methods(http.MethodGet)
	r.HandleFunc("/api/scheduler/tick", s.requireCron(s.tick)).Methods(http.MethodPost)
	r.HandleFunc("/api/cron/daily-briefing", s.requireCron(s.dailyBriefing)).Methods(http.MethodGet)
}

// checkReminders previews which reminders would fire now without sending.
func (s *Server) checkReminders(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	due, err := s.deps.Reminders.Due(r.Context(), now)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{Triggered: nonNil(due), CheckedAt: now.UTC(), Count: len(due)})
}

func (s *Server) tick(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	triggered, err := s.deps.Reminders.Tick(r.Context(), now)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	connected := false
	if st, err := s.deps.Auth.Status(r.Context()); err != nil {
		loggerFrom(r.Context(), s.logger).Warn("auth status unavailable", "err", err)
	} else {
		connected = st.Connected
	}
	writeJSON(w, http.StatusOK, tickResponse{
		TickAt:            now.UTC(),
		CalendarConnected: connected,
		Reminders:         tickReminders{Triggered: nonNil(triggered), Count: len(triggered)},
	})
}

func (s *Server) dailyBriefing(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Briefing.Send(r.Context())
	if err != nil {
		status, body := classify(err)
		loggerFrom(r.Context(), s.logger).Error("daily briefing failed", "err", err)
		writeJSON(w, status, map[string]any{"ok": false, "error": body.Error})
		return
	}
	writeJSON(w, http.StatusOK, briefingResponse{OK: true, BriefingResult: res})
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
