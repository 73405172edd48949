package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"assistant-agent/internal/domain"
)

const defaultEventLimit = 50

type eventsResponse struct {
	Events []domain.Event `json:"events"`
	Count  int            `json:"count"`
	From   time.Time      `json:"from"`
	To     time.Time      `json:"to"`
}

type eventResponse struct {
	Event domain.Event `json:"event"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type eventBody struct {
	Summary     *string           `json:"summary"`
	Description *string           `json:"description"`
	Location    *string           `json:"location"`
	Start       *domain.EventTime `json:"start"`
	End         *domain.EventTime `json:"end"`
}

func (s *Server) registerCalendar(r *mux.Router) {
	r.HandleFunc("/api/calendar/events", s.listEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/calendar/events", s.createEvent).Methods(http.MethodPost)
	r.HandleFunc("/api/calendar/events/{id}", s.getEvent).Methods(http.MethodGet)
	r.HandleFunc("/api/calendar/events/{id}", s.updateEvent).Methods(http.MethodPut)
	r.HandleFunc("/api/calendar/events/{id}", s.deleteEvent).Methods(http.MethodDelete)
}

// listEvents defaults to today in the service time zone.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	now := s.now().In(s.cfg.Location)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.cfg.Location)
	to := from.AddDate(0, 0, 1)
	var err error
	if raw := q.Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			s.writeError(w, r, invalid("from must be an RFC 3339 timestamp"))
			return
		}
	}
	if raw := q.Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			s.writeError(w, r, invalid("to must be an RFC 3339 timestamp"))
			return
		}
	}
	if !to.After(from) {
		s.writeError(w, r, invalid("to must be after from"))
		return
	}
	limit := defaultEventLimit
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			s.writeError(w, r, invalid("limit must be a positive integer"))
			return
		}
	}

	events, err := s.deps.Calendar.ListEvents(r.Context(), from, to, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: nonNil(events), Count: len(events), From: from, To: to})
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	var body eventBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Summary == nil || strings.TrimSpace(*body.Summary) == "" ||
		body.Start == nil || body.Start.DateTime == "" ||
		body.End == nil || body.End.DateTime == "" {
		s.writeError(w, r, invalid("summary, start.dateTime, and end.dateTime are required"))
		return
	}
	in := domain.EventInput{
		Summary: *body.Summary,
		Start:   s.withZone(*body.Start),
		End:     s.withZone(*body.End),
	}
	if body.Description != nil {
		in.Description = *body.Description
	}
	if body.Location != nil {
		in.Location = *body.Location
	}
	ev, err := s.deps.Calendar.CreateEvent(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, eventResponse{Event: ev})
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.deps.Calendar.GetEvent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventResponse{Event: ev})
}

func (s *Server) updateEvent(w http.ResponseWriter, r *http.Request) {
	var body eventBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	patch := domain.EventPatch{
		Summary:     body.Summary,
		Description: body.Description,
		Location:    body.Location,
	}
	if body.Start != nil {
		start := s.withZone(*body.Start)
		patch.Start = &start
	}
	if body.End != nil {
		end := s.withZone(*body.End)
		patch.End = &end
	}
	ev, err := s.deps.Calendar.UpdateEvent(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventResponse{Event: ev})
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Calendar.DeleteEvent(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Event deleted"})
}

// withZone fills the service time zone into timed values that carry none.
func (s *Server) withZone(t domain.EventTime) domain.EventTime {
	if t.DateTime != "" && t.TimeZone == "" {
		t.TimeZone = s.cfg.Location.String()
	}
	return t
}
