// Package httpapi exposes the assistant over plain HTTP for self-hosted
// deployments: the Telegram webhook, scheduler triggers, OAuth routes and thin
// calendar/task/reminder pass-throughs.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"assistant-agent/internal/domain"
	"assistant-agent/internal/integrations/google"
	"assistant-agent/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 1 << 20
)

type ChatHandler interface {
	Accepts(chatID string) bool
	Handle(ctx context.Context, in usecase.HandleInput) (usecase.HandleOutput, error)
}

type Reminders interface {
	Create(ctx context.Context, in usecase.CreateReminderInput) (domain.Reminder, error)
	List(ctx context.Context) ([]domain.Reminder, error)
	Get(ctx context.Context, id string) (domain.Reminder, error)
	Update(ctx context.Context, id string, patch domain.ReminderPatch) (domain.Reminder, error)
	Delete(ctx context.Context, id string) error
	Logs(ctx context.Context, id string, limit int) ([]domain.ReminderLog, error)
	Due(ctx context.Context, now time.Time) ([]domain.Reminder, error)
	Tick(ctx context.Context, now time.Time) ([]usecase.TriggeredReminder, error)
}

type Briefer interface {
	Send(ctx context.Context) (usecase.BriefingResult, error)
}

type Calendar interface {
	ListEvents(ctx context.Context, from, to time.Time, limit int) ([]domain.Event, error)
	GetEvent(ctx context.Context, id string) (domain.Event, error)
	CreateEvent(ctx context.Context, in domain.EventInput) (domain.Event, error)
	UpdateEvent(ctx context.Context, id string, patch domain.EventPatch) (domain.Event, error)
	DeleteEvent(ctx context.Context, id string) error
}

type Tasks interface {
	ListTaskLists(ctx context.Context) ([]domain.TaskList, error)
	ListTasks(ctx context.Context, listID string, includeCompleted bool) ([]domain.Task, error)
	CreateTask(ctx context.Context, listID string, in domain.TaskInput) (domain.Task, error)
	UpdateTask(ctx context.Context, listID, id string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, listID, id string) error
}

type Auth interface {
	AuthURL(state string) (string, error)
	Exchange(ctx context.Context, code string) error
	Status(ctx context.Context) (google.Status, error)
}

type Deps struct {
	Chat      ChatHandler
	Reminders Reminders
	Briefing  Briefer
	Calendar  Calendar
	Tasks     Tasks
	Auth      Auth
}

type Config struct {
	CronSecret    string
	WebhookSecret string
	TaskListID    string
	Location      *time.Location
}

type Server struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func New(deps Deps, cfg Config, logger *slog.Logger) (*Server, error) {
	switch {
	case deps.Chat == nil:
		return nil, errors.New("httpapi: chat handler must not be nil")
	case deps.Reminders == nil:
		return nil, errors.New("httpapi: reminders must not be nil")
	case deps.Briefing == nil:
		return nil, errors.New("httpapi: briefing must not be nil")
	case deps.Calendar == nil || deps.Tasks == nil:
		return nil, errors.New("httpapi: calendar and tasks must not be nil")
	case deps.Auth == nil:
		return nil, errors.New("httpapi: auth must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if strings.TrimSpace(cfg.TaskListID) == "" {
		cfg.TaskListID = "@default"
	}
	return &Server{deps: deps, cfg: cfg, logger: logger, now: time.Now}, nil
}

// Router returns the complete route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestLogger)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	s.registerWebhook(r)
	s.registerScheduler(r)
	s.registerAuth(r)
	s.registerCalendar(r)
	s.registerTasks(r)
	s.registerReminders(r)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Message: "route not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED"})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// badRequest marks request validation failures raised inside this package.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func invalid(msg string) error { return badRequest{msg: msg} }

// writeError maps use-case codes and provider sentinels onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		loggerFrom(r.Context(), s.logger).Error("request failed", "status", status, "err", err)
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, errorResponse) {
	var br badRequest
	if errors.As(err, &br) {
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: br.msg}
	}
	var ue *usecase.Error
	if errors.As(err, &ue) {
		body := errorResponse{Error: string(ue.Code), Message: ue.Reason}
		switch ue.Code {
		case usecase.ErrorInvalidInput:
			return http.StatusBadRequest, body
		case usecase.ErrorNotConnected:
			return http.StatusUnauthorized, body
		case usecase.ErrorNotFound:
			return http.StatusNotFound, body
		case usecase.ErrorUpstream:
			return http.StatusBadGateway, body
		default:
			return http.StatusInternalServerError, body
		}
	}
	if errors.Is(err, domain.ErrNotConnected) {
		return http.StatusUnauthorized, errorResponse{Error: string(usecase.ErrorNotConnected), Message: "Google account not connected. Connect via /api/auth/google"}
	}
	if errors.Is(err, domain.ErrReminderNotFound) {
		return http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound)}
	}
	return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return invalid("invalid JSON body")
	}
	return nil
}

// requireCron guards scheduler routes with the CRON_SECRET bearer token. An
// empty secret leaves them open.
func (s *Server) requireCron(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.CronSecret != "" {
			want := "Bearer " + s.cfg.CronSecret
			got := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
				return
			}
		}
		next(w, r)
	}
}

type ctxKey struct{}

func loggerFrom(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return fallback
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger tags every request with a correlation id and logs its outcome.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corrID := strings.TrimSpace(r.Header.Get(correlationHeader))
		if corrID == "" {
			corrID = uuid.NewString()
		}
		w.Header().Set(correlationHeader, corrID)
		logger := s.logger.With("correlation_id", corrID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxKey{}, logger)))
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
