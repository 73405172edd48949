package httpapi

import (
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"assistant-agent/internal/integrations/google"
)

const stateCookie = "assistant_oauth_state"

var resultPage = template.Must(template.New("oauth").Parse(`<!DOCTYPE html>
<html lang="ko">
<head><meta charset="UTF-8"><meta name="viewport" content="width=device-width,initial-scale=1"><title>{{.Title}}</title>
<style>body{font-family:system-ui,sans-serif;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0;background:#fafafa}
.card{background:#fff;border:1px solid #e5e5e5;border-radius:12px;padding:2rem;max-width:400px;text-align:center}
a{color:#2563eb;text-decoration:none}</style>
</head><body><div class="card"><h1>{{.Title}}</h1><p>{{.Body}}</p>{{if .Retry}}<p><a href="/api/auth/google">Try again</a></p>{{end}}</div></body></html>`))

type pageData struct {
	Title string
	Body  string
	Retry bool
}

type statusResponse struct {
	google.Status
	Expired bool   `json:"expired"`
	Message string `json:"message,omitempty"`
}

func (s *Server) registerAuth(r *mux.Router) {
	r.HandleFunc("/api/auth/google", s.authStart).Methods(http.MethodGet)
	r.HandleFunc("/api/auth/callback", s.authCallback).Methods(http.MethodGet)
	r.HandleFunc("/api/auth/status", s.authStatus).Methods(http.MethodGet)
}

// authStart redirects to Google's consent page with a one-time state bound to
// a cookie.
func (s *Server) authStart(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	target, err := s.deps.Auth.AuthURL(state)
	if err != nil {
		if errors.Is(err, google.ErrNotConfigured) {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "NOT_CONFIGURED", Message: "Google OAuth client is not configured"})
			return
		}
		s.writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/api/auth",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) authCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if denied := q.Get("error"); denied != "" {
		renderPage(w, http.StatusBadRequest, pageData{Title: "Authorization Failed", Body: "Google denied access: " + denied, Retry: true})
		return
	}
	code := q.Get("code")
	if code == "" {
		renderPage(w, http.StatusBadRequest, pageData{Title: "Missing Code", Body: "No authorization code received.", Retry: true})
		return
	}
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != q.Get("state") {
		renderPage(w, http.StatusBadRequest, pageData{Title: "Invalid State", Body: "The authorization request expired or did not start here.", Retry: true})
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/api/auth", MaxAge: -1})

	if err := s.deps.Auth.Exchange(r.Context(), code); err != nil {
		loggerFrom(r.Context(), s.logger).Error("oauth exchange failed", "err", err)
		renderPage(w, http.StatusInternalServerError, pageData{Title: "Connection Failed", Body: "Token exchange failed.", Retry: true})
		return
	}
	renderPage(w, http.StatusOK, pageData{Title: "Connected!", Body: "Google Calendar connected successfully. You can close this window."})
}

func (s *Server) authStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Auth.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := statusResponse{Status: st}
	if !st.Connected && st.UpdatedAt.IsZero() {
		resp.Message = "Google Calendar not connected. OAuth setup required."
	}
	if !st.ExpiresAt.IsZero() {
		resp.Expired = st.ExpiresAt.Before(s.now())
	}
	writeJSON(w, http.StatusOK, resp)
}

func renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = resultPage.Execute(w, data)
}
