package google

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"assistant-agent/internal/domain"
)

type fakeTokens struct {
	mu     sync.Mutex
	tok    *domain.OAuthToken
	puts   []domain.OAuthToken
	getErr error
}

func (f *fakeTokens) GetToken(_ context.Context, label string) (domain.OAuthToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if label != TokenLabel {
		return domain.OAuthToken{}, errors.New("unexpected label " + label)
	}
	if f.getErr != nil {
		return domain.OAuthToken{}, f.getErr
	}
	if f.tok == nil {
		return domain.OAuthToken{}, domain.ErrTokenNotFound
	}
	return *f.tok, nil
}

func (f *fakeTokens) PutToken(_ context.Context, _ string, tok domain.OAuthToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, tok)
	f.tok = &tok
	return nil
}

type googleServer struct {
	*httptest.Server
	mux         *http.ServeMux
	tokenStatus int
	tokenBody   string
	tokenForms  []url.Values
	authHeaders []string
}

func newGoogleServer(t *testing.T) *googleServer {
	t.Helper()
	gs := &googleServer{
		mux:         http.NewServeMux(),
		tokenStatus: http.StatusOK,
		tokenBody:   `{"access_token":"fresh-access","token_type":"Bearer","expires_in":3600}`,
	}
	gs.mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gs.tokenForms = append(gs.tokenForms, r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(gs.tokenStatus)
		_, _ = w.Write([]byte(gs.tokenBody))
	})
	gs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			gs.authHeaders = append(gs.authHeaders, r.Header.Get("Authorization"))
		}
		gs.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(gs.Close)
	return gs
}

func (gs *googleServer) handle(pattern string, status int, body string) {
	gs.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func validToken() *domain.OAuthToken {
	return &domain.OAuthToken{
		AccessToken:  "stored-access",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}
}

func newTestProvider(t *testing.T, gs *googleServer, store *fakeTokens) *Provider {
	t.Helper()
	p, err := New(Config{ClientID: "client-id", ClientSecret: "client-secret", RedirectURL: "https://example.test/callback"}, store,
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
		WithEndpoints(gs.URL+"/calendar/v3/", gs.URL+"/", gs.URL+"/token"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return p
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)
}

func TestAuthURL(t *testing.T) {
	gs := newGoogleServer(t)
	p := newTestProvider(t, gs, &fakeTokens{})

	raw, err := p.AuthURL("state-123")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "state-123", q.Get("state"))
	require.Equal(t, "offline", q.Get("access_type"))
	require.Equal(t, "consent", q.Get("prompt"))
	require.Equal(t, "client-id", q.Get("client_id"))
	require.Contains(t, q.Get("scope"), "calendar")
	require.Contains(t, q.Get("scope"), "tasks")
}

func TestAuthURL_NotConfigured(t *testing.T) {
	p, err := New(Config{}, &fakeTokens{})
	require.NoError(t, err)
	_, err = p.AuthURL("s")
	require.ErrorIs(t, err, ErrNotConfigured)
	require.ErrorIs(t, p.Exchange(context.Background(), "code"), ErrNotConfigured)
}

func TestExchange_StoresToken(t *testing.T) {
	gs := newGoogleServer(t)
	gs.tokenBody = `{"access_token":"a1","refresh_token":"r1","token_type":"Bearer","expires_in":3600,"scope":"calendar tasks"}`
	store := &fakeTokens{}
	p := newTestProvider(t, gs, store)

	require.NoError(t, p.Exchange(context.Background(), "auth-code"))

	require.Len(t, gs.tokenForms, 1)
	require.Equal(t, "auth-code", gs.tokenForms[0].Get("code"))
	require.Len(t, store.puts, 1)
	require.Equal(t, "a1", store.puts[0].AccessToken)
	require.Equal(t, "r1", store.puts[0].RefreshToken)
	require.Equal(t, "calendar tasks", store.puts[0].Scope)
	require.False(t, store.puts[0].Expiry.IsZero())
}

func TestExchange_KeepsPreviousRefreshToken(t *testing.T) {
	gs := newGoogleServer(t)
	gs.tokenBody = `{"access_token":"a2","token_type":"Bearer","expires_in":3600}`
	store := &fakeTokens{tok: validToken()}
	p := newTestProvider(t, gs, store)

	require.NoError(t, p.Exchange(context.Background(), "auth-code"))
	require.Equal(t, "refresh-1", store.tok.RefreshToken)
	require.Equal(t, "a2", store.tok.AccessToken)
}

func TestExchange_EmptyCode(t *testing.T) {
	gs := newGoogleServer(t)
	p := newTestProvider(t, gs, &fakeTokens{})
	require.Error(t, p.Exchange(context.Background(), "  "))
}

func TestStatus(t *testing.T) {
	gs := newGoogleServer(t)
	store := &fakeTokens{}
	p := newTestProvider(t, gs, store)

	st, err := p.Status(context.Background())
	require.NoError(t, err)
	require.False(t, st.Connected)

	store.tok = validToken()
	st, err = p.Status(context.Background())
	require.NoError(t, err)
	require.True(t, st.Connected)

	store.getErr = errors.New("dynamo down")
	_, err = p.Status(context.Background())
	require.Error(t, err)
}

func TestCalendar_NotConnectedWithoutToken(t *testing.T) {
	gs := newGoogleServer(t)
	p := newTestProvider(t, gs, &fakeTokens{})

	_, err := p.ListEvents(context.Background(), time.Now(), time.Now().Add(time.Hour), 10)
	require.ErrorIs(t, err, domain.ErrNotConnected)
	require.Empty(t, gs.authHeaders)
}

func TestCalendar_ExpiredWithoutRefreshTokenIsNotConnected(t *testing.T) {
	gs := newGoogleServer(t)
	store := &fakeTokens{tok: &domain.OAuthToken{AccessToken: "old", Expiry: time.Now().Add(-time.Hour)}}
	p := newTestProvider(t, gs, store)

	_, err := p.GetEvent(context.Background(), "ev1")
	require.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestCalendar_RefreshesAndPersistsToken(t *testing.T) {
	gs := newGoogleServer(t)
	gs.handle("GET /calendar/v3/calendars/primary/events/ev1", http.StatusOK, `{"id":"ev1","summary":"회의"}`)
	expired := validToken()
	expired.Expiry = time.Now().Add(-time.Minute)
	store := &fakeTokens{tok: expired}
	p := newTestProvider(t, gs, store)

	ev, err := p.GetEvent(context.Background(), "ev1")
	require.NoError(t, err)
	require.Equal(t, "회의", ev.Summary)

	require.Len(t, gs.tokenForms, 1)
	require.Equal(t, "refresh_token", gs.tokenForms[0].Get("grant_type"))
	require.Equal(t, []string{"Bearer fresh-access"}, gs.authHeaders)
	require.Len(t, store.puts, 1)
	require.Equal(t, "fresh-access", store.puts[0].AccessToken)
	require.Equal(t, "refresh-1", store.puts[0].RefreshToken)
}

func TestCalendar_RevokedGrantIsNotConnected(t *testing.T) {
	gs := newGoogleServer(t)
	gs.tokenStatus = http.StatusBadRequest
	gs.tokenBody = `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`
	expired := validToken()
	expired.Expiry = time.Now().Add(-time.Minute)
	p := newTestProvider(t, gs, &fakeTokens{tok: expired})

	_, err := p.ListTasks(context.Background(), "", false)
	require.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestListEvents_Query(t *testing.T) {
	gs := newGoogleServer(t)
	var query url.Values
	gs.mux.HandleFunc("GET /calendar/v3/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[
			{"id":"a","summary":"스탠드업","start":{"dateTime":"2024-06-10T09:00:00+09:00"},"end":{"dateTime":"2024-06-10T09:15:00+09:00"},"status":"confirmed"},
			{"id":"b","summary":"취소됨","status":"cancelled"},
			{"id":"c","summary":"휴가","start":{"date":"2024-06-10"},"end":{"date":"2024-06-11"}}
		]}`))
	})
	p := newTestProvider(t, gs, &fakeTokens{tok: validToken()})

	seoul := time.FixedZone("KST", 9*3600)
	from := time.Date(2024, 6, 10, 0, 0, 0, 0, seoul)
	events, err := p.ListEvents(context.Background(), from, from.AddDate(0, 0, 1), 20)
	require.NoError(t, err)

	require.Equal(t, "true", query.Get("singleEvents"))
	require.Equal(t, "startTime", query.Get("orderBy"))
	require.Equal(t, "2024-06-10T00:00:00+09:00", query.Get("timeMin"))
	require.Equal(t, "2024-06-11T00:00:00+09:00", query.Get("timeMax"))
	require.Equal(t, "20", query.Get("maxResults"))

	require.Len(t, events, 2)
	require.Equal(t, "a", events[0].ID)
	require.False(t, events[0].Start.AllDay())
	require.True(t, events[1].Start.AllDay())
	require.Equal(t, []string{"Bearer stored-access"}, gs.authHeaders)
}

func TestListEvents_InvalidRange(t *testing.T) {
	gs := newGoogleServer(t)
	p := newTestProvider(t, gs, &fakeTokens{tok: validToken()})
	now := time.Now()
	_, err := p.ListEvents(context.Background(), now, now, 10)
	require.Error(t, err)
}

func TestListEvents_APIError(t *testing.T) {
	gs := newGoogleServer(t)
	gs.handle("GET /calendar/v3/calendars/primary/events", http.StatusInternalServerError, `{"error":{"code":500,"message":"backend"}}`)
	p := newTestProvider(t, gs, &fakeTokens{tok: validToken()})

	_, err := p.ListEvents(context.Background(), time.Now(), time.Now().Add(time.Hour), 10)
	require.ErrorContains(t, err, "google: list events")
	require.NotErrorIs(t, err, domain.ErrNotConnected)
}

func TestCreateEvent_SendsBody(t *testing.T) {
	gs := newGoogleServer(t)
	var body map[string]any
	gs.mux.HandleFunc("POST /calendar/v3/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"evid0001","summary":"치과","htmlLink":"https://calendar.example/ev"}`))
	})
	p := newTestProvider(t, gs, &fakeTokens{tok: validToken()})

	ev, err := p.CreateEvent(context.Background(), domain.EventInput{
		ID:      "evid0001",
		Summary: "치과",
		Start:   domain.EventTime{DateTime: "2024-06-11T15:00:00+09:00", TimeZone: "Asia/Seoul"},
		End:     domain.EventTime{DateTime: "2024-06-11T16:00:00+09:00", TimeZone: "Asia/Seoul"},
	})
	require.NoError(t, err)
	require.Equal(t, "evid0001", ev.ID)
	require.Equal(t, "https://calendar.example/ev", ev.HTMLLink)

	require.Equal(t, "evid0001", body["id"])
	require.Equal(t, "치과", body["summary"])
	start := body["start"].(map[string]any)
	require.Equal(t, "2024-06-11T15:00:00+09:00", start["dateTime"])
	require.Equal(t, "Asia/Seoul", start["timeZone"])
	require.NotContains(t, body, "location")
}

func TestCreateEvent_ConflictReturnsExisting(t *testing.T) {
	gs := newGoogleServer(t)
	gs.handle("POST /calendar/v3/calendars/primary/events", http.StatusConflict, `{"error":{"code":409,"message":"The requested identifier already exists."}}`)
	gs.handle("GET /calendar/v3/calendars/primary/events/evid0001", http.StatusOK, `{"id":"evid0001","summary":"치과"}`)
	p := newTestProvider(t, gs, &fakeTokens{tok: validToken()})

	ev, err := p.CreateEvent(context.Background(), domain.EventInput{
		ID:      "evid0001",
		Summary: "치과",
		Start:   domain.EventTime{Date: "2024-06-11"},
		End:     domain.EventTime{Date: "2024-06-12"},
	})
	require.NoError(t, err)
	require.Equal(t, "evid0001", ev.ID)
}

func TestCreateEvent_ConflictWithoutIDFails(t *testing.T) {
	gs := newGoogleServer(t)
	gs.handle("POST /calendar/v3/calendars/primary/events", http.StatusConflict, `{"error":{"code":409,"message":"conflict"}}`)
	p := newTestProvider(t, gs, &fakeTokens{tok: validToken()})

	_, err := p.CreateEvent(context.Background(), domain.EventInput{Summary: "x", Start: domain.EventTime{Date: "2024-06-11"}})
	require.ErrorContains(t, err, "create event")
}

func TestCreateEvent_RequiresSummary(t *testing.T) {
	gs := newGoogleServer(t)
	p := newTestProvider(t, gs, &fakeTokens{tok: validToken()})
	_, err := p.CreateEvent(context.Background(), domain.EventInput{})
	require.Error(t, err)
}

func TestUpdateEvent_SendsOnlyPatchedFields(t *testing.T) {
	gs := newGoogleServer(t)
	var body map[string]any
	gs.mux.HandleFunc("PATCH /calendar/v3/calendars/primary/events/ev1", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"ev1","summary":"새 제목","location":""}`))
	})
	p := newTestProvider(t, gs, &fakeTokens{tok: validToken()})

	title, location := "새 제목", ""
	ev, err := p.UpdateEvent(context.Background(), "ev1", domain.EventPatch{Summary: &title, Location: &location})
	require.NoError(t, err)
	require.Equal(t, "새 제목", ev.Summary)

	require.Equal(t, map[string]any{"summary": "새 제목", "location": ""}, body)
}

func TestDeleteEvent(t *testing.T) {
	gs := newGoogleServer(t)
	gs.handle("DELETE /calendar/v3/calendars/primary/events/ev1", http.StatusNoContent, ``)
	gs.handle("DELETE /calendar/v3/calendars/primary/events/gone", http.StatusGone, `{"error":{"code":410,"message":"deleted"}}`)
	p := newTestProvider(t, gs, &fakeTokens{tok: validToken()})

	require.NoError(t, p.DeleteEvent(context.Background(), "ev1"))
	require.Error(t, p.DeleteEvent(context.Background(), "gone"))
	require.Error(t, p.DeleteEvent(context.Background(), ""))
}

func TestUnauthorizedAPIResponseIsNotConnected(t *testing.T) {
	gs := newGoogleServer(t)
	gs.handle("DELETE /calendar/v3/calendars/primary/events/ev1", http.StatusUnauthorized, `{"error":{"code":401,"message":"Invalid Credentials"}}`)
	p := newTestProvider(t, gs, &fakeTokens{tok: validToken()})

	require.ErrorIs(t, p.DeleteEvent(context.Background(), "ev1"), domain.ErrNotConnected)
}
