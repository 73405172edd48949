package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"assistant-agent/internal/domain"
)

var kst = time.FixedZone("KST", 9*60*60)

type listCall struct {
	from, to time.Time
	limit    int
}

type fakeCalendar struct {
	mu        sync.Mutex
	events    []domain.Event
	listErr   error
	createErr error
	panics    bool
	lists     []listCall
	created   []domain.EventInput
	byID      map[string]domain.Event
	patches   map[string]domain.EventPatch
	deleted   []string
}

func (f *fakeCalendar) ListEvents(_ context.Context, from, to time.Time, limit int) ([]domain.Event, error) {
	if f.panics {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists = append(f.lists, listCall{from: from, to: to, limit: limit})
	return f.events, f.listErr
}

func (f *fakeCalendar) CreateEvent(_ context.Context, in domain.EventInput) (domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return domain.Event{}, f.createErr
	}
	// Like the Google client on 409: a known id yields the stored event.
	if existing, ok := f.byID[in.ID]; ok && in.ID != "" {
		return existing, nil
	}
	f.created = append(f.created, in)
	ev := domain.Event{ID: in.ID, Summary: in.Summary, Location: in.Location, Start: in.Start, End: in.End}
	if in.ID != "" {
		if f.byID == nil {
			f.byID = map[string]domain.Event{}
		}
		f.byID[in.ID] = ev
	}
	return ev, nil
}

func (f *fakeCalendar) UpdateEvent(_ context.Context, id string, patch domain.EventPatch) (domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patches == nil {
		f.patches = map[string]domain.EventPatch{}
	}
	f.patches[id] = patch
	return domain.Event{ID: id}, nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeTasks struct {
	mu       sync.Mutex
	tasks    []domain.Task
	listErr  error
	included []bool
	listIDs  []string
	created  []domain.TaskInput
	patches  map[string]domain.TaskPatch
	deleted  []string
}

func (f *fakeTasks) ListTasks(_ context.Context, listID string, includeCompleted bool) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listIDs = append(f.listIDs, listID)
	f.included = append(f.included, includeCompleted)
	if includeCompleted {
		return f.tasks, f.listErr
	}
	var open []domain.Task
	for _, t := range f.tasks {
		if t.Status != domain.TaskCompleted {
			open = append(open, t)
		}
	}
	return open, f.listErr
}

func (f *fakeTasks) CreateTask(_ context.Context, _ string, in domain.TaskInput) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	return domain.Task{ID: "task-new", Title: in.Title, Due: in.Due, Status: domain.TaskNeedsAction}, nil
}

func (f *fakeTasks) UpdateTask(_ context.Context, _ string, id string, patch domain.TaskPatch) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patches == nil {
		f.patches = map[string]domain.TaskPatch{}
	}
	f.patches[id] = patch
	return domain.Task{ID: id}, nil
}

func (f *fakeTasks) DeleteTask(_ context.Context, _ string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func fixedNow() time.Time {
	return time.Date(2024, 6, 10, 9, 30, 0, 0, kst)
}

func newTestRegistry(t *testing.T, cal *fakeCalendar, tasks *fakeTasks) *Registry {
	t.Helper()
	r, err := NewRegistry(cal, tasks, kst, WithClock(fixedNow))
	require.NoError(t, err)
	return r
}

func call(id, name, args string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: name, Arguments: args}
}

func decodeContent(t *testing.T, res Result) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Content()), &out))
	return out
}

func TestNewRegistry_RequiresProviders(t *testing.T) {
	_, err := NewRegistry(nil, &fakeTasks{}, kst)
	require.Error(t, err)
	_, err = NewRegistry(&fakeCalendar{}, nil, kst)
	require.Error(t, err)
}

func TestCatalog_DescribesEveryKind(t *testing.T) {
	r := newTestRegistry(t, &fakeCalendar{}, &fakeTasks{})

	specs := r.Catalog()
	require.Len(t, specs, int(kindCount))
	for i, spec := range specs {
		k := Kind(i)
		require.Equal(t, k.String(), spec.Name)
		require.NotEmpty(t, spec.Description)

		var schema struct {
			Type       string                    `json:"type"`
			Schema     string                    `json:"$schema"`
			Properties map[string]map[string]any `json:"properties"`
			Required   []string                  `json:"required"`
		}
		require.NoError(t, json.Unmarshal(spec.Parameters, &schema), k.String())
		require.Equal(t, "object", schema.Type)
		require.Empty(t, schema.Schema)
		for name, prop := range schema.Properties {
			require.Equal(t, "string", prop["type"], "%s.%s", k, name)
			require.NotEmpty(t, prop["description"], "%s.%s", k, name)
		}
	}

	var create struct {
		Required []string `json:"required"`
	}
	require.NoError(t, json.Unmarshal(specs[CreateEvent].Parameters, &create))
	require.ElementsMatch(t, []string{"summary", "date", "start_time"}, create.Required)
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, ok := ParseKind(k.String())
		require.True(t, ok)
		require.Equal(t, k, got)
		require.NotNil(t, newArgs(k))
	}
	_, ok := ParseKind("send_email")
	require.False(t, ok)
	require.Equal(t, "Kind(42)", Kind(42).String())
}

func TestExecute_UnknownTool(t *testing.T) {
	r := newTestRegistry(t, &fakeCalendar{}, &fakeTasks{})

	res := r.Execute(context.Background(), call("c1", "send_email", `{}`), CallMeta{})

	require.Error(t, res.Err)
	require.Equal(t, "c1", res.CallID)
	out := decodeContent(t, res)
	require.Equal(t, "error", out["status"])
	require.Contains(t, out["message"], "unknown tool")
}

func TestExecute_MalformedArguments(t *testing.T) {
	r := newTestRegistry(t, &fakeCalendar{}, &fakeTasks{})

	res := r.Execute(context.Background(), call("c1", "create_event", `{"summary":`), CallMeta{})

	require.Error(t, res.Err)
	require.Equal(t, "error", decodeContent(t, res)["status"])
}

func TestExecute_MissingRequiredArgument(t *testing.T) {
	cal := &fakeCalendar{}
	r := newTestRegistry(t, cal, &fakeTasks{})

	res := r.Execute(context.Background(), call("c1", "create_event", `{"date":"2024-06-11","start_time":"15:00"}`), CallMeta{})

	require.Error(t, res.Err)
	out := decodeContent(t, res)
	require.Equal(t, "error", out["status"])
	require.Contains(t, out["message"], "summary")
	require.Empty(t, cal.created)
}

func TestExecute_NonStringArgumentRejected(t *testing.T) {
	r := newTestRegistry(t, &fakeCalendar{}, &fakeTasks{})

	res := r.Execute(context.Background(), call("c1", "list_events", `{"days":3}`), CallMeta{})

	require.Error(t, res.Err)
	require.Contains(t, decodeContent(t, res)["message"], "days")
}

func TestListEvents_DefaultsToToday(t *testing.T) {
	cal := &fakeCalendar{}
	r := newTestRegistry(t, cal, &fakeTasks{})

	res := r.Execute(context.Background(), call("c1", "list_events", ``), CallMeta{})

	require.NoError(t, res.Err)
	require.Len(t, cal.lists, 1)
	require.True(t, cal.lists[0].from.Equal(time.Date(2024, 6, 10, 0, 0, 0, 0, kst)))
	require.True(t, cal.lists[0].to.Equal(time.Date(2024, 6, 11, 0, 0, 0, 0, kst)))
	require.Equal(t, eventListLimit, cal.lists[0].limit)

	out := decodeContent(t, res)
	require.Equal(t, "ok", out["status"])
	require.EqualValues(t, 0, out["count"])
	require.Equal(t, "2024-06-10", out["date"])
	require.Equal(t, []any{}, out["events"])
}

func TestListEvents_DaysAndAllDay(t *testing.T) {
	cal := &fakeCalendar{events: []domain.Event{
		{ID: "e1", Summary: "Standup", Location: "Room 1",
			Start: domain.EventTime{DateTime: "2024-06-12T09:00:00+09:00"},
			End:   domain.EventTime{DateTime: "2024-06-12T09:15:00+09:00"}},
		{ID: "e2", Summary: "Holiday",
			Start: domain.EventTime{Date: "2024-06-13"},
			End:   domain.EventTime{Date: "2024-06-14"}},
	}}
	r := newTestRegistry(t, cal, &fakeTasks{})

	res := r.Execute(context.Background(), call("c1", "list_events", `{"date":"2024-06-12","days":"3"}`), CallMeta{})

	require.NoError(t, res.Err)
	require.True(t, cal.lists[0].to.Equal(time.Date(2024, 6, 15, 0, 0, 0, 0, kst)))
	payload, ok := res.Payload.(listEventsResult)
	require.True(t, ok)
	require.Equal(t, 2, payload.Count)
	require.Equal(t, 3, payload.Days)
	require.False(t, payload.Events[0].AllDay)
	require.Equal(t, "Room 1", *payload.Events[0].Location)
	require.True(t, payload.Events[1].AllDay)
	require.Nil(t, payload.Events[1].Location)
	require.Equal(t, "2024-06-13", payload.Events[1].Start)
}

func TestListEvents_RejectsBadDays(t *testing.T) {
	r := newTestRegistry(t, &fakeCalendar{}, &fakeTasks{})

	for _, days := range []string{"0", "-2", "two"} {
		res := r.Execute(context.Background(), call("c1", "list_events", `{"days":"`+days+`"}`), CallMeta{})
		require.Error(t, res.Err, days)
	}
}

func TestCreateEvent_DefaultsEndToOneHour(t *testing.T) {
	cal := &fakeCalendar{}
	r := newTestRegistry(t, cal, &fakeTasks{})

	res := r.Execute(context.Background(),
		call("call_1", "create_event", `{"summary":"회의","date":"2024-06-11","start_time":"15:00"}`),
		CallMeta{ConversationID: "42", MessageID: "m1", Round: 1})

	require.NoError(t, res.Err)
	require.Len(t, cal.created, 1)
	in := cal.created[0]
	require.Equal(t, "2024-06-11T15:00:00+09:00", in.Start.DateTime)
	require.Equal(t, "2024-06-11T16:00:00+09:00", in.End.DateTime)
	require.NotEmpty(t, in.ID)

	payload := res.Payload.(createEventResult)
	require.Equal(t, "2024-06-11", payload.Event.Date)
	require.Equal(t, "15:00", payload.Event.StartTime)
	require.Equal(t, "16:00", payload.Event.EndTime)
	require.Nil(t, payload.Event.Location)
}

func TestCreateEvent_ExplicitEndAndShortClock(t *testing.T) {
	cal := &fakeCalendar{}
	r := newTestRegistry(t, cal, &fakeTasks{})

	res := r.Execute(context.Background(),
		call("c1", "create_event", `{"summary":"Lunch","date":"2024-06-11","start_time":"12","end_time":"13:30","location":"Cafe"}`),
		CallMeta{})

	require.NoError(t, res.Err)
	require.Equal(t, "2024-06-11T12:00:00+09:00", cal.created[0].Start.DateTime)
	require.Equal(t, "2024-06-11T13:30:00+09:00", cal.created[0].End.DateTime)
	require.Equal(t, "Cafe", cal.created[0].Location)
	require.Empty(t, cal.created[0].ID)
}

func TestCreateEvent_InvalidClock(t *testing.T) {
	cal := &fakeCalendar{}
	r := newTestRegistry(t, cal, &fakeTasks{})

	res := r.Execute(context.Background(),
		call("c1", "create_event", `{"summary":"Late","date":"2024-06-11","start_time":"25:00"}`), CallMeta{})

	require.Error(t, res.Err)
	require.Contains(t, decodeContent(t, res)["message"], "HH:MM")
	require.Empty(t, cal.created)
}

func TestCreateEvent_IdempotencyKey(t *testing.T) {
	meta := CallMeta{ConversationID: "42", MessageID: "m1", Round: 2}

	first := idempotencyKey(meta, "call_a")
	require.Equal(t, first, idempotencyKey(meta, "call_a"))
	require.NotEqual(t, first, idempotencyKey(CallMeta{ConversationID: "42", MessageID: "m1", Round: 3}, "call_a"))
	require.NotEqual(t, first, idempotencyKey(CallMeta{ConversationID: "42", MessageID: "m2", Round: 2}, "call_a"))
	require.NotEqual(t, first, idempotencyKey(meta, "call_b"))
	require.Regexp(t, `^[0-9a-v]{5,1024}$`, first)
	require.Empty(t, idempotencyKey(CallMeta{}, "call_a"))
	require.Empty(t, idempotencyKey(CallMeta{ConversationID: "42", Round: 2}, "call_a"))
}

func TestCreateEvent_ReusedCallIDAcrossMessages(t *testing.T) {
	cal := &fakeCalendar{}
	r := newTestRegistry(t, cal, &fakeTasks{})

	first := r.Execute(context.Background(),
		call("call_1", "create_event", `{"summary":"회의","date":"2024-06-11","start_time":"15:00"}`),
		CallMeta{ConversationID: "1001", MessageID: "m1", Round: 1})
	second := r.Execute(context.Background(),
		call("call_1", "create_event", `{"summary":"치과","date":"2024-06-12","start_time":"09:00"}`),
		CallMeta{ConversationID: "1001", MessageID: "m2", Round: 1})

	require.NoError(t, first.Err)
	require.NoError(t, second.Err)
	require.Len(t, cal.created, 2)
	require.NotEqual(t, cal.created[0].ID, cal.created[1].ID)

	got := second.Payload.(createEventResult).Event
	require.Equal(t, "치과", got.Summary)
	require.Equal(t, "2024-06-12", got.Date)
	require.Equal(t, "09:00", got.StartTime)
	require.Equal(t, "10:00", got.EndTime)
}

func TestCreateEvent_ReplayReportsStoredEvent(t *testing.T) {
	cal := &fakeCalendar{}
	r := newTestRegistry(t, cal, &fakeTasks{})
	meta := CallMeta{ConversationID: "1001", MessageID: "m1", Round: 1}

	r.Execute(context.Background(),
		call("call_1", "create_event", `{"summary":"회의","date":"2024-06-11","start_time":"15:00","location":"본사"}`), meta)
	replay := r.Execute(context.Background(),
		call("call_1", "create_event", `{"summary":"회의","date":"2024-06-12","start_time":"09:00"}`), meta)

	require.NoError(t, replay.Err)
	require.Len(t, cal.created, 1)
	got := replay.Payload.(createEventResult).Event
	require.Equal(t, "2024-06-11", got.Date)
	require.Equal(t, "15:00", got.StartTime)
	require.Equal(t, "16:00", got.EndTime)
	require.Equal(t, "본사", *got.Location)
}

func TestKind_Mutating(t *testing.T) {
	var mutating []Kind
	for _, k := range Kinds() {
		if k.Mutating() {
			mutating = append(mutating, k)
		}
	}
	require.ElementsMatch(t, []Kind{CreateEvent, CreateTask}, mutating)
}

func TestExecute_CreateEventUsesDerivedKey(t *testing.T) {
	cal := &fakeCalendar{}
	r := newTestRegistry(t, cal, &fakeTasks{})
	meta := CallMeta{ConversationID: "42", MessageID: "m1", Round: 1}

	res := r.Execute(context.Background(),
		call("c1", "create_event", `{"summary":"x","date":"2024-06-11","start_time":"10:00"}`), meta)
	require.NoError(t, res.Err)
	require.Equal(t, idempotencyKey(meta, "c1"), cal.created[0].ID)
}

func TestCreateEvent_NotConnectedKeepsCause(t *testing.T) {
	cal := &fakeCalendar{createErr: domain.ErrNotConnected}
	r := newTestRegistry(t, cal, &fakeTasks{})

	res := r.Execute(context.Background(),
		call("c1", "create_event", `{"summary":"x","date":"2024-06-11","start_time":"10:00"}`), CallMeta{})

	require.ErrorIs(t, res.Err, domain.ErrNotConnected)
	require.Equal(t, "error", decodeContent(t, res)["status"])
}

func TestUpdateEvent_PreservesDuration(t *testing.T) {
	cal := &fakeCalendar{events: []domain.Event{{
		ID: "e1", Summary: "Design Review",
		Start: domain.EventTime{DateTime: "2024-06-10T09:00:00+09:00"},
		End:   domain.EventTime{DateTime: "2024-06-10T10:00:00+09:00"},
	}}}
	r := newTestRegistry(t, cal, &fakeTasks{})

	res := r.Execute(context.Background(),
		call("c1", "update_event", `{"search_summary":"review","new_start_time":"14:00"}`), CallMeta{})

	require.NoError(t, res.Err)
	patch := cal.patches["e1"]
	require.Equal(t, "2024-06-10T14:00:00+09:00", patch.Start.DateTime)
	require.Equal(t, "2024-06-10T15:00:00+09:00", patch.End.DateTime)
	require.Nil(t, patch.Summary)
	require.Nil(t, patch.Location)

	payload := res.Payload.(updateEventResult)
	require.Equal(t, "Design Review", payload.OriginalSummary)
	require.Equal(t, []string{"start -> 14:00"}, payload.Changes)
}

func TestUpdateEvent_AllDayEventKeepsEnd(t *testing.T) {
	cal := &fakeCalendar{events: []domain.Event{{
		ID: "e1", Summary: "Offsite",
		Start: domain.EventTime{Date: "2024-06-10"},
		End:   domain.EventTime{Date: "2024-06-11"},
	}}}
	r := newTestRegistry(t, cal, &fakeTasks{})

	res := r.Execute(context.Background(),
		call("c1", "update_event", `{"search_summary":"offsite","new_start_time":"10:00","new_location":"HQ"}`), CallMeta{})

	require.NoError(t, res.Err)
	patch := cal.patches["e1"]
	require.NotNil(t, patch.Start)
	require.Nil(t, patch.End)
	require.Equal(t, "HQ", *patch.Location)
}

func TestUpdateEvent_NotFound(t *testing.T) {
	cal := &fakeCalendar{}
	r := newTestRegistry(t, cal, &fakeTasks{})

	res := r.Execute(context.Background(),
		call("c1", "update_event", `{"search_summary":"ghost","date":"2024-06-12","new_summary":"x"}`), CallMeta{})

	require.ErrorIs(t, res.Err, ErrNotFound)
	out := decodeContent(t, res)
	require.Equal(t, "error", out["status"])
	require.Contains(t, out["message"], "ghost")
	require.Contains(t, out["message"], "2024-06-12")
	require.Empty(t, cal.patches)
}

func TestDeleteEvent_CaseInsensitiveSubstring(t *testing.T) {
	for _, q := range []string{"sync", "SYNC", "Team Sync"} {
		cal := &fakeCalendar{events: []domain.Event{
			{ID: "e0", Summary: "Lunch"},
			{ID: "e1", Summary: "Team Sync Meeting"},
		}}
		r := newTestRegistry(t, cal, &fakeTasks{})

		res := r.Execute(context.Background(), call("c1", "delete_event", `{"summary":"`+q+`"}`), CallMeta{})

		require.NoError(t, res.Err, q)
		require.Equal(t, []string{"e1"}, cal.deleted)
		payload := res.Payload.(deleteEventResult)
		require.Equal(t, "Team Sync Meeting", payload.DeletedSummary)
		require.Equal(t, "2024-06-10", payload.Date)
	}
}

func TestListTasks_ShowCompletedToggle(t *testing.T) {
	tasks := &fakeTasks{tasks: []domain.Task{
		{ID: "t1", Title: "Buy milk", Status: domain.TaskNeedsAction, Due: "2024-06-11T00:00:00.000Z"},
		{ID: "t2", Title: "File taxes", Status: domain.TaskCompleted},
	}}
	r, err := NewRegistry(&fakeCalendar{}, tasks, kst, WithClock(fixedNow), WithTaskList("list-1"))
	require.NoError(t, err)

	res := r.Execute(context.Background(), call("c1", "list_tasks", `{}`), CallMeta{})
	require.NoError(t, res.Err)
	require.Equal(t, 1, res.Payload.(listTasksResult).Count)

	res = r.Execute(context.Background(), call("c2", "list_tasks", `{"show_completed":"true"}`), CallMeta{})
	require.NoError(t, res.Err)
	payload := res.Payload.(listTasksResult)
	require.Equal(t, 2, payload.Count)
	require.True(t, payload.ShowCompleted)
	require.Nil(t, payload.Tasks[1].Due)

	require.Equal(t, []bool{false, true}, tasks.included)
	require.Equal(t, []string{"list-1", "list-1"}, tasks.listIDs)
}

func TestCreateTask_NormalizesDue(t *testing.T) {
	tasks := &fakeTasks{}
	r := newTestRegistry(t, &fakeCalendar{}, tasks)

	res := r.Execute(context.Background(), call("c1", "create_task", `{"title":"보고서 제출","due":"2024-06-14"}`), CallMeta{})

	require.NoError(t, res.Err)
	require.Equal(t, "2024-06-14T00:00:00.000Z", tasks.created[0].Due)
	payload := res.Payload.(createTaskResult)
	require.Equal(t, "2024-06-14", *payload.Task.Due)

	res = r.Execute(context.Background(), call("c2", "create_task", `{"title":"x","due":"14/06/2024"}`), CallMeta{})
	require.Error(t, res.Err)
	require.Len(t, tasks.created, 1)
}

func TestCompleteTask_NotFoundIsResult(t *testing.T) {
	r := newTestRegistry(t, &fakeCalendar{}, &fakeTasks{})

	res := r.Execute(context.Background(), call("c1", "complete_task", `{"title":"nonexistent-xyz"}`), CallMeta{})

	require.ErrorIs(t, res.Err, ErrNotFound)
	out := decodeContent(t, res)
	require.Equal(t, "error", out["status"])
	require.Contains(t, out["message"], "nonexistent-xyz")
}

func TestCompleteTask_SearchesOpenTasksOnly(t *testing.T) {
	tasks := &fakeTasks{tasks: []domain.Task{
		{ID: "t1", Title: "Report draft", Status: domain.TaskCompleted},
		{ID: "t2", Title: "Report final", Status: domain.TaskNeedsAction},
	}}
	r := newTestRegistry(t, &fakeCalendar{}, tasks)

	res := r.Execute(context.Background(), call("c1", "complete_task", `{"title":"REPORT"}`), CallMeta{})

	require.NoError(t, res.Err)
	require.Equal(t, domain.TaskCompleted, *tasks.patches["t2"].Status)
	require.Equal(t, "Report final", res.Payload.(completeTaskResult).CompletedTitle)
}

func TestDeleteTask_IncludesCompleted(t *testing.T) {
	tasks := &fakeTasks{tasks: []domain.Task{{ID: "t1", Title: "Old chore", Status: domain.TaskCompleted}}}
	r := newTestRegistry(t, &fakeCalendar{}, tasks)

	res := r.Execute(context.Background(), call("c1", "delete_task", `{"title":"chore"}`), CallMeta{})

	require.NoError(t, res.Err)
	require.Equal(t, []string{"t1"}, tasks.deleted)
	require.Equal(t, []bool{true}, tasks.included)
}

func TestExecute_RecoversPanics(t *testing.T) {
	r := newTestRegistry(t, &fakeCalendar{panics: true}, &fakeTasks{})

	res := r.Execute(context.Background(), call("c1", "list_events", `{}`), CallMeta{})

	require.Error(t, res.Err)
	require.Equal(t, ListEvents, res.Kind)
	require.Equal(t, "error", decodeContent(t, res)["status"])
}

func TestExecute_ProviderErrorAfterTimeout(t *testing.T) {
	cal := &fakeCalendar{listErr: errors.New("upstream hung up")}
	r := newTestRegistry(t, cal, &fakeTasks{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Execute(ctx, call("c1", "list_events", `{}`), CallMeta{})

	require.ErrorIs(t, res.Err, context.Canceled)
	require.Contains(t, decodeContent(t, res)["message"], "upstream hung up")
}
