package tools

import (
	"context"
	"crypto/sha1"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"assistant-agent/internal/domain"
)

const (
	statusOK    = "ok"
	statusError = "error"

	eventListLimit = 50
	defaultTaskID  = "@default"
)

// Calendar is the event half of the domain operations provider.
type Calendar interface {
	ListEvents(ctx context.Context, from, to time.Time, limit int) ([]domain.Event, error)
	CreateEvent(ctx context.Context, in domain.EventInput) (domain.Event, error)
	UpdateEvent(ctx context.Context, id string, patch domain.EventPatch) (domain.Event, error)
	DeleteEvent(ctx context.Context, id string) error
}

// Tasks is the to-do half of the domain operations provider.
type Tasks interface {
	ListTasks(ctx context.Context, listID string, includeCompleted bool) ([]domain.Task, error)
	CreateTask(ctx context.Context, listID string, in domain.TaskInput) (domain.Task, error)
	UpdateTask(ctx context.Context, listID, id string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, listID, id string) error
}

// CallMeta locates a tool call inside a conversation. It seeds the
// idempotency key of creating tools. Providers reuse call ids across
// messages, so MessageID must differ for every inbound message.
type CallMeta struct {
	ConversationID string
	MessageID      string
	Round          int
}

// Result is the outcome of one tool call. Payload is what the model sees;
// Err keeps the underlying cause for the caller.
type Result struct {
	CallID  string
	Kind    Kind
	Payload any
	Err     error
}

// ErrNotFound is the cause of results whose title search matched nothing.
var ErrNotFound = errors.New("not found")

type notFoundError struct{ msg string }

func (e notFoundError) Error() string { return e.msg }
func (e notFoundError) Unwrap() error { return ErrNotFound }

type errorPayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Content renders the payload as the JSON text of a tool-result message.
func (r Result) Content() string {
	raw, err := json.Marshal(r.Payload)
	if err != nil {
		raw, _ = json.Marshal(errorPayload{Status: statusError, Message: "failed to encode tool result"})
	}
	return string(raw)
}

func failed(callID string, kind Kind, err error) Result {
	return Result{
		CallID:  callID,
		Kind:    kind,
		Payload: errorPayload{Status: statusError, Message: err.Error()},
		Err:     err,
	}
}

type Registry struct {
	calendar   Calendar
	tasks      Tasks
	loc        *time.Location
	now        func() time.Time
	taskListID string
	logger     *slog.Logger

	specs    []domain.ToolSpec
	decoders [kindCount]*argDecoder
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func WithTaskList(id string) Option {
	return func(r *Registry) {
		if id = strings.TrimSpace(id); id != "" {
			r.taskListID = id
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry reflects and compiles every tool schema up front, so a broken
// argument type fails at startup instead of on the first call.
func NewRegistry(cal Calendar, tasks Tasks, loc *time.Location, opts ...Option) (*Registry, error) {
	if cal == nil {
		return nil, errors.New("tools: calendar must not be nil")
	}
	if tasks == nil {
		return nil, errors.New("tools: tasks must not be nil")
	}
	if loc == nil {
		loc = time.UTC
	}
	r := &Registry{
		calendar:   cal,
		tasks:      tasks,
		loc:        loc,
		now:        time.Now,
		taskListID: defaultTaskID,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, k := range Kinds() {
		schema, err := reflectSchema(k)
		if err != nil {
			return nil, err
		}
		dec, err := newArgDecoder(schema)
		if err != nil {
			return nil, fmt.Errorf("tools: %s: %w", k, err)
		}
		r.decoders[k] = dec
		r.specs = append(r.specs, domain.ToolSpec{
			Name:        k.String(),
			Description: k.Description(),
			Parameters:  schema,
		})
	}
	return r, nil
}

// Catalog returns the tool specs offered to the model.
func (r *Registry) Catalog() []domain.ToolSpec {
	out := make([]domain.ToolSpec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Execute runs one tool call. It never returns an error or panics: every
// failure is folded into an error payload.
func (r *Registry) Execute(ctx context.Context, call domain.ToolCall, meta CallMeta) (res Result) {
	kind, ok := ParseKind(call.Name)
	if !ok {
		return failed(call.ID, Kind(-1), fmt.Errorf("unknown tool: %s", call.Name))
	}
	logger := r.logger.With("conversation", meta.ConversationID, "round", meta.Round, "tool", kind.String(), "call_id", call.ID)
	logger.Debug("tool call", "arguments", call.Arguments)

	var key string
	if kind.Mutating() {
		key = idempotencyKey(meta, call.ID)
		logger.Info("mutating tool call", "message", meta.MessageID, "key", key)
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("tool panicked", "panic", p)
			res = failed(call.ID, kind, fmt.Errorf("tool %s failed unexpectedly", kind))
		}
	}()

	args, err := r.decoders[kind].decode(kind, call.Arguments)
	if err != nil {
		logger.Warn("tool arguments rejected", "err", err)
		return failed(call.ID, kind, err)
	}
	payload, err := r.execute(ctx, kind, args, key)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		logger.Warn("tool failed", "err", err)
		return failed(call.ID, kind, err)
	}
	return Result{CallID: call.ID, Kind: kind, Payload: payload}
}

func (r *Registry) execute(ctx context.Context, kind Kind, args any, key string) (any, error) {
	switch kind {
	case ListEvents:
		return r.listEvents(ctx, args.(*ListEventsArgs))
	case CreateEvent:
		return r.createEvent(ctx, args.(*CreateEventArgs), key)
	case UpdateEvent:
		return r.updateEvent(ctx, args.(*UpdateEventArgs))
	case DeleteEvent:
		return r.deleteEvent(ctx, args.(*DeleteEventArgs))
	case ListTasks:
		return r.listTasks(ctx, args.(*ListTasksArgs))
	case CreateTask:
		return r.createTask(ctx, args.(*CreateTaskArgs))
	case CompleteTask:
		return r.completeTask(ctx, args.(*CompleteTaskArgs))
	case DeleteTask:
		return r.deleteTask(ctx, args.(*DeleteTaskArgs))
	}
	return nil, fmt.Errorf("tool %s has no executor", kind)
}

var eventIDEncoding = base32.NewEncoding("0123456789abcdefghijklmnopqrstuv").WithPadding(base32.NoPadding)

// idempotencyKey derives a calendar event id from the call's position in the
// conversation. The alphabet is base32hex, the only one event ids accept.
// Without a message id the position is ambiguous and no key is produced.
func idempotencyKey(meta CallMeta, callID string) string {
	if callID == "" || meta.ConversationID == "" || meta.MessageID == "" {
		return ""
	}
	sum := sha1.Sum([]byte(meta.ConversationID + "\x00" + meta.MessageID + "\x00" + strconv.Itoa(meta.Round) + "\x00" + callID))
	return eventIDEncoding.EncodeToString(sum[:])
}
