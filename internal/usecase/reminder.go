package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"assistant-agent/internal/domain"
)

const (
	retriggerGuard        = 30 * time.Minute
	defaultMinutesBefore  = 10
	defaultBriefingCron   = "0 8 * * *"
	defaultReminderLogCap = 10
	maxReminderLogCap     = 100
)

type ReminderStore interface {
	PutReminder(ctx context.Context, r domain.Reminder) error
	GetReminder(ctx context.Context, id string) (domain.Reminder, error)
	ListReminders(ctx context.Context, activeOnly bool) ([]domain.Reminder, error)
	DeleteReminder(ctx context.Context, id string) error
	// RecordTrigger appends the log entry and sets the reminder's
	// LastTriggeredAt to log.TriggeredAt.
	RecordTrigger(ctx context.Context, log domain.ReminderLog) error
	ListReminderLogs(ctx context.Context, id string, limit int) ([]domain.ReminderLog, error)
}

type ReminderSender interface {
	SendReminder(ctx context.Context, title, message string) bool
}

type EventGetter interface {
	GetEvent(ctx context.Context, id string) (domain.Event, error)
}

type ReminderService struct {
	store  ReminderStore
	sender ReminderSender
	events EventGetter
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

type CreateReminderInput struct {
	Title          string              `json:"title"`
	Description    string              `json:"description,omitempty"`
	Type           domain.ReminderType `json:"type"`
	GoogleEventID  string              `json:"googleEventId,omitempty"`
	MinutesBefore  *int                `json:"minutesBefore,omitempty"`
	CronExpression string              `json:"cronExpression,omitempty"`
	DeadlineAt     *time.Time          `json:"deadlineAt,omitempty"`
}

type TriggeredReminder struct {
	ID      string              `json:"id"`
	Title   string              `json:"title"`
	Type    domain.ReminderType `json:"type"`
	Message string              `json:"message"`
	Sent    bool                `json:"sent"`
}

// NewReminderService builds the reminder engine. events may be nil, in which
// case event_before reminders never fire.
func NewReminderService(store ReminderStore, sender ReminderSender, events EventGetter, loc *time.Location, logger *slog.Logger) (*ReminderService, error) {
	if store == nil {
		return nil, errors.New("usecase: reminder store must not be nil")
	}
	if sender == nil {
		return nil, errors.New("usecase: reminder sender must not be nil")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderService{
		store:  store,
		sender: sender,
		events: events,
		loc:    loc,
		logger: logger,
		now:    time.Now,
		newID:  newReminderID,
	}, nil
}

func (s *ReminderService) Create(ctx context.Context, in CreateReminderInput) (domain.Reminder, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" || in.Type == "" {
		return domain.Reminder{}, newError(ErrorInvalidInput, "title_and_type_required", nil)
	}
	if !in.Type.Valid() {
		return domain.Reminder{}, newError(ErrorInvalidInput, "invalid_type", nil)
	}
	switch in.Type {
	case domain.ReminderDeadline:
		if in.DeadlineAt == nil {
			return domain.Reminder{}, newError(ErrorInvalidInput, "deadline_required", nil)
		}
	case domain.ReminderEventBefore:
		if strings.TrimSpace(in.GoogleEventID) == "" {
			return domain.Reminder{}, newError(ErrorInvalidInput, "event_id_required", nil)
		}
	case domain.ReminderRecurring:
		if strings.TrimSpace(in.CronExpression) == "" {
			return domain.Reminder{}, newError(ErrorInvalidInput, "cron_required", nil)
		}
	}
	if expr := strings.TrimSpace(in.CronExpression); expr != "" {
		if _, err := cron.ParseStandard(expr); err != nil {
			return domain.Reminder{}, newError(ErrorInvalidInput, "invalid_cron", err)
		}
	}
	if in.MinutesBefore != nil && *in.MinutesBefore < 0 {
		return domain.Reminder{}, newError(ErrorInvalidInput, "invalid_minutes_before", nil)
	}

	r := domain.Reminder{
		ID:             s.newID(),
		Title:          title,
		Description:    strings.TrimSpace(in.Description),
		Type:           in.Type,
		GoogleEventID:  strings.TrimSpace(in.GoogleEventID),
		CronExpression: strings.TrimSpace(in.CronExpression),
		DeadlineAt:     in.DeadlineAt,
		Active:         true,
		CreatedAt:      s.now().UTC(),
	}
	if in.MinutesBefore != nil {
		r.MinutesBefore = *in.MinutesBefore
	}
	if err := s.store.PutReminder(ctx, r); err != nil {
		return domain.Reminder{}, newError(ErrorInternal, "reminder_write_error", err)
	}
	return r, nil
}

// List returns the active reminders.
func (s *ReminderService) List(ctx context.Context) ([]domain.Reminder, error) {
	out, err := s.store.ListReminders(ctx, true)
	if err != nil {
		return nil, newError(ErrorInternal, "reminder_list_error", err)
	}
	return out, nil
}

func (s *ReminderService) Get(ctx context.Context, id string) (domain.Reminder, error) {
	r, err := s.store.GetReminder(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, domain.ErrReminderNotFound) {
			return domain.Reminder{}, newError(ErrorNotFound, "reminder_not_found", err)
		}
		return domain.Reminder{}, newError(ErrorInternal, "reminder_read_error", err)
	}
	return r, nil
}

// Update applies the non-nil fields of patch.
func (s *ReminderService) Update(ctx context.Context, id string, patch domain.ReminderPatch) (domain.Reminder, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return domain.Reminder{}, err
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return domain.Reminder{}, newError(ErrorInvalidInput, "empty_title", nil)
		}
		r.Title = title
	}
	if patch.Description != nil {
		r.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Active != nil {
		r.Active = *patch.Active
	}
	if patch.MinutesBefore != nil {
		if *patch.MinutesBefore < 0 {
			return domain.Reminder{}, newError(ErrorInvalidInput, "invalid_minutes_before", nil)
		}
		r.MinutesBefore = *patch.MinutesBefore
	}
	if patch.CronExpression != nil {
		expr := strings.TrimSpace(*patch.CronExpression)
		if expr != "" {
			if _, err := cron.ParseStandard(expr); err != nil {
				return domain.Reminder{}, newError(ErrorInvalidInput, "invalid_cron", err)
			}
		}
		r.CronExpression = expr
	}
	if patch.DeadlineAt != nil {
		r.DeadlineAt = patch.DeadlineAt
	}
	if err := s.store.PutReminder(ctx, r); err != nil {
		return domain.Reminder{}, newError(ErrorInternal, "reminder_write_error", err)
	}
	return r, nil
}

func (s *ReminderService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteReminder(ctx, strings.TrimSpace(id)); err != nil {
		return newError(ErrorInternal, "reminder_delete_error", err)
	}
	return nil
}

func (s *ReminderService) Logs(ctx context.Context, id string, limit int) ([]domain.ReminderLog, error) {
	if limit <= 0 {
		limit = defaultReminderLogCap
	}
	limit = min(limit, maxReminderLogCap)
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	logs, err := s.store.ListReminderLogs(ctx, strings.TrimSpace(id), limit)
	if err != nil {
		return nil, newError(ErrorInternal, "reminder_log_read_error", err)
	}
	return logs, nil
}

// Due returns the active reminders whose trigger time has come and which did
// not fire within the re-trigger guard.
func (s *ReminderService) Due(ctx context.Context, now time.Time) ([]domain.Reminder, error) {
	active, err := s.store.ListReminders(ctx, true)
	if err != nil {
		return nil, newError(ErrorInternal, "reminder_list_error", err)
	}
	guard := now.Add(-retriggerGuard)
	var due []domain.Reminder
	for _, r := range active {
		if r.LastTriggeredAt != nil && !r.LastTriggeredAt.Before(guard) {
			continue
		}
		ok, err := s.isDue(ctx, r, now)
		if err != nil {
			s.logger.Warn("reminder skipped", "reminder", r.ID, "type", r.Type, "err", err)
			continue
		}
		if ok {
			due = append(due, r)
		}
	}
	return due, nil
}

func (s *ReminderService) isDue(ctx context.Context, r domain.Reminder, now time.Time) (bool, error) {
	switch r.Type {
	case domain.ReminderDeadline:
		return r.DeadlineAt != nil && r.DeadlineAt.Before(now), nil

	case domain.ReminderRecurring, domain.ReminderDailyBriefing:
		expr := r.CronExpression
		if expr == "" && r.Type == domain.ReminderDailyBriefing {
			expr = defaultBriefingCron
		}
		sched, err := cron.ParseStandard(expr)
		if err != nil {
			return false, fmt.Errorf("parse cron %q: %w", expr, err)
		}
		base := r.CreatedAt
		if r.LastTriggeredAt != nil {
			base = *r.LastTriggeredAt
		}
		next := sched.Next(base.In(s.loc))
		return !next.IsZero() && !next.After(now), nil

	case domain.ReminderEventBefore:
		if s.events == nil || r.GoogleEventID == "" {
			return false, nil
		}
		ev, err := s.events.GetEvent(ctx, r.GoogleEventID)
		if err != nil {
			return false, fmt.Errorf("get event: %w", err)
		}
		start, ok := ev.Start.Instant()
		if !ok {
			if start, err = time.ParseInLocation("2006-01-02", ev.Start.Date, s.loc); err != nil {
				return false, fmt.Errorf("event %s has no start", ev.ID)
			}
		}
		minutes := r.MinutesBefore
		if minutes <= 0 {
			minutes = defaultMinutesBefore
		}
		windowOpen := start.Add(-time.Duration(minutes) * time.Minute)
		return !now.Before(windowOpen) && now.Before(start), nil
	}
	return false, fmt.Errorf("unknown reminder type %q", r.Type)
}

// Tick fires every due reminder once: it sends the notification, writes a
// trigger log and stamps LastTriggeredAt. A failed send is still recorded so
// the reminder waits out the guard before retrying.
func (s *ReminderService) Tick(ctx context.Context, now time.Time) ([]TriggeredReminder, error) {
	due, err := s.Due(ctx, now)
	if err != nil {
		return nil, err
	}
	out := make([]TriggeredReminder, 0, len(due))
	for _, r := range due {
		message := reminderMessage(r)
		sent := s.sender.SendReminder(ctx, r.Title, message)
		status := domain.ReminderLogSent
		if !sent {
			status = domain.ReminderLogFailed
			s.logger.Warn("reminder delivery failed", "reminder", r.ID)
		}
		if err := s.store.RecordTrigger(ctx, domain.ReminderLog{
			ReminderID:  r.ID,
			Message:     message,
			Status:      status,
			TriggeredAt: now.UTC(),
		}); err != nil {
			return out, newError(ErrorInternal, "reminder_log_write_error", err)
		}
		out = append(out, TriggeredReminder{ID: r.ID, Title: r.Title, Type: r.Type, Message: message, Sent: sent})
	}
	if len(out) > 0 {
		s.logger.Info("reminders triggered", "count", len(out))
	}
	return out, nil
}

func reminderMessage(r domain.Reminder) string {
	msg := fmt.Sprintf("[%s] %s", r.Type, r.Title)
	if r.Description != "" {
		msg += " - " + r.Description
	}
	return msg
}

func newReminderID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
