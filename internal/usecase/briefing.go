package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sourcegraph/conc"

	"assistant-agent/internal/domain"
)

const (
	briefingEventLimit = 50
	briefingTaskLimit  = 10
)

type EventLister interface {
	ListEvents(ctx context.Context, from, to time.Time, limit int) ([]domain.Event, error)
}

type TaskLister interface {
	ListTasks(ctx context.Context, listID string, includeCompleted bool) ([]domain.Task, error)
}

type ReminderLister interface {
	ListReminders(ctx context.Context, activeOnly bool) ([]domain.Reminder, error)
}

type BriefingConfig struct {
	ChatID     string
	TaskListID string
	Owner      string
	Location   *time.Location
}

type BriefingService struct {
	events    EventLister
	tasks     TaskLister
	reminders ReminderLister
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time

	chatID     string
	taskListID string
	owner      string
	loc        *time.Location
}

type BriefingResult struct {
	Briefing          string    `json:"briefing"`
	CalendarConnected bool      `json:"calendarConnected"`
	EventsCount       int       `json:"eventsCount"`
	TasksCount        int       `json:"tasksCount"`
	TelegramSent      bool      `json:"telegramSent"`
	GeneratedAt       time.Time `json:"generatedAt"`
}

func NewBriefingService(events EventLister, tasks TaskLister, reminders ReminderLister, notifier Notifier, cfg BriefingConfig, logger *slog.Logger) (*BriefingService, error) {
	if events == nil || tasks == nil {
		return nil, errors.New("usecase: briefing needs calendar and tasks")
	}
	if reminders == nil {
		return nil, errors.New("usecase: reminder lister must not be nil")
	}
	if notifier == nil {
		return nil, errors.New("usecase: notifier must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &BriefingService{
		events:     events,
		tasks:      tasks,
		reminders:  reminders,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
		chatID:     strings.TrimSpace(cfg.ChatID),
		taskListID: strings.TrimSpace(cfg.TaskListID),
		owner:      strings.TrimSpace(cfg.Owner),
		loc:        cfg.Location,
	}
	if s.taskListID == "" {
		s.taskListID = "@default"
	}
	if s.owner == "" {
		s.owner = defaultOwner
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s, nil
}

// Send renders today's briefing and delivers it to the owner chat. Without a
// connected calendar it falls back to the active reminders.
func (s *BriefingService) Send(ctx context.Context) (BriefingResult, error) {
	now := s.now().In(s.loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var (
		events             []domain.Event
		tasks              []domain.Task
		eventsErr, taskErr error
		wg                 conc.WaitGroup
	)
	wg.Go(func() { events, eventsErr = s.events.ListEvents(ctx, dayStart, dayEnd, briefingEventLimit) })
	wg.Go(func() { tasks, taskErr = s.tasks.ListTasks(ctx, s.taskListID, false) })
	wg.Wait()

	result := BriefingResult{GeneratedAt: now.UTC(), CalendarConnected: true}
	switch {
	case errors.Is(eventsErr, domain.ErrNotConnected) || errors.Is(taskErr, domain.ErrNotConnected):
		reminders, err := s.reminders.ListReminders(ctx, true)
		if err != nil {
			return BriefingResult{}, newError(ErrorInternal, "reminder_list_error", err)
		}
		result.CalendarConnected = false
		result.Briefing = s.renderFallback(now, reminders)
	case eventsErr != nil:
		return BriefingResult{}, newError(ErrorUpstream, "calendar_error", eventsErr)
	case taskErr != nil:
		return BriefingResult{}, newError(ErrorUpstream, "tasks_error", taskErr)
	default:
		result.EventsCount = len(events)
		result.TasksCount = len(tasks)
		result.Briefing = s.render(now, events, tasks)
	}

	if s.chatID != "" {
		result.TelegramSent = s.notifier.Deliver(ctx, s.chatID, result.Briefing)
	}
	s.logger.Info("daily briefing generated",
		"calendar_connected", result.CalendarConnected,
		"events", result.EventsCount,
		"tasks", result.TasksCount,
		"sent", result.TelegramSent,
	)
	return result, nil
}

func (s *BriefingService) render(now time.Time, events []domain.Event, tasks []domain.Task) string {
	lines := []string{
		fmt.Sprintf("🌅 좋은 아침입니다, %s!", s.owner),
		"",
		fmt.Sprintf("📅 오늘 일정 (%s)", shortKoreanDate(now)),
	}
	if len(events) == 0 {
		lines = append(lines, "  오늘은 일정이 없습니다.")
	}
	for _, e := range events {
		start := "종일"
		if t, ok := e.Start.Instant(); ok {
			start = koreanClock(t.In(s.loc))
		}
		loc := ""
		if e.Location != "" {
			loc = " @ " + e.Location
		}
		lines = append(lines, fmt.Sprintf("  • %s %s%s", start, e.Summary, loc))
	}

	lines = append(lines, "", "✅ 오늘 할일")
	if len(tasks) == 0 {
		lines = append(lines, "  미완료 할일이 없습니다.")
	}
	for i, t := range tasks {
		if i == briefingTaskLimit {
			lines = append(lines, fmt.Sprintf("  ... 외 %d건", len(tasks)-briefingTaskLimit))
			break
		}
		due := ""
		if len(t.Due) >= 10 {
			due = fmt.Sprintf(" (기한: %s)", t.Due[:10])
		}
		lines = append(lines, fmt.Sprintf("  • %s%s", t.Title, due))
	}
	lines = append(lines, "", "오늘도 화이팅하세요! 💪")
	return strings.Join(lines, "\n")
}

func (s *BriefingService) renderFallback(now time.Time, reminders []domain.Reminder) string {
	lines := []string{
		fmt.Sprintf("🌅 좋은 아침입니다, %s!", s.owner),
		"",
		fmt.Sprintf("⚠️ Google 캘린더가 연결되지 않아 일정을 불러오지 못했습니다 (%s).", shortKoreanDate(now)),
		"",
		"🔔 활성 리마인더",
	}
	if len(reminders) == 0 {
		lines = append(lines, "  등록된 리마인더가 없습니다.")
	}
	for _, r := range reminders {
		lines = append(lines, "  • "+r.Title)
	}
	return strings.Join(lines, "\n")
}

// shortKoreanDate renders "6. 10. (월)".
func shortKoreanDate(t time.Time) string {
	return fmt.Sprintf("%d. %d. (%s)", int(t.Month()), t.Day(), strings.TrimSuffix(koreanWeekdays[t.Weekday()], "요일"))
}
