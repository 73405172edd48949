package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"assistant-agent/internal/usecase"
)

// Scheduled jobs, selected by the rule's constant input {"job": "..."}.
const (
	JobTick          = "tick"
	JobDailyBriefing = "daily-briefing"
)

type ReminderTicker interface {
	Tick(ctx context.Context, now time.Time) ([]usecase.TriggeredReminder, error)
}

type Briefer interface {
	Send(ctx context.Context) (usecase.BriefingResult, error)
}

// Scheduler runs periodic jobs for EventBridge schedule rules.
type Scheduler struct {
	reminders ReminderTicker
	briefing  Briefer
	logger    *slog.Logger
	now       func() time.Time
}

type ScheduleResult struct {
	Job          string    `json:"job"`
	RanAt        time.Time `json:"ranAt"`
	Triggered    int       `json:"triggered,omitempty"`
	Sent         int       `json:"sent,omitempty"`
	BriefingSent bool      `json:"briefingSent,omitempty"`
}

type scheduleDetail struct {
	Job string `json:"job"`
}

func NewScheduler(reminders ReminderTicker, briefing Briefer, logger *slog.Logger) (*Scheduler, error) {
	if reminders == nil {
		return nil, errors.New("handler: reminder ticker must not be nil")
	}
	if briefing == nil {
		return nil, errors.New("handler: briefer must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{reminders: reminders, briefing: briefing, logger: logger, now: time.Now}, nil
}

// Handle dispatches one schedule event. Rules without a job run the reminder
// tick. The event's scheduled time is used as the tick instant so a retried
// invocation evaluates the same window.
func (s *Scheduler) Handle(ctx context.Context, ev events.CloudWatchEvent) (ScheduleResult, error) {
	job, err := jobOf(ev)
	if err != nil {
		return ScheduleResult{}, err
	}
	at := ev.Time
	if at.IsZero() {
		at = s.now()
	}
	logger := s.logger.With("correlation_id", ev.ID, "job", job)

	switch job {
	case JobTick:
		triggered, err := s.reminders.Tick(ctx, at)
		if err != nil {
			logger.Error("reminder tick failed", "err", err)
			return ScheduleResult{}, fmt.Errorf("handler: tick: %w", err)
		}
		res := ScheduleResult{Job: job, RanAt: at.UTC(), Triggered: len(triggered)}
		for _, t := range triggered {
			if t.Sent {
				res.Sent++
			}
		}
		logger.Info("reminder tick done", "triggered", res.Triggered, "sent", res.Sent)
		return res, nil
	case JobDailyBriefing:
		out, err := s.briefing.Send(ctx)
		if err != nil {
			logger.Error("daily briefing failed", "err", err)
			return ScheduleResult{}, fmt.Errorf("handler: briefing: %w", err)
		}
		logger.Info("daily briefing done", "sent", out.TelegramSent, "events", out.EventsCount, "tasks", out.TasksCount)
		return ScheduleResult{Job: job, RanAt: at.UTC(), BriefingSent: out.TelegramSent}, nil
	default:
		return ScheduleResult{}, fmt.Errorf("handler: unknown job %q", job)
	}
}

func jobOf(ev events.CloudWatchEvent) (string, error) {
	if len(ev.Detail) > 0 && string(ev.Detail) != "null" {
		var d scheduleDetail
		if err := json.Unmarshal(ev.Detail, &d); err != nil {
			return "", fmt.Errorf("handler: decode schedule detail: %w", err)
		}
		if job := strings.TrimSpace(d.Job); job != "" {
			return job, nil
		}
	}
	return JobTick, nil
}
