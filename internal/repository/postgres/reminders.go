package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"assistant-agent/internal/domain"
)

const reminderColumns = `id, title, description, type, google_event_id, minutes_before,
	cron_expression, deadline_at, active, last_triggered_at, created_at`

// PutReminder creates or replaces a reminder.
func (s *Store) PutReminder(ctx context.Context, r domain.Reminder) error {
	if r.ID == "" {
		return errors.New("postgres: PutReminder: id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (`+reminderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			type = EXCLUDED.type,
			google_event_id = EXCLUDED.google_event_id,
			minutes_before = EXCLUDED.minutes_before,
			cron_expression = EXCLUDED.cron_expression,
			deadline_at = EXCLUDED.deadline_at,
			active = EXCLUDED.active,
			last_triggered_at = EXCLUDED.last_triggered_at`,
		r.ID, r.Title, r.Description, string(r.Type), r.GoogleEventID, r.MinutesBefore,
		r.CronExpression, nullTime(r.DeadlineAt), r.Active, nullTime(r.LastTriggeredAt), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: PutReminder: %w", err)
	}
	return nil
}

// GetReminder returns domain.ErrReminderNotFound for unknown ids.
func (s *Store) GetReminder(ctx context.Context, id string) (domain.Reminder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = $1`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Reminder{}, fmt.Errorf("postgres: GetReminder %s: %w", id, domain.ErrReminderNotFound)
	}
	if err != nil {
		return domain.Reminder{}, fmt.Errorf("postgres: GetReminder: %w", err)
	}
	return r, nil
}

// ListReminders returns reminders newest first.
func (s *Store) ListReminders(ctx context.Context, activeOnly bool) ([]domain.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: ListReminders query: %w", err)
	}
	defer rows.Close()

	var out []domain.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: ListReminders scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: ListReminders rows: %w", err)
	}
	return out, nil
}

// DeleteReminder removes the reminder and, through the foreign key, its logs.
func (s *Store) DeleteReminder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: DeleteReminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: DeleteReminder rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("postgres: DeleteReminder %s: %w", id, domain.ErrReminderNotFound)
	}
	return nil
}

// RecordTrigger inserts the log and stamps last_triggered_at in one transaction.
func (s *Store) RecordTrigger(ctx context.Context, log domain.ReminderLog) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: RecordTrigger begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO reminder_logs (reminder_id, message, status, triggered_at) VALUES ($1, $2, $3, $4)`,
		log.ReminderID, log.Message, log.Status, log.TriggeredAt); err != nil {
		return fmt.Errorf("postgres: RecordTrigger insert: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE reminders SET last_triggered_at = $1 WHERE id = $2`,
		log.TriggeredAt, log.ReminderID); err != nil {
		return fmt.Errorf("postgres: RecordTrigger update: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("postgres: RecordTrigger commit: %w", err)
	}
	return nil
}

// ListReminderLogs returns the newest logs first.
func (s *Store) ListReminderLogs(ctx context.Context, id string, limit int) ([]domain.ReminderLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reminder_id, message, status, triggered_at
		FROM reminder_logs
		WHERE reminder_id = $1
		ORDER BY triggered_at DESC
		LIMIT $2`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: ListReminderLogs query: %w", err)
	}
	defer rows.Close()

	var logs []domain.ReminderLog
	for rows.Next() {
		var l domain.ReminderLog
		if err := rows.Scan(&l.ReminderID, &l.Message, &l.Status, &l.TriggeredAt); err != nil {
			return nil, fmt.Errorf("postgres: ListReminderLogs scan: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: ListReminderLogs rows: %w", err)
	}
	return logs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (domain.Reminder, error) {
	var (
		r              domain.Reminder
		typ            string
		deadline, last sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.Title, &r.Description, &typ, &r.GoogleEventID, &r.MinutesBefore,
		&r.CronExpression, &deadline, &r.Active, &last, &r.CreatedAt); err != nil {
		return domain.Reminder{}, err
	}
	r.Type = domain.ReminderType(typ)
	if deadline.Valid {
		t := deadline.Time
		r.DeadlineAt = &t
	}
	if last.Valid {
		t := last.Time
		r.LastTriggeredAt = &t
	}
	return r, nil
}
