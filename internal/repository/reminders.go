package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"assistant-agent/internal/domain"
)

const (
	pkReminders       = "REMINDERS"
	skPrefixReminder  = "REMINDER#"
	skPrefixLog       = "LOG#"
	reminderLogTTL    = 90 * 24 * time.Hour
	maxReminderPages  = 20
	reminderItemLimit = 100
)

func reminderSK(id string) string {
	return skPrefixReminder + id
}

// reminderLogPK groups the trigger logs of one reminder.
func reminderLogPK(id string) string {
	return skPrefixReminder + id
}

func reminderLogSK(ts time.Time) string {
	return fmt.Sprintf("%s%020d", skPrefixLog, ts.UnixNano())
}

// PutReminder creates or replaces a reminder.
func (c *Client) PutReminder(ctx context.Context, r domain.Reminder) error {
	if r.ID == "" {
		return errors.New("repository: PutReminder: id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      reminderItem(r),
	})
	if err != nil {
		return fmt.Errorf("repository: PutReminder: %w", err)
	}
	return nil
}

// GetReminder returns domain.ErrReminderNotFound for unknown ids.
func (c *Client) GetReminder(ctx context.Context, id string) (domain.Reminder, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(pkReminders, reminderSK(id)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Reminder{}, fmt.Errorf("repository: GetReminder: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Reminder{}, fmt.Errorf("repository: GetReminder %s: %w", id, domain.ErrReminderNotFound)
	}
	r, err := itemToReminder(out.Item)
	if err != nil {
		return domain.Reminder{}, fmt.Errorf("repository: GetReminder unmarshal: %w", err)
	}
	return r, nil
}

// ListReminders returns reminders newest first.
func (c *Client) ListReminders(ctx context.Context, activeOnly bool) ([]domain.Reminder, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     strValue(pkReminders),
			":prefix": strValue(skPrefixReminder),
		},
		Limit: aws.Int32(reminderItemLimit),
	}
	if activeOnly {
		in.FilterExpression = aws.String("#active = :active")
		in.ExpressionAttributeNames = map[string]string{"#active": "active"}
		in.ExpressionAttributeValues[":active"] = &types.AttributeValueMemberBOOL{Value: true}
	}

	var out []domain.Reminder
	for page := 0; page < maxReminderPages; page++ {
		res, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: ListReminders query: %w", err)
		}
		for _, item := range res.Items {
			r, err := itemToReminder(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListReminders unmarshal: %w", err)
			}
			out = append(out, r)
		}
		if len(res.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = res.LastEvaluatedKey
	}
	slices.SortStableFunc(out, func(a, b domain.Reminder) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// DeleteReminder removes the reminder. Its trigger logs expire through TTL.
func (c *Client) DeleteReminder(ctx context.Context, id string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 itemKey(pkReminders, reminderSK(id)),
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("repository: DeleteReminder %s: %w", id, domain.ErrReminderNotFound)
		}
		return fmt.Errorf("repository: DeleteReminder: %w", err)
	}
	return nil
}

// RecordTrigger writes the log entry and stamps lastTriggeredAt in one transaction.
func (c *Client) RecordTrigger(ctx context.Context, log domain.ReminderLog) error {
	if log.ReminderID == "" {
		return errors.New("repository: RecordTrigger: reminder id is required")
	}
	at := log.TriggeredAt.UTC()
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item: map[string]types.AttributeValue{
						"PK":          strValue(reminderLogPK(log.ReminderID)),
						"SK":          strValue(reminderLogSK(at)),
						"reminderId":  strValue(log.ReminderID),
						"message":     strValue(log.Message),
						"status":      strValue(log.Status),
						"triggeredAt": timeValue(at),
						"ttl":         numValue(c.now().Add(reminderLogTTL).Unix()),
					},
					ConditionExpression: aws.String(conditionNoClash),
				},
			},
			{
				Update: &types.Update{
					TableName:           aws.String(c.tableName),
					Key:                 itemKey(pkReminders, reminderSK(log.ReminderID)),
					UpdateExpression:    aws.String("SET lastTriggeredAt = :at"),
					ConditionExpression: aws.String("attribute_exists(PK)"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":at": timeValue(at),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: RecordTrigger: %w", err)
	}
	return nil
}

// ListReminderLogs returns the newest logs first.
func (c *Client) ListReminderLogs(ctx context.Context, id string, limit int) ([]domain.ReminderLog, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     strValue(reminderLogPK(id)),
			":prefix": strValue(skPrefixLog),
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListReminderLogs query: %w", err)
	}
	logs := make([]domain.ReminderLog, 0, len(out.Items))
	for _, item := range out.Items {
		at, err := timeAttr(item, "triggeredAt")
		if err != nil {
			return nil, fmt.Errorf("repository: ListReminderLogs unmarshal: %w", err)
		}
		logs = append(logs, domain.ReminderLog{
			ReminderID:  optStrAttr(item, "reminderId"),
			Message:     optStrAttr(item, "message"),
			Status:      optStrAttr(item, "status"),
			TriggeredAt: at,
		})
	}
	return logs, nil
}

func reminderItem(r domain.Reminder) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":             strValue(pkReminders),
		"SK":             strValue(reminderSK(r.ID)),
		"id":             strValue(r.ID),
		"title":          strValue(r.Title),
		"description":    strValue(r.Description),
		"type":           strValue(string(r.Type)),
		"googleEventId":  strValue(r.GoogleEventID),
		"minutesBefore":  numValue(int64(r.MinutesBefore)),
		"cronExpression": strValue(r.CronExpression),
		"active":         &types.AttributeValueMemberBOOL{Value: r.Active},
		"createdAt":      timeValue(r.CreatedAt),
	}
	if r.DeadlineAt != nil {
		item["deadlineAt"] = timeValue(*r.DeadlineAt)
	}
	if r.LastTriggeredAt != nil {
		item["lastTriggeredAt"] = timeValue(*r.LastTriggeredAt)
	}
	return item
}

func itemToReminder(item map[string]types.AttributeValue) (domain.Reminder, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Reminder{}, err
	}
	title, err := strAttr(item, "title")
	if err != nil {
		return domain.Reminder{}, err
	}
	typ, err := strAttr(item, "type")
	if err != nil {
		return domain.Reminder{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Reminder{}, err
	}
	minutes, _ := intAttr(item, "minutesBefore") // allow missing
	deadline, err := optTimeAttr(item, "deadlineAt")
	if err != nil {
		return domain.Reminder{}, err
	}
	last, err := optTimeAttr(item, "lastTriggeredAt")
	if err != nil {
		return domain.Reminder{}, err
	}
	return domain.Reminder{
		ID:              id,
		Title:           title,
		Description:     optStrAttr(item, "description"),
		Type:            domain.ReminderType(typ),
		GoogleEventID:   optStrAttr(item, "googleEventId"),
		MinutesBefore:   minutes,
		CronExpression:  optStrAttr(item, "cronExpression"),
		DeadlineAt:      deadline,
		Active:          boolAttr(item, "active"),
		LastTriggeredAt: last,
		CreatedAt:       createdAt,
	}, nil
}
