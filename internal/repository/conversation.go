package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/samber/lo"

	"assistant-agent/internal/domain"
)

const skPrefixTurn = "TURN#"

// chatPK returns the DynamoDB partition key for a conversation.
func chatPK(conversationID string) string {
	return "CHAT#" + conversationID
}

// turnSK orders turns by creation time. The zero padding keeps lexical and
// numeric order identical.
func turnSK(ts time.Time) string {
	return fmt.Sprintf("%s%020d", skPrefixTurn, ts.UnixNano())
}

// Load returns the most recent turns of a conversation, oldest first.
func (c *Client) Load(ctx context.Context, conversationID string) ([]domain.Turn, error) {
	out, err := c.api.Query(ctx, c.recentTurnsQuery(conversationID, false))
	if err != nil {
		return nil, fmt.Errorf("repository: Load query: %w", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: Load unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Append stores one turn and then trims the conversation to the newest
// maxTurns turns.
func (c *Client) Append(ctx context.Context, conversationID, role, content string) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("repository: Append: conversation id is required")
	}
	now := c.now().UTC()
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":             strValue(chatPK(conversationID)),
			"SK":             strValue(turnSK(now)),
			"conversationId": strValue(conversationID),
			"role":           strValue(role),
			"content":        strValue(content),
			"createdAt":      timeValue(now),
			"ttl":            numValue(c.ttlValue()),
		},
		ConditionExpression: aws.String(conditionNoClash),
	})
	if err != nil {
		return fmt.Errorf("repository: Append put: %w", err)
	}
	if err := c.trim(ctx, conversationID); err != nil {
		return fmt.Errorf("repository: Append trim: %w", err)
	}
	return nil
}

func (c *Client) recentTurnsQuery(conversationID string, keysOnly bool) *dynamodb.QueryInput {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     strValue(chatPK(conversationID)),
			":prefix": strValue(skPrefixTurn),
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(c.maxTurns)),
	}
	if keysOnly {
		in.ProjectionExpression = aws.String("PK, SK")
	}
	return in
}

// trim deletes every turn older than the maxTurns-th newest one.
func (c *Client) trim(ctx context.Context, conversationID string) error {
	recent, err := c.api.Query(ctx, c.recentTurnsQuery(conversationID, true))
	if err != nil {
		return fmt.Errorf("query recent: %w", err)
	}
	if len(recent.Items) < c.maxTurns {
		return nil
	}
	boundary, err := strAttr(recent.Items[len(recent.Items)-1], "SK")
	if err != nil {
		return err
	}

	var stale []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND SK BETWEEN :prefix AND :boundary"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":       strValue(chatPK(conversationID)),
				":prefix":   strValue(skPrefixTurn),
				":boundary": strValue(boundary),
			},
			ProjectionExpression: aws.String("PK, SK"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return fmt.Errorf("query stale: %w", err)
		}
		for _, item := range out.Items {
			// BETWEEN is inclusive; the boundary turn stays.
			if sk, _ := strAttr(item, "SK"); sk != boundary {
				stale = append(stale, item)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return c.batchDelete(ctx, stale)
}

// batchDelete removes keys in chunks of 25, retrying unprocessed items.
func (c *Client) batchDelete(ctx context.Context, keys []map[string]types.AttributeValue) error {
	for _, chunk := range lo.Chunk(keys, batchWriteLimit) {
		pending := map[string][]types.WriteRequest{
			c.tableName: lo.Map(chunk, func(k map[string]types.AttributeValue, _ int) types.WriteRequest {
				return types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: itemKey(optStrAttr(k, "PK"), optStrAttr(k, "SK"))}}
			}),
		}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt == batchWriteTries {
				return fmt.Errorf("batch delete: %d items left unprocessed", len(pending[c.tableName]))
			}
			out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("batch delete: %w", err)
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Turn{}, err
	}
	seq, err := strconv.ParseInt(strings.TrimPrefix(sk, skPrefixTurn), 10, 64)
	if err != nil {
		return domain.Turn{}, fmt.Errorf("repository: parse sort key %q: %w", sk, err)
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Turn{}, err
	}
	createdAt, _ := timeAttr(item, "createdAt") // allow missing
	return domain.Turn{
		ConversationID: optStrAttr(item, "conversationId"),
		Role:           role,
		Content:        content,
		Sequence:       seq,
		CreatedAt:      createdAt,
	}, nil
}
