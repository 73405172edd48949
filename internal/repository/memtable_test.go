package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"assistant-agent/internal/domain"
)

// memTable is a stateful single-table DynamoDB for the key conditions the
// conversation store issues. Unsupported expressions fail loudly.
type memTable struct {
	mu    sync.Mutex
	items map[string]map[string]map[string]types.AttributeValue // PK -> SK -> item
	// page caps unlimited queries to force ExclusiveStartKey paging.
	page int
}

func newMemTable() *memTable {
	return &memTable{items: map[string]map[string]map[string]types.AttributeValue{}}
}

var (
	keyCondPK        = regexp.MustCompile(`^PK = (:\w+)(?: AND (.+))?$`)
	keyCondBegins    = regexp.MustCompile(`^begins_with\(SK, (:\w+)\)$`)
	keyCondBetween   = regexp.MustCompile(`^SK BETWEEN (:\w+) AND (:\w+)$`)
	keyCondCompareSK = regexp.MustCompile(`^SK (<=|<|>=|>|=) (:\w+)$`)
)

func (m *memTable) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[optStrAttr(in.Key, "PK")][optStrAttr(in.Key, "SK")]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: cloneItem(item)}, nil
}

func (m *memTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk, sk := optStrAttr(in.Item, "PK"), optStrAttr(in.Item, "SK")
	_, exists := m.items[pk][sk]
	switch cond := aws.ToString(in.ConditionExpression); cond {
	case "":
	case conditionNoClash:
		if exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("item exists")}
		}
	default:
		return nil, fmt.Errorf("memTable: unsupported condition %q", cond)
	}
	m.put(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (m *memTable) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delete(in.Key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *memTable) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	match, err := skMatcher(aws.ToString(in.KeyConditionExpression), in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	pk := optStrAttr(in.ExpressionAttributeValues, keyCondPK.FindStringSubmatch(aws.ToString(in.KeyConditionExpression))[1])

	var sks []string
	for sk := range m.items[pk] {
		if match(sk) {
			sks = append(sks, sk)
		}
	}
	slices.Sort(sks)
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		slices.Reverse(sks)
	}
	if start := optStrAttr(in.ExclusiveStartKey, "SK"); start != "" {
		i := slices.Index(sks, start)
		sks = sks[i+1:]
	}

	limit := len(sks)
	if in.Limit != nil {
		limit = min(limit, int(*in.Limit))
	} else if m.page > 0 {
		limit = min(limit, m.page)
	}
	out := &dynamodb.QueryOutput{}
	for _, sk := range sks[:limit] {
		out.Items = append(out.Items, project(m.items[pk][sk], aws.ToString(in.ProjectionExpression)))
	}
	out.Count = int32(len(out.Items))
	if limit < len(sks) {
		out.LastEvaluatedKey = itemKey(pk, sks[limit-1])
	}
	return out, nil
}

func (m *memTable) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, reqs := range in.RequestItems {
		if len(reqs) > batchWriteLimit {
			return nil, fmt.Errorf("memTable: %d requests exceed the batch limit", len(reqs))
		}
		for _, r := range reqs {
			switch {
			case r.DeleteRequest != nil:
				m.delete(r.DeleteRequest.Key)
			case r.PutRequest != nil:
				m.put(r.PutRequest.Item)
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (m *memTable) TransactWriteItems(context.Context, *dynamodb.TransactWriteItemsInput, ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	return nil, errors.New("memTable: transactions not supported")
}

func (m *memTable) put(item map[string]types.AttributeValue) {
	pk := optStrAttr(item, "PK")
	if m.items[pk] == nil {
		m.items[pk] = map[string]map[string]types.AttributeValue{}
	}
	m.items[pk][optStrAttr(item, "SK")] = cloneItem(item)
}

func (m *memTable) delete(key map[string]types.AttributeValue) {
	delete(m.items[optStrAttr(key, "PK")], optStrAttr(key, "SK"))
}

func (m *memTable) count(pk string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items[pk])
}

func skMatcher(expr string, values map[string]types.AttributeValue) (func(string) bool, error) {
	parts := keyCondPK.FindStringSubmatch(expr)
	if parts == nil {
		return nil, fmt.Errorf("memTable: unsupported key condition %q", expr)
	}
	rest := parts[2]
	val := func(name string) string { return optStrAttr(values, name) }
	switch {
	case rest == "":
		return func(string) bool { return true }, nil
	case keyCondBegins.MatchString(rest):
		prefix := val(keyCondBegins.FindStringSubmatch(rest)[1])
		return func(sk string) bool { return strings.HasPrefix(sk, prefix) }, nil
	case keyCondBetween.MatchString(rest):
		m := keyCondBetween.FindStringSubmatch(rest)
		from, to := val(m[1]), val(m[2])
		return func(sk string) bool { return sk >= from && sk <= to }, nil
	case keyCondCompareSK.MatchString(rest):
		m := keyCondCompareSK.FindStringSubmatch(rest)
		op, v := m[1], val(m[2])
		return func(sk string) bool {
			switch op {
			case "<":
				return sk < v
			case "<=":
				return sk <= v
			case ">":
				return sk > v
			case ">=":
				return sk >= v
			}
			return sk == v
		}, nil
	}
	return nil, fmt.Errorf("memTable: unsupported sort key condition %q", rest)
}

func project(item map[string]types.AttributeValue, projection string) map[string]types.AttributeValue {
	if projection == "" {
		return cloneItem(item)
	}
	out := map[string]types.AttributeValue{}
	for _, name := range strings.Split(projection, ",") {
		name = strings.TrimSpace(name)
		if v, ok := item[name]; ok {
			out[name] = v
		}
	}
	return out
}

func cloneItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

// steppingClock advances by step on every read so each turn gets its own key.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var (
		mu  sync.Mutex
		now = start
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

func TestConversation_KeepsNewestTurnsInOrder(t *testing.T) {
	table := newMemTable()
	c, err := New(table, "test-table", WithMaxTurns(10), WithClock(steppingClock(fixedNow, time.Second)))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 1; i <= 23; i++ {
		role := domain.RoleUser
		if i%2 == 0 {
			role = domain.RoleAssistant
		}
		require.NoError(t, c.Append(ctx, "1001", role, fmt.Sprintf("turn %d", i)))
	}

	turns, err := c.Load(ctx, "1001")
	require.NoError(t, err)
	require.Len(t, turns, 10)
	for i, turn := range turns {
		n := 14 + i
		require.Equal(t, fmt.Sprintf("turn %d", n), turn.Content)
		require.Equal(t, "1001", turn.ConversationID)
		if n%2 == 0 {
			require.Equal(t, domain.RoleAssistant, turn.Role)
		} else {
			require.Equal(t, domain.RoleUser, turn.Role)
		}
		if i > 0 {
			require.Greater(t, turn.Sequence, turns[i-1].Sequence)
		}
	}
	require.Equal(t, 10, table.count(chatPK("1001")))
}

func TestConversation_WindowIsPerConversation(t *testing.T) {
	table := newMemTable()
	table.page = 2
	c, err := New(table, "test-table", WithMaxTurns(3), WithClock(steppingClock(fixedNow, time.Millisecond)))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Append(ctx, "other", domain.RoleUser, "keep me"))
	for i := 1; i <= 8; i++ {
		require.NoError(t, c.Append(ctx, "1001", domain.RoleUser, fmt.Sprintf("turn %d", i)))
	}

	turns, err := c.Load(ctx, "1001")
	require.NoError(t, err)
	require.Equal(t, []string{"turn 6", "turn 7", "turn 8"}, contents(turns))
	require.Equal(t, 3, table.count(chatPK("1001")))

	other, err := c.Load(ctx, "other")
	require.NoError(t, err)
	require.Equal(t, []string{"keep me"}, contents(other))
}

func TestConversation_ShortHistoryUntouched(t *testing.T) {
	table := newMemTable()
	c, err := New(table, "test-table", WithClock(steppingClock(fixedNow, time.Second)))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Append(ctx, "1001", domain.RoleUser, "안녕"))
	require.NoError(t, c.Append(ctx, "1001", domain.RoleAssistant, "안녕하세요"))

	turns, err := c.Load(ctx, "1001")
	require.NoError(t, err)
	require.Equal(t, []string{"안녕", "안녕하세요"}, contents(turns))
}

func contents(turns []domain.Turn) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Content)
	}
	return out
}
