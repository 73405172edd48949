// Package anthropic adapts the Anthropic Messages API to the chat loop's
// model interface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"assistant-agent/internal/domain"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 2048
)

// StatusError reports a non-2xx response from the Messages API.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("anthropic: unexpected status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

func (e *StatusError) HTTPStatusCode() int { return e.StatusCode }

type Client struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

type Option func(*config)

type config struct {
	model      string
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

func WithModel(model string) Option {
	return func(c *config) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *config) { c.baseURL = strings.TrimSpace(baseURL) }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *config) { c.httpClient = httpClient }
}

// WithMaxRetries sets the SDK's retry budget for retryable statuses.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("anthropic: api key must not be empty")
	}
	cfg := config{model: defaultModel, maxRetries: 2}
	for _, opt := range opts {
		opt(&cfg)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}
	return &Client{
		client:    sdk.NewClient(reqOpts...),
		model:     cfg.model,
		maxTokens: defaultMaxTokens,
	}, nil
}

// Complete sends one round of the transcript. System messages become the
// system prompt and consecutive tool results are grouped into one user turn.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (domain.ChatMessage, error) {
	system, messages, err := convertMessages(req.Messages)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if len(messages) == 0 {
		return domain.ChatMessage{}, errors.New("anthropic: messages must not be empty")
	}
	tools, err := convertTools(req.Tools)
	if err != nil {
		return domain.ChatMessage{}, err
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   c.maxTokens,
		Messages:    messages,
		Tools:       tools,
		Temperature: sdk.Float(req.Temperature),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return domain.ChatMessage{}, &StatusError{StatusCode: apiErr.StatusCode, Err: err}
		}
		return domain.ChatMessage{}, fmt.Errorf("anthropic: request failed: %w", err)
	}
	if resp == nil {
		return domain.ChatMessage{}, errors.New("anthropic: empty response")
	}

	out := domain.ChatMessage{Role: domain.RoleAssistant}
	var text []string
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case sdk.TextBlock:
			text = append(text, b.Text)
		case sdk.ToolUseBlock:
			args, err := json.Marshal(b.Input)
			if err != nil {
				return domain.ChatMessage{}, fmt.Errorf("anthropic: encode tool input: %w", err)
			}
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{ID: b.ID, Name: b.Name, Arguments: string(args)})
		}
	}
	out.Content = strings.Join(text, "")
	return out, nil
}

func convertMessages(in []domain.ChatMessage) (string, []sdk.MessageParam, error) {
	var (
		system  []string
		out     []sdk.MessageParam
		results []sdk.ContentBlockParamUnion
	)
	flushResults := func() {
		if len(results) > 0 {
			out = append(out, sdk.NewUserMessage(results...))
			results = nil
		}
	}
	for _, m := range in {
		if m.Role != domain.RoleTool {
			flushResults()
		}
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleUser:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case domain.RoleAssistant:
			var blocks []sdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := strings.TrimSpace(tc.Arguments)
				if args == "" {
					args = "{}"
				}
				if !json.Valid([]byte(args)) {
					return "", nil, fmt.Errorf("anthropic: tool call %s has invalid arguments", tc.ID)
				}
				blocks = append(blocks, sdk.ContentBlockParamUnion{
					OfToolUse: &sdk.ToolUseBlockParam{ID: tc.ID, Name: tc.Name, Input: json.RawMessage(args)},
				})
			}
			if len(blocks) > 0 {
				out = append(out, sdk.NewAssistantMessage(blocks...))
			}
		case domain.RoleTool:
			results = append(results, sdk.ContentBlockParamUnion{
				OfToolResult: &sdk.ToolResultBlockParam{
					ToolUseID: m.ToolCallID,
					Content: []sdk.ToolResultBlockParamContentUnion{
						{OfText: &sdk.TextBlockParam{Text: m.Content}},
					},
				},
			})
		default:
			return "", nil, fmt.Errorf("anthropic: unsupported role %q", m.Role)
		}
	}
	flushResults()
	return strings.Join(system, "\n\n"), out, nil
}

// toolSchema is the part of a tool's JSON schema the SDK takes explicitly.
type toolSchema struct {
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

func convertTools(specs []domain.ToolSpec) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		var schema toolSchema
		if len(spec.Parameters) > 0 {
			if err := json.Unmarshal(spec.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("anthropic: decode schema of %s: %w", spec.Name, err)
			}
		}
		input := sdk.ToolInputSchemaParam{Properties: schema.Properties}
		if len(schema.Required) > 0 {
			input.ExtraFields = map[string]any{"required": schema.Required}
		}
		out = append(out, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        spec.Name,
				Description: sdk.String(spec.Description),
				InputSchema: input,
			},
		})
	}
	return out, nil
}
