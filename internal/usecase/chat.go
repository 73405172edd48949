package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"assistant-agent/internal/domain"
	"assistant-agent/internal/tools"
)

const (
	defaultMaxIterations = 10
	defaultModelTimeout  = 60 * time.Second
	defaultToolTimeout   = 20 * time.Second
	defaultOwner         = "대표님"
	modelTemperature     = 0.1
)

// Fixed replies sent when the loop cannot produce a model-written answer.
const (
	ReplyDisabled      = "AI 기능이 비활성화되어 있습니다. (LLM API 키 미설정)"
	ReplyNotConnected  = "Google 계정이 연결되지 않았습니다. 먼저 OAuth 인증을 완료해 주세요."
	ReplyApology       = "처리 중 오류가 발생했습니다. 잠시 후 다시 시도해 주세요."
	ReplyTooComplex    = "요청을 처리하는 데 너무 많은 단계가 필요합니다. 더 간단하게 요청해 주세요."
	ReplyNotUnderstood = "무슨 말씀이신지 잘 모르겠어요."
)

type Outcome string

const (
	OutcomeDone          Outcome = "done"
	OutcomeMaxIterations Outcome = "max_iterations"
	OutcomeDisabled      Outcome = "disabled"
	OutcomeNotConnected  Outcome = "not_connected"
	OutcomeFailed        Outcome = "failed"
)

type LLMClient interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (domain.ChatMessage, error)
}

type ConversationStore interface {
	Load(ctx context.Context, conversationID string) ([]domain.Turn, error)
	Append(ctx context.Context, conversationID, role, content string) error
}

type ToolExecutor interface {
	Catalog() []domain.ToolSpec
	Execute(ctx context.Context, call domain.ToolCall, meta tools.CallMeta) tools.Result
}

// Notifier delivers a reply to a chat. Delivery failure is reported, never
// returned as an error.
type Notifier interface {
	Deliver(ctx context.Context, chatID, text string) bool
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type ChatConfig struct {
	MaxIterations int
	ModelTimeout  time.Duration
	ToolTimeout   time.Duration
	Location      *time.Location
	Owner         string
	AllowedChatID string
}

// ChatService runs the tool-calling loop for one inbound message at a time.
// It holds no per-conversation state; concurrent messages of one conversation
// are not serialized.
type ChatService struct {
	llm      LLMClient
	store    ConversationStore
	tools    ToolExecutor
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	maxIterations int
	modelTimeout  time.Duration
	toolTimeout   time.Duration
	loc           *time.Location
	owner         string
	allowedChatID string
}

// HandleInput is one inbound message. MessageID identifies the delivery, so a
// redelivered message reuses it; an empty MessageID gets a fresh one.
type HandleInput struct {
	ConversationID string
	MessageID      string
	Text           string
}

type HandleOutput struct {
	Reply      string
	Outcome    Outcome
	Iterations int
	Delivered  bool
}

// NewChatService wires the loop. A nil llm disables the assistant: every
// message is answered with ReplyDisabled.
func NewChatService(llm LLMClient, store ConversationStore, exec ToolExecutor, notifier Notifier, cfg ChatConfig, logger *slog.Logger) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if exec == nil {
		return nil, errors.New("usecase: tool executor must not be nil")
	}
	if notifier == nil {
		return nil, errors.New("usecase: notifier must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &ChatService{
		llm:           llm,
		store:         store,
		tools:         exec,
		notifier:      notifier,
		logger:        logger,
		now:           time.Now,
		maxIterations: cfg.MaxIterations,
		modelTimeout:  cfg.ModelTimeout,
		toolTimeout:   cfg.ToolTimeout,
		loc:           cfg.Location,
		owner:         strings.TrimSpace(cfg.Owner),
		allowedChatID: strings.TrimSpace(cfg.AllowedChatID),
	}
	if s.maxIterations <= 0 {
		s.maxIterations = defaultMaxIterations
	}
	if s.modelTimeout <= 0 {
		s.modelTimeout = defaultModelTimeout
	}
	if s.toolTimeout <= 0 {
		s.toolTimeout = defaultToolTimeout
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.owner == "" {
		s.owner = defaultOwner
	}
	return s, nil
}

// Accepts reports whether messages from chatID should be answered. With no
// allowlist configured every chat is accepted.
func (s *ChatService) Accepts(chatID string) bool {
	return s.allowedChatID == "" || strings.TrimSpace(chatID) == s.allowedChatID
}

// Handle answers one inbound message and delivers exactly one reply, even when
// the loop fails. A non-nil error means the failure happened at loop level
// (model or storage); the returned output still describes what was sent.
func (s *ChatService) Handle(ctx context.Context, in HandleInput) (HandleOutput, error) {
	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		return HandleOutput{}, newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return HandleOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	msgID := strings.TrimSpace(in.MessageID)
	if msgID == "" {
		msgID = uuid.NewString()
	}
	logger := s.logger.With("conversation", convID, "message", msgID)

	var (
		out HandleOutput
		err error
	)
	if s.llm == nil {
		out = HandleOutput{Reply: ReplyDisabled, Outcome: OutcomeDisabled}
	} else {
		out, err = s.run(ctx, logger, tools.CallMeta{ConversationID: convID, MessageID: msgID}, text)
	}

	out.Delivered = s.notifier.Deliver(ctx, convID, out.Reply)
	if !out.Delivered {
		logger.Warn("reply not delivered", "outcome", out.Outcome)
	}
	logger.Info("message handled", "outcome", out.Outcome, "iterations", out.Iterations, "delivered", out.Delivered)
	return out, err
}

func (s *ChatService) run(ctx context.Context, logger *slog.Logger, meta tools.CallMeta, text string) (HandleOutput, error) {
	convID := meta.ConversationID
	history, err := s.store.Load(ctx, convID)
	if err != nil {
		return failedOutput(0), newError(ErrorInternal, "history_load_error", err)
	}
	if err := s.store.Append(ctx, convID, domain.RoleUser, text); err != nil {
		return failedOutput(0), newError(ErrorInternal, "history_write_error", err)
	}

	messages := buildPromptMessages(promptContext{now: s.now(), loc: s.loc, owner: s.owner}, history, text)
	catalog := s.tools.Catalog()

	for round := 1; round <= s.maxIterations; round++ {
		msg, err := s.complete(ctx, messages, catalog)
		if err != nil {
			attrs := []any{"round", round, "err", err}
			if status, ok := upstreamStatusCode(err); ok {
				attrs = append(attrs, "status", status)
			}
			logger.Error("model call failed", attrs...)
			if errors.Is(err, domain.ErrNotConnected) {
				return HandleOutput{Reply: ReplyNotConnected, Outcome: OutcomeNotConnected, Iterations: round}, nil
			}
			return failedOutput(round), newError(ErrorUpstream, "model_error", err)
		}

		if len(msg.ToolCalls) == 0 {
			reply := strings.TrimSpace(msg.Content)
			if reply == "" {
				reply = ReplyNotUnderstood
			}
			return s.persistReply(ctx, convID, reply, OutcomeDone, round)
		}

		messages = append(messages, domain.ChatMessage{
			Role:      domain.RoleAssistant,
			Content:   msg.Content,
			ToolCalls: msg.ToolCalls,
		})
		meta.Round = round
		results := s.runTools(ctx, meta, msg.ToolCalls)
		for _, r := range results {
			if errors.Is(r.Err, domain.ErrNotConnected) {
				logger.Warn("google account not connected", "round", round, "tool", r.Kind.String())
				return HandleOutput{Reply: ReplyNotConnected, Outcome: OutcomeNotConnected, Iterations: round}, nil
			}
		}
		for _, r := range results {
			messages = append(messages, domain.ChatMessage{
				Role:       domain.RoleTool,
				ToolCallID: r.CallID,
				Content:    r.Content(),
			})
		}
		logger.Debug("tool round finished", "round", round, "calls", len(results))
	}

	logger.Warn("tool iteration limit reached", "limit", s.maxIterations)
	return s.persistReply(ctx, convID, ReplyTooComplex, OutcomeMaxIterations, s.maxIterations)
}

func (s *ChatService) complete(ctx context.Context, messages []domain.ChatMessage, catalog []domain.ToolSpec) (domain.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.modelTimeout)
	defer cancel()
	return s.llm.Complete(ctx, domain.CompletionRequest{
		Messages:    messages,
		Tools:       catalog,
		Temperature: modelTemperature,
	})
}

// runTools executes one round of calls concurrently. results[i] belongs to
// calls[i]; the model correlates them by call id.
func (s *ChatService) runTools(ctx context.Context, meta tools.CallMeta, calls []domain.ToolCall) []tools.Result {
	results := make([]tools.Result, len(calls))
	var wg conc.WaitGroup
	for i, call := range calls {
		wg.Go(func() {
			callCtx, cancel := context.WithTimeout(ctx, s.toolTimeout)
			defer cancel()
			results[i] = s.tools.Execute(callCtx, call, meta)
		})
	}
	wg.Wait()
	return results
}

func (s *ChatService) persistReply(ctx context.Context, convID, reply string, outcome Outcome, iterations int) (HandleOutput, error) {
	if err := s.store.Append(ctx, convID, domain.RoleAssistant, reply); err != nil {
		return failedOutput(iterations), newError(ErrorInternal, "history_write_error", err)
	}
	return HandleOutput{Reply: reply, Outcome: outcome, Iterations: iterations}, nil
}

func failedOutput(iterations int) HandleOutput {
	return HandleOutput{Reply: ReplyApology, Outcome: OutcomeFailed, Iterations: iterations}
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
