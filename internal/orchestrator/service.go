package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/clawinfra/deskclaw/internal/config"
	"github.com/clawinfra/deskclaw/internal/conversation"
	"github.com/clawinfra/deskclaw/internal/models"
	"github.com/clawinfra/deskclaw/internal/skills"
)

const defaultMaxToolIterations = 5

// chatClient is what the service needs from the transport; satisfied by
// *models.Client and by test fakes.
type chatClient interface {
	ChatCompletion(ctx context.Context, req models.ChatRequest) *models.APIResponse
	ChatCompletionStream(ctx context.Context, req models.ChatRequest) *models.APIResponse
	Provider() string
}

// Service is the top-level conversational orchestrator. It owns the
// conversation transcript and the tool-calling loop tying model responses
// to skill execution.
type Service struct {
	cfg     *config.Config
	client  chatClient
	manager *skills.Manager
	convo   *conversation.Context
	logger  *slog.Logger

	// async facade: a lazily created two-worker pool so cooperative callers
	// can hand off the blocking HTTP work.
	poolOnce sync.Once
	pool     *errgroup.Group
}

// NewService wires the orchestrator. Pass the one Manager and Client built
// at startup; the service takes no global state.
func NewService(cfg *config.Config, client chatClient, manager *skills.Manager, logger *slog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		client:  client,
		manager: manager,
		convo:   conversation.New(conversation.DefaultMaxMessages),
		logger:  logger.With("component", "ai-service"),
	}
}

// Ready reports whether the configuration is complete enough to talk to
// the model. Config faults are a false here, never an error.
func (s *Service) Ready() bool {
	return s.cfg != nil && s.cfg.Valid()
}

// Conversation exposes the transcript for inspection.
func (s *Service) Conversation() *conversation.Context { return s.convo }

// ClearConversation drops the transcript.
func (s *Service) ClearConversation() { s.convo.Clear() }

// SendMessage runs one conversational turn to completion: model call, tool
// loop, final text. Every fault degrades to a bracket-wrapped placeholder
// string; the caller never sees an error value or a stack trace.
func (s *Service) SendMessage(ctx context.Context, text string) string {
	return s.sendMessage(ctx, text, false)
}

// SendMessageStream is SendMessage over the streaming transport. The
// assembled responses are shaped identically, so the loop is shared.
func (s *Service) SendMessageStream(ctx context.Context, text string) string {
	return s.sendMessage(ctx, text, true)
}

func (s *Service) sendMessage(ctx context.Context, text string, stream bool) string {
	if !s.Ready() {
		return "[AI service is not configured: set the model, base URL, and API key]"
	}

	s.convo.Add(conversation.RoleUser, text)

	messages := s.buildMessages()
	var tools []map[string]any
	if s.cfg.Tools.Enabled {
		tools = ToolDefinitions(s.manager.Registry(), s.client.Provider())
	}

	res := s.complete(ctx, messages, tools, stream)
	if !res.Success {
		return s.failTurn(res.Error)
	}

	res, messages = s.runToolLoop(ctx, res, messages, tools, stream)
	if !res.Success {
		return s.failTurn(res.Error)
	}

	reply := res.Content()
	if reply == "" {
		if IsToolCallResponse(res.Data, s.client.Provider()) {
			reply = "[The model is still requesting tools after the iteration limit]"
		} else {
			reply = "[The model returned an empty response]"
		}
	}

	s.convo.Add(conversation.RoleAssistant, reply)
	return reply
}

// runToolLoop drives the bounded tool-calling loop: strictly sequential,
// one iteration's results fully folded back before the next request. On
// exhaustion the last response is surfaced as-is with a warning.
func (s *Service) runToolLoop(ctx context.Context, res *models.APIResponse, messages []models.ChatMessage, tools []map[string]any, stream bool) (*models.APIResponse, []models.ChatMessage) {
	provider := s.client.Provider()

	maxIterations := s.cfg.Tools.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxToolIterations
	}

	for iteration := 0; iteration < maxIterations; iteration++ {
		if !res.Success || !IsToolCallResponse(res.Data, provider) {
			return res, messages
		}

		calls := ParseToolCalls(res.Data, provider)
		s.logger.Info("executing tool calls", "iteration", iteration+1, "count", len(calls))

		messages = append(messages, FormatAssistantToolCallMessage(res.Data, provider))

		callIDs := make([]string, 0, len(calls))
		results := make([]*skills.Result, 0, len(calls))
		for _, call := range calls {
			results = append(results, s.executeToolCall(ctx, call))
			callIDs = append(callIDs, call.ID)
		}

		messages = append(messages, FormatToolResultBatch(callIDs, results, provider)...)
		res = s.complete(ctx, messages, tools, stream)
	}

	if res.Success && IsToolCallResponse(res.Data, provider) {
		s.logger.Warn("tool loop exhausted iteration limit", "max_iterations", maxIterations)
	}
	return res, messages
}

// executeToolCall runs one skill invocation. A failing or faulting call is
// folded back to the model as a failed result, never aborting the turn.
func (s *Service) executeToolCall(ctx context.Context, call ToolInvocation) *skills.Result {
	result, err := s.manager.ExecuteSkill(ctx, call.SkillID, call.Arguments)
	if err != nil {
		s.logger.Error("tool call faulted", "skill", call.SkillID, "error", err)
		return skills.Fail(
			fmt.Sprintf("skill %s failed unexpectedly", call.SkillID),
			err.Error(),
		)
	}
	return result
}

func (s *Service) complete(ctx context.Context, messages []models.ChatMessage, tools []map[string]any, stream bool) *models.APIResponse {
	req := models.ChatRequest{
		Model:       s.cfg.AI.Model,
		Messages:    messages,
		Temperature: s.cfg.AI.Temperature,
		MaxTokens:   s.cfg.AI.MaxTokens,
		Tools:       tools,
	}
	if stream {
		return s.client.ChatCompletionStream(ctx, req)
	}
	return s.client.ChatCompletion(ctx, req)
}

// buildMessages renders the system prompt (with the tool-awareness preface
// when tools are enabled) followed by the transcript.
func (s *Service) buildMessages() []models.ChatMessage {
	var out []models.ChatMessage

	system := s.cfg.AI.SystemPrompt
	if s.cfg.Tools.Enabled {
		if preface := BuildToolAwarenessPrompt(s.manager.Registry()); preface != "" {
			if system != "" {
				system = system + "\n\n" + preface
			} else {
				system = preface
			}
		}
	}
	if system != "" {
		out = append(out, models.ChatMessage{Role: "system", Content: system})
	}

	for _, m := range s.convo.ToAPIFormat() {
		out = append(out, models.ChatMessage{
			Role:    m["role"].(string),
			Content: m["content"],
		})
	}
	return out
}

func (s *Service) failTurn(detail string) string {
	s.logger.Error("conversation turn failed", "error", detail)
	reply := fmt.Sprintf("[Unable to reach the model: %s]", detail)
	s.convo.Add(conversation.RoleAssistant, reply)
	return reply
}

// workers returns the lazily created two-worker pool behind the async
// facade.
func (s *Service) workers() *errgroup.Group {
	s.poolOnce.Do(func() {
		s.pool = &errgroup.Group{}
		s.pool.SetLimit(2)
	})
	return s.pool
}

// SendMessageAsync hands the blocking turn to the worker pool and returns
// a channel delivering the single reply.
func (s *Service) SendMessageAsync(ctx context.Context, text string) <-chan string {
	out := make(chan string, 1)
	s.workers().Go(func() error {
		out <- s.SendMessage(ctx, text)
		close(out)
		return nil
	})
	return out
}

// ExecuteSkillAsync hands a skill execution to the worker pool and returns
// a channel delivering the single result.
func (s *Service) ExecuteSkillAsync(ctx context.Context, skillID string, params map[string]any) <-chan *skills.Result {
	out := make(chan *skills.Result, 1)
	s.workers().Go(func() error {
		result, err := s.manager.ExecuteSkill(ctx, skillID, params)
		if err != nil {
			result = skills.Fail("skill "+skillID+" failed unexpectedly", err.Error())
		}
		out <- result
		close(out)
		return nil
	})
	return out
}

// Shutdown waits for in-flight async work to finish.
func (s *Service) Shutdown() {
	if s.pool != nil {
		_ = s.pool.Wait()
	}
}
