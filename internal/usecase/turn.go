package usecase

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"persona-chat/internal/domain"
	"persona-chat/internal/logger"
)

// FallbackReply is persisted as the assistant message when the model fails.
const FallbackReply = "Sorry, I couldn't generate a response."

const (
	defaultHistoryLimit = 10
	defaultMaxTextLen   = 4000
	defaultTemperature  = 0.7
)

type LLMClient interface {
	Chat(ctx context.Context, req domain.ChatRequest) (string, error)
	ChatStream(ctx context.Context, req domain.ChatRequest, onDelta func(string) error) (string, error)
}

// ChunkSink receives assistant text as the model produces it.
type ChunkSink interface {
	Deliver(ctx context.Context, chunk string) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type TurnConfig struct {
	Model        string
	StreamModel  string
	Temperature  float64
	HistoryLimit int
	MaxTextLen   int
}

// TurnService runs one conversational turn: persist the user message, build
// bounded context, call the model and persist the reply.
type TurnService struct {
	conversations ConversationStore
	personas      PersonaStore
	messages      MessageStore
	llm           LLMClient
	cfg           TurnConfig
	log           *logger.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

type TurnInput struct {
	CallerID       string
	ConversationID string
	Text           string
}

type TurnOutput struct {
	UserMessage      domain.Message
	AssistantMessage domain.Message
	// Degraded is set when the reply is the fallback text or a partial stream.
	Degraded bool
}

func NewTurnService(c ConversationStore, p PersonaStore, m MessageStore, llm LLMClient, cfg TurnConfig, log *logger.Logger) (*TurnService, error) {
	if c == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if p == nil {
		return nil, errors.New("usecase: persona store must not be nil")
	}
	if m == nil {
		return nil, errors.New("usecase: message store must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	if strings.TrimSpace(cfg.StreamModel) == "" {
		cfg.StreamModel = cfg.Model
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.MaxTextLen <= 0 {
		cfg.MaxTextLen = defaultMaxTextLen
	}
	if log == nil {
		log = logger.Nop()
	}
	return &TurnService{
		conversations: c,
		personas:      p,
		messages:      m,
		llm:           llm,
		cfg:           cfg,
		log:           log.With("component", "turn"),
		tracer:        otel.Tracer("persona-chat/usecase"),
		now:           time.Now,
	}, nil
}

// Send runs a buffered turn and returns once the reply is persisted.
func (s *TurnService) Send(ctx context.Context, in TurnInput) (TurnOutput, error) {
	return s.run(ctx, in, nil)
}

// Stream runs a turn that forwards reply chunks to sink as they arrive. The
// full reply is persisted once after the model finishes.
func (s *TurnService) Stream(ctx context.Context, in TurnInput, sink ChunkSink) (TurnOutput, error) {
	if sink == nil {
		return TurnOutput{}, newError(ErrorInternal, "missing_sink", errors.New("usecase: chunk sink must not be nil"))
	}
	return s.run(ctx, in, sink)
}

func (s *TurnService) run(ctx context.Context, in TurnInput, sink ChunkSink) (TurnOutput, error) {
	ctx, span := s.tracer.Start(ctx, "turn.run", trace.WithAttributes(
		attribute.Bool("turn.streaming", sink != nil),
		attribute.String("conversation.id", in.ConversationID),
	))
	defer span.End()

	out, err := s.runSteps(ctx, span, in, sink)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(CodeOf(err)))
	}
	return out, err
}

func (s *TurnService) runSteps(ctx context.Context, span trace.Span, in TurnInput, sink ChunkSink) (TurnOutput, error) {
	text := strings.TrimSpace(in.Text)
	if strings.TrimSpace(in.ConversationID) == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "missing_conversation_id", nil).withMessage("conversationId is required.")
	}
	if text == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "empty_content", nil).withMessage("content is required.")
	}
	if utf8.RuneCountInString(text) > s.cfg.MaxTextLen {
		return TurnOutput{}, newError(ErrorInvalidInput, "content_too_long", nil)
	}

	conv, err := ownedConversation(ctx, s.conversations, in.CallerID, in.ConversationID)
	if err != nil {
		return TurnOutput{}, err
	}

	userMsg, err := s.messages.AppendMessage(ctx, domain.Message{
		ID:             newUUID(),
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        text,
		CreatedAt:      s.now().UTC(),
	})
	if err != nil {
		return TurnOutput{}, storeError("user_message_write_error", err)
	}
	span.AddEvent("user_message_saved")

	persona, err := s.personas.GetPersona(ctx, conv.PersonaID)
	if err != nil {
		return TurnOutput{UserMessage: userMsg}, newError(ErrorConfigNotFound, "persona_not_found", err).
			withMessage("Persona configuration not found for this conversation.")
	}

	history, err := s.messages.ListRecentMessages(ctx, conv.ID, s.cfg.HistoryLimit+1)
	if err != nil {
		return TurnOutput{UserMessage: userMsg}, newError(ErrorInternal, "history_read_error", err)
	}
	history = historyWindow(history, userMsg.ID, s.cfg.HistoryLimit)
	span.SetAttributes(attribute.Int("turn.history_len", len(history)))

	req := domain.ChatRequest{
		Model:       s.cfg.Model,
		Temperature: s.cfg.Temperature,
		Messages:    buildPromptMessages(persona.SystemPrompt, text, history),
	}

	// The model call and the reply write outlive a disconnected caller so a
	// consumed completion is still recorded.
	detached := context.WithoutCancel(ctx)
	var (
		reply    string
		degraded bool
	)
	if sink == nil {
		reply, degraded = s.completeBuffered(detached, conv.ID, req)
	} else {
		req.Model = s.cfg.StreamModel
		reply, degraded = s.completeStreaming(detached, ctx, conv.ID, req, sink)
	}
	if degraded {
		span.AddEvent("model_degraded")
	}

	createdAt := s.now().UTC()
	if !createdAt.After(userMsg.CreatedAt) {
		createdAt = userMsg.CreatedAt.Add(time.Nanosecond)
	}
	assistant, err := s.messages.AppendMessage(detached, domain.Message{
		ID:             newUUID(),
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        reply,
		CreatedAt:      createdAt,
	})
	if err != nil {
		s.log.Error("assistant reply not persisted after model call",
			"conversation_id", conv.ID, "user_message_id", userMsg.ID, "error", err)
		return TurnOutput{UserMessage: userMsg}, newError(ErrorReplyNotPersisted, "assistant_message_write_error", err)
	}

	return TurnOutput{UserMessage: userMsg, AssistantMessage: assistant, Degraded: degraded}, nil
}

func (s *TurnService) completeBuffered(ctx context.Context, convID string, req domain.ChatRequest) (string, bool) {
	reply, err := s.llm.Chat(ctx, req)
	if err != nil {
		s.logModelFailure(convID, err)
		return FallbackReply, true
	}
	if strings.TrimSpace(reply) == "" {
		s.log.Warn("model returned empty completion", "conversation_id", convID)
		return FallbackReply, true
	}
	return reply, false
}

func (s *TurnService) completeStreaming(ctx, callerCtx context.Context, convID string, req domain.ChatRequest, sink ChunkSink) (string, bool) {
	fw := &forwarder{ctx: callerCtx, sink: sink, log: s.log, convID: convID}
	reply, err := s.llm.ChatStream(ctx, req, fw.deliver)
	switch {
	case err != nil && strings.TrimSpace(reply) != "":
		s.logModelFailure(convID, err)
		return reply, true
	case err != nil:
		s.logModelFailure(convID, err)
	case strings.TrimSpace(reply) != "":
		return reply, false
	default:
		s.log.Warn("model returned empty completion", "conversation_id", convID)
	}
	_ = fw.deliver(FallbackReply)
	return FallbackReply, true
}

func (s *TurnService) logModelFailure(convID string, err error) {
	kv := []any{"conversation_id", convID, "error", err}
	if status, ok := upstreamStatusCode(err); ok {
		kv = append(kv, "status", status)
	}
	s.log.Warn("model call failed, using fallback reply", kv...)
}

// forwarder relays chunks to the caller until the first delivery failure and
// then drops the rest, so the provider stream always runs to completion.
type forwarder struct {
	ctx     context.Context
	sink    ChunkSink
	log     *logger.Logger
	convID  string
	stopped bool
}

func (f *forwarder) deliver(chunk string) error {
	if f.stopped {
		return nil
	}
	if err := f.ctx.Err(); err != nil {
		f.stop(err)
		return nil
	}
	if err := f.sink.Deliver(f.ctx, chunk); err != nil {
		f.stop(err)
	}
	return nil
}

func (f *forwarder) stop(err error) {
	f.stopped = true
	f.log.Info("caller stopped receiving chunks, continuing to completion", "conversation_id", f.convID, "reason", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
