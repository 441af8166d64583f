package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"persona-chat/internal/domain"
	"persona-chat/internal/usecase"
)

type chatRequest struct {
	ConversationID string               `json:"conversationId"`
	Content        string               `json:"content"`
	Messages       []domain.ChatMessage `json:"messages"`
	// SystemPrompt is accepted from older clients and ignored.
	SystemPrompt string `json:"systemPrompt"`
}

// text returns the new user text: content when set, otherwise the last user
// entry of messages.
func (r chatRequest) text() string {
	if strings.TrimSpace(r.Content) != "" {
		return r.Content
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == string(domain.RoleUser) {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Chat runs a streaming turn over server-sent events. Errors raised before the
// first chunk are plain JSON responses. Later errors arrive as an error event.
func (h *Handler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}

	sink := &sseSink{w: c.Writer}
	out, err := h.turns.Stream(c.Request.Context(), usecase.TurnInput{
		CallerID:       callerID(c),
		ConversationID: req.ConversationID,
		Text:           req.text(),
	}, sink)
	if err != nil {
		if !sink.started {
			h.respondError(c, err)
			return
		}
		h.log.Error("stream turn failed after first chunk", "error", err, "correlation_id", correlationID(c))
		code := usecase.CodeOf(err)
		_ = sink.event("error", errorResponse{Error: errorMessage(err, code, statusFor(code)), Code: string(code)})
		return
	}

	sink.start()
	if err := sink.event("done", toMessageResponse(out.AssistantMessage)); err != nil {
		h.log.Info("client gone before done event", "error", err, "correlation_id", correlationID(c))
	}
}

// sseSink writes chunks as "delta" events. Headers go out with the first
// event so earlier failures can still use a JSON status response.
type sseSink struct {
	w       gin.ResponseWriter
	started bool
}

func (s *sseSink) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

func (s *sseSink) Deliver(ctx context.Context, chunk string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.start()
	return s.event("delta", map[string]string{"content": chunk})
}

func (s *sseSink) event(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("handler: encode %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}
