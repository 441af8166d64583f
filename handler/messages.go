package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"persona-chat/internal/domain"
	"persona-chat/internal/usecase"
)

type postMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Role           string `json:"role"`
}

type postMessageResponse struct {
	Message          string          `json:"message"`
	UserMessage      messageResponse `json:"userMessage"`
	AssistantMessage messageResponse `json:"assistantMessage"`
}

// PostMessage runs a buffered turn and returns both persisted messages.
func (h *Handler) PostMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}
	if strings.TrimSpace(req.ConversationID) == "" || strings.TrimSpace(req.Content) == "" || strings.TrimSpace(req.Role) == "" {
		h.respondError(c, &usecase.Error{
			Code:    usecase.ErrorInvalidInput,
			Reason:  "missing_fields",
			Message: "Missing required fields: conversationId, content, role",
		})
		return
	}
	if domain.Role(req.Role) != domain.RoleUser {
		h.respondError(c, &usecase.Error{
			Code:    usecase.ErrorInvalidInput,
			Reason:  "invalid_role",
			Message: "Only user messages can be created via this endpoint.",
		})
		return
	}

	out, err := h.turns.Send(c.Request.Context(), usecase.TurnInput{
		CallerID:       callerID(c),
		ConversationID: req.ConversationID,
		Text:           req.Content,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, postMessageResponse{
		Message:          "User message saved and assistant response generated",
		UserMessage:      toMessageResponse(out.UserMessage),
		AssistantMessage: toMessageResponse(out.AssistantMessage),
	})
}
