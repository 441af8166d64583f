package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"persona-chat/internal/domain"
)

type startConversationRequest struct {
	PersonaID string `json:"personaId" binding:"required"`
	Resume    bool   `json:"resume"`
}

type conversationResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	PersonaID string    `json:"persona_id"`
}

type messageResponse struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	ConversationID string    `json:"conversation_id"`
}

func toMessageResponse(m domain.Message) messageResponse {
	return messageResponse{
		ID:             m.ID,
		Content:        m.Content,
		Role:           string(m.Role),
		CreatedAt:      m.CreatedAt,
		ConversationID: m.ConversationID,
	}
}

func (h *Handler) StartConversation(c *gin.Context) {
	var req startConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}
	conv, err := h.conversations.Start(c.Request.Context(), callerID(c), req.PersonaID, req.Resume)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversationId": conv.ID})
}

func (h *Handler) ListConversations(c *gin.Context) {
	convs, err := h.conversations.List(c.Request.Context(), callerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]conversationResponse, 0, len(convs))
	for _, conv := range convs {
		out = append(out, conversationResponse{ID: conv.ID, CreatedAt: conv.CreatedAt, PersonaID: conv.PersonaID})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ConversationMessages(c *gin.Context) {
	msgs, err := h.conversations.Thread(c.Request.Context(), callerID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	c.JSON(http.StatusOK, out)
}
