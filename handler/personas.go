package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"persona-chat/internal/domain"
	"persona-chat/internal/usecase"
)

type personaResponse struct {
	ID           string    `json:"id"`
	UserID       *string   `json:"user_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	AvatarURL    string    `json:"avatar_url"`
	SystemPrompt string    `json:"system_prompt"`
	IsPredefined bool      `json:"is_predefined"`
	CreatedAt    time.Time `json:"created_at"`
}

func toPersonaResponse(p domain.Persona) personaResponse {
	out := personaResponse{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		AvatarURL:    p.AvatarURL,
		SystemPrompt: p.SystemPrompt,
		IsPredefined: p.Predefined,
		CreatedAt:    p.CreatedAt,
	}
	if p.OwnerID != "" {
		owner := p.OwnerID
		out.UserID = &owner
	}
	return out
}

type createPersonaRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	AvatarURL    string `json:"avatar_url"`
	SystemPrompt string `json:"system_prompt"`
}

type updatePersonaRequest struct {
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	AvatarURL    *string `json:"avatar_url"`
	SystemPrompt *string `json:"system_prompt"`
}

func (h *Handler) ListPersonas(c *gin.Context) {
	personas, err := h.personas.List(c.Request.Context(), callerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]personaResponse, 0, len(personas))
	for _, p := range personas {
		out = append(out, toPersonaResponse(p))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetPersona(c *gin.Context) {
	p, err := h.personas.Get(c.Request.Context(), callerID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPersonaResponse(p))
}

func (h *Handler) CreatePersona(c *gin.Context) {
	var req createPersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}
	p, err := h.personas.Create(c.Request.Context(), callerID(c), usecase.PersonaInput{
		Name:         req.Name,
		Description:  req.Description,
		AvatarURL:    req.AvatarURL,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toPersonaResponse(p))
}

func (h *Handler) UpdatePersona(c *gin.Context) {
	var req updatePersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}
	p, err := h.personas.Update(c.Request.Context(), callerID(c), c.Param("id"), domain.PersonaPatch{
		Name:         req.Name,
		Description:  req.Description,
		AvatarURL:    req.AvatarURL,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPersonaResponse(p))
}

func (h *Handler) DeletePersona(c *gin.Context) {
	if err := h.personas.Delete(c.Request.Context(), callerID(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
