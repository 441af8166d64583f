package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"persona-chat/internal/domain"
	"persona-chat/internal/logger"
	"persona-chat/internal/session"
	"persona-chat/internal/usecase"
)

type PersonaService interface {
	List(ctx context.Context, callerID string) ([]domain.Persona, error)
	Get(ctx context.Context, callerID, id string) (domain.Persona, error)
	Create(ctx context.Context, callerID string, in usecase.PersonaInput) (domain.Persona, error)
	Update(ctx context.Context, callerID, id string, patch domain.PersonaPatch) (domain.Persona, error)
	Delete(ctx context.Context, callerID, id string) error
}

type ConversationService interface {
	Start(ctx context.Context, callerID, personaID string, resume bool) (domain.Conversation, error)
	List(ctx context.Context, callerID string) ([]domain.Conversation, error)
	Thread(ctx context.Context, callerID, conversationID string) ([]domain.Message, error)
}

type TurnService interface {
	Send(ctx context.Context, in usecase.TurnInput) (usecase.TurnOutput, error)
	Stream(ctx context.Context, in usecase.TurnInput, sink usecase.ChunkSink) (usecase.TurnOutput, error)
}

// Handler serves the JSON and streaming API on top of the usecase services.
type Handler struct {
	personas      PersonaService
	conversations ConversationService
	turns         TurnService
	sessions      *session.Manager
	log           *logger.Logger
}

func NewHandler(p PersonaService, c ConversationService, t TurnService, sessions *session.Manager, log *logger.Logger) (*Handler, error) {
	if p == nil {
		return nil, errors.New("handler: persona service must not be nil")
	}
	if c == nil {
		return nil, errors.New("handler: conversation service must not be nil")
	}
	if t == nil {
		return nil, errors.New("handler: turn service must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("handler: session manager must not be nil")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		personas:      p,
		conversations: c,
		turns:         t,
		sessions:      sessions,
		log:           log.With("component", "handler"),
	}, nil
}

func callerID(c *gin.Context) string {
	id, _ := session.FromContext(c.Request.Context())
	return id.UserID
}
