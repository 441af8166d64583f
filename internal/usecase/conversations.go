package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"persona-chat/internal/domain"
)

type ConversationStore interface {
	CreateConversation(ctx context.Context, c domain.Conversation) (domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (domain.Conversation, error)
	ListConversations(ctx context.Context, ownerID string) ([]domain.Conversation, error)
	LatestConversation(ctx context.Context, ownerID, personaID string) (domain.Conversation, error)
}

// MessageStore appends and reads conversation messages. AppendMessage returns
// domain.ErrForeignKey when the conversation does not exist. Reads are
// oldest-first.
type MessageStore interface {
	AppendMessage(ctx context.Context, m domain.Message) (domain.Message, error)
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
}

type ConversationService struct {
	conversations ConversationStore
	personas      PersonaStore
	messages      MessageStore
	now           func() time.Time
}

func NewConversationService(c ConversationStore, p PersonaStore, m MessageStore) (*ConversationService, error) {
	if c == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if p == nil {
		return nil, errors.New("usecase: persona store must not be nil")
	}
	if m == nil {
		return nil, errors.New("usecase: message store must not be nil")
	}
	return &ConversationService{conversations: c, personas: p, messages: m, now: time.Now}, nil
}

// Start creates a conversation with personaID. With resume set, the caller's
// latest conversation with that persona is returned instead when one exists.
func (s *ConversationService) Start(ctx context.Context, callerID, personaID string, resume bool) (domain.Conversation, error) {
	if err := requireCaller(callerID); err != nil {
		return domain.Conversation{}, err
	}
	personaID = strings.TrimSpace(personaID)
	if personaID == "" {
		return domain.Conversation{}, newError(ErrorInvalidInput, "missing_persona_id", nil).withMessage("personaId is required.")
	}

	p, err := s.personas.GetPersona(ctx, personaID)
	if err != nil {
		return domain.Conversation{}, storeError("persona_lookup_error", err)
	}
	if !p.VisibleTo(callerID) {
		return domain.Conversation{}, newError(ErrorNotFound, "persona_not_visible", nil)
	}

	if resume {
		latest, err := s.conversations.LatestConversation(ctx, callerID, personaID)
		if err == nil {
			return latest, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Conversation{}, newError(ErrorInternal, "conversation_lookup_error", err)
		}
	}

	c, err := s.conversations.CreateConversation(ctx, domain.Conversation{
		ID:        newUUID(),
		OwnerID:   callerID,
		PersonaID: personaID,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return domain.Conversation{}, storeError("conversation_create_error", err)
	}
	return c, nil
}

// List returns the caller's conversations, newest first.
func (s *ConversationService) List(ctx context.Context, callerID string) ([]domain.Conversation, error) {
	if err := requireCaller(callerID); err != nil {
		return nil, err
	}
	out, err := s.conversations.ListConversations(ctx, callerID)
	if err != nil {
		return nil, newError(ErrorInternal, "conversation_list_error", err)
	}
	return out, nil
}

// Thread returns every message of a conversation owned by the caller.
func (s *ConversationService) Thread(ctx context.Context, callerID, conversationID string) ([]domain.Message, error) {
	if _, err := ownedConversation(ctx, s.conversations, callerID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, newError(ErrorInternal, "message_list_error", err)
	}
	return msgs, nil
}

// ownedConversation loads a conversation and hides other users' conversations
// behind NOT_FOUND.
func ownedConversation(ctx context.Context, store ConversationStore, callerID, conversationID string) (domain.Conversation, error) {
	if err := requireCaller(callerID); err != nil {
		return domain.Conversation{}, err
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return domain.Conversation{}, newError(ErrorInvalidInput, "missing_conversation_id", nil).withMessage("conversationId is required.")
	}
	c, err := store.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, storeError("conversation_lookup_error", err)
	}
	if c.OwnerID != callerID {
		return domain.Conversation{}, newError(ErrorNotFound, "conversation_not_owned", nil)
	}
	return c, nil
}
