package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"persona-chat/internal/domain"
)

// timeLayout is fixed width so that lexical order equals chronological order
// in sort keys and TEXT columns.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func validatePersona(p domain.Persona) error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("repository: persona id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("repository: persona name is required")
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return errors.New("repository: persona system prompt is required")
	}
	return nil
}

func validateConversation(c domain.Conversation) error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("repository: conversation id is required")
	}
	if strings.TrimSpace(c.OwnerID) == "" {
		return errors.New("repository: conversation owner is required")
	}
	if strings.TrimSpace(c.PersonaID) == "" {
		return errors.New("repository: conversation persona is required")
	}
	return nil
}

func validateMessage(m domain.Message) error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("repository: message id is required")
	}
	if strings.TrimSpace(m.ConversationID) == "" {
		return errors.New("repository: message conversation id is required")
	}
	if !m.Role.Valid() {
		return fmt.Errorf("repository: invalid message role %q", m.Role)
	}
	return nil
}

// checkOwner enforces that only the owner of a user persona may change it.
func checkOwner(p domain.Persona, callerID string) error {
	if p.Predefined || p.OwnerID == "" || p.OwnerID != callerID {
		return domain.ErrForbidden
	}
	return nil
}

func reverseMessages(msgs []domain.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
