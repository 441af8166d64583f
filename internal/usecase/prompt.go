package usecase

import (
	"strings"

	"persona-chat/internal/domain"
)

const defaultSystemPrompt = "You are a helpful assistant."

// buildPromptMessages assembles the model request: the persona's system
// prompt, then history oldest-first, then the new user message.
func buildPromptMessages(systemPrompt, text string, history []domain.Message) []domain.ChatMessage {
	systemPrompt = strings.TrimSpace(systemPrompt)
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{Role: string(domain.RoleSystem), Content: systemPrompt})

	for _, m := range history {
		if !m.Role.Valid() || strings.TrimSpace(m.Content) == "" {
			continue
		}
		messages = append(messages, domain.ChatMessage{Role: string(m.Role), Content: m.Content})
	}

	messages = append(messages, domain.ChatMessage{
		Role:    string(domain.RoleUser),
		Content: text,
	})
	return messages
}

// historyWindow drops the message with id exclude and keeps the newest limit
// entries of history, preserving oldest-first order.
func historyWindow(history []domain.Message, exclude string, limit int) []domain.Message {
	out := make([]domain.Message, 0, len(history))
	for _, m := range history {
		if m.ID == exclude {
			continue
		}
		out = append(out, m)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
