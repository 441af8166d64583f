package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"persona-chat/internal/domain"
)

// memStore is an in-memory persona, conversation and message store.
type memStore struct {
	mu            sync.Mutex
	personas      map[string]domain.Persona
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message

	appendErrFor map[domain.Role]error
	listErr      error
	appendCalls  int
}

func newMemStore() *memStore {
	return &memStore{
		personas:      map[string]domain.Persona{},
		conversations: map[string]domain.Conversation{},
		messages:      map[string][]domain.Message{},
		appendErrFor:  map[domain.Role]error{},
	}
}

func (s *memStore) ListPersonas(_ context.Context, userID string) ([]domain.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Persona
	for _, p := range s.personas {
		if p.VisibleTo(userID) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) GetPersona(_ context.Context, id string) (domain.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.personas[id]
	if !ok {
		return domain.Persona{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memStore) CreatePersona(_ context.Context, p domain.Persona) (domain.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.personas {
		if existing.OwnerID != "" && existing.OwnerID == p.OwnerID && strings.EqualFold(existing.Name, p.Name) {
			return domain.Persona{}, domain.ErrConflict
		}
	}
	s.personas[p.ID] = p
	return p, nil
}

func (s *memStore) UpdatePersona(_ context.Context, callerID, id string, patch domain.PersonaPatch) (domain.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.personas[id]
	if !ok {
		return domain.Persona{}, domain.ErrNotFound
	}
	if p.Predefined || p.OwnerID != callerID {
		return domain.Persona{}, domain.ErrForbidden
	}
	updated := patch.Apply(p)
	for _, existing := range s.personas {
		if existing.ID != id && existing.OwnerID == callerID && strings.EqualFold(existing.Name, updated.Name) {
			return domain.Persona{}, domain.ErrConflict
		}
	}
	s.personas[id] = updated
	return updated, nil
}

func (s *memStore) DeletePersona(_ context.Context, callerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.personas[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Predefined || p.OwnerID != callerID {
		return domain.ErrForbidden
	}
	delete(s.personas, id)
	return nil
}

func (s *memStore) CreateConversation(_ context.Context, c domain.Conversation) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	return c, nil
}

func (s *memStore) GetConversation(_ context.Context, id string) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return domain.Conversation{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *memStore) ListConversations(_ context.Context, ownerID string) ([]domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Conversation
	for _, c := range s.conversations {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) LatestConversation(ctx context.Context, ownerID, personaID string) (domain.Conversation, error) {
	all, _ := s.ListConversations(ctx, ownerID)
	for _, c := range all {
		if c.PersonaID == personaID {
			return c, nil
		}
	}
	return domain.Conversation{}, domain.ErrNotFound
}

func (s *memStore) AppendMessage(_ context.Context, m domain.Message) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendCalls++
	if err := s.appendErrFor[m.Role]; err != nil {
		return domain.Message{}, err
	}
	if _, ok := s.conversations[m.ConversationID]; !ok {
		return domain.Message{}, domain.ErrForeignKey
	}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], m)
	return m, nil
}

func (s *memStore) ListRecentMessages(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	msgs := s.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.Message(nil), msgs...), nil
}

func (s *memStore) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]domain.Message(nil), s.messages[conversationID]...), nil
}

func (s *memStore) thread(conversationID string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages[conversationID]...)
}

type mockLLM struct {
	mu       sync.Mutex
	answer   string
	deltas   []string
	err      error
	calls    int
	captured domain.ChatRequest
}

func (m *mockLLM) Chat(_ context.Context, req domain.ChatRequest) (string, error) {
	m.mu.Lock()
	m.calls++
	m.captured = req
	m.mu.Unlock()
	return m.answer, m.err
}

func (m *mockLLM) ChatStream(ctx context.Context, req domain.ChatRequest, onDelta func(string) error) (string, error) {
	m.mu.Lock()
	m.calls++
	m.captured = req
	m.mu.Unlock()
	var out strings.Builder
	for _, d := range m.deltas {
		if err := ctx.Err(); err != nil {
			return out.String(), err
		}
		out.WriteString(d)
		if err := onDelta(d); err != nil {
			return out.String(), err
		}
	}
	return out.String(), m.err
}

type recordingSink struct {
	chunks []string
	failAt int
	err    error
}

func (s *recordingSink) Deliver(_ context.Context, chunk string) error {
	if s.err != nil && len(s.chunks) >= s.failAt {
		return s.err
	}
	s.chunks = append(s.chunks, chunk)
	return nil
}

var errWriteFailed = errors.New("write failed")
