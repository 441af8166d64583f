package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"persona-chat/internal/domain"
)

func newConversationFixture(t *testing.T) (*ConversationService, *memStore) {
	t.Helper()
	store := newMemStore()
	store.personas["sys-1"] = domain.Persona{ID: "sys-1", Name: "Einstein", SystemPrompt: "Physics.", Predefined: true}
	store.personas["other-1"] = domain.Persona{ID: "other-1", OwnerID: "user-2", Name: "Secret", SystemPrompt: "Hidden."}

	svc, err := NewConversationService(store, store, store)
	require.NoError(t, err)
	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	return svc, store
}

func TestNewConversationService_ValidatesDependencies(t *testing.T) {
	store := newMemStore()
	_, err := NewConversationService(nil, store, store)
	require.Error(t, err)
	_, err = NewConversationService(store, nil, store)
	require.Error(t, err)
	_, err = NewConversationService(store, store, nil)
	require.Error(t, err)
}

func TestConversationStart_CreatesNew(t *testing.T) {
	svc, store := newConversationFixture(t)

	first, err := svc.Start(context.Background(), testCaller, "sys-1", false)
	require.NoError(t, err)
	require.Equal(t, testCaller, first.OwnerID)
	require.Equal(t, "sys-1", first.PersonaID)

	second, err := svc.Start(context.Background(), testCaller, "sys-1", false)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
	require.Len(t, store.conversations, 2)
}

func TestConversationStart_ResumeReturnsLatest(t *testing.T) {
	svc, store := newConversationFixture(t)

	resumed, err := svc.Start(context.Background(), testCaller, "sys-1", true)
	require.NoError(t, err)
	require.Len(t, store.conversations, 1)

	_, err = svc.Start(context.Background(), testCaller, "sys-1", false)
	require.NoError(t, err)
	latest, err := svc.Start(context.Background(), testCaller, "sys-1", false)
	require.NoError(t, err)

	again, err := svc.Start(context.Background(), testCaller, "sys-1", true)
	require.NoError(t, err)
	require.Equal(t, latest.ID, again.ID)
	require.NotEqual(t, resumed.ID, again.ID)
	require.Len(t, store.conversations, 3)
}

func TestConversationStart_Errors(t *testing.T) {
	svc, _ := newConversationFixture(t)

	_, err := svc.Start(context.Background(), testCaller, " ", false)
	expectTurnError(t, err, ErrorInvalidInput, "missing_persona_id")

	_, err = svc.Start(context.Background(), testCaller, "missing", false)
	expectTurnError(t, err, ErrorNotFound, "persona_lookup_error")

	_, err = svc.Start(context.Background(), testCaller, "other-1", false)
	expectTurnError(t, err, ErrorNotFound, "persona_not_visible")

	_, err = svc.Start(context.Background(), "", "sys-1", false)
	expectTurnError(t, err, ErrorUnauthenticated, "missing_identity")
}

func TestConversationList_OnlyOwn(t *testing.T) {
	svc, store := newConversationFixture(t)
	store.conversations["theirs"] = domain.Conversation{ID: "theirs", OwnerID: "user-2", PersonaID: "sys-1"}

	mine, err := svc.Start(context.Background(), testCaller, "sys-1", false)
	require.NoError(t, err)

	out, err := svc.List(context.Background(), testCaller)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, mine.ID, out[0].ID)
}

func TestConversationThread(t *testing.T) {
	svc, store := newConversationFixture(t)
	store.conversations["c-1"] = domain.Conversation{ID: "c-1", OwnerID: testCaller, PersonaID: "sys-1"}
	store.conversations["c-2"] = domain.Conversation{ID: "c-2", OwnerID: "user-2", PersonaID: "sys-1"}
	store.messages["c-1"] = []domain.Message{
		{ID: "m-1", ConversationID: "c-1", Role: domain.RoleUser, Content: "hi"},
		{ID: "m-2", ConversationID: "c-1", Role: domain.RoleAssistant, Content: "hello"},
	}

	msgs, err := svc.Thread(context.Background(), testCaller, "c-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "m-1", msgs[0].ID)

	_, err = svc.Thread(context.Background(), testCaller, "c-2")
	expectTurnError(t, err, ErrorNotFound, "conversation_not_owned")

	_, err = svc.Thread(context.Background(), testCaller, "")
	expectTurnError(t, err, ErrorInvalidInput, "missing_conversation_id")
}
