package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"persona-chat/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedConversation(t *testing.T, s *SQLiteStore, owner string) domain.Conversation {
	t.Helper()
	ctx := context.Background()
	p, err := s.CreatePersona(ctx, domain.Persona{
		ID: "p-" + owner, OwnerID: owner, Name: "Atlas", SystemPrompt: "You are Atlas", CreatedAt: testTime,
	})
	require.NoError(t, err)
	c, err := s.CreateConversation(ctx, domain.Conversation{ID: "c-" + owner, OwnerID: owner, PersonaID: p.ID, CreatedAt: testTime})
	require.NoError(t, err)
	return c
}

func TestSQLite_PersonaNameUniquePerOwner(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.CreatePersona(ctx, domain.Persona{ID: "a", OwnerID: "u-1", Name: "Atlas", SystemPrompt: "x", CreatedAt: testTime})
	require.NoError(t, err)

	_, err = s.CreatePersona(ctx, domain.Persona{ID: "b", OwnerID: "u-1", Name: "Atlas", SystemPrompt: "y", CreatedAt: testTime})
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = s.CreatePersona(ctx, domain.Persona{ID: "c", OwnerID: "u-2", Name: "Atlas", SystemPrompt: "z", CreatedAt: testTime})
	require.NoError(t, err)
}

func TestSQLite_ListPersonasVisibleToCaller(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	predefined, err := PredefinedPersonas()
	require.NoError(t, err)
	require.NoError(t, s.SeedPersonas(ctx, predefined))
	require.NoError(t, s.SeedPersonas(ctx, predefined), "seeding twice is a no-op")

	_, err = s.CreatePersona(ctx, domain.Persona{ID: "mine", OwnerID: "u-1", Name: "Mine", SystemPrompt: "x", CreatedAt: time.Now()})
	require.NoError(t, err)
	_, err = s.CreatePersona(ctx, domain.Persona{ID: "theirs", OwnerID: "u-2", Name: "Theirs", SystemPrompt: "x", CreatedAt: time.Now()})
	require.NoError(t, err)

	got, err := s.ListPersonas(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, got, len(predefined)+1)
	require.Equal(t, "11111111-1111-1111-1111-111111111111", got[0].ID)
	require.True(t, got[0].Predefined)
	require.Empty(t, got[0].OwnerID)
	require.Equal(t, "mine", got[len(got)-1].ID)
}

func TestSQLite_GetPersonaNotFound(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.GetPersona(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLite_UpdateAndDeleteRequireOwner(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	_, err := s.CreatePersona(ctx, domain.Persona{ID: "p", OwnerID: "u-1", Name: "Atlas", SystemPrompt: "x", CreatedAt: testTime})
	require.NoError(t, err)
	_, err = s.CreatePersona(ctx, domain.Persona{ID: "q", OwnerID: "u-1", Name: "Other", SystemPrompt: "x", CreatedAt: testTime})
	require.NoError(t, err)

	prompt := "You are Atlas 2"
	_, err = s.UpdatePersona(ctx, "u-2", "p", domain.PersonaPatch{SystemPrompt: &prompt})
	require.ErrorIs(t, err, domain.ErrForbidden)
	require.ErrorIs(t, s.DeletePersona(ctx, "u-2", "p"), domain.ErrForbidden)

	updated, err := s.UpdatePersona(ctx, "u-1", "p", domain.PersonaPatch{SystemPrompt: &prompt})
	require.NoError(t, err)
	require.Equal(t, "Atlas", updated.Name)
	require.Equal(t, prompt, updated.SystemPrompt)

	taken := "Other"
	_, err = s.UpdatePersona(ctx, "u-1", "p", domain.PersonaPatch{Name: &taken})
	require.ErrorIs(t, err, domain.ErrConflict)

	empty := " "
	_, err = s.UpdatePersona(ctx, "u-1", "p", domain.PersonaPatch{Name: &empty})
	require.Error(t, err)

	require.NoError(t, s.DeletePersona(ctx, "u-1", "p"))
	_, err = s.GetPersona(ctx, "p")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLite_PredefinedPersonaIsImmutable(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	predefined, err := PredefinedPersonas()
	require.NoError(t, err)
	require.NoError(t, s.SeedPersonas(ctx, predefined))

	name := "Hijacked"
	_, err = s.UpdatePersona(ctx, "u-1", predefined[0].ID, domain.PersonaPatch{Name: &name})
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestSQLite_ConversationsNewestFirst(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	_, err := s.CreatePersona(ctx, domain.Persona{ID: "p", OwnerID: "u-1", Name: "Atlas", SystemPrompt: "x", CreatedAt: testTime})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.CreateConversation(ctx, domain.Conversation{
			ID: fmt.Sprintf("c-%d", i), OwnerID: "u-1", PersonaID: "p", CreatedAt: testTime.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err = s.CreateConversation(ctx, domain.Conversation{ID: "other", OwnerID: "u-2", PersonaID: "p", CreatedAt: testTime})
	require.NoError(t, err)

	got, err := s.ListConversations(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []string{"c-2", "c-1", "c-0"}, []string{got[0].ID, got[1].ID, got[2].ID})

	latest, err := s.LatestConversation(ctx, "u-1", "p")
	require.NoError(t, err)
	require.Equal(t, "c-2", latest.ID)

	_, err = s.LatestConversation(ctx, "u-3", "p")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLite_CreateConversationRequiresPersona(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.CreateConversation(context.Background(), domain.Conversation{ID: "c", OwnerID: "u-1", PersonaID: "nope", CreatedAt: testTime})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLite_AppendMessageUnknownConversation(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.AppendMessage(context.Background(), domain.Message{ID: "m", ConversationID: "nope", Role: domain.RoleUser, Content: "hi", CreatedAt: testTime})
	require.ErrorIs(t, err, domain.ErrForeignKey)
}

func TestSQLite_RecentWindowOldestFirst(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	conv := seedConversation(t, s, "u-1")

	for i := 0; i < 15; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		_, err := s.AppendMessage(ctx, domain.Message{
			ID: fmt.Sprintf("m-%02d", i), ConversationID: conv.ID, Role: role,
			Content: fmt.Sprintf("msg %d", i), CreatedAt: testTime.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	recent, err := s.ListRecentMessages(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	require.Equal(t, "m-05", recent[0].ID)
	require.Equal(t, "m-14", recent[9].ID)
	for i := 1; i < len(recent); i++ {
		require.True(t, recent[i-1].CreatedAt.Before(recent[i].CreatedAt))
	}

	all, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, all, 15)
	require.Equal(t, "m-00", all[0].ID)
}

func TestSQLite_SameTimestampKeepsInsertOrder(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	conv := seedConversation(t, s, "u-1")

	for _, id := range []string{"z-user", "a-assistant"} {
		role := domain.RoleUser
		if id == "a-assistant" {
			role = domain.RoleAssistant
		}
		_, err := s.AppendMessage(ctx, domain.Message{ID: id, ConversationID: conv.ID, Role: role, Content: id, CreatedAt: testTime})
		require.NoError(t, err)
	}

	recent, err := s.ListRecentMessages(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Equal(t, domain.RoleUser, recent[0].Role)
	require.Equal(t, domain.RoleAssistant, recent[1].Role)
}
