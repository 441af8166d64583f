package usecase

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"persona-chat/internal/domain"
)

const (
	maxPersonaNameLen   = 100
	maxSystemPromptLen  = 8000
	maxDescriptionLen   = 500
	duplicatePersonaMsg = "A persona with this name already exists for your account."
)

// PersonaStore is the persona persistence contract. Update and Delete enforce
// caller ownership and return domain.ErrForbidden otherwise.
type PersonaStore interface {
	ListPersonas(ctx context.Context, userID string) ([]domain.Persona, error)
	GetPersona(ctx context.Context, id string) (domain.Persona, error)
	CreatePersona(ctx context.Context, p domain.Persona) (domain.Persona, error)
	UpdatePersona(ctx context.Context, callerID, id string, patch domain.PersonaPatch) (domain.Persona, error)
	DeletePersona(ctx context.Context, callerID, id string) error
}

type PersonaService struct {
	store PersonaStore
	now   func() time.Time
}

type PersonaInput struct {
	Name         string
	Description  string
	AvatarURL    string
	SystemPrompt string
}

func NewPersonaService(store PersonaStore) (*PersonaService, error) {
	if store == nil {
		return nil, errors.New("usecase: persona store must not be nil")
	}
	return &PersonaService{store: store, now: time.Now}, nil
}

// List returns predefined personas plus the caller's own.
func (s *PersonaService) List(ctx context.Context, callerID string) ([]domain.Persona, error) {
	if err := requireCaller(callerID); err != nil {
		return nil, err
	}
	personas, err := s.store.ListPersonas(ctx, callerID)
	if err != nil {
		return nil, newError(ErrorInternal, "persona_list_error", err)
	}
	return personas, nil
}

// Get returns a persona visible to the caller. Personas owned by someone else
// are reported as not found.
func (s *PersonaService) Get(ctx context.Context, callerID, id string) (domain.Persona, error) {
	if err := requireCaller(callerID); err != nil {
		return domain.Persona{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Persona{}, newError(ErrorInvalidInput, "missing_persona_id", nil)
	}
	p, err := s.store.GetPersona(ctx, id)
	if err != nil {
		return domain.Persona{}, storeError("persona_lookup_error", err)
	}
	if !p.VisibleTo(callerID) {
		return domain.Persona{}, newError(ErrorNotFound, "persona_not_visible", nil)
	}
	return p, nil
}

func (s *PersonaService) Create(ctx context.Context, callerID string, in PersonaInput) (domain.Persona, error) {
	if err := requireCaller(callerID); err != nil {
		return domain.Persona{}, err
	}
	p := domain.Persona{
		ID:           newUUID(),
		OwnerID:      callerID,
		Name:         strings.TrimSpace(in.Name),
		Description:  strings.TrimSpace(in.Description),
		AvatarURL:    strings.TrimSpace(in.AvatarURL),
		SystemPrompt: strings.TrimSpace(in.SystemPrompt),
		CreatedAt:    s.now().UTC(),
	}
	if err := validatePersonaFields(p); err != nil {
		return domain.Persona{}, err
	}

	created, err := s.store.CreatePersona(ctx, p)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.Persona{}, newError(ErrorConflict, "duplicate_persona_name", err).withMessage(duplicatePersonaMsg)
		}
		return domain.Persona{}, newError(ErrorInternal, "persona_create_error", err)
	}
	return created, nil
}

// Update applies a partial update to a persona owned by the caller.
func (s *PersonaService) Update(ctx context.Context, callerID, id string, patch domain.PersonaPatch) (domain.Persona, error) {
	if err := requireCaller(callerID); err != nil {
		return domain.Persona{}, err
	}
	if strings.TrimSpace(id) == "" {
		return domain.Persona{}, newError(ErrorInvalidInput, "missing_persona_id", nil)
	}
	if patch.Empty() {
		return domain.Persona{}, newError(ErrorInvalidInput, "empty_patch", nil)
	}
	patch = trimPatch(patch)
	if err := validatePersonaFields(patch.Apply(domain.Persona{Name: "-", SystemPrompt: "-"})); err != nil {
		return domain.Persona{}, err
	}

	updated, err := s.store.UpdatePersona(ctx, callerID, id, patch)
	if err != nil {
		e := storeError("persona_update_error", err)
		if e.Code == ErrorConflict {
			e = e.withMessage(duplicatePersonaMsg)
		}
		return domain.Persona{}, e
	}
	return updated, nil
}

func (s *PersonaService) Delete(ctx context.Context, callerID, id string) error {
	if err := requireCaller(callerID); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return newError(ErrorInvalidInput, "missing_persona_id", nil)
	}
	if err := s.store.DeletePersona(ctx, callerID, id); err != nil {
		return storeError("persona_delete_error", err)
	}
	return nil
}

func validatePersonaFields(p domain.Persona) error {
	switch {
	case p.Name == "":
		return newError(ErrorInvalidInput, "missing_name", nil).withMessage("Name is required.")
	case p.SystemPrompt == "":
		return newError(ErrorInvalidInput, "missing_system_prompt", nil).withMessage("System prompt is required.")
	case utf8.RuneCountInString(p.Name) > maxPersonaNameLen:
		return newError(ErrorInvalidInput, "name_too_long", nil)
	case utf8.RuneCountInString(p.SystemPrompt) > maxSystemPromptLen:
		return newError(ErrorInvalidInput, "system_prompt_too_long", nil)
	case utf8.RuneCountInString(p.Description) > maxDescriptionLen:
		return newError(ErrorInvalidInput, "description_too_long", nil)
	}
	return nil
}

func trimPatch(p domain.PersonaPatch) domain.PersonaPatch {
	trim := func(s *string) *string {
		if s == nil {
			return nil
		}
		v := strings.TrimSpace(*s)
		return &v
	}
	return domain.PersonaPatch{
		Name:         trim(p.Name),
		Description:  trim(p.Description),
		AvatarURL:    trim(p.AvatarURL),
		SystemPrompt: trim(p.SystemPrompt),
	}
}

func requireCaller(callerID string) error {
	if strings.TrimSpace(callerID) == "" {
		return newError(ErrorUnauthenticated, "missing_identity", nil)
	}
	return nil
}
