package repository

import (
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"persona-chat/internal/domain"
)

//go:embed predefined_personas.yaml
var predefinedPersonasYAML []byte

type predefinedFile struct {
	Personas []predefinedPersona `yaml:"personas"`
}

type predefinedPersona struct {
	ID           string    `yaml:"id"`
	Name         string    `yaml:"name"`
	Description  string    `yaml:"description"`
	AvatarURL    string    `yaml:"avatar_url"`
	SystemPrompt string    `yaml:"system_prompt"`
	CreatedAt    time.Time `yaml:"created_at"`
}

// PredefinedPersonas returns the system personas shipped with the binary.
func PredefinedPersonas() ([]domain.Persona, error) {
	return parsePredefined(predefinedPersonasYAML)
}

func parsePredefined(raw []byte) ([]domain.Persona, error) {
	var f predefinedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("repository: decode predefined personas: %w", err)
	}
	out := make([]domain.Persona, 0, len(f.Personas))
	seen := make(map[string]bool, len(f.Personas))
	for _, p := range f.Personas {
		persona := domain.Persona{
			ID:           p.ID,
			Name:         p.Name,
			Description:  p.Description,
			AvatarURL:    p.AvatarURL,
			SystemPrompt: p.SystemPrompt,
			Predefined:   true,
			CreatedAt:    p.CreatedAt.UTC(),
		}
		if err := validatePersona(persona); err != nil {
			return nil, fmt.Errorf("repository: predefined persona %q: %w", p.Name, err)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("repository: duplicate predefined persona id %s", p.ID)
		}
		seen[p.ID] = true
		out = append(out, persona)
	}
	return out, nil
}
