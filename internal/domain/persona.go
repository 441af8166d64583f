package domain

import "time"

// Persona is a named system-prompt configuration. An empty OwnerID marks a
// system-provided persona.
type Persona struct {
	ID           string
	OwnerID      string
	Name         string
	Description  string
	AvatarURL    string
	SystemPrompt string
	Predefined   bool
	CreatedAt    time.Time
}

// VisibleTo reports whether userID may read the persona.
func (p Persona) VisibleTo(userID string) bool {
	return p.OwnerID == "" || p.OwnerID == userID
}

// PersonaPatch carries a partial persona update. Nil fields are left unchanged.
type PersonaPatch struct {
	Name         *string
	Description  *string
	AvatarURL    *string
	SystemPrompt *string
}

// Empty reports whether the patch changes nothing.
func (p PersonaPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.AvatarURL == nil && p.SystemPrompt == nil
}

// Apply returns a copy of persona with the patch applied.
func (p PersonaPatch) Apply(persona Persona) Persona {
	if p.Name != nil {
		persona.Name = *p.Name
	}
	if p.Description != nil {
		persona.Description = *p.Description
	}
	if p.AvatarURL != nil {
		persona.AvatarURL = *p.AvatarURL
	}
	if p.SystemPrompt != nil {
		persona.SystemPrompt = *p.SystemPrompt
	}
	return persona
}
