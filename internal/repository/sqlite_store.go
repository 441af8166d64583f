package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"persona-chat/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS personas (
	id            TEXT PRIMARY KEY,
	owner_id      TEXT,
	name          TEXT NOT NULL CHECK (length(trim(name)) > 0),
	description   TEXT NOT NULL DEFAULT '',
	avatar_url    TEXT NOT NULL DEFAULT '',
	system_prompt TEXT NOT NULL CHECK (length(trim(system_prompt)) > 0),
	is_predefined INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_personas_owner_name
	ON personas(owner_id, name) WHERE owner_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	persona_id TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_owner_created
	ON conversations(owner_id, created_at);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role            TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
	content         TEXT NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
	ON messages(conversation_id, created_at);
`

// SQLiteStore is the relational store backend. Conversations reference
// personas without a foreign key so that deleting a persona leaves its
// conversations readable.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("repository: create database directory: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---- Personas ----

const personaColumns = `id, owner_id, name, description, avatar_url, system_prompt, is_predefined, created_at`

func (s *SQLiteStore) ListPersonas(ctx context.Context, userID string) ([]domain.Persona, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+personaColumns+` FROM personas
		 WHERE owner_id IS NULL OR owner_id = ?
		 ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: ListPersonas: %w", err)
	}
	defer rows.Close()

	var out []domain.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: ListPersonas scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListPersonas rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetPersona(ctx context.Context, id string) (domain.Persona, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+personaColumns+` FROM personas WHERE id = ?`, id)
	p, err := scanPersona(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Persona{}, fmt.Errorf("repository: GetPersona %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Persona{}, fmt.Errorf("repository: GetPersona: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) CreatePersona(ctx context.Context, p domain.Persona) (domain.Persona, error) {
	if err := validatePersona(p); err != nil {
		return domain.Persona{}, err
	}
	if err := s.insertPersona(ctx, p); err != nil {
		if isConstraint(err, "UNIQUE") {
			return domain.Persona{}, fmt.Errorf("repository: CreatePersona: %w", domain.ErrConflict)
		}
		return domain.Persona{}, fmt.Errorf("repository: CreatePersona: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) insertPersona(ctx context.Context, p domain.Persona) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO personas (`+personaColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, nullString(p.OwnerID), p.Name, p.Description, p.AvatarURL, p.SystemPrompt,
		p.Predefined, formatTime(p.CreatedAt))
	return err
}

func (s *SQLiteStore) UpdatePersona(ctx context.Context, callerID, id string, patch domain.PersonaPatch) (domain.Persona, error) {
	current, err := s.GetPersona(ctx, id)
	if err != nil {
		return domain.Persona{}, err
	}
	if err := checkOwner(current, callerID); err != nil {
		return domain.Persona{}, fmt.Errorf("repository: UpdatePersona: %w", err)
	}
	updated := patch.Apply(current)
	if err := validatePersona(updated); err != nil {
		return domain.Persona{}, err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE personas SET name = ?, description = ?, avatar_url = ?, system_prompt = ?
		 WHERE id = ? AND owner_id = ?`,
		updated.Name, updated.Description, updated.AvatarURL, updated.SystemPrompt, id, callerID)
	if err != nil {
		if isConstraint(err, "UNIQUE") {
			return domain.Persona{}, fmt.Errorf("repository: UpdatePersona: %w", domain.ErrConflict)
		}
		return domain.Persona{}, fmt.Errorf("repository: UpdatePersona: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Persona{}, fmt.Errorf("repository: UpdatePersona: %w", domain.ErrForbidden)
	}
	return updated, nil
}

func (s *SQLiteStore) DeletePersona(ctx context.Context, callerID, id string) error {
	current, err := s.GetPersona(ctx, id)
	if err != nil {
		return err
	}
	if err := checkOwner(current, callerID); err != nil {
		return fmt.Errorf("repository: DeletePersona: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM personas WHERE id = ? AND owner_id = ?`, id, callerID)
	if err != nil {
		return fmt.Errorf("repository: DeletePersona: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("repository: DeletePersona: %w", domain.ErrForbidden)
	}
	return nil
}

// SeedPersonas inserts predefined personas that are not already present.
func (s *SQLiteStore) SeedPersonas(ctx context.Context, personas []domain.Persona) error {
	for _, p := range personas {
		if err := validatePersona(p); err != nil {
			return err
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO personas (`+personaColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			p.ID, nullString(p.OwnerID), p.Name, p.Description, p.AvatarURL, p.SystemPrompt,
			p.Predefined, formatTime(p.CreatedAt))
		if err != nil {
			return fmt.Errorf("repository: SeedPersonas %s: %w", p.ID, err)
		}
	}
	return nil
}

// ---- Conversations ----

func (s *SQLiteStore) CreateConversation(ctx context.Context, c domain.Conversation) (domain.Conversation, error) {
	if err := validateConversation(c); err != nil {
		return domain.Conversation{}, err
	}
	if _, err := s.GetPersona(ctx, c.PersonaID); err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: CreateConversation persona: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_id, persona_id, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.PersonaID, formatTime(c.CreatedAt))
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: CreateConversation: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, persona_id, created_at FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, ownerID string) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, persona_id, created_at FROM conversations
		 WHERE owner_id = ? ORDER BY created_at DESC, rowid DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("repository: ListConversations: %w", err)
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: ListConversations scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListConversations rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) LatestConversation(ctx context.Context, ownerID, personaID string) (domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, persona_id, created_at FROM conversations
		 WHERE owner_id = ? AND persona_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, ownerID, personaID)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Conversation{}, fmt.Errorf("repository: LatestConversation: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: LatestConversation: %w", err)
	}
	return c, nil
}

// ---- Messages ----

func (s *SQLiteStore) AppendMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	if err := validateMessage(m); err != nil {
		return domain.Message{}, err
	}
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, m.ConversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, fmt.Errorf("repository: AppendMessage conversation %s: %w", m.ConversationID, domain.ErrForeignKey)
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: AppendMessage: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, formatTime(m.CreatedAt))
	if err != nil {
		if isConstraint(err, "FOREIGN KEY") {
			return domain.Message{}, fmt.Errorf("repository: AppendMessage conversation %s: %w", m.ConversationID, domain.ErrForeignKey)
		}
		return domain.Message{}, fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	msgs, err := s.queryMessages(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: ListRecentMessages: %w", err)
	}
	reverseMessages(msgs)
	return msgs, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	msgs, err := s.queryMessages(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY created_at ASC, rowid ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("repository: ListMessages: %w", err)
	}
	return msgs, nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var (
			m       domain.Message
			role    string
			created string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- Helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPersona(r rowScanner) (domain.Persona, error) {
	var (
		p       domain.Persona
		owner   sql.NullString
		created string
	)
	if err := r.Scan(&p.ID, &owner, &p.Name, &p.Description, &p.AvatarURL, &p.SystemPrompt, &p.Predefined, &created); err != nil {
		return domain.Persona{}, err
	}
	p.OwnerID = owner.String
	t, err := parseTime(created)
	if err != nil {
		return domain.Persona{}, err
	}
	p.CreatedAt = t
	return p, nil
}

func scanConversation(r rowScanner) (domain.Conversation, error) {
	var (
		c       domain.Conversation
		created string
	)
	if err := r.Scan(&c.ID, &c.OwnerID, &c.PersonaID, &created); err != nil {
		return domain.Conversation{}, err
	}
	t, err := parseTime(created)
	if err != nil {
		return domain.Conversation{}, err
	}
	c.CreatedAt = t
	return c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isConstraint reports whether err is a SQLite constraint violation whose
// message mentions kind ("UNIQUE", "FOREIGN KEY").
func isConstraint(err error, kind string) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), kind)
	}
	return strings.Contains(err.Error(), kind+" constraint failed")
}
