// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides persona, conversation and message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	inMemory := path == ":memory:"
	if !inMemory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// foreign_keys is per-connection, so it goes in the DSN rather than a one-off PRAGMA
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if inMemory {
		// Every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS personas (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			avatar TEXT,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS direct_conversations (
			id TEXT PRIMARY KEY,
			persona_id TEXT NOT NULL REFERENCES personas(id),
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_direct_conversations_persona
			ON direct_conversations(persona_id);

		CREATE TABLE IF NOT EXISTS group_conversations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS group_participants (
			group_id TEXT NOT NULL REFERENCES group_conversations(id) ON DELETE CASCADE,
			persona_id TEXT NOT NULL REFERENCES personas(id),
			position INTEGER NOT NULL,
			PRIMARY KEY (group_id, persona_id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			author_kind TEXT NOT NULL,
			author_id TEXT NOT NULL,
			dm_id TEXT REFERENCES direct_conversations(id) ON DELETE CASCADE,
			group_id TEXT REFERENCES group_conversations(id) ON DELETE CASCADE,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			CHECK (author_kind IN ('user', 'persona')),
			CHECK ((dm_id IS NULL) <> (group_id IS NULL))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_dm_created
			ON messages(dm_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_messages_group_created
			ON messages(group_id, created_at);

		-- No foreign keys: log entries outlive the personas and messages they mention
		CREATE TABLE IF NOT EXISTS generation_log (
			id TEXT PRIMARY KEY,
			persona_id TEXT NOT NULL,
			conversation_kind TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			message_id TEXT,
			model TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			prompt TEXT NOT NULL DEFAULT '',
			temperature REAL NOT NULL DEFAULT 0,
			response TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error TEXT,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_generation_log_persona_created
			ON generation_log(persona_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE, CHECK or FOREIGN KEY violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreatePersona inserts a persona.
func (s *SQLiteStore) CreatePersona(ctx context.Context, p *Persona) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO personas (id, name, description, avatar, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Description, nullString(p.Avatar), formatTime(p.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting persona: %w", err)
	}

	s.logger.Debug("created persona", "id", p.ID, "name", p.Name)
	return nil
}

// GetPersona retrieves a persona by ID.
// Returns ErrNotFound if the persona doesn't exist.
func (s *SQLiteStore) GetPersona(ctx context.Context, id string) (*Persona, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, avatar, created_at
		FROM personas
		WHERE id = ?
	`, id)
	return scanPersona(row)
}

// ListPersonas returns every persona ordered by creation time.
func (s *SQLiteStore) ListPersonas(ctx context.Context) ([]*Persona, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, avatar, created_at
		FROM personas
		ORDER BY created_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying personas: %w", err)
	}
	defer rows.Close()

	var personas []*Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, err
		}
		personas = append(personas, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating persona rows: %w", err)
	}
	return personas, nil
}

// DeletePersona removes a persona. Returns ErrConflict while a conversation still references it.
func (s *SQLiteStore) DeletePersona(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM personas WHERE id = ?`, id)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("deleting persona: %w", err)
	}
	return requireAffected(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPersona(row scanner) (*Persona, error) {
	var p Persona
	var avatar sql.NullString
	var createdAt string
	err := row.Scan(&p.ID, &p.Name, &p.Description, &avatar, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning persona: %w", err)
	}
	p.Avatar = avatar.String
	p.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing persona created_at: %w", err)
	}
	return &p, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateDirectConversation inserts a DM. The persona must exist.
func (s *SQLiteStore) CreateDirectConversation(ctx context.Context, dm *DirectConversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO direct_conversations (id, persona_id, created_at)
		VALUES (?, ?, ?)
	`, dm.ID, dm.PersonaID, formatTime(dm.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting direct conversation: %w", err)
	}

	s.logger.Debug("created direct conversation", "id", dm.ID, "persona_id", dm.PersonaID)
	return nil
}

// GetDirectConversation retrieves a DM by ID.
func (s *SQLiteStore) GetDirectConversation(ctx context.Context, id string) (*DirectConversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, persona_id, created_at
		FROM direct_conversations
		WHERE id = ?
	`, id)
	return scanDirectConversation(row)
}

// ListDirectConversations returns every DM ordered by creation time.
func (s *SQLiteStore) ListDirectConversations(ctx context.Context) ([]*DirectConversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, persona_id, created_at
		FROM direct_conversations
		ORDER BY created_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying direct conversations: %w", err)
	}
	defer rows.Close()

	var dms []*DirectConversation
	for rows.Next() {
		dm, err := scanDirectConversation(rows)
		if err != nil {
			return nil, err
		}
		dms = append(dms, dm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating direct conversation rows: %w", err)
	}
	return dms, nil
}

// DeleteDirectConversation removes a DM and, by cascade, its messages.
func (s *SQLiteStore) DeleteDirectConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM direct_conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting direct conversation: %w", err)
	}
	return requireAffected(res)
}

func scanDirectConversation(row scanner) (*DirectConversation, error) {
	var dm DirectConversation
	var createdAt string
	err := row.Scan(&dm.ID, &dm.PersonaID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning direct conversation: %w", err)
	}
	dm.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing direct conversation created_at: %w", err)
	}
	return &dm, nil
}

// CreateGroupConversation inserts a group and its participant rows in one transaction.
func (s *SQLiteStore) CreateGroupConversation(ctx context.Context, g *GroupConversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO group_conversations (id, name, created_at)
		VALUES (?, ?, ?)
	`, g.ID, g.Name, formatTime(g.CreatedAt)); err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting group conversation: %w", err)
	}

	for i, personaID := range g.ParticipantIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_participants (group_id, persona_id, position)
			VALUES (?, ?, ?)
		`, g.ID, personaID, i); err != nil {
			if isConstraintViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("inserting group participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing group conversation: %w", err)
	}

	s.logger.Debug("created group conversation", "id", g.ID, "participants", len(g.ParticipantIDs))
	return nil
}

// GetGroupConversation retrieves a group with its participants in join order.
func (s *SQLiteStore) GetGroupConversation(ctx context.Context, id string) (*GroupConversation, error) {
	var g GroupConversation
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at
		FROM group_conversations
		WHERE id = ?
	`, id).Scan(&g.ID, &g.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying group conversation: %w", err)
	}
	g.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing group created_at: %w", err)
	}

	g.ParticipantIDs, err = s.groupParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGroupConversations returns every group ordered by creation time.
func (s *SQLiteStore) ListGroupConversations(ctx context.Context) ([]*GroupConversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at
		FROM group_conversations
		ORDER BY created_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying group conversations: %w", err)
	}

	var groups []*GroupConversation
	for rows.Next() {
		var g GroupConversation
		var createdAt string
		if err := rows.Scan(&g.ID, &g.Name, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning group conversation: %w", err)
		}
		g.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("parsing group created_at: %w", err)
		}
		groups = append(groups, &g)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating group rows: %w", err)
	}
	// Close before the per-group queries; :memory: stores only have one connection
	rows.Close()

	for _, g := range groups {
		g.ParticipantIDs, err = s.groupParticipants(ctx, g.ID)
		if err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// DeleteGroupConversation removes a group, its participants and its messages.
func (s *SQLiteStore) DeleteGroupConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM group_conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting group conversation: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) groupParticipants(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT persona_id
		FROM group_participants
		WHERE group_id = ?
		ORDER BY position ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying group participants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning group participant: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating group participants: %w", err)
	}
	return ids, nil
}

// GetConversationParticipants returns the persona ids taking part in a conversation.
func (s *SQLiteStore) GetConversationParticipants(ctx context.Context, ref ConversationRef) ([]string, error) {
	switch ref.Kind {
	case KindDM:
		dm, err := s.GetDirectConversation(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return []string{dm.PersonaID}, nil
	case KindGroup:
		g, err := s.GetGroupConversation(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return g.ParticipantIDs, nil
	default:
		return nil, fmt.Errorf("unknown conversation kind %q", ref.Kind)
	}
}

// refColumns splits a ref into the (dm_id, group_id) column pair.
func refColumns(ref ConversationRef) (dmID, groupID any) {
	if ref.Kind == KindDM {
		return ref.ID, nil
	}
	return nil, ref.ID
}

// SaveMessage saves a message to the database
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = msg.CreatedAt
	}
	dmID, groupID := refColumns(msg.Conversation)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, content, author_kind, author_id, dm_id, group_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.Content,
		string(msg.AuthorKind),
		msg.AuthorID,
		dmID,
		groupID,
		formatTime(msg.CreatedAt),
		formatTime(msg.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "channel", msg.Conversation.Channel(), "author_kind", msg.AuthorKind)
	return nil
}

const messageColumns = `id, content, author_kind, author_id, dm_id, group_id, created_at, updated_at`

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// UpdateMessageContent replaces a message's content.
func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, id, content string, updatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, updated_at = ? WHERE id = ?
	`, content, formatTime(updatedAt), id)
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	return requireAffected(res)
}

// DeleteMessage removes a message.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return requireAffected(res)
}

// ListMessages returns the most recent limit messages of a conversation, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, ref ConversationRef, limit int) ([]*Message, error) {
	limit = normalizeLimit(limit)

	column := "group_id"
	if ref.Kind == KindDM {
		column = "dm_id"
	}

	// Newest N first, then reversed so callers get chronological order
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE `+column+` = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, ref.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func scanMessage(row scanner) (*Message, error) {
	var msg Message
	var authorKind, createdAt, updatedAt string
	var dmID, groupID sql.NullString

	err := row.Scan(&msg.ID, &msg.Content, &authorKind, &msg.AuthorID, &dmID, &groupID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	msg.AuthorKind = AuthorKind(authorKind)
	if dmID.Valid {
		msg.Conversation = DMRef(dmID.String)
	} else {
		msg.Conversation = GroupRef(groupID.String)
	}

	msg.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing message created_at: %w", err)
	}
	msg.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing message updated_at: %w", err)
	}
	return &msg, nil
}

// Compile-time check that SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
