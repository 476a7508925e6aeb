// ABOUTME: SQLite implementation of the generation request log
// ABOUTME: Records prompt, response, outcome and token counts for every persona generation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GenerationStatus is the outcome of one generation.
type GenerationStatus string

const (
	GenerationSuccess  GenerationStatus = "success"
	GenerationEmpty    GenerationStatus = "empty"
	GenerationTimeout  GenerationStatus = "timeout"
	GenerationCanceled GenerationStatus = "canceled"
	GenerationError    GenerationStatus = "error"
)

// GenerationLog is one persona generation. MessageID is set once the reply is posted.
type GenerationLog struct {
	ID               string           `json:"id"`
	PersonaID        string           `json:"personaId"`
	Conversation     ConversationRef  `json:"conversation"`
	MessageID        string           `json:"messageId,omitempty"`
	Model            string           `json:"model"`
	SystemPrompt     string           `json:"systemPrompt"`
	Prompt           string           `json:"prompt"`
	Temperature      float64          `json:"temperature"`
	Response         string           `json:"response"`
	Status           GenerationStatus `json:"status"`
	Error            string           `json:"error,omitempty"`
	PromptTokens     int              `json:"promptTokens"`
	CompletionTokens int              `json:"completionTokens"`
	DurationMS       int64            `json:"durationMs"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// GenerationLogFilter narrows ListGenerationLogs and GetGenerationStats.
// Zero fields match everything.
type GenerationLogFilter struct {
	PersonaID string
	Since     *time.Time
	Limit     int
}

// GenerationStats aggregates the generation log.
type GenerationStats struct {
	Requests         int `json:"requests"`
	Failures         int `json:"failures"`
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// GenerationLogStore persists the generation request log.
type GenerationLogStore interface {
	SaveGenerationLog(ctx context.Context, entry *GenerationLog) error
	// ListGenerationLogs returns matching entries, newest first.
	ListGenerationLogs(ctx context.Context, filter GenerationLogFilter) ([]*GenerationLog, error)
	GetGenerationStats(ctx context.Context, filter GenerationLogFilter) (*GenerationStats, error)
}

// SaveGenerationLog stores a generation log entry.
func (s *SQLiteStore) SaveGenerationLog(ctx context.Context, entry *GenerationLog) error {
	query := `
		INSERT INTO generation_log (
			id, persona_id, conversation_kind, conversation_id, message_id,
			model, system_prompt, prompt, temperature, response,
			status, error, prompt_tokens, completion_tokens, duration_ms,
			created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.PersonaID,
		string(entry.Conversation.Kind),
		entry.Conversation.ID,
		nullString(entry.MessageID),
		entry.Model,
		entry.SystemPrompt,
		entry.Prompt,
		entry.Temperature,
		entry.Response,
		string(entry.Status),
		nullString(entry.Error),
		entry.PromptTokens,
		entry.CompletionTokens,
		entry.DurationMS,
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return fmt.Errorf("inserting generation log: %w", err)
	}

	s.logger.Debug("saved generation log",
		"id", entry.ID,
		"persona_id", entry.PersonaID,
		"status", entry.Status,
		"prompt_tokens", entry.PromptTokens,
		"completion_tokens", entry.CompletionTokens,
	)
	return nil
}

// generationLogWhere builds the shared WHERE clause for filter.
func generationLogWhere(filter GenerationLogFilter) (string, []any) {
	where := " WHERE 1=1"
	args := []any{}
	if filter.PersonaID != "" {
		where += " AND persona_id = ?"
		args = append(args, filter.PersonaID)
	}
	if filter.Since != nil {
		where += " AND created_at >= ?"
		args = append(args, formatTime(*filter.Since))
	}
	return where, args
}

// ListGenerationLogs returns matching log entries, newest first.
func (s *SQLiteStore) ListGenerationLogs(ctx context.Context, filter GenerationLogFilter) ([]*GenerationLog, error) {
	where, args := generationLogWhere(filter)
	query := `
		SELECT id, persona_id, conversation_kind, conversation_id, message_id,
		       model, system_prompt, prompt, temperature, response,
		       status, error, prompt_tokens, completion_tokens, duration_ms,
		       created_at
		FROM generation_log` + where + `
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	args = append(args, normalizeLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying generation log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []*GenerationLog{}
	for rows.Next() {
		entry, err := scanGenerationLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating generation log rows: %w", err)
	}
	return entries, nil
}

// GetGenerationStats returns aggregated request and token counts.
func (s *SQLiteStore) GetGenerationStats(ctx context.Context, filter GenerationLogFilter) (*GenerationStats, error) {
	where, args := generationLogWhere(filter)
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 0 ELSE 1 END), 0),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0)
		FROM generation_log` + where

	var stats GenerationStats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Requests,
		&stats.Failures,
		&stats.PromptTokens,
		&stats.CompletionTokens,
	)
	if err != nil {
		return nil, fmt.Errorf("querying generation stats: %w", err)
	}
	stats.TotalTokens = stats.PromptTokens + stats.CompletionTokens
	return &stats, nil
}

func scanGenerationLog(rows *sql.Rows) (*GenerationLog, error) {
	var entry GenerationLog
	var kind, status, createdAt string
	var messageID, errText sql.NullString

	err := rows.Scan(
		&entry.ID,
		&entry.PersonaID,
		&kind,
		&entry.Conversation.ID,
		&messageID,
		&entry.Model,
		&entry.SystemPrompt,
		&entry.Prompt,
		&entry.Temperature,
		&entry.Response,
		&status,
		&errText,
		&entry.PromptTokens,
		&entry.CompletionTokens,
		&entry.DurationMS,
		&createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning generation log row: %w", err)
	}

	entry.Conversation.Kind = ConversationKind(kind)
	entry.Status = GenerationStatus(status)
	entry.MessageID = messageID.String
	entry.Error = errText.String

	entry.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing generation log created_at: %w", err)
	}
	return &entry, nil
}

// Ensure SQLiteStore implements GenerationLogStore.
var _ GenerationLogStore = (*SQLiteStore)(nil)
