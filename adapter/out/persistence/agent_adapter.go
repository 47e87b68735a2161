package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agent_server/core/domain"
	"agent_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AgentRepository implements out.AgentRepository.
type AgentRepository struct {
	db *sqlx.DB
}

func NewAgentRepository(db *sqlx.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

var _ out.AgentRepository = (*AgentRepository)(nil)

type agentRow struct {
	ID           uuid.UUID       `db:"id"`
	ClientID     uuid.UUID       `db:"client_id"`
	Name         string          `db:"name"`
	SystemPrompt string          `db:"system_prompt"`
	Model        string          `db:"model"`
	Temperature  sql.NullFloat64 `db:"temperature"`
	MaxTokens    sql.NullInt64   `db:"max_tokens"`
	Timezone     string          `db:"timezone"`
	IsActive     bool            `db:"is_active"`
	ToolsConfig  []byte          `db:"tools_config"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func (r *agentRow) toDomain() (*domain.Agent, error) {
	ag := &domain.Agent{
		ID:           r.ID,
		ClientID:     r.ClientID,
		Name:         r.Name,
		SystemPrompt: r.SystemPrompt,
		Model:        r.Model,
		Timezone:     r.Timezone,
		IsActive:     r.IsActive,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.Temperature.Valid {
		t := r.Temperature.Float64
		ag.Temperature = &t
	}
	if r.MaxTokens.Valid {
		n := int(r.MaxTokens.Int64)
		ag.MaxTokens = &n
	}
	if len(r.ToolsConfig) > 0 {
		if err := json.Unmarshal(r.ToolsConfig, &ag.ToolsConfig); err != nil {
			return nil, fmt.Errorf("decode tools_config of agent %s: %w", r.ID, err)
		}
	}
	return ag, nil
}

func (r *AgentRepository) GetAgent(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	query := `
		SELECT id, client_id, name, system_prompt, model, temperature, max_tokens,
		       timezone, is_active, tools_config, created_at, updated_at
		FROM agents
		WHERE id = $1`

	var row agentRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return row.toDomain()
}

// =============================================================================
// Conversations
// =============================================================================

// ConversationRepository implements out.ConversationRepository.
type ConversationRepository struct {
	db *sqlx.DB
}

func NewConversationRepository(db *sqlx.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

var _ out.ConversationRepository = (*ConversationRepository)(nil)

type conversationRow struct {
	ID            uuid.UUID    `db:"id"`
	AgentID       uuid.UUID    `db:"agent_id"`
	ClientID      uuid.UUID    `db:"client_id"`
	ContactPhone  string       `db:"contact_phone"`
	RemoteJID     string       `db:"remote_jid"`
	Status        string       `db:"status"`
	LastMessageAt sql.NullTime `db:"last_message_at"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (r *conversationRow) toDomain() *domain.Conversation {
	c := &domain.Conversation{
		ID:           r.ID,
		AgentID:      r.AgentID,
		ClientID:     r.ClientID,
		ContactPhone: r.ContactPhone,
		RemoteJID:    r.RemoteJID,
		Status:       domain.ConversationStatus(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LastMessageAt.Valid {
		t := r.LastMessageAt.Time
		c.LastMessageAt = &t
	}
	return c
}

type messageRow struct {
	ID             uuid.UUID `db:"id"`
	ConversationID uuid.UUID `db:"conversation_id"`
	Role           string    `db:"role"`
	Content        string    `db:"content"`
	InputTokens    int       `db:"input_tokens"`
	OutputTokens   int       `db:"output_tokens"`
	CreatedAt      time.Time `db:"created_at"`
}

// GetOrCreate keeps the stored status so a paused conversation stays paused.
// A non-empty remote_jid replaces the stored one.
func (r *ConversationRepository) GetOrCreate(ctx context.Context, agent *domain.Agent, phone, remoteJID string) (*domain.Conversation, error) {
	query := `
		INSERT INTO conversations (id, agent_id, client_id, contact_phone, remote_jid, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'active', now(), now())
		ON CONFLICT (agent_id, contact_phone) DO UPDATE SET
			remote_jid = CASE WHEN EXCLUDED.remote_jid <> '' THEN EXCLUDED.remote_jid ELSE conversations.remote_jid END,
			updated_at = now()
		RETURNING id, agent_id, client_id, contact_phone, remote_jid, status, last_message_at, created_at, updated_at`

	var row conversationRow
	if err := r.db.GetContext(ctx, &row, query, uuid.New(), agent.ID, agent.ClientID, phone, remoteJID); err != nil {
		return nil, fmt.Errorf("get or create conversation: %w", err)
	}
	return row.toDomain(), nil
}

// ListRecentMessages returns the newest limit messages, oldest first.
func (r *ConversationRepository) ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*domain.ConversationMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `
		SELECT id, conversation_id, role, content, input_tokens, output_tokens, created_at
		FROM (
			SELECT id, conversation_id, role, content, input_tokens, output_tokens, created_at
			FROM conversation_messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`

	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, conversationID, limit); err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}

	msgs := make([]*domain.ConversationMessage, len(rows))
	for i, row := range rows {
		msgs[i] = &domain.ConversationMessage{
			ID:             row.ID,
			ConversationID: row.ConversationID,
			Role:           domain.MessageRole(row.Role),
			Content:        row.Content,
			InputTokens:    row.InputTokens,
			OutputTokens:   row.OutputTokens,
			CreatedAt:      row.CreatedAt,
		}
	}
	return msgs, nil
}

// AppendMessages stores the messages and bumps last_message_at in one transaction.
func (r *ConversationRepository) AppendMessages(ctx context.Context, msgs ...*domain.ConversationMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows := make([]messageRow, len(msgs))
	for i, m := range msgs {
		id := m.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		created := m.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		rows[i] = messageRow{
			ID:             id,
			ConversationID: m.ConversationID,
			Role:           string(m.Role),
			Content:        m.Content,
			InputTokens:    m.InputTokens,
			OutputTokens:   m.OutputTokens,
			CreatedAt:      created,
		}
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO conversation_messages (id, conversation_id, role, content, input_tokens, output_tokens, created_at)
		VALUES (:id, :conversation_id, :role, :content, :input_tokens, :output_tokens, :created_at)`, rows)
	if err != nil {
		return fmt.Errorf("insert messages: %w", err)
	}

	last := rows[len(rows)-1]
	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = $1, updated_at = now()
		WHERE id = $2`, last.CreatedAt, last.ConversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	return tx.Commit()
}
