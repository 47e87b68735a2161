package out

import (
	"context"

	"agent_server/core/domain"

	"github.com/google/uuid"
)

type AgentRepository interface {
	GetAgent(ctx context.Context, id uuid.UUID) (*domain.Agent, error)
}

type ConversationRepository interface {
	// GetOrCreate returns the conversation for (agent, phone), creating an active one if absent.
	GetOrCreate(ctx context.Context, agent *domain.Agent, phone, remoteJID string) (*domain.Conversation, error)
	ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*domain.ConversationMessage, error)
	AppendMessages(ctx context.Context, msgs ...*domain.ConversationMessage) error
}

type ToolAuditRepository interface {
	SaveInvocation(ctx context.Context, inv *domain.ToolInvocation) error
}
