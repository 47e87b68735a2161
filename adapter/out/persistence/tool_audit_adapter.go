package persistence

import (
	"context"
	"fmt"

	"agent_server/core/domain"
	"agent_server/core/port/out"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ToolAuditRepository writes tool invocation records through the pgx pool.
type ToolAuditRepository struct {
	pool *pgxpool.Pool
}

func NewToolAuditRepository(pool *pgxpool.Pool) *ToolAuditRepository {
	return &ToolAuditRepository{pool: pool}
}

var _ out.ToolAuditRepository = (*ToolAuditRepository)(nil)

func (r *ToolAuditRepository) SaveInvocation(ctx context.Context, inv *domain.ToolInvocation) error {
	query := `
		INSERT INTO tool_invocations (id, client_id, agent_id, conversation_id, tool_call_id,
		                              function_name, arguments, result, success, error_message,
		                              duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		inv.ID, inv.ClientID, inv.AgentID, inv.ConversationID, inv.ToolCallID,
		inv.FunctionName, inv.Arguments, inv.Result, inv.Success, inv.ErrorMessage,
		inv.DurationMS, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save tool invocation: %w", err)
	}
	return nil
}
