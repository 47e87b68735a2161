package in

import (
	"context"

	"github.com/google/uuid"
)

// InboundMessage is the normalized event produced by the messaging webhook.
type InboundMessage struct {
	AgentID      uuid.UUID      `json:"agent_id"`
	ContactPhone string         `json:"contact_phone"`
	MessageText  string         `json:"message_text"`
	RemoteJID    string         `json:"remote_jid"`
	InstanceData map[string]any `json:"instance_data,omitempty"`
	MessageID    string         `json:"message_id,omitempty"`
}

type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

type InboundResult struct {
	Success        bool       `json:"success"`
	Response       string     `json:"response,omitempty"`
	Tokens         TokenUsage `json:"tokens"`
	Cost           float64    `json:"cost,omitempty"`
	ResponseTimeMS int64      `json:"response_time_ms"`
	Iterations     int        `json:"iterations,omitempty"`
	ToolsExecuted  int        `json:"tools_executed,omitempty"`
	Delivered      bool       `json:"delivered"`
	Duplicate      bool       `json:"duplicate,omitempty"`
	Paused         bool       `json:"paused,omitempty"`
	Error          string     `json:"error,omitempty"`
}

type InboundService interface {
	HandleInbound(ctx context.Context, msg *InboundMessage) *InboundResult
}
