package domain

import (
	"time"

	"github.com/google/uuid"
)

// ToolInvocation is the audit record written for every tool call.
type ToolInvocation struct {
	ID             uuid.UUID  `json:"id"`
	ClientID       uuid.UUID  `json:"client_id"`
	AgentID        uuid.UUID  `json:"agent_id"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	ToolCallID     string     `json:"tool_call_id"`
	FunctionName   string     `json:"function_name"`
	Arguments      string     `json:"arguments"`
	Result         string     `json:"result"`
	Success        bool       `json:"success"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	DurationMS     int64      `json:"duration_ms"`
	CreatedAt      time.Time  `json:"created_at"`
}

const (
	MaxAuditArgumentsLen = 1000
	MaxAuditResultLen    = 2000
)

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
