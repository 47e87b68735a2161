package tools

import (
	"context"

	"agent_server/core/domain"

	"github.com/google/uuid"
)

// Tool represents a function the model can call.
type Tool interface {
	Name() string
	Description() string
	Category() ToolCategory
	Parameters() []ParameterSpec
	Execute(ctx context.Context, ec *ExecContext, args map[string]any) (*ToolResult, error)
}

// ToolCategory is the capability a tool belongs to. Agents enable capabilities, not single functions.
type ToolCategory string

const (
	CategoryBooking ToolCategory = "booking"
)

// ExecContext carries the caller identity and per-agent config into a tool.
type ExecContext struct {
	ClientID       uuid.UUID
	AgentID        uuid.UUID
	ConversationID *uuid.UUID
	ContactPhone   string
	Config         domain.ToolsConfig
}

// ParameterSpec defines a tool parameter
type ParameterSpec struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string, number, integer, boolean
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// Tool-level failure codes, alongside the booking rejection codes.
const (
	CodeUnknownTool      = "UNKNOWN_TOOL"
	CodeInvalidArguments = "INVALID_ARGUMENTS"
	CodeExecutionError   = "EXECUTION_ERROR"
)

// ToolResult represents the result of tool execution
type ToolResult struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func failure(code, msg string) *ToolResult {
	return &ToolResult{Success: false, Code: code, Error: msg}
}

// ToolDefinition for LLM function calling
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    ToolCategory   `json:"category"`
	Parameters  ToolParameters `json:"parameters"`
}

// ToolParameters for OpenAI function calling format
type ToolParameters struct {
	Type       string                       `json:"type"`
	Properties map[string]ParameterProperty `json:"properties"`
	Required   []string                     `json:"required"`
}

// ParameterProperty for OpenAI format
type ParameterProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

// ToolCall is a function call requested by the model. Arguments is the raw JSON string.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolMessage is the tool-role message fed back to the model for one ToolCall.
type ToolMessage struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	Success    bool   `json:"success"`
}

// ConvertToDefinition converts Tool to ToolDefinition for LLM
func ConvertToDefinition(t Tool) ToolDefinition {
	params := t.Parameters()
	properties := make(map[string]ParameterProperty)
	required := []string{}

	for _, p := range params {
		properties[p.Name] = ParameterProperty{
			Type:        p.Type,
			Description: p.Description,
			Enum:        p.Enum,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Category:    t.Category(),
		Parameters: ToolParameters{
			Type:       "object",
			Properties: properties,
			Required:   required,
		},
	}
}
