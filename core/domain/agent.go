package domain

import (
	"time"

	"github.com/google/uuid"
)

// Agent is a tenant's configured AI persona.
type Agent struct {
	ID           uuid.UUID   `json:"id"`
	ClientID     uuid.UUID   `json:"client_id"`
	Name         string      `json:"name"`
	SystemPrompt string      `json:"system_prompt"`
	Model        string      `json:"model,omitempty"`
	Temperature  *float64    `json:"temperature,omitempty"`
	MaxTokens    *int        `json:"max_tokens,omitempty"`
	Timezone     string      `json:"timezone,omitempty"`
	IsActive     bool        `json:"is_active"`
	ToolsConfig  ToolsConfig `json:"tools_config"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// ToolsConfig is stored as JSONB on the agent row.
type ToolsConfig struct {
	EnabledTools []string           `json:"enabled_tools"`
	Booking      *BookingToolConfig `json:"booking,omitempty"`
}

type BookingToolConfig struct {
	CalendarID *uuid.UUID `json:"calendar_id,omitempty"`
}

// IsEnabled reports whether a capability is listed in enabled_tools.
func (c ToolsConfig) IsEnabled(capability string) bool {
	for _, name := range c.EnabledTools {
		if name == capability {
			return true
		}
	}
	return false
}

// BookingCalendarID returns the configured calendar, or nil when booking is not wired to one.
func (c ToolsConfig) BookingCalendarID() *uuid.UUID {
	if c.Booking == nil {
		return nil
	}
	return c.Booking.CalendarID
}

type ConversationStatus string

const (
	ConversationStatusActive ConversationStatus = "active"
	ConversationStatusPaused ConversationStatus = "paused"
)

// Conversation is one contact's thread with one agent. Paused means a human took over.
type Conversation struct {
	ID            uuid.UUID          `json:"id"`
	AgentID       uuid.UUID          `json:"agent_id"`
	ClientID      uuid.UUID          `json:"client_id"`
	ContactPhone  string             `json:"contact_phone"`
	RemoteJID     string             `json:"remote_jid,omitempty"`
	Status        ConversationStatus `json:"status"`
	LastMessageAt *time.Time         `json:"last_message_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func (c *Conversation) IsPaused() bool {
	return c.Status == ConversationStatusPaused
}

type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

type ConversationMessage struct {
	ID             uuid.UUID   `json:"id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	InputTokens    int         `json:"input_tokens"`
	OutputTokens   int         `json:"output_tokens"`
	CreatedAt      time.Time   `json:"created_at"`
}
