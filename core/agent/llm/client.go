package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"agent_server/core/agent/tools"
	"agent_server/pkg/apperr"
	"agent_server/pkg/httputil"
	"agent_server/pkg/resilience"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

const DefaultModel = "gpt-4o-mini"

// Message roles.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
	RoleTool      = openai.ChatMessageRoleTool
)

// Message is one entry of the conversation sent to the model.
// A tool message always carries the ToolCallID it answers.
type Message struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []tools.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []tools.ToolDefinition
	Temperature *float64
	MaxTokens   int
}

type ChatResponse struct {
	Content      string
	ToolCalls    []tools.ToolCall
	Usage        Usage
	FinishReason string
	Model        string
}

type Client struct {
	client      *openai.Client
	cb          *gobreaker.CircuitBreaker
	model       string
	maxTokens   int
	temperature float64
}

type ClientConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

func NewClientWithConfig(cfg ClientConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.7
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = cfg.HTTPClient
	if oc.HTTPClient == nil {
		oc.HTTPClient = httputil.NewOptimizedClient(httputil.OpenAIClientConfig(cfg.Timeout))
	}

	return &Client{
		client:      openai.NewClientWithConfig(oc),
		cb:          resilience.NewBreaker(resilience.DefaultBreakerConfig("openai-chat"), cfg.Logger),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Model returns the default model name.
func (c *Client) Model() string {
	return c.model
}

// Chat performs one chat completion. Transport failures, an open circuit and
// an empty choice list are returned as errors.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	ocReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
	}
	if len(req.Tools) > 0 {
		ocReq.Tools = toOpenAITools(req.Tools)
	}

	// Client-side rejections (bad request, auth) are returned but do not count against the breaker.
	var clientErr error
	out, err := c.cb.Execute(func() (any, error) {
		resp, err := c.client.CreateChatCompletion(ctx, ocReq)
		if err != nil {
			if isClientError(err) {
				clientErr = err
				return nil, nil
			}
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return nil, apperr.ExternalError("llm", fmt.Errorf("chat completion: %w", err))
	}
	if clientErr != nil {
		return nil, apperr.ExternalError("llm", fmt.Errorf("chat completion rejected: %w", clientErr))
	}

	resp := out.(openai.ChatCompletionResponse)
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion: no choices returned")
	}
	choice := resp.Choices[0]

	result := &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, tools.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

func isClientError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return true
		}
	}
	return false
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(defs []tools.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, len(defs))
	for i, t := range defs {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}
